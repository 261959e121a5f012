// Package report implements the Completion Reporter of the write-verification contract: the
// single place both the put verifier and the reconciler route their
// terminal notification through, so "call the caller back exactly once"
// is enforced in one spot instead of re-derived per state machine.
package report

import "sync"

// Reporter guarantees a caller is notified of an outcome exactly once.
// A zero Reporter is ready to use.
type Reporter struct {
	mu       sync.Mutex
	notified bool
}

// New returns a ready-to-use Reporter.
func New() *Reporter {
	return &Reporter{}
}

// Succeed calls onSuccess unless this Reporter has already terminated.
func (r *Reporter) Succeed(onSuccess func()) {
	r.mu.Lock()
	if r.notified {
		r.mu.Unlock()
		return
	}
	r.notified = true
	r.mu.Unlock()

	onSuccess()
}

// Fail runs compensate first, then calls onFailure — unless this Reporter
// has already terminated, in which case both are skipped. compensate
// receives a done callback because compensating actions (a remove_version
// call) complete asynchronously; onFailure only runs once compensate
// invokes done. compensate's outcome is never allowed to turn this into a
// success — there is no path back to Succeed from here. A nil compensate
// calls onFailure immediately.
func (r *Reporter) Fail(compensate func(done func()), onFailure func()) {
	r.mu.Lock()
	if r.notified {
		r.mu.Unlock()
		return
	}
	r.notified = true
	r.mu.Unlock()

	if compensate == nil {
		onFailure()
		return
	}

	compensate(onFailure)
}
