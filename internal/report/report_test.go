package report

import (
	"sync"
	"testing"
)

func TestReporter_SucceedFires(t *testing.T) {
	r := New()

	called := false
	r.Succeed(func() { called = true })

	if !called {
		t.Fatal("expected onSuccess to fire")
	}
}

func TestReporter_SucceedThenFailIsIgnored(t *testing.T) {
	r := New()

	r.Succeed(func() {})

	failCalled := false
	r.Fail(func(done func()) { done() }, func() { failCalled = true })

	if failCalled {
		t.Fatal("expected Fail to be a no-op after Succeed")
	}
}

func TestReporter_FailThenSucceedIsIgnored(t *testing.T) {
	r := New()

	r.Fail(nil, func() {})

	succeedCalled := false
	r.Succeed(func() { succeedCalled = true })

	if succeedCalled {
		t.Fatal("expected Succeed to be a no-op after Fail")
	}
}

func TestReporter_FailRunsCompensateBeforeOnFailure(t *testing.T) {
	r := New()

	var order []string
	r.Fail(func(done func()) {
		order = append(order, "compensate")
		done()
	}, func() {
		order = append(order, "onFailure")
	})

	if len(order) != 2 || order[0] != "compensate" || order[1] != "onFailure" {
		t.Fatalf("expected [compensate onFailure], got %v", order)
	}
}

func TestReporter_FailWithNilCompensate(t *testing.T) {
	r := New()

	called := false
	r.Fail(nil, func() { called = true })

	if !called {
		t.Fatal("expected onFailure to fire directly with a nil compensate")
	}
}

func TestReporter_CompensateCannotResurrectSuccess(t *testing.T) {
	// Even if compensate's done callback races against a concurrent
	// Succeed call, the Reporter must have already latched to failure.
	r := New()

	successCalled := false
	failCalled := false

	r.Fail(func(done func()) {
		done()
		r.Succeed(func() { successCalled = true })
	}, func() { failCalled = true })

	if successCalled {
		t.Fatal("compensate's completion must never trigger success")
	}
	if !failCalled {
		t.Fatal("expected onFailure to have fired")
	}
}

func TestReporter_ConcurrentSucceedIsExactlyOnce(t *testing.T) {
	r := New()

	var mu sync.Mutex
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Succeed(func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	if count != 1 {
		t.Fatalf("expected exactly one Succeed to win, got %d", count)
	}
}
