package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"duskmesh/internal/config"
	"duskmesh/internal/metrics"
	"duskmesh/internal/peerid"
	"duskmesh/internal/transport"
)

func mkPeer(b byte) peerid.PeerId {
	var p peerid.PeerId
	p[0] = b
	return p
}

// fakeNetwork is an in-memory NetworkManager. Each probe's send outcome and
// reply behavior are configured per-peer via sendFail/replyWith, so tests
// can drive every branch of the reconciliation state machine deterministically.
type fakeNetwork struct {
	self peerid.PeerId

	mu          sync.Mutex
	subscribers []func(peer peerid.PeerId, nonce string)

	sendFail  map[peerid.PeerId]bool
	replyWith map[peerid.PeerId]string // "" -> echo the real nonce, non-empty -> echo this instead
	noReply   map[peerid.PeerId]bool
}

func newFakeNetwork(self peerid.PeerId) *fakeNetwork {
	return &fakeNetwork{
		self:      self,
		sendFail:  map[peerid.PeerId]bool{},
		replyWith: map[peerid.PeerId]string{},
		noReply:   map[peerid.PeerId]bool{},
	}
}

func (f *fakeNetwork) PeerAddress() peerid.PeerId { return f.self }
func (f *fakeNetwork) NodeID() string             { return f.self.String() }

func (f *fakeNetwork) SendDirect(ctx context.Context, peer peerid.PeerId, msg transport.ContactPeerMessage, l transport.SendListener) {
	go func() {
		if f.sendFail[peer] {
			l.OnSendFailure()
			return
		}
		l.OnSendSuccess()

		if f.noReply[peer] {
			return
		}

		nonce := msg.Nonce
		if override, ok := f.replyWith[peer]; ok {
			nonce = override
		}

		f.mu.Lock()
		subs := append([]func(peerid.PeerId, string){}, f.subscribers...)
		f.mu.Unlock()

		for _, s := range subs {
			s(peer, nonce)
		}
	}()
}

func (f *fakeNetwork) OnProbeReply(fn func(peer peerid.PeerId, nonce string)) func() {
	f.mu.Lock()
	f.subscribers = append(f.subscribers, fn)
	idx := len(f.subscribers) - 1
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		f.subscribers[idx] = nil
		f.mu.Unlock()
	}
}

type captureListener struct {
	mu     sync.Mutex
	result *Result
	done   chan struct{}
}

func newCaptureListener() *captureListener {
	return &captureListener{done: make(chan struct{})}
}

func (c *captureListener) OnReconciled(r Result) {
	c.mu.Lock()
	c.result = &r
	c.mu.Unlock()
	close(c.done)
}

func (c *captureListener) wait(t *testing.T) Result {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciliation never finalized")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.result
}

func testConstants() config.Constants {
	return config.Constants{PutRetries: 3, ContactPeersAwait: 200 * time.Millisecond}
}

func TestReconcile_EmptyLocations_SelfIsMaster(t *testing.T) {
	self := mkPeer(1)
	net := newFakeNetwork(self)
	listener := newCaptureListener()

	Reconcile(context.Background(), net, testConstants(), (*metrics.Registry)(nil), []peerid.PeerId{self}, listener)

	result := listener.wait(t)
	if !result.IsMaster || result.Master != self {
		t.Fatalf("expected self elected master with no peers, got %+v", result)
	}
	if len(result.Alive) != 1 || result.Alive[0] != self {
		t.Fatalf("expected alive == [self], got %v", result.Alive)
	}
}

func TestReconcile_AllPeersRespond_LowestWins(t *testing.T) {
	self := mkPeer(5)
	p1, p2 := mkPeer(2), mkPeer(9)
	net := newFakeNetwork(self)
	listener := newCaptureListener()

	Reconcile(context.Background(), net, testConstants(), (*metrics.Registry)(nil), []peerid.PeerId{self, p1, p2}, listener)

	result := listener.wait(t)
	if len(result.Alive) != 3 {
		t.Fatalf("expected all 3 alive, got %v", result.Alive)
	}
	if result.Master != p1 {
		t.Fatalf("expected p1 (lowest id) elected master, got %v", result.Master)
	}
	if result.IsMaster {
		t.Fatal("self is not the lowest id, should not be master")
	}
}

func TestReconcile_SendFailureExcludesPeer(t *testing.T) {
	self := mkPeer(5)
	p1, p2 := mkPeer(1), mkPeer(9)
	net := newFakeNetwork(self)
	net.sendFail[p1] = true // p1 would have won the election, but never gets probed successfully
	listener := newCaptureListener()

	Reconcile(context.Background(), net, testConstants(), (*metrics.Registry)(nil), []peerid.PeerId{self, p1, p2}, listener)

	result := listener.wait(t)
	for _, p := range result.Alive {
		if p == p1 {
			t.Fatal("expected p1 excluded from alive set after send failure")
		}
	}
	if result.Master != self {
		t.Fatalf("expected self (lowest of remaining alive) elected master, got %v", result.Master)
	}
}

func TestReconcile_TimeoutExcludesNonResponder(t *testing.T) {
	self := mkPeer(5)
	p1 := mkPeer(1)
	net := newFakeNetwork(self)
	net.noReply[p1] = true
	listener := newCaptureListener()

	cfg := config.Constants{PutRetries: 3, ContactPeersAwait: 50 * time.Millisecond}
	Reconcile(context.Background(), net, cfg, (*metrics.Registry)(nil), []peerid.PeerId{self, p1}, listener)

	result := listener.wait(t)
	if len(result.Alive) != 1 || result.Alive[0] != self {
		t.Fatalf("expected only self alive after timeout, got %v", result.Alive)
	}
	if !result.IsMaster {
		t.Fatal("expected self elected master")
	}
}

func TestReconcile_MismatchedNonceIsIgnored(t *testing.T) {
	self := mkPeer(5)
	p1 := mkPeer(1)
	net := newFakeNetwork(self)
	net.replyWith[p1] = "not-the-real-nonce"
	listener := newCaptureListener()

	cfg := config.Constants{PutRetries: 3, ContactPeersAwait: 50 * time.Millisecond}
	Reconcile(context.Background(), net, cfg, (*metrics.Registry)(nil), []peerid.PeerId{self, p1}, listener)

	result := listener.wait(t)
	if len(result.Alive) != 1 {
		t.Fatalf("expected mismatched-nonce peer to time out unresponsive, got %v", result.Alive)
	}
}

func TestReconcile_SelfRemovedFromLocations(t *testing.T) {
	self := mkPeer(5)
	net := newFakeNetwork(self)
	listener := newCaptureListener()

	// self appears twice; must still be treated as exactly one entry and
	// never probed as if it were a remote peer.
	Reconcile(context.Background(), net, testConstants(), (*metrics.Registry)(nil), []peerid.PeerId{self, self}, listener)

	result := listener.wait(t)
	if len(result.Alive) != 1 || result.Alive[0] != self {
		t.Fatalf("expected alive == [self], got %v", result.Alive)
	}
}
