// Package reconcile implements the Locations Reconciliation state machine
// of the write-verification contract: given a candidate set of peers reported to hold a
// replica, probe each with a nonce challenge, wait out a single wall-clock
// timer, and deterministically elect a master among whichever peers
// answered before it expired.
//
// Ported from org.hive2hive.core.process.common.ContactPeersStep, whose
// per-peer IResponseCallBackHandler/ISendDirectMessageListener pair is
// modelled here as one done-guarded reconciliation reacting to
// transport.Node callbacks instead of H2H's process-step framework.
package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"duskmesh/internal/config"
	"duskmesh/internal/logger"
	"duskmesh/internal/metrics"
	"duskmesh/internal/peerid"
	"duskmesh/internal/report"
	"duskmesh/internal/transport"
)

// Result is the outcome of one reconciliation round.
type Result struct {
	Alive    []peerid.PeerId // self plus every peer that answered in time
	Master   peerid.PeerId   // deterministically elected master, peerid.ChooseFirst(Alive)
	IsMaster bool            // whether this node is Master
}

// Listener is notified exactly once with the outcome of a reconciliation.
type Listener interface {
	OnReconciled(result Result)
}

// NetworkManager is the subset of transport.Node the reconciler needs.
type NetworkManager interface {
	PeerAddress() peerid.PeerId
	NodeID() string
	SendDirect(ctx context.Context, peer peerid.PeerId, msg transport.ContactPeerMessage, l transport.SendListener)
	OnProbeReply(fn func(peer peerid.PeerId, nonce string)) (unsubscribe func())
}

// Reconcile probes every peer in locations other than this node's own
// address and reports the alive set once every peer has answered or the
// configured await window elapses, whichever is first.
func Reconcile(ctx context.Context, net NetworkManager, cfg config.Constants, m *metrics.Registry, locations []peerid.PeerId, listener Listener) {
	self := net.PeerAddress()

	peers := make([]peerid.PeerId, 0, len(locations))
	for _, p := range locations {
		if p != self {
			peers = append(peers, p)
		}
	}

	if len(peers) == 0 {
		logger.Debug("reconciliation: no other locations to probe")
		alive := []peerid.PeerId{self}
		m.RecordReconcile(len(alive), true, 0)
		report.New().Succeed(func() {
			listener.OnReconciled(Result{Alive: alive, Master: self, IsMaster: true})
		})
		return
	}

	r := &reconciliation{
		net:       net,
		metrics:   m,
		self:      self,
		peers:     peers,
		listener:  listener,
		reporter:  report.New(),
		nonces:    make(map[peerid.PeerId]string, len(peers)),
		responses: make(map[peerid.PeerId]bool, len(peers)),
		startedAt: time.Now(),
	}

	r.unsubscribe = net.OnProbeReply(r.onProbeReply)

	for _, p := range peers {
		r.probe(ctx, p)
	}

	r.mu.Lock()
	r.timer = time.AfterFunc(cfg.ContactPeersAwait, r.finalize)
	r.mu.Unlock()
}

type reconciliation struct {
	net      NetworkManager
	metrics  *metrics.Registry
	self     peerid.PeerId
	peers    []peerid.PeerId
	listener Listener
	reporter *report.Reporter

	mu          sync.Mutex
	nonces      map[peerid.PeerId]string
	responses   map[peerid.PeerId]bool
	done        bool
	timer       *time.Timer
	unsubscribe func()
	startedAt   time.Time
}

func (r *reconciliation) probe(ctx context.Context, peer peerid.PeerId) {
	nonce := newNonce()

	r.mu.Lock()
	r.nonces[peer] = nonce
	r.mu.Unlock()

	r.net.SendDirect(ctx, peer, transport.ContactPeerMessage{Nonce: nonce}, &sendOutcome{r: r, peer: peer})
}

// sendOutcome adapts a single probe's send-level outcome into the
// reconciliation's response bookkeeping. A successful send does not
// record anything — the response, if any, arrives later through
// onProbeReply.
type sendOutcome struct {
	r    *reconciliation
	peer peerid.PeerId
}

func (s *sendOutcome) OnSendSuccess() {}

func (s *sendOutcome) OnSendFailure() {
	s.r.record(s.peer, false)
}

// onProbeReply is invoked by the transport for every probe echo received
// from any peer, whether or not it belongs to this reconciliation.
func (r *reconciliation) onProbeReply(peer peerid.PeerId, nonce string) {
	r.mu.Lock()
	expected, ok := r.nonces[peer]
	r.mu.Unlock()

	if !ok || nonce != expected {
		// Not one of ours, or a stale/mismatched echo — the peer will
		// simply time out.
		return
	}

	r.record(peer, true)
}

func (r *reconciliation) record(peer peerid.PeerId, alive bool) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		r.onLateResponse(peer, alive)
		return
	}

	if _, already := r.responses[peer]; already {
		r.mu.Unlock()
		return
	}

	r.responses[peer] = alive
	complete := len(r.responses) >= len(r.peers)
	r.mu.Unlock()

	if complete {
		r.finalize()
	}
}

// onLateResponse handles a probe outcome that arrives after finalize has
// already run. It is a deliberate no-op: the round's result was already
// delivered to the listener, and a single late reply does not reopen it
// (see DESIGN.md, Open Question: late-peer notification).
func (r *reconciliation) onLateResponse(peer peerid.PeerId, alive bool) {
	logger.Debug("reconciliation: discarded late response", logger.Peer("peer", peer), "alive", alive)
}

func (r *reconciliation) finalize() {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	if r.timer != nil {
		r.timer.Stop()
	}
	responses := r.responses
	started := r.startedAt
	r.mu.Unlock()

	r.unsubscribe()

	alive := []peerid.PeerId{r.self}
	for peer, ok := range responses {
		if ok {
			alive = append(alive, peer)
		}
	}
	alive = peerid.Sorted(alive)

	master := peerid.ChooseFirst(alive)
	isMaster := master == r.self

	r.metrics.RecordReconcile(len(alive), isMaster, float64(time.Since(started).Milliseconds()))

	logger.Info("reconciliation finished",
		"alive", len(alive), logger.Peer("master", master), "isMaster", isMaster)

	r.reporter.Succeed(func() {
		r.listener.OnReconciled(Result{Alive: alive, Master: master, IsMaster: isMaster})
	})
}

func newNonce() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
