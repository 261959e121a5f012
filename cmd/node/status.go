package main

import (
	"sync"

	"duskmesh/internal/reconcile"
)

// status tracks the most recent reconciliation outcome for the monitoring
// HTTP surface. It implements both httpapi.StatusProvider and
// reconcile.Listener.
type status struct {
	nodeID string

	mu         sync.RWMutex
	isMaster   bool
	alivePeers int
}

func newStatus(nodeID string) *status {
	return &status{nodeID: nodeID}
}

func (s *status) NodeID() string {
	return s.nodeID
}

func (s *status) IsMaster() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isMaster
}

func (s *status) AlivePeers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alivePeers
}

func (s *status) OnReconciled(result reconcile.Result) {
	s.mu.Lock()
	s.isMaster = result.IsMaster
	s.alivePeers = len(result.Alive)
	s.mu.Unlock()
}
