package replicastore

import (
	"context"
	"sync"

	"duskmesh/internal/logger"
	"duskmesh/internal/model"
	"duskmesh/internal/peerid"
	"duskmesh/internal/transport"
)

// Manager is the DataManager facade: it fans a Put/RemoveVersion/GetDigest
// call out across the local replica and a configured set of remote replica
// peers, and folds the results into the per-peer maps internal/putverify
// expects.
type Manager struct {
	self  peerid.PeerId
	local *LocalReplica
	net   *transport.Node
	peers []peerid.PeerId
}

// NewManager builds a Manager that treats peers as the fixed replica set for
// every key it serves. Location-aware replica placement (choosing which
// peers hold which keys) is not implemented here.
func NewManager(self peerid.PeerId, local *LocalReplica, net *transport.Node, peers []peerid.PeerId) *Manager {
	return &Manager{self: self, local: local, net: net, peers: peers}
}

// Put fans content out to every configured peer plus the local replica,
// resolving once all of them have answered.
func (m *Manager) Put(ctx context.Context, locationKey, contentKey []byte, content model.NetworkContent) *model.Future[model.RawPutResult] {
	fut := model.NewFuture[model.RawPutResult]()

	go func() {
		result := make(model.RawPutResult, len(m.peers)+1)
		var mu sync.Mutex
		var wg sync.WaitGroup

		record := func(peer peerid.PeerId, statuses map[model.StorageKey]model.PutStatus) {
			mu.Lock()
			result[peer] = statuses
			mu.Unlock()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses, err := m.local.HandlePut(ctx, locationKey, contentKey, content)
			if err != nil {
				logger.Warn("local put failed", "error", err)
				record(m.self, nil)
				return
			}
			record(m.self, statuses)
		}()

		for _, peer := range m.peers {
			peer := peer
			wg.Add(1)
			go func() {
				defer wg.Done()
				statuses, err := m.net.CallPut(ctx, peer, locationKey, contentKey, content)
				if err != nil {
					logger.Warn("put RPC failed", logger.Peer("peer", peer), "error", err)
					record(peer, nil)
					return
				}
				record(peer, statuses)
			}()
		}

		wg.Wait()
		fut.Resolve(result, nil)
	}()

	return fut
}

// RemoveVersion issues a best-effort delete to every replica; individual
// failures are logged but never fail the future — callers treat removal
// as a compensating action, not a transactional guarantee.
func (m *Manager) RemoveVersion(ctx context.Context, locationKey, contentKey []byte, versionKey model.Hash) *model.Future[struct{}] {
	fut := model.NewFuture[struct{}]()

	go func() {
		var wg sync.WaitGroup

		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.local.HandleRemoveVersion(ctx, locationKey, contentKey, versionKey); err != nil {
				logger.Warn("local remove failed", "error", err)
			}
		}()

		for _, peer := range m.peers {
			peer := peer
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := m.net.CallRemoveVersion(ctx, peer, locationKey, contentKey, versionKey); err != nil {
					logger.Warn("remove RPC failed", logger.Peer("peer", peer), "error", err)
				}
			}()
		}

		wg.Wait()
		fut.Resolve(struct{}{}, nil)
	}()

	return fut
}

// GetDigest collects each reachable replica's version chain for one
// content item. Unreachable peers are simply absent from the result — the
// verifier treats a partial digest as a normal outcome.
func (m *Manager) GetDigest(ctx context.Context, locationKey, contentKey []byte) *model.Future[model.PeerDigest] {
	fut := model.NewFuture[model.PeerDigest]()

	go func() {
		result := make(model.PeerDigest, len(m.peers)+1)
		var mu sync.Mutex
		var wg sync.WaitGroup

		record := func(peer peerid.PeerId, entries []model.DigestEntry) {
			if entries == nil {
				return
			}
			mu.Lock()
			result[peer] = model.DigestResult(entries)
			mu.Unlock()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := m.local.HandleGetDigest(ctx, locationKey, contentKey)
			if err != nil {
				logger.Warn("local digest failed", "error", err)
				return
			}
			record(m.self, entries)
		}()

		for _, peer := range m.peers {
			peer := peer
			wg.Add(1)
			go func() {
				defer wg.Done()
				entries, err := m.net.CallGetDigest(ctx, peer, locationKey, contentKey)
				if err != nil {
					logger.Debug("peer digest unavailable", logger.Peer("peer", peer), "error", err)
					return
				}
				record(peer, entries)
			}()
		}

		wg.Wait()
		fut.Resolve(result, nil)
	}()

	return fut
}
