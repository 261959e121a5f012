// Package replicastore is the concrete DataManager implementation: a
// Pebble-backed local replica (LocalReplica) plus an aggregating Manager
// that fans a put/remove/digest call out across a configured peer set and
// the local store together.
//
// LocalReplica is adapted from the reference node's internal/storage package —
// same non-blocking Pebble writes with a periodic WAL sync — repurposed
// here to keep a version chain per (locationKey, contentKey) instead of
// arbitrary blockchain state.
package replicastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"duskmesh/internal/model"
)

const defaultSyncInterval = 100 * time.Millisecond

// LocalReplica is one node's local copy of the replicated version store,
// and the RPCHandler that answers remote peers' Put/RemoveVersion/
// GetDigest calls (transport.RPCHandler).
type LocalReplica struct {
	db       *pebble.DB
	stopSync chan struct{}
	wg       sync.WaitGroup
}

// OpenLocalReplica opens (or creates) the on-disk replica at path.
func OpenLocalReplica(path string) (*LocalReplica, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(32 << 20),
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 2,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}

	s := &LocalReplica{
		db:       db,
		stopSync: make(chan struct{}),
	}

	s.startSyncLoop()

	return s, nil
}

// Close stops the sync goroutine, does a final sync, and closes the store.
func (s *LocalReplica) Close() error {
	close(s.stopSync)
	s.wg.Wait()

	if err := s.sync(); err != nil {
		return err
	}

	return s.db.Close()
}

// sync forces a WAL sync to disk.
func (s *LocalReplica) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}

func (s *LocalReplica) startSyncLoop() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(defaultSyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

// HandlePut decides the PutStatus for one incoming write against this
// replica's local version chain and stores it when accepted.
func (s *LocalReplica) HandlePut(ctx context.Context, locationKey, contentKey []byte, content model.NetworkContent) (map[model.StorageKey]model.PutStatus, error) {
	storageKey := model.StorageKey{
		LocationKey: model.HashBytes(locationKey),
		ContentKey:  model.HashBytes(contentKey),
		VersionKey:  content.VersionKey,
	}

	chain, err := s.digest(locationKey, contentKey)
	if err != nil {
		return map[model.StorageKey]model.PutStatus{storageKey: model.PutFailed}, nil
	}

	status := classify(chain, content)

	if status == model.PutOK {
		key := storageKey_(locationKey, contentKey, content.VersionKey)
		if err := s.db.Set(key, encodeValue(content), pebble.NoSync); err != nil {
			return map[model.StorageKey]model.PutStatus{storageKey: model.PutFailed}, nil
		}
	}

	return map[model.StorageKey]model.PutStatus{storageKey: status}, nil
}

// classify implements the local half of the winner rule: whether an
// incoming write extends this replica's current head, arrived with no
// history to extend, or conflicts with it.
//
// PutVersionConflictOldTimestamp is part of the wire enum
// but never produced here: a local replica has no wall-clock ordering
// signal beyond the version chain itself.
func classify(chain model.DigestResult, content model.NetworkContent) model.PutStatus {
	if len(chain) == 0 {
		if content.BasedOnKey != model.ZeroHash {
			return model.PutVersionConflictNoBasedOn
		}
		return model.PutOK
	}

	head := chain[0]

	if head.VersionKey == content.VersionKey {
		return model.PutFailedNotAbsent
	}

	if content.BasedOnKey == model.ZeroHash {
		return model.PutVersionConflictNoVersionKey
	}

	if _, ok := chain.Contains(content.BasedOnKey); !ok {
		return model.PutVersionConflictNoBasedOn
	}

	if content.BasedOnKey != head.VersionKey {
		return model.PutVersionConflict
	}

	return model.PutOK
}

// HandleRemoveVersion deletes one specific version from the local chain.
func (s *LocalReplica) HandleRemoveVersion(ctx context.Context, locationKey, contentKey []byte, versionKey model.Hash) (bool, error) {
	key := storageKey_(locationKey, contentKey, versionKey)
	if err := s.db.Delete(key, pebble.NoSync); err != nil {
		return false, err
	}
	return true, nil
}

// HandleGetDigest returns this replica's version chain for one content
// item, newest first.
func (s *LocalReplica) HandleGetDigest(ctx context.Context, locationKey, contentKey []byte) ([]model.DigestEntry, error) {
	chain, err := s.digest(locationKey, contentKey)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

type versionRecord struct {
	entry   model.DigestEntry
	basedOn model.Hash
}

// digest walks the stored (locationKey, contentKey) version chain from its
// head — the one version nothing else in the chain names as its
// BasedOnKey — back to the root, producing a DigestResult ordered
// newest-first (the Go analogue of the original's descending NavigableMap).
func (s *LocalReplica) digest(locationKey, contentKey []byte) (model.DigestResult, error) {
	prefix := storagePrefix(locationKey, contentKey)

	records := make(map[model.Hash]versionRecord)
	referenced := make(map[model.Hash]bool)

	err := s.iteratePrefix(prefix, func(key, value []byte) error {
		var vk model.Hash
		copy(vk[:], key[len(prefix):])

		content, err := decodeValue(value)
		if err != nil {
			return err
		}

		records[vk] = versionRecord{
			entry: model.DigestEntry{
				Key: model.StorageKey{
					LocationKey: model.HashBytes(locationKey),
					ContentKey:  model.HashBytes(contentKey),
					VersionKey:  vk,
				},
				VersionKey: vk,
			},
			basedOn: content.BasedOnKey,
		}

		if content.BasedOnKey != model.ZeroHash {
			referenced[content.BasedOnKey] = true
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	var head model.Hash
	found := false
	for vk := range records {
		if !referenced[vk] {
			head = vk
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}

	var chain model.DigestResult
	cur := head
	for {
		rec, ok := records[cur]
		if !ok {
			break
		}
		chain = append(chain, rec.entry)
		if rec.basedOn == model.ZeroHash {
			break
		}
		cur = rec.basedOn
	}

	return chain, nil
}

func (s *LocalReplica) iteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	upperBound := prefixUpperBound(prefix)

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper
		}
	}

	return nil
}

// storagePrefix hashes each key component to a fixed width before
// concatenating them, so two different (locationKey, contentKey) pairs can
// never collide into the same prefix the way a raw byte concatenation
// could (e.g. locationKey="ab"+contentKey="c" vs locationKey="a"+contentKey="bc").
func storagePrefix(locationKey, contentKey []byte) []byte {
	loc := model.HashBytes(locationKey)
	content := model.HashBytes(contentKey)

	prefix := make([]byte, 0, 2*model.HashSize)
	prefix = append(prefix, loc[:]...)
	prefix = append(prefix, content[:]...)
	return prefix
}

func storageKey_(locationKey, contentKey []byte, versionKey model.Hash) []byte {
	key := storagePrefix(locationKey, contentKey)
	return append(key, versionKey[:]...)
}

func encodeValue(content model.NetworkContent) []byte {
	buf := make([]byte, 0, model.HashSize+len(content.Payload))
	buf = append(buf, content.BasedOnKey[:]...)
	buf = append(buf, content.Payload...)
	return buf
}

func decodeValue(data []byte) (model.NetworkContent, error) {
	if len(data) < model.HashSize {
		return model.NetworkContent{}, fmt.Errorf("stored value too short: %d bytes", len(data))
	}

	var c model.NetworkContent
	copy(c.BasedOnKey[:], data[:model.HashSize])
	c.Payload = append([]byte(nil), data[model.HashSize:]...)

	return c, nil
}
