package transport

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// defaultDedupTTL is how long a message hash is remembered.
	defaultDedupTTL = 5 * time.Second

	// cleanupInterval is the interval between cleanup sweeps.
	cleanupInterval = 1 * time.Second
)

// dedup tracks recently seen unidirectional-stream payloads to prevent a
// retried ContactPeer probe (e.g. after a QUIC stream reset) from being
// counted twice by the reconciler.
type dedup struct {
	seen map[[32]byte]int64
	mu   sync.RWMutex
	ttl  int64
	stop chan struct{}
	wg   sync.WaitGroup
}

// newDedup creates a new message deduplication tracker.
func newDedup() *dedup {
	d := &dedup{
		seen: make(map[[32]byte]int64),
		ttl:  int64(defaultDedupTTL),
		stop: make(chan struct{}),
	}

	d.startCleanup()

	return d
}

// check returns true if data is new (not seen within the TTL window). If
// new, its hash is recorded for future deduplication.
func (d *dedup) check(data []byte) bool {
	hash := blake3.Sum256(data)
	now := time.Now().UnixNano()

	d.mu.RLock()
	ts, exists := d.seen[hash]
	d.mu.RUnlock()

	if exists && now-ts < d.ttl {
		return false
	}

	d.mu.Lock()
	ts, exists = d.seen[hash]
	if exists && now-ts < d.ttl {
		d.mu.Unlock()
		return false
	}

	d.seen[hash] = now
	d.mu.Unlock()

	return true
}

// close stops the cleanup goroutine.
func (d *dedup) close() {
	close(d.stop)
	d.wg.Wait()
}

func (d *dedup) startCleanup() {
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.cleanup()
			case <-d.stop:
				return
			}
		}
	}()
}

func (d *dedup) cleanup() {
	now := time.Now().UnixNano()
	ttl := d.ttl

	d.mu.Lock()
	for hash, ts := range d.seen {
		if now-ts >= ttl {
			delete(d.seen, hash)
		}
	}
	d.mu.Unlock()
}
