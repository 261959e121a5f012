// Package putverify implements the versioned put verifier: the per-write
// state machine that drives a put of a versioned content object to
// completion — issue, classify, retry / verify / conflict-resolve — and
// notifies a Listener exactly once.
//
// Ported from org.hive2hive.core.network.data.futures.FuturePutListener,
// whose nested BaseFutureAdapter callback chain is re-architected here as
// an explicit state machine, so the exactly-once notification invariant is
// enforced in one place (succeed/fail) instead of scattered across every
// callback.
package putverify

import (
	"context"
	"sync"

	"duskmesh/internal/config"
	"duskmesh/internal/logger"
	"duskmesh/internal/metrics"
	"duskmesh/internal/model"
	"duskmesh/internal/peerid"
	"duskmesh/internal/report"
)

// Listener is notified exactly once with the outcome of a verified put.
type Listener interface {
	OnPutSuccess()
	OnPutFailure()
}

// DataManager is the subset of the DHT-facing data manager the verifier
// needs. A concrete implementation lives in
// internal/replicastore; tests use fakes.
type DataManager interface {
	Put(ctx context.Context, locationKey, contentKey []byte, content model.NetworkContent) *model.Future[model.RawPutResult]
	RemoveVersion(ctx context.Context, locationKey, contentKey []byte, versionKey model.Hash) *model.Future[struct{}]
	GetDigest(ctx context.Context, locationKey, contentKey []byte) *model.Future[model.PeerDigest]
}

// verifier is the single-use state machine for one put. It is never
// reused across writes.
type verifier struct {
	locationKey []byte
	contentKey  []byte
	content     model.NetworkContent
	listener    Listener
	dm          DataManager
	cfg         config.Constants
	metrics     *metrics.Registry

	mu         sync.Mutex
	retryCount int
	reporter   *report.Reporter
}

// VerifyPut drives content to completion against dm, invoking exactly one
// of listener.OnPutSuccess / listener.OnPutFailure.
// It returns immediately; all work happens on future completions.
func VerifyPut(ctx context.Context, dm DataManager, cfg config.Constants, m *metrics.Registry, locationKey, contentKey []byte, content model.NetworkContent, listener Listener) {
	v := &verifier{
		locationKey: locationKey,
		contentKey:  contentKey,
		content:     content,
		listener:    listener,
		dm:          dm,
		cfg:         cfg,
		metrics:     m,
		reporter:    report.New(),
	}

	v.issuePut(ctx)
}

func (v *verifier) issuePut(ctx context.Context) {
	logger.Debug("start verification of put",
		"contentKey", string(v.contentKey), "versionKey", v.content.VersionKey.String())

	fut := v.dm.Put(ctx, v.locationKey, v.contentKey, v.content)
	fut.OnComplete(v.classify(ctx))
}

// classify returns the future callback for one put attempt, closing over
// ctx so it can drive the next state directly.
func (v *verifier) classify(ctx context.Context) func(model.RawPutResult, error) {
	return func(result model.RawPutResult, err error) {
		if err != nil {
			logger.Warn("put future was not successful", "error", err)
			v.retry(ctx)
			return
		}
		if len(result) == 0 {
			logger.Warn("returned raw results are empty")
			v.retry(ctx)
			return
		}

		// Every put call in Duskmesh touches exactly one storage key (the
		// content's own VersionKey), so a peer contributes at most one
		// status; failCount/conflictCount over peers is equivalent to
		// counting over (peer, storage-key) pairs here.
		var failCount, conflictCount, total int

		for peer, statuses := range result {
			total++

			if statuses == nil {
				logger.Warn("a node gave no status back", logger.Peer("peer", peer))
				failCount++
				continue
			}

			for _, status := range statuses {
				switch {
				case status.IsConflict():
					logger.Warn("a version conflict detected", "reason", status.String(), logger.Peer("peer", peer))
					conflictCount++
				case status.IsFailure():
					logger.Warn("a node denied putting data", "reason", status.String(), logger.Peer("peer", peer))
					failCount++
				}
			}
		}

		switch {
		case conflictCount > 0:
			logger.Warn("put verification failed: version conflict")
			v.fail(ctx, metrics.PutConflict)
		case float64(failCount) < float64(total)/2.0:
			v.verify(ctx)
		default:
			logger.Warn("majority of contacted nodes failed", "failed", failCount, "total", total)
			v.retry(ctx)
		}
	}
}

// retry re-issues the put after a best-effort compensating remove, up to
// PUT_RETRIES attempts. The remove is
// sequenced before the retry — not raced with it — matching the original
// source's nested-callback ordering.
func (v *verifier) retry(ctx context.Context) {
	v.mu.Lock()
	if v.retryCount >= v.cfg.PutRetries {
		v.mu.Unlock()
		logger.Error("put verification failed: exhausted retries", "tries", v.retryCount)
		v.fail(ctx, metrics.PutFailure)
		return
	}
	v.retryCount++
	attempt := v.retryCount
	v.mu.Unlock()

	logger.Warn("put retry", "attempt", attempt, "versionKey", v.content.VersionKey.String())
	v.metrics.RecordRetry()

	removeFut := v.dm.RemoveVersion(ctx, v.locationKey, v.contentKey, v.content.VersionKey)
	removeFut.OnComplete(func(_ struct{}, err error) {
		if err != nil {
			logger.Warn("put retry: could not delete the newly put content", "error", err)
		}
		v.issuePut(ctx)
	})
}

// verify fetches the digest range for this content item and checks it for
// concurrent writers.
func (v *verifier) verify(ctx context.Context) {
	digestFut := v.dm.GetDigest(ctx, v.locationKey, v.contentKey)
	digestFut.OnComplete(func(digest model.PeerDigest, err error) {
		if err != nil || len(digest) == 0 {
			logger.Error("put verification failed: couldn't get digest", "error", err)
			v.fail(ctx, metrics.PutFailure)
			return
		}
		v.checkVersionKey(ctx, digest)
	})
}

func (v *verifier) checkVersionKey(ctx context.Context, digest model.PeerDigest) {
	for peer, d := range digest {
		first, ok := d.First()
		if !ok {
			logger.Warn("put verification: received no digest from peer", logger.Peer("peer", peer))
			continue
		}

		if first.VersionKey == v.content.VersionKey {
			logger.Debug("put verification: entry is newest on peer", logger.Peer("peer", peer))
			continue
		}

		if _, ok := d.Contains(v.content.VersionKey); ok {
			logger.Debug("put verification: entry exists in history on peer", logger.Peer("peer", peer))
			continue
		}

		logger.Warn("put verification: concurrent modification happened", logger.Peer("peer", peer))

		if !v.winsAgainst(d, peer) {
			v.fail(ctx, metrics.PutFailure)
			return
		}
	}

	v.succeed()
}

// winsAgainst implements the winner rule of the write-verification contract for one peer's
// digest d. Returns true when Duskmesh's write should be treated as the
// winner against that peer.
func (v *verifier) winsAgainst(d model.DigestResult, peer peerid.PeerId) bool {
	if _, ok := d.Contains(v.content.BasedOnKey); !ok {
		logger.Warn("put verification: peer doesn't contain based-on version", logger.Peer("peer", peer))
		return true
	}

	successor, ok := d.Successor(v.content.BasedOnKey)
	if !ok {
		first, _ := d.First()
		if first.VersionKey == v.content.BasedOnKey {
			logger.Error("put verification: peer has no successor version", logger.Peer("peer", peer))
		} else {
			logger.Error("put verification: peer has a corrupt version history", logger.Peer("peer", peer))
		}
		return true
	}

	switch successor.VersionKey.Compare(v.content.VersionKey) {
	case 0:
		logger.Error("put verification: peer has same version", logger.Peer("peer", peer))
		return true
	case -1:
		logger.Warn("put verification: peer has an older version", logger.Peer("peer", peer))
		return false
	default:
		logger.Warn("put verification: peer has a newer version", logger.Peer("peer", peer))
		return true
	}
}

// succeed notifies the listener of success, exactly once, via the
// Completion Reporter shared with the failure path.
func (v *verifier) succeed() {
	v.reporter.Succeed(func() {
		logger.Debug("put verification completed", "versionKey", v.content.VersionKey.String())
		v.metrics.RecordPut(metrics.PutSuccess)
		v.listener.OnPutSuccess()
	})
}

// fail routes through the Completion Reporter: it runs a best-effort
// compensating remove before notifying the listener of failure, and that
// remove's outcome can never turn this back into a success.
func (v *verifier) fail(ctx context.Context, reason metrics.PutResult) {
	v.reporter.Fail(func(done func()) {
		removeFut := v.dm.RemoveVersion(ctx, v.locationKey, v.contentKey, v.content.VersionKey)
		removeFut.OnComplete(func(_ struct{}, err error) {
			if err != nil {
				logger.Warn("could not delete newly put content during failure cleanup", "error", err)
			}
			v.metrics.RecordPut(reason)
			done()
		})
	}, v.listener.OnPutFailure)
}
