// Package model defines the wire- and storage-level data types shared by
// the put verifier, the locations reconciler and the DataManager/
// NetworkManager facades: PutStatus, NetworkContent, RawPutResult and
// DigestResult from the write-verification contract.
package model

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"duskmesh/internal/peerid"
)

// HashSize is the width, in bytes, of a Hash — the fixed-width identifier
// both ContentKey/LocationKey and VersionKey collapse to.
const HashSize = 32

// Hash is a fixed-width identifier produced by hashing a ContentKey,
// LocationKey or NetworkContent payload with BLAKE3.
type Hash [HashSize]byte

// ZeroHash is the root sentinel used as BasedOnKey for content with no parent.
var ZeroHash Hash

// HashBytes folds an arbitrary byte string into a Hash, the same way the
// DHT hashes ContentKey/LocationKey strings to fixed-width identifiers.
func HashBytes(b []byte) Hash {
	return Hash(blake3.Sum256(b))
}

// Less reports whether h sorts strictly before other under the natural
// byte order the winner rule compares VersionKeys with.
func (h Hash) Less(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// String renders the Hash as a short hex prefix, suitable for logging.
func (h Hash) String() string {
	return hex.EncodeToString(h[:4])
}

// Compare returns -1, 0 or 1 as h is less than, equal to, or greater than other.
func (h Hash) Compare(other Hash) int {
	for i := range h {
		if h[i] < other[i] {
			return -1
		}
		if h[i] > other[i] {
			return 1
		}
	}
	return 0
}

// NetworkContent is one immutable revision of a content item.
// A root revision has BasedOnKey == ZeroHash.
type NetworkContent struct {
	VersionKey Hash
	BasedOnKey Hash
	Payload    []byte
}

// PutStatus is the per-replica reply code to a put request.
type PutStatus int

const (
	PutOK PutStatus = iota
	PutFailed
	PutFailedNotAbsent
	PutFailedSecurity
	PutVersionConflict
	PutVersionConflictNoBasedOn
	PutVersionConflictNoVersionKey
	PutVersionConflictOldTimestamp
)

func (s PutStatus) String() string {
	switch s {
	case PutOK:
		return "OK"
	case PutFailed:
		return "FAILED"
	case PutFailedNotAbsent:
		return "FAILED_NOT_ABSENT"
	case PutFailedSecurity:
		return "FAILED_SECURITY"
	case PutVersionConflict:
		return "VERSION_CONFLICT"
	case PutVersionConflictNoBasedOn:
		return "VERSION_CONFLICT_NO_BASED_ON"
	case PutVersionConflictNoVersionKey:
		return "VERSION_CONFLICT_NO_VERSION_KEY"
	case PutVersionConflictOldTimestamp:
		return "VERSION_CONFLICT_OLD_TIMESTAMP"
	default:
		return "UNKNOWN"
	}
}

// IsFailure reports whether s is one of the hard-failure codes counted in
// the fail-majority test.
func (s PutStatus) IsFailure() bool {
	switch s {
	case PutFailed, PutFailedNotAbsent, PutFailedSecurity:
		return true
	default:
		return false
	}
}

// IsConflict reports whether s is one of the four version-conflict codes,
// any one of which fails the whole put immediately.
func (s PutStatus) IsConflict() bool {
	switch s {
	case PutVersionConflict, PutVersionConflictNoBasedOn, PutVersionConflictNoVersionKey, PutVersionConflictOldTimestamp:
		return true
	default:
		return false
	}
}

// StorageKey identifies one stored item slot: the (LocationKey, ContentKey,
// VersionKey) triple. It plays the role of TomP2P's Number640 in the
// original source, minus the unused domain axis.
type StorageKey struct {
	LocationKey Hash
	ContentKey  Hash
	VersionKey  Hash
}

// RawPutResult is the per-peer, per-storage-key reply map returned by a put.
// A nil inner map means that peer contributed a null value — counted by
// the verifier as a single failure.
type RawPutResult map[peerid.PeerId]map[StorageKey]PutStatus

// DigestEntry is one entry in a peer's version digest: which storage key
// maps to which version key.
type DigestEntry struct {
	Key        StorageKey
	VersionKey Hash
}

// DigestResult is one peer's reported key digest, ordered newest-first —
// the Go analogue of the original's descending NavigableMap.
type DigestResult []DigestEntry

// First returns the newest entry, or the zero value and false if the
// digest is empty.
func (d DigestResult) First() (DigestEntry, bool) {
	if len(d) == 0 {
		return DigestEntry{}, false
	}
	return d[0], true
}

// Contains reports whether any entry in d has the given VersionKey, and
// returns that entry's StorageKey.
func (d DigestResult) Contains(versionKey Hash) (StorageKey, bool) {
	for _, e := range d {
		if e.VersionKey == versionKey {
			return e.Key, true
		}
	}
	return StorageKey{}, false
}

// Successor returns the entry built directly on top of basedOnKey — the
// entry whose parent is basedOnKey. Since d is ordered newest-first, that
// entry sits immediately before basedOnKey's own entry in the slice; when
// basedOnKey's entry is d's head (index 0), it has no successor.
func (d DigestResult) Successor(basedOnKey Hash) (DigestEntry, bool) {
	for i, e := range d {
		if e.VersionKey == basedOnKey {
			if i == 0 {
				return DigestEntry{}, false
			}
			return d[i-1], true
		}
	}
	return DigestEntry{}, false
}

// PeerDigest maps each responding peer to its DigestResult.
type PeerDigest map[peerid.PeerId]DigestResult
