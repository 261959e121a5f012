// Package peerid defines the fixed-width peer identifier and the total
// order used throughout Duskmesh for deterministic tie-breaks: master
// election in reconciliation and, indirectly, the winner rule's
// VersionKey comparisons share the same "fixed 32-byte identifier with a
// stable byte-order" shape.
package peerid

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/zeebo/blake3"
)

// Size is the width, in bytes, of a PeerId.
const Size = 32

// PeerId is an opaque, fixed-width identifier for a peer. Two PeerIds are
// equal iff their bytes are equal; ordering is lexicographic byte order,
// stable for the life of the process.
type PeerId [Size]byte

// FromPublicKey derives a PeerId from an ed25519 public key by hashing it
// with BLAKE3, the same hash the replica store uses to fold
// ContentKey/LocationKey byte strings into fixed-width identifiers.
func FromPublicKey(pub []byte) PeerId {
	return PeerId(blake3.Sum256(pub))
}

// String renders the PeerId as a short hex prefix, suitable for logging.
func (p PeerId) String() string {
	return hex.EncodeToString(p[:4])
}

// Less reports whether p sorts strictly before other under ≤_p.
func (p PeerId) Less(other PeerId) bool {
	return bytes.Compare(p[:], other[:]) < 0
}

// Compare returns -1, 0 or 1 as p is less than, equal to, or greater than other.
func (p PeerId) Compare(other PeerId) int {
	return bytes.Compare(p[:], other[:])
}

// IsZero reports whether p is the zero value.
func (p PeerId) IsZero() bool {
	return p == PeerId{}
}

// ChooseFirst returns the least element of peers under ≤_p. It panics if
// peers is empty — callers are expected to have already special-cased the
// empty-membership case (reconcile.Reconcile always includes self, so this
// is never called with an empty set from within Duskmesh).
func ChooseFirst(peers []PeerId) PeerId {
	if len(peers) == 0 {
		panic("peerid: ChooseFirst called with empty peer set")
	}

	first := peers[0]
	for _, p := range peers[1:] {
		if p.Less(first) {
			first = p
		}
	}

	return first
}

// Sorted returns a new slice containing peers in ascending ≤_p order.
// reconcile uses it to give Result.Alive a deterministic order; master
// election itself (ChooseFirst) does not depend on the input order.
func Sorted(peers []PeerId) []PeerId {
	out := make([]PeerId, len(peers))
	copy(out, peers)

	sort.Slice(out, func(i, j int) bool {
		return out[i].Less(out[j])
	})

	return out
}

// Set is an unordered collection of unique PeerIds, mirroring the
// "set of LocationEntry, uniqueness by PeerId" invariant in the write-verification contract.
type Set map[PeerId]struct{}

// NewSet builds a Set from a slice, deduplicating by PeerId.
func NewSet(peers ...PeerId) Set {
	s := make(Set, len(peers))
	for _, p := range peers {
		s[p] = struct{}{}
	}

	return s
}

// Add inserts p into the set.
func (s Set) Add(p PeerId) {
	s[p] = struct{}{}
}

// Remove deletes p from the set, if present.
func (s Set) Remove(p PeerId) {
	delete(s, p)
}

// Contains reports whether p is a member of the set.
func (s Set) Contains(p PeerId) bool {
	_, ok := s[p]
	return ok
}

// Slice returns the set's members as a slice, in no particular order.
func (s Set) Slice() []PeerId {
	out := make([]PeerId, 0, len(s))
	for p := range s {
		out = append(out, p)
	}

	return out
}
