package transport

import (
	"encoding/binary"
	"fmt"

	"duskmesh/internal/model"
)

// Wire message tags. Duskmesh hand-rolls this framing rather than
// generating it from a flatbuffers schema — no flatc toolchain is
// available in this build, and the payloads are simple enough (a handful
// of fixed-width hashes plus a few length-prefixed byte strings) that a
// generated schema buys nothing a few encoding/binary big-endian length
// prefixes don't already give us (see DESIGN.md, dropped dependency: google/flatbuffers).
type msgType byte

const (
	msgProbeRequest msgType = iota + 1
	msgProbeResponse
	msgPutRequest
	msgPutResponse
	msgRemoveRequest
	msgRemoveResponse
	msgDigestRequest
	msgDigestResponse
)

type putWireRequest struct {
	LocationKey []byte
	ContentKey  []byte
	Content     model.NetworkContent
}

type putWireResponse struct {
	Statuses map[model.StorageKey]model.PutStatus
}

type removeWireRequest struct {
	LocationKey []byte
	ContentKey  []byte
	VersionKey  model.Hash
}

type removeWireResponse struct {
	OK bool
}

type digestWireRequest struct {
	LocationKey []byte
	ContentKey  []byte
}

type digestWireResponse struct {
	Entries []model.DigestEntry
}

func putByte(buf []byte, b byte) []byte { return append(buf, b) }

func putBytes(buf []byte, b []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	buf = append(buf, length[:]...)
	return append(buf, b...)
}

func putHash(buf []byte, h model.Hash) []byte {
	return append(buf, h[:]...)
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("unexpected end of message")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readBytes() ([]byte, error) {
	if r.pos+4 > len(r.data) {
		return nil, fmt.Errorf("unexpected end of message reading length")
	}
	length := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	if r.pos+int(length) > len(r.data) {
		return nil, fmt.Errorf("unexpected end of message reading payload")
	}
	b := r.data[r.pos : r.pos+int(length)]
	r.pos += int(length)
	return b, nil
}

func (r *byteReader) readHash() (model.Hash, error) {
	var h model.Hash
	if r.pos+model.HashSize > len(r.data) {
		return h, fmt.Errorf("unexpected end of message reading hash")
	}
	copy(h[:], r.data[r.pos:r.pos+model.HashSize])
	r.pos += model.HashSize
	return h, nil
}

func encodePutRequest(req putWireRequest) []byte {
	buf := make([]byte, 0, 128+len(req.Content.Payload))
	buf = putBytes(buf, req.LocationKey)
	buf = putBytes(buf, req.ContentKey)
	buf = putHash(buf, req.Content.VersionKey)
	buf = putHash(buf, req.Content.BasedOnKey)
	buf = putBytes(buf, req.Content.Payload)
	return buf
}

func decodePutRequest(data []byte) (putWireRequest, error) {
	r := &byteReader{data: data}
	var req putWireRequest
	var err error

	if req.LocationKey, err = r.readBytes(); err != nil {
		return req, err
	}
	if req.ContentKey, err = r.readBytes(); err != nil {
		return req, err
	}
	if req.Content.VersionKey, err = r.readHash(); err != nil {
		return req, err
	}
	if req.Content.BasedOnKey, err = r.readHash(); err != nil {
		return req, err
	}
	if req.Content.Payload, err = r.readBytes(); err != nil {
		return req, err
	}
	return req, nil
}

func encodePutResponse(resp putWireResponse) []byte {
	buf := make([]byte, 0, 8+len(resp.Statuses)*(3*model.HashSize+1))
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(resp.Statuses)))
	buf = append(buf, count[:]...)
	for key, status := range resp.Statuses {
		buf = putHash(buf, key.LocationKey)
		buf = putHash(buf, key.ContentKey)
		buf = putHash(buf, key.VersionKey)
		buf = putByte(buf, byte(status))
	}
	return buf
}

func decodePutResponse(data []byte) (putWireResponse, error) {
	if len(data) < 4 {
		return putWireResponse{}, fmt.Errorf("unexpected end of message reading count")
	}
	count := binary.BigEndian.Uint32(data[:4])
	r := &byteReader{data: data, pos: 4}

	statuses := make(map[model.StorageKey]model.PutStatus, count)
	for i := uint32(0); i < count; i++ {
		var key model.StorageKey
		var err error
		if key.LocationKey, err = r.readHash(); err != nil {
			return putWireResponse{}, err
		}
		if key.ContentKey, err = r.readHash(); err != nil {
			return putWireResponse{}, err
		}
		if key.VersionKey, err = r.readHash(); err != nil {
			return putWireResponse{}, err
		}
		status, err := r.readByte()
		if err != nil {
			return putWireResponse{}, err
		}
		statuses[key] = model.PutStatus(status)
	}
	return putWireResponse{Statuses: statuses}, nil
}

func encodeRemoveRequest(req removeWireRequest) []byte {
	buf := make([]byte, 0, 64)
	buf = putBytes(buf, req.LocationKey)
	buf = putBytes(buf, req.ContentKey)
	buf = putHash(buf, req.VersionKey)
	return buf
}

func decodeRemoveRequest(data []byte) (removeWireRequest, error) {
	r := &byteReader{data: data}
	var req removeWireRequest
	var err error

	if req.LocationKey, err = r.readBytes(); err != nil {
		return req, err
	}
	if req.ContentKey, err = r.readBytes(); err != nil {
		return req, err
	}
	if req.VersionKey, err = r.readHash(); err != nil {
		return req, err
	}
	return req, nil
}

func encodeRemoveResponse(resp removeWireResponse) []byte {
	if resp.OK {
		return []byte{1}
	}
	return []byte{0}
}

func decodeRemoveResponse(data []byte) (removeWireResponse, error) {
	if len(data) < 1 {
		return removeWireResponse{}, fmt.Errorf("empty remove response")
	}
	return removeWireResponse{OK: data[0] == 1}, nil
}

func encodeDigestRequest(req digestWireRequest) []byte {
	buf := make([]byte, 0, 64)
	buf = putBytes(buf, req.LocationKey)
	buf = putBytes(buf, req.ContentKey)
	return buf
}

func decodeDigestRequest(data []byte) (digestWireRequest, error) {
	r := &byteReader{data: data}
	var req digestWireRequest
	var err error

	if req.LocationKey, err = r.readBytes(); err != nil {
		return req, err
	}
	if req.ContentKey, err = r.readBytes(); err != nil {
		return req, err
	}
	return req, nil
}

func encodeDigestResponse(resp digestWireResponse) []byte {
	buf := make([]byte, 0, 8+len(resp.Entries)*(4*model.HashSize))
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(resp.Entries)))
	buf = append(buf, count[:]...)
	for _, e := range resp.Entries {
		buf = putHash(buf, e.Key.LocationKey)
		buf = putHash(buf, e.Key.ContentKey)
		buf = putHash(buf, e.Key.VersionKey)
		buf = putHash(buf, e.VersionKey)
	}
	return buf
}

func decodeDigestResponse(data []byte) (digestWireResponse, error) {
	if len(data) < 4 {
		return digestWireResponse{}, fmt.Errorf("unexpected end of message reading count")
	}
	count := binary.BigEndian.Uint32(data[:4])
	r := &byteReader{data: data, pos: 4}

	entries := make([]model.DigestEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e model.DigestEntry
		var err error
		if e.Key.LocationKey, err = r.readHash(); err != nil {
			return digestWireResponse{}, err
		}
		if e.Key.ContentKey, err = r.readHash(); err != nil {
			return digestWireResponse{}, err
		}
		if e.Key.VersionKey, err = r.readHash(); err != nil {
			return digestWireResponse{}, err
		}
		if e.VersionKey, err = r.readHash(); err != nil {
			return digestWireResponse{}, err
		}
		entries = append(entries, e)
	}
	return digestWireResponse{Entries: entries}, nil
}
