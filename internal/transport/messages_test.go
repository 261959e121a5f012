package transport

import (
	"bytes"
	"testing"

	"duskmesh/internal/model"
)

func mkHash(b byte) model.Hash {
	var h model.Hash
	h[0] = b
	return h
}

func TestPutRequest_RoundTrip(t *testing.T) {
	req := putWireRequest{
		LocationKey: []byte("loc"),
		ContentKey:  []byte("key"),
		Content: model.NetworkContent{
			VersionKey: mkHash(1),
			BasedOnKey: mkHash(2),
			Payload:    []byte("hello world"),
		},
	}

	got, err := decodePutRequest(encodePutRequest(req))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !bytes.Equal(got.LocationKey, req.LocationKey) || !bytes.Equal(got.ContentKey, req.ContentKey) {
		t.Fatalf("keys mismatch: %+v", got)
	}
	if got.Content.VersionKey != req.Content.VersionKey || got.Content.BasedOnKey != req.Content.BasedOnKey {
		t.Fatalf("content hashes mismatch: %+v", got.Content)
	}
	if !bytes.Equal(got.Content.Payload, req.Content.Payload) {
		t.Fatalf("payload mismatch: %q", got.Content.Payload)
	}
}

func TestPutResponse_RoundTrip(t *testing.T) {
	key := model.StorageKey{LocationKey: mkHash(1), ContentKey: mkHash(2), VersionKey: mkHash(3)}
	resp := putWireResponse{Statuses: map[model.StorageKey]model.PutStatus{key: model.PutVersionConflict}}

	got, err := decodePutResponse(encodePutResponse(resp))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Statuses[key] != model.PutVersionConflict {
		t.Fatalf("expected PutVersionConflict, got %v", got.Statuses[key])
	}
}

func TestRemoveRequest_RoundTrip(t *testing.T) {
	req := removeWireRequest{LocationKey: []byte("loc"), ContentKey: []byte("key"), VersionKey: mkHash(5)}

	got, err := decodeRemoveRequest(encodeRemoveRequest(req))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.LocationKey, req.LocationKey) || got.VersionKey != req.VersionKey {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestRemoveResponse_RoundTrip(t *testing.T) {
	for _, ok := range []bool{true, false} {
		got, err := decodeRemoveResponse(encodeRemoveResponse(removeWireResponse{OK: ok}))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.OK != ok {
			t.Fatalf("expected OK=%v, got %v", ok, got.OK)
		}
	}
}

func TestDigestResponse_RoundTrip(t *testing.T) {
	resp := digestWireResponse{Entries: []model.DigestEntry{
		{Key: model.StorageKey{VersionKey: mkHash(2)}, VersionKey: mkHash(2)},
		{Key: model.StorageKey{VersionKey: mkHash(1)}, VersionKey: mkHash(1)},
	}}

	got, err := decodeDigestResponse(encodeDigestResponse(resp))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got.Entries))
	}
	if got.Entries[0].VersionKey != mkHash(2) || got.Entries[1].VersionKey != mkHash(1) {
		t.Fatalf("expected order preserved, got %+v", got.Entries)
	}
}

func TestDigestResponse_Empty(t *testing.T) {
	got, err := decodeDigestResponse(encodeDigestResponse(digestWireResponse{}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(got.Entries))
	}
}

func TestByteReader_TruncatedInputErrors(t *testing.T) {
	if _, err := decodePutRequest([]byte{0, 0}); err == nil {
		t.Fatal("expected an error decoding a truncated put request")
	}
	if _, err := decodeRemoveResponse(nil); err == nil {
		t.Fatal("expected an error decoding an empty remove response")
	}
}
