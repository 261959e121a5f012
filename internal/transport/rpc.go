package transport

import (
	"context"
	"fmt"

	"duskmesh/internal/model"
	"duskmesh/internal/peerid"
)

// SendListener is notified of the outcome of enqueuing a liveness probe —
// not of any reply to it. This mirrors the original source's two-callback
// split between "the message left the wire" and "a reply came back",
// which is why a wall-clock timer is still needed even after a successful
// send.
type SendListener interface {
	OnSendSuccess()
	OnSendFailure()
}

// ContactPeerMessage is the liveness probe payload: a nonce the recipient
// must echo back unmodified.
type ContactPeerMessage struct {
	Nonce string
}

// SendDirect fires a liveness probe at peer over a unidirectional stream
// and reports only whether the probe left the wire; any reply surfaces
// later through OnProbeReply.
func (n *Node) SendDirect(ctx context.Context, peer peerid.PeerId, msg ContactPeerMessage, l SendListener) {
	go func() {
		p := n.getPeer(peer)
		if p == nil {
			l.OnSendFailure()
			return
		}

		payload := encodeEnvelope(msgProbeRequest, []byte(msg.Nonce))
		if err := p.Send(payload); err != nil {
			l.OnSendFailure()
			return
		}

		l.OnSendSuccess()
	}()
}

// CallPut issues a Put RPC against peer's replica.
func (n *Node) CallPut(ctx context.Context, peer peerid.PeerId, locationKey, contentKey []byte, content model.NetworkContent) (map[model.StorageKey]model.PutStatus, error) {
	p := n.getPeer(peer)
	if p == nil {
		return nil, fmt.Errorf("not connected to peer %s", peer)
	}

	req := encodeEnvelope(msgPutRequest, encodePutRequest(putWireRequest{
		LocationKey: locationKey,
		ContentKey:  contentKey,
		Content:     content,
	}))

	respBytes, err := p.Request(ctx, req)
	if err != nil {
		return nil, err
	}

	t, body, err := decodeEnvelope(respBytes)
	if err != nil {
		return nil, err
	}
	if t != msgPutResponse {
		return nil, fmt.Errorf("unexpected response message type %d", t)
	}

	resp, err := decodePutResponse(body)
	if err != nil {
		return nil, err
	}

	return resp.Statuses, nil
}

// CallRemoveVersion issues a RemoveVersion RPC against peer's replica.
func (n *Node) CallRemoveVersion(ctx context.Context, peer peerid.PeerId, locationKey, contentKey []byte, versionKey model.Hash) (bool, error) {
	p := n.getPeer(peer)
	if p == nil {
		return false, fmt.Errorf("not connected to peer %s", peer)
	}

	req := encodeEnvelope(msgRemoveRequest, encodeRemoveRequest(removeWireRequest{
		LocationKey: locationKey,
		ContentKey:  contentKey,
		VersionKey:  versionKey,
	}))

	respBytes, err := p.Request(ctx, req)
	if err != nil {
		return false, err
	}

	t, body, err := decodeEnvelope(respBytes)
	if err != nil {
		return false, err
	}
	if t != msgRemoveResponse {
		return false, fmt.Errorf("unexpected response message type %d", t)
	}

	resp, err := decodeRemoveResponse(body)
	if err != nil {
		return false, err
	}

	return resp.OK, nil
}

// CallGetDigest issues a GetDigest RPC against peer's replica.
func (n *Node) CallGetDigest(ctx context.Context, peer peerid.PeerId, locationKey, contentKey []byte) ([]model.DigestEntry, error) {
	p := n.getPeer(peer)
	if p == nil {
		return nil, fmt.Errorf("not connected to peer %s", peer)
	}

	req := encodeEnvelope(msgDigestRequest, encodeDigestRequest(digestWireRequest{
		LocationKey: locationKey,
		ContentKey:  contentKey,
	}))

	respBytes, err := p.Request(ctx, req)
	if err != nil {
		return nil, err
	}

	t, body, err := decodeEnvelope(respBytes)
	if err != nil {
		return nil, err
	}
	if t != msgDigestResponse {
		return nil, fmt.Errorf("unexpected response message type %d", t)
	}

	resp, err := decodeDigestResponse(body)
	if err != nil {
		return nil, err
	}

	return resp.Entries, nil
}
