package transport

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"duskmesh/internal/logger"
	"duskmesh/internal/peerid"
)

const (
	// defaultRequestTimeout bounds Put/RemoveVersion/GetDigest RPCs that
	// arrive without their own deadline.
	defaultRequestTimeout = 30 * time.Second
)

// Peer represents a connection to a remote Duskmesh node.
type Peer struct {
	id        peerid.PeerId
	publicKey ed25519.PublicKey
	address   string
	conn      *quic.Conn
	node      *Node
	closed    atomic.Bool
	mu        sync.Mutex
}

// ID returns the remote node's PeerId.
func (p *Peer) ID() peerid.PeerId {
	return p.id
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.address
}

// Send sends a message to the peer over a new unidirectional stream.
func (p *Peer) Send(data []byte) error {
	if p.closed.Load() {
		return fmt.Errorf("peer is closed")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stream, err := p.conn.OpenUniStreamSync(context.Background())
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	if err := writeMessage(stream, data); err != nil {
		stream.Close()
		return fmt.Errorf("write message: %w", err)
	}

	return stream.Close()
}

// Close closes the peer connection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	return p.conn.CloseWithError(0, "closed")
}

// Request sends data over a bidirectional stream and waits for the reply.
func (p *Peer) Request(ctx context.Context, data []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("peer is closed")
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeMessage(stream, data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	response, err := readMessage(stream)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return response, nil
}

func (p *Peer) receiveLoop() {
	go p.acceptBidiStreams(context.Background())

	uniCount := 0
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		stream, err := p.conn.AcceptUniStream(ctx)
		cancel()

		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				continue
			}
			logger.Debug("receiveLoop ended", logger.Peer("peer", p.id), "error", err, "uniStreams", uniCount)
			break
		}

		uniCount++
		go p.handleUniStream(stream)
	}

	p.handleDisconnect()
}

func (p *Peer) acceptBidiStreams(ctx context.Context) {
	for {
		stream, err := p.conn.AcceptStream(ctx)
		if err != nil {
			return
		}

		go p.handleBidiStream(stream)
	}
}

func (p *Peer) handleBidiStream(stream *quic.Stream) {
	defer stream.Close()

	data, err := readMessage(stream)
	if err != nil {
		return
	}

	response, err := p.node.callOnRequest(context.Background(), data)
	if err != nil {
		logger.Debug("request handling failed", logger.Peer("peer", p.id), "error", err)
		return
	}

	writeMessage(stream, response)
}

func (p *Peer) handleUniStream(stream *quic.ReceiveStream) {
	data, err := readMessage(stream)
	if err != nil {
		logger.Debug("stream read error", logger.Peer("peer", p.id), "error", err)
		return
	}

	if !p.node.dedup.check(data) {
		return
	}

	p.node.callOnMessage(p, data)
}

func (p *Peer) handleDisconnect() {
	if p.closed.Swap(true) {
		return
	}

	p.node.handlePeerDisconnect(p)
}
