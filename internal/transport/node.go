// Package transport is the QUIC-based network manager facade: it owns peer
// connections, identity, and the wire encoding for both the liveness probe
// and the versioned-put RPCs, adapted from the reference node's
// internal/network package.
package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"duskmesh/internal/logger"
	"duskmesh/internal/model"
	"duskmesh/internal/peerid"
)

const (
	// defaultReconnectDelay is the default delay between reconnection attempts.
	defaultReconnectDelay = 5 * time.Second

	// maxReconnectDelay is the maximum delay between reconnection attempts.
	maxReconnectDelay = 60 * time.Second

	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "duskmesh/1"
)

// RPCHandler serves the local replica's answers to remote Put /
// RemoveVersion / GetDigest calls (internal/replicastore implements it).
type RPCHandler interface {
	HandlePut(ctx context.Context, locationKey, contentKey []byte, content model.NetworkContent) (map[model.StorageKey]model.PutStatus, error)
	HandleRemoveVersion(ctx context.Context, locationKey, contentKey []byte, versionKey model.Hash) (bool, error)
	HandleGetDigest(ctx context.Context, locationKey, contentKey []byte) ([]model.DigestEntry, error)
}

// Config holds the configuration for a Node.
type Config struct {
	PrivateKey     ed25519.PrivateKey
	ListenAddr     string
	ReconnectDelay time.Duration
}

// Node represents a Duskmesh network endpoint: one QUIC listener plus the
// set of peer connections it maintains.
type Node struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	id         peerid.PeerId
	listenAddr string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	listener *quic.Listener

	peers   map[peerid.PeerId]*Peer
	peersMu sync.RWMutex

	knownAddrs   map[peerid.PeerId]string
	knownAddrsMu sync.RWMutex

	reconnectDelay time.Duration

	dedup *dedup

	rpcHandler RPCHandler

	onConnect    func(*Peer)
	onDisconnect func(*Peer)
	probeReplyFn []func(peer peerid.PeerId, nonce string)
	handlersMu   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a new network node bound to the given ed25519 identity.
func NewNode(cfg Config) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay == 0 {
		reconnectDelay = defaultReconnectDelay
	}

	cert, err := generateCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true, // peer identity is verified by comparing PeerId, not by a CA
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	pub := cfg.PrivateKey.Public().(ed25519.PublicKey)

	return &Node{
		privateKey:     cfg.PrivateKey,
		publicKey:      pub,
		id:             peerid.FromPublicKey(pub),
		listenAddr:     cfg.ListenAddr,
		tlsConfig:      tlsConfig,
		quicConfig:     quicConfig,
		peers:          make(map[peerid.PeerId]*Peer),
		knownAddrs:     make(map[peerid.PeerId]string),
		reconnectDelay: reconnectDelay,
		dedup:          newDedup(),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// PeerAddress returns this node's own PeerId.
func (n *Node) PeerAddress() peerid.PeerId {
	return n.id
}

// NodeID returns a short human-readable identity string for logs.
func (n *Node) NodeID() string {
	return hex.EncodeToString(n.id[:8])
}

// KeyPair returns the node's ed25519 private key.
func (n *Node) KeyPair() ed25519.PrivateKey {
	return n.privateKey
}

// Addr returns the listener's address. Empty if not started.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// SetRPCHandler wires the local replica store as the answerer for incoming
// Put / RemoveVersion / GetDigest requests. Must be called before Start.
func (n *Node) SetRPCHandler(h RPCHandler) {
	n.rpcHandler = h
}

// OnConnect sets the handler called when a peer connects.
func (n *Node) OnConnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onConnect = fn
	n.handlersMu.Unlock()
}

// OnDisconnect sets the handler called when a peer disconnects.
func (n *Node) OnDisconnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onDisconnect = fn
	n.handlersMu.Unlock()
}

// OnProbeReply registers fn to be invoked whenever a liveness probe reply
// arrives from any peer, and returns a function that unregisters it. The
// reconciler (internal/reconcile) subscribes for the duration of one
// reconciliation round.
func (n *Node) OnProbeReply(fn func(peer peerid.PeerId, nonce string)) (unsubscribe func()) {
	n.handlersMu.Lock()
	n.probeReplyFn = append(n.probeReplyFn, fn)
	idx := len(n.probeReplyFn) - 1
	n.handlersMu.Unlock()

	return func() {
		n.handlersMu.Lock()
		n.probeReplyFn[idx] = nil
		n.handlersMu.Unlock()
	}
}

// Start begins accepting connections.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	return nil
}

// Connect dials a remote node at the given address.
func (n *Node) Connect(addr string) (*Peer, error) {
	conn, err := quic.DialAddr(n.ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	peer, err := n.setupPeer(conn, addr)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	return peer, nil
}

// getPeer returns the connected Peer for id, or nil.
func (n *Node) getPeer(id peerid.PeerId) *Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	return n.peers[id]
}

// Close stops the node and closes all connections.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.peersMu.Lock()
	for _, p := range n.peers {
		p.Close()
	}
	n.peers = make(map[peerid.PeerId]*Peer)
	n.peersMu.Unlock()

	n.dedup.close()
	n.wg.Wait()

	return nil
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}

		go n.handleIncoming(conn)
	}
}

func (n *Node) handleIncoming(conn *quic.Conn) {
	peer, err := n.setupPeer(conn, conn.RemoteAddr().String())
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return
	}

	n.callOnConnect(peer)
}

func (n *Node) setupPeer(conn *quic.Conn, addr string) (*Peer, error) {
	tlsState := conn.ConnectionState().TLS

	pub, err := extractPublicKey(tlsState)
	if err != nil {
		return nil, fmt.Errorf("extract public key: %w", err)
	}

	id := peerid.FromPublicKey(pub)

	peer := &Peer{
		id:        id,
		publicKey: pub,
		address:   addr,
		conn:      conn,
		node:      n,
	}

	n.peersMu.Lock()
	n.peers[id] = peer
	n.peersMu.Unlock()

	n.knownAddrsMu.Lock()
	n.knownAddrs[id] = addr
	n.knownAddrsMu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop()
	}()

	return peer, nil
}

func (n *Node) handlePeerDisconnect(p *Peer) {
	n.peersMu.Lock()
	delete(n.peers, p.id)
	n.peersMu.Unlock()

	n.callOnDisconnect(p)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.reconnectPeer(p.id)
	}()
}

func (n *Node) reconnectPeer(id peerid.PeerId) {
	delay := n.reconnectDelay

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(delay):
		}

		n.knownAddrsMu.RLock()
		addr, ok := n.knownAddrs[id]
		n.knownAddrsMu.RUnlock()

		if !ok {
			return
		}

		n.peersMu.RLock()
		_, exists := n.peers[id]
		n.peersMu.RUnlock()

		if exists {
			return
		}

		peer, err := n.Connect(addr)
		if err == nil {
			n.callOnConnect(peer)
			return
		}

		delay = delay * 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (n *Node) callOnConnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onConnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

func (n *Node) callOnDisconnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onDisconnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

// callOnProbeReply fans a received probe echo out to every subscriber
// registered via OnProbeReply.
func (n *Node) callOnProbeReply(peer peerid.PeerId, nonce string) {
	n.handlersMu.RLock()
	fns := make([]func(peerid.PeerId, string), 0, len(n.probeReplyFn))
	for _, fn := range n.probeReplyFn {
		if fn != nil {
			fns = append(fns, fn)
		}
	}
	n.handlersMu.RUnlock()

	for _, fn := range fns {
		fn(peer, nonce)
	}
}

// callOnRequest answers a bidirectional Put / RemoveVersion / GetDigest
// call using the wired RPCHandler.
func (n *Node) callOnRequest(ctx context.Context, data []byte) ([]byte, error) {
	t, body, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	if n.rpcHandler == nil {
		return nil, fmt.Errorf("no RPC handler registered")
	}

	switch t {
	case msgPutRequest:
		req, err := decodePutRequest(body)
		if err != nil {
			return nil, err
		}
		statuses, err := n.rpcHandler.HandlePut(ctx, req.LocationKey, req.ContentKey, req.Content)
		if err != nil {
			return nil, err
		}
		return encodeEnvelope(msgPutResponse, encodePutResponse(putWireResponse{Statuses: statuses})), nil

	case msgRemoveRequest:
		req, err := decodeRemoveRequest(body)
		if err != nil {
			return nil, err
		}
		ok, err := n.rpcHandler.HandleRemoveVersion(ctx, req.LocationKey, req.ContentKey, req.VersionKey)
		if err != nil {
			return nil, err
		}
		return encodeEnvelope(msgRemoveResponse, encodeRemoveResponse(removeWireResponse{OK: ok})), nil

	case msgDigestRequest:
		req, err := decodeDigestRequest(body)
		if err != nil {
			return nil, err
		}
		entries, err := n.rpcHandler.HandleGetDigest(ctx, req.LocationKey, req.ContentKey)
		if err != nil {
			return nil, err
		}
		return encodeEnvelope(msgDigestResponse, encodeDigestResponse(digestWireResponse{Entries: entries})), nil

	default:
		return nil, fmt.Errorf("unexpected request message type %d", t)
	}
}

// callOnMessage handles a unidirectional message: only the probe protocol
// travels this way.
func (n *Node) callOnMessage(p *Peer, data []byte) {
	t, body, err := decodeEnvelope(data)
	if err != nil {
		logger.Debug("dropped malformed unistream message", logger.Peer("peer", p.id), "error", err)
		return
	}

	switch t {
	case msgProbeRequest:
		reply := encodeEnvelope(msgProbeResponse, body)
		if err := p.Send(reply); err != nil {
			logger.Debug("could not echo probe reply", logger.Peer("peer", p.id), "error", err)
		}
	case msgProbeResponse:
		n.callOnProbeReply(p.id, string(body))
	default:
		logger.Debug("unexpected unistream message type", "type", t, logger.Peer("peer", p.id))
	}
}
