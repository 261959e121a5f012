package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync/atomic"
	"testing"
	"time"

	"duskmesh/internal/model"
	"duskmesh/internal/peerid"
)

func generateTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

// fakeRPCHandler answers Put/RemoveVersion/GetDigest with scripted values
// so a real two-node QUIC session can exercise callOnRequest end to end.
type fakeRPCHandler struct {
	putStatuses map[model.StorageKey]model.PutStatus
	removeOK    bool
	digest      []model.DigestEntry
}

func (f *fakeRPCHandler) HandlePut(ctx context.Context, locationKey, contentKey []byte, content model.NetworkContent) (map[model.StorageKey]model.PutStatus, error) {
	return f.putStatuses, nil
}

func (f *fakeRPCHandler) HandleRemoveVersion(ctx context.Context, locationKey, contentKey []byte, versionKey model.Hash) (bool, error) {
	return f.removeOK, nil
}

func (f *fakeRPCHandler) HandleGetDigest(ctx context.Context, locationKey, contentKey []byte) ([]model.DigestEntry, error) {
	return f.digest, nil
}

func TestNodeStartStop(t *testing.T) {
	node, err := NewNode(Config{PrivateKey: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	if err := node.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}
	if err := node.Close(); err != nil {
		t.Fatalf("close node: %v", err)
	}
}

func TestNodeConnect(t *testing.T) {
	serverKey := generateTestKey(t)
	server, err := NewNode(Config{PrivateKey: serverKey, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer server.Close()

	var serverConnected atomic.Bool
	server.OnConnect(func(p *Peer) { serverConnected.Store(true) })

	client, err := NewNode(Config{PrivateKey: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("start client: %v", err)
	}
	defer client.Close()

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if peer.ID() != server.PeerAddress() {
		t.Fatal("connected peer id does not match server's own peer address")
	}

	time.Sleep(100 * time.Millisecond)
	if !serverConnected.Load() {
		t.Error("server did not observe the connection")
	}
}

func TestNodeProbeRoundTrip(t *testing.T) {
	server, err := NewNode(Config{PrivateKey: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer server.Close()

	client, err := NewNode(Config{PrivateKey: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("start client: %v", err)
	}
	defer client.Close()

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	replies := make(chan string, 1)
	client.OnProbeReply(func(p peerid.PeerId, nonce string) { replies <- nonce })

	listener := &captureSendListener{done: make(chan struct{})}
	client.SendDirect(context.Background(), peer.ID(), ContactPeerMessage{Nonce: "abc123"}, listener)

	select {
	case <-listener.done:
	case <-time.After(2 * time.Second):
		t.Fatal("send never completed")
	}
	if !listener.success {
		t.Fatal("expected probe send to succeed")
	}

	select {
	case nonce := <-replies:
		if nonce != "abc123" {
			t.Fatalf("expected echoed nonce abc123, got %q", nonce)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for probe echo")
	}
}

type captureSendListener struct {
	success bool
	done    chan struct{}
}

func (c *captureSendListener) OnSendSuccess() { c.success = true; close(c.done) }
func (c *captureSendListener) OnSendFailure() { c.success = false; close(c.done) }

func TestNodeSendDirect_UnknownPeerFails(t *testing.T) {
	node, err := NewNode(Config{PrivateKey: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	if err := node.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}
	defer node.Close()

	var unknown peerid.PeerId
	unknown[0] = 0xFF

	listener := &captureSendListener{done: make(chan struct{})}
	node.SendDirect(context.Background(), unknown, ContactPeerMessage{Nonce: "x"}, listener)

	select {
	case <-listener.done:
	case <-time.After(2 * time.Second):
		t.Fatal("send never completed")
	}
	if listener.success {
		t.Fatal("expected send to an unconnected peer to fail")
	}
}

func TestNodeCallPut(t *testing.T) {
	statusKey := model.StorageKey{VersionKey: model.Hash{9}}
	server, err := NewNode(Config{PrivateKey: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	server.SetRPCHandler(&fakeRPCHandler{putStatuses: map[model.StorageKey]model.PutStatus{statusKey: model.PutOK}})
	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer server.Close()

	client, err := NewNode(Config{PrivateKey: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("start client: %v", err)
	}
	defer client.Close()

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	statuses, err := client.CallPut(ctx, peer.ID(), []byte("loc"), []byte("key"), model.NetworkContent{VersionKey: model.Hash{9}})
	if err != nil {
		t.Fatalf("CallPut: %v", err)
	}
	if statuses[statusKey] != model.PutOK {
		t.Fatalf("expected PutOK, got %v", statuses[statusKey])
	}
}

func TestNodeCallGetDigest(t *testing.T) {
	entries := []model.DigestEntry{{VersionKey: model.Hash{1}}}
	server, err := NewNode(Config{PrivateKey: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	server.SetRPCHandler(&fakeRPCHandler{digest: entries})
	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer server.Close()

	client, err := NewNode(Config{PrivateKey: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("start client: %v", err)
	}
	defer client.Close()

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := client.CallGetDigest(ctx, peer.ID(), []byte("loc"), []byte("key"))
	if err != nil {
		t.Fatalf("CallGetDigest: %v", err)
	}
	want := model.Hash{1}
	if len(got) != 1 || got[0].VersionKey != want {
		t.Fatalf("expected the scripted single entry, got %+v", got)
	}
}

func TestNodeDisconnect(t *testing.T) {
	server, err := NewNode(Config{PrivateKey: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer server.Close()

	disconnected := make(chan struct{})
	server.OnDisconnect(func(p *Peer) { close(disconnected) })

	client, err := NewNode(Config{PrivateKey: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("start client: %v", err)
	}

	if _, err := client.Connect(server.Addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	client.Close()

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for disconnect")
	}
}
