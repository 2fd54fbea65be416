package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// generateTestKey generates a random ed25519 key pair for testing.
func generateTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return priv
}

// startNode creates and starts a node on a random local port.
func startNode(t *testing.T, key ed25519.PrivateKey, reconnect time.Duration) *Node {
	t.Helper()

	node, err := NewNode(Config{
		PrivateKey:     key,
		ListenAddr:     "127.0.0.1:0",
		ReconnectDelay: reconnect,
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	if err := node.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}

	return node
}

// echo answers every request with a prefix and the caller id.
func echo(_ context.Context, p *Peer, data []byte) ([]byte, error) {
	return append([]byte(p.ID()[:8]+":"), data...), nil
}

// TestNodeStartStop tests starting and stopping a node.
func TestNodeStartStop(t *testing.T) {
	node := startNode(t, generateTestKey(t), 0)

	if node.Addr() == "" {
		t.Error("started node has no address")
	}

	if err := node.Close(); err != nil {
		t.Fatalf("close node: %v", err)
	}
}

// TestNewNodeValidation tests required configuration.
func TestNewNodeValidation(t *testing.T) {
	if _, err := NewNode(Config{ListenAddr: ":0"}); err == nil {
		t.Error("missing key accepted")
	}
	if _, err := NewNode(Config{PrivateKey: generateTestKey(t)}); err == nil {
		t.Error("missing listen address accepted")
	}
}

// TestNodeConnect tests that both sides learn each other's identity.
func TestNodeConnect(t *testing.T) {
	serverKey := generateTestKey(t)
	server := startNode(t, serverKey, 0)
	defer server.Close()

	connected := make(chan *Peer, 1)
	server.OnConnect(func(p *Peer) {
		connected <- p
	})

	clientKey := generateTestKey(t)
	client := startNode(t, clientKey, 0)
	defer client.Close()

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if !bytes.Equal(peer.PublicKey(), serverKey.Public().(ed25519.PublicKey)) {
		t.Error("peer public key mismatch")
	}

	select {
	case p := <-connected:
		if !bytes.Equal(p.PublicKey(), clientKey.Public().(ed25519.PublicKey)) {
			t.Error("server saw wrong client key")
		}
		if server.PeerByID(p.ID()) != p {
			t.Error("PeerByID did not return the connected peer")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive connection")
	}

	if client.GetPeer(serverKey.Public().(ed25519.PublicKey)) != peer {
		t.Error("GetPeer did not return the dialed peer")
	}
	if len(client.Peers()) != 1 {
		t.Errorf("client peer count: got %d, want 1", len(client.Peers()))
	}
}

// TestRequestResponse tests a round trip in both directions.
func TestRequestResponse(t *testing.T) {
	server := startNode(t, generateTestKey(t), 0)
	defer server.Close()
	server.OnRequest(echo)

	connected := make(chan *Peer, 1)
	server.OnConnect(func(p *Peer) { connected <- p })

	client := startNode(t, generateTestKey(t), 0)
	defer client.Close()
	client.OnRequest(echo)

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx := context.Background()

	response, err := peer.Request(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	expected := []byte(hexPrefix(client) + ":hello")
	if !bytes.Equal(response, expected) {
		t.Errorf("response mismatch: got %q, want %q", response, expected)
	}

	var back *Peer
	select {
	case back = <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive connection")
	}

	response, err = back.Request(ctx, []byte("reverse"))
	if err != nil {
		t.Fatalf("reverse request: %v", err)
	}
	if !bytes.Equal(response, []byte(hexPrefix(server)+":reverse")) {
		t.Errorf("reverse response: got %q", response)
	}
}

// hexPrefix returns the first 8 hex characters of n's key.
func hexPrefix(n *Node) string {
	return hex.EncodeToString(n.PublicKey())[:8]
}

// TestRequestNoHandler tests that a request without a handler fails on the caller side.
func TestRequestNoHandler(t *testing.T) {
	server := startNode(t, generateTestKey(t), 0)
	defer server.Close()

	client := startNode(t, generateTestKey(t), 0)
	defer client.Close()

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := peer.Request(ctx, []byte("anyone?")); err == nil {
		t.Error("request without a handler succeeded")
	}
}

// TestRequestTimeout tests request timeout handling.
func TestRequestTimeout(t *testing.T) {
	server := startNode(t, generateTestKey(t), 0)
	defer server.Close()

	server.OnRequest(func(context.Context, *Peer, []byte) ([]byte, error) {
		time.Sleep(500 * time.Millisecond)
		return []byte("late"), nil
	})

	client := startNode(t, generateTestKey(t), 0)
	defer client.Close()

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := peer.Request(ctx, []byte("hello")); err == nil {
		t.Error("expected timeout error")
	}
}

// TestLargeRequest tests a request close to a compressed hand-off's worst case.
func TestLargeRequest(t *testing.T) {
	server := startNode(t, generateTestKey(t), 0)
	defer server.Close()

	server.OnRequest(func(_ context.Context, _ *Peer, data []byte) ([]byte, error) {
		return data, nil
	})

	client := startNode(t, generateTestKey(t), 0)
	defer client.Close()

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	large := make([]byte, 1<<20)
	for i := range large {
		large[i] = byte(i % 251)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	response, err := peer.Request(ctx, large)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !bytes.Equal(response, large) {
		t.Error("large response mismatch")
	}
}

// TestNodeReconnect tests that a dialed peer is redialed after a restart.
func TestNodeReconnect(t *testing.T) {
	serverKey := generateTestKey(t)
	server := startNode(t, serverKey, 0)

	client := startNode(t, generateTestKey(t), 200*time.Millisecond)
	defer client.Close()

	var disconnects atomic.Int32
	client.OnDisconnect(func(*Peer) { disconnects.Add(1) })

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	server.Close()

	server2 := startNode(t, serverKey, 0)
	defer server2.Close()

	reconnected := make(chan struct{})
	var once atomic.Bool
	server2.OnConnect(func(*Peer) {
		if once.CompareAndSwap(false, true) {
			close(reconnected)
		}
	})

	client.dialedMu.Lock()
	client.dialed[peer.ID()] = server2.Addr()
	client.dialedMu.Unlock()

	select {
	case <-reconnected:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for reconnection")
	}

	if disconnects.Load() == 0 {
		t.Error("disconnect handler not called")
	}
}

// TestFrameLimits tests the length-prefixed framing.
func TestFrameLimits(t *testing.T) {
	var buf bytes.Buffer

	if err := writeMessage(&buf, []byte("frame")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() != lengthPrefixSize+5 {
		t.Errorf("frame size: got %d", buf.Len())
	}

	got, err := readMessage(&buf)
	if err != nil || string(got) != "frame" {
		t.Errorf("read: %q, %v", got, err)
	}

	if err := writeMessage(&buf, make([]byte, maxMessageSize+1)); err == nil {
		t.Error("oversize frame written")
	}

	oversize := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	if _, err := readMessage(bytes.NewReader(oversize)); err == nil {
		t.Error("oversize length accepted")
	}

	if _, err := readMessage(bytes.NewReader([]byte{0, 0, 0, 9, 1})); err == nil {
		t.Error("truncated payload accepted")
	}
}

// TestLoadOrGenerateKey tests that a generated key is saved and reloaded.
func TestLoadOrGenerateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	first, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	second, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !first.Equal(second) {
		t.Error("reloaded key differs from the saved one")
	}

	if err := os.WriteFile(path, []byte("short"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadOrGenerateKey(path); err == nil {
		t.Error("truncated key accepted")
	}

	if k, err := LoadOrGenerateKey(""); err != nil || len(k) != ed25519.PrivateKeySize {
		t.Errorf("ephemeral key: %v", err)
	}
}
