package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for the local replica store.
	DataPath string

	// MetricsAddress is the Prometheus /metrics and /healthz listen address.
	MetricsAddress string

	// QUICAddress is the QUIC P2P listen address.
	QUICAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the node's Ed25519 signing key.
	PrivateKey ed25519.PrivateKey

	// Replicas is the comma-separated list of "peerPubkeyHex@addr" replica
	// peers this node fans Put/RemoveVersion/GetDigest calls out to.
	Replicas string

	// PutRetries overrides config.Default().PutRetries when > 0.
	PutRetries int

	// ContactPeersAwait overrides config.Default().ContactPeersAwait when > 0.
	ContactPeersAwait time.Duration

	// PutFile, when set, switches the process into one-shot put mode: read
	// this file's contents (or stdin, for "-"), verify a put of it against
	// PutLocationKey/PutContentKey, print the outcome, and exit instead of
	// serving.
	PutFile        string
	PutLocationKey string
	PutContentKey  string

	// PutBasedOn is the hex-encoded VersionKey this write extends. Empty
	// means a root write with no parent.
	PutBasedOn string
}

// replicaAddr is one parsed entry from -replicas.
type replicaAddr struct {
	pubKeyHex string
	addr      string
}

func (c *Config) parseReplicas() []replicaAddr {
	if c.Replicas == "" {
		return nil
	}

	var out []replicaAddr
	for _, entry := range strings.Split(c.Replicas, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "@", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, replicaAddr{pubKeyHex: parts[0], addr: parts[1]})
	}
	return out
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data", "Local replica store directory")
	flag.StringVar(&cfg.MetricsAddress, "metrics", ":8080", "Metrics/health HTTP address")
	flag.StringVar(&cfg.QUICAddress, "quic", ":9000", "QUIC P2P listen address")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.StringVar(&cfg.Replicas, "replicas", "", "Comma-separated pubkeyHex@addr replica peer list")
	flag.IntVar(&cfg.PutRetries, "put-retries", 0, "Override PUT_RETRIES (0 = default)")
	flag.DurationVar(&cfg.ContactPeersAwait, "contact-await", 0, "Override CONTACT_PEERS_AWAIT_MS (0 = default)")
	flag.StringVar(&cfg.PutFile, "put-file", "", "One-shot mode: verify a put of this file's contents (\"-\" for stdin), then exit")
	flag.StringVar(&cfg.PutLocationKey, "put-location", "", "LocationKey for -put-file")
	flag.StringVar(&cfg.PutContentKey, "put-content-key", "", "ContentKey for -put-file")
	flag.StringVar(&cfg.PutBasedOn, "put-based-on", "", "Hex-encoded VersionKey this -put-file write extends (empty = root write)")
	flag.Parse()

	return cfg
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
