package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"duskmesh/internal/config"
	"duskmesh/internal/httpapi"
	"duskmesh/internal/logger"
	"duskmesh/internal/metrics"
	"duskmesh/internal/peerid"
	"duskmesh/internal/reconcile"
	"duskmesh/internal/replicastore"
	"duskmesh/internal/transport"
)

func main() {
	logger.Init()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the transport, local replica, metrics and monitoring surface
// together. With -put-file set it issues one verified put against the
// configured replica set and exits; otherwise it runs one post-startup
// locations reconciliation and serves until interrupted.
func run() error {
	cfg := parseFlags()

	var err error
	cfg.PrivateKey, err = loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	node, err := transport.NewNode(transport.Config{
		PrivateKey: cfg.PrivateKey,
		ListenAddr: cfg.QUICAddress,
	})
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	local, err := replicastore.OpenLocalReplica(cfg.DataPath)
	if err != nil {
		return fmt.Errorf("open local replica: %w", err)
	}
	defer local.Close()

	node.SetRPCHandler(local)

	replicas := cfg.parseReplicas()
	peerIDs := make([]peerid.PeerId, 0, len(replicas))

	for _, r := range replicas {
		pub, err := hex.DecodeString(r.pubKeyHex)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			logger.Warn("skipping malformed replica entry", "entry", r.pubKeyHex)
			continue
		}
		peerIDs = append(peerIDs, peerid.FromPublicKey(pub))

		addr := r.addr
		go func() {
			if _, err := node.Connect(addr); err != nil {
				logger.Warn("could not connect to configured replica", "addr", addr, "error", err)
			}
		}()
	}

	manager := replicastore.NewManager(node.PeerAddress(), local, node, peerIDs)

	if err := node.Start(); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer node.Close()

	registry := prometheus.NewRegistry()
	metricsReg := metrics.New(registry)

	constants := config.Default()
	if cfg.PutRetries > 0 {
		constants.PutRetries = cfg.PutRetries
	}
	if cfg.ContactPeersAwait > 0 {
		constants.ContactPeersAwait = cfg.ContactPeersAwait
	}

	if cfg.PutFile != "" {
		return runPut(context.Background(), manager, cfg, constants, metricsReg)
	}

	st := newStatus(node.NodeID())

	http := httpapi.New(cfg.MetricsAddress, st, registry)
	if err := http.Start(); err != nil {
		return fmt.Errorf("start http api: %w", err)
	}
	defer http.Stop()

	printStartupInfo(cfg, node)

	locations := append([]peerid.PeerId{node.PeerAddress()}, peerIDs...)
	reconcile.Reconcile(context.Background(), node, constants, metricsReg, locations, st)

	waitForShutdown()

	return nil
}

func waitForShutdown() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	logger.Info("shutting down")
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config, node *transport.Node) {
	pubKey := cfg.PrivateKey.Public().(ed25519.PublicKey)

	logger.Info("starting duskmesh node",
		"pubkey", hex.EncodeToString(pubKey),
		"peerId", node.PeerAddress().String(),
		"metrics", cfg.MetricsAddress,
		"quic", cfg.QUICAddress,
		"data", cfg.DataPath,
	)
}
