package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"duskmesh/internal/config"
	"duskmesh/internal/logger"
	"duskmesh/internal/metrics"
	"duskmesh/internal/model"
	"duskmesh/internal/putverify"
	"duskmesh/internal/replicastore"
)

// putResult is a putverify.Listener that reports the verified outcome of a
// one-shot put over a channel, so runPut can block on it.
type putResult struct {
	done chan bool // true on success, false on failure
}

func newPutResult() *putResult {
	return &putResult{done: make(chan bool, 1)}
}

func (r *putResult) OnPutSuccess() { r.done <- true }
func (r *putResult) OnPutFailure() { r.done <- false }

// runPut reads content from cfg.PutFile (or stdin, for "-"), issues a
// verified put of it against manager, and blocks until putverify.VerifyPut
// notifies the outcome. It is the one real call path from cmd/node into
// internal/putverify: reconciliation and RPC serving answer writes issued
// by other nodes, but a write has to originate somewhere.
func runPut(ctx context.Context, manager *replicastore.Manager, cfg *Config, constants config.Constants, m *metrics.Registry) error {
	payload, err := readPutFile(cfg.PutFile)
	if err != nil {
		return fmt.Errorf("read put file: %w", err)
	}

	if cfg.PutLocationKey == "" || cfg.PutContentKey == "" {
		return fmt.Errorf("-put-location and -put-content-key are required with -put-file")
	}

	var basedOn model.Hash
	if cfg.PutBasedOn != "" {
		decoded, err := hex.DecodeString(cfg.PutBasedOn)
		if err != nil || len(decoded) != model.HashSize {
			return fmt.Errorf("invalid -put-based-on: expected %d hex-encoded bytes", model.HashSize)
		}
		copy(basedOn[:], decoded)
	}

	content := model.NetworkContent{
		VersionKey: model.HashBytes(payload),
		BasedOnKey: basedOn,
		Payload:    payload,
	}

	logger.Info("issuing verified put",
		"locationKey", cfg.PutLocationKey, "contentKey", cfg.PutContentKey,
		"versionKey", content.VersionKey.String())

	result := newPutResult()
	putverify.VerifyPut(ctx, manager, constants, m, []byte(cfg.PutLocationKey), []byte(cfg.PutContentKey), content, result)

	select {
	case ok := <-result.done:
		if !ok {
			return fmt.Errorf("put verification failed for versionKey %s", content.VersionKey.String())
		}
		logger.Info("put verified", "versionKey", content.VersionKey.String())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readPutFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
