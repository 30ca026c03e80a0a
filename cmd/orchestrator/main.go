// Command orchestrator runs the agent-workflow orchestrator: it loads
// configuration, wires the planner/dispatcher/fallback/state pipeline to a
// result store and an outbound agent key store, and serves the HTTP/
// websocket control surface described in pkg/api.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentflow/orchestrator/pkg/agentapi"
	"github.com/agentflow/orchestrator/pkg/api"
	"github.com/agentflow/orchestrator/pkg/config"
	"github.com/agentflow/orchestrator/pkg/controller"
	"github.com/agentflow/orchestrator/pkg/dispatcher"
	"github.com/agentflow/orchestrator/pkg/events"
	"github.com/agentflow/orchestrator/pkg/fallback"
	"github.com/agentflow/orchestrator/pkg/state"
	"github.com/agentflow/orchestrator/pkg/store"
	"github.com/agentflow/orchestrator/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting agentflow orchestrator", "version", version.Full(), "config_dir", *configDir)

	resultStore, err := store.New(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open result store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := resultStore.Close(context.Background()); err != nil {
			slog.Error("error closing result store", "error", err)
		}
	}()

	keyStore, err := newKeyStore(cfg.KeyStore)
	if err != nil {
		slog.Error("failed to open key store", "error", err)
		os.Exit(1)
	}
	if closer, ok := keyStore.(*agentapi.BoltKeyStore); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				slog.Error("error closing key store", "error", err)
			}
		}()
	}

	bus := events.NewBus()
	connManager := events.NewConnectionManager(bus, 10*time.Second)

	fallbackMgr := fallback.New(cfg.Fallback)

	stateMgr := state.New(cfg.Snapshotting)
	stateMgr.Start()
	defer stateMgr.Stop()

	router := agentapi.NewRouter(keyStore, http.DefaultClient)
	disp := dispatcher.New(router, resultStore, cfg, nil)

	ctrl := controller.New(cfg, disp, fallbackMgr, stateMgr, resultStore, bus)

	server := api.NewServer(cfg, ctrl, resultStore, connManager)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.API.BindAddr)
		if err := server.Start(cfg.API.BindAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("HTTP server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during graceful shutdown", "error", err)
	}
}

// newKeyStore builds a bbolt KeyStore at cfg.Path; cfg.Driver is not
// consulted, bbolt being the only implementation. The key store boundary (see pkg/agentapi)
// is intentionally pluggable for deployments that front a vault or KMS
// instead.
func newKeyStore(cfg config.KeyStoreConfig) (agentapi.KeyStore, error) {
	masterKey := []byte(os.Getenv(cfg.MasterKeyEnv))
	if len(masterKey) != 32 {
		slog.Warn("master key env var is not a 32-byte AES-256 key; generating an ephemeral one for this process",
			"env_var", cfg.MasterKeyEnv)
		masterKey = make([]byte, 32)
		if _, err := rand.Read(masterKey); err != nil {
			return nil, err
		}
	}
	return agentapi.NewBoltKeyStore(cfg.Path, masterKey)
}
