// Command sandbox serves the local CarSphere stand-in the suites run against
// when CARSPHERE_BASE_URL is unset.
//
//	sandbox --test --addr :5000
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/carsphere-qa/internal/config"
	"github.com/kuitang/carsphere-qa/internal/crypto"
	"github.com/kuitang/carsphere-qa/internal/db"
	"github.com/kuitang/carsphere-qa/internal/obs"
	"github.com/kuitang/carsphere-qa/internal/sandbox"
)

const (
	shutdownTimeout        = 10 * time.Second
	sessionCleanupInterval = 15 * time.Minute
)

func main() {
	obs.Init()

	noS3, noAI, addr := config.ParseSandboxFlags()
	cfg := config.MustLoadSandbox(noS3, noAI, addr)
	cfg.PrintStartupSummary()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg)
	stop()
	if err != nil {
		obs.Pkg("main").Error("sandbox_failed", "error", err)
		os.Exit(1)
	}
}

// run serves the sandbox until ctx ends or the listener fails. The store and
// site are closed before it returns.
func run(ctx context.Context, cfg *config.Sandbox) error {
	log := obs.Pkg("main")

	masterKey, err := crypto.ParseMasterKey(cfg.DBMasterKey)
	if err != nil {
		return fmt.Errorf("invalid master key: %w", err)
	}
	store, err := db.Open(cfg.DataDir, crypto.DatabaseKey(masterKey))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	site, err := sandbox.New(ctx, sandbox.Options{Config: cfg, Store: store})
	if err != nil {
		return fmt.Errorf("init sandbox: %w", err)
	}
	defer site.Close()
	go site.CleanupSessions(ctx, sessionCleanupInterval)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           site.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		log.Info("shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
