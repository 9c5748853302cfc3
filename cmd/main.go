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

	"golang.org/x/sync/errgroup"

	"github.com/charleschow/cricket-feed/internal/catalog"
	"github.com/charleschow/cricket-feed/internal/config"
	"github.com/charleschow/cricket-feed/internal/events"
	"github.com/charleschow/cricket-feed/internal/host"
	"github.com/charleschow/cricket-feed/internal/journal"
	"github.com/charleschow/cricket-feed/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting cricket commentary server")

	// ── Catalog ─────────────────────────────────────────────────
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		telemetry.Errorf("Failed to load catalog: %v", err)
		os.Exit(1)
	}
	match := cat.Match()
	telemetry.Infof("Loaded %q  match=%s  events=%d", match.Title, match.ID, cat.Len())

	bus := events.NewBus()
	bus.OnError(func(topic events.Topic, err error) {
		telemetry.Debugf("bus: %s handler: %v", topic, err)
	})

	// ── Session journal ─────────────────────────────────────────
	var sessionJournal *journal.Store
	if cfg.JournalPath != "" {
		sessionJournal, err = journal.OpenStore(cfg.JournalPath, cfg.JournalMaxRows, telemetry.Metrics)
		if err != nil {
			telemetry.Warnf("Session journal disabled: %v", err)
		}
	}
	sessionJournal.Attach(bus)

	// ── Socket server ───────────────────────────────────────────
	h := host.New(cat, bus, host.Options{Metrics: telemetry.Metrics})

	addr := fmt.Sprintf(":%d", cfg.Port)
	// No read/write timeouts: websocket connections live for the whole
	// session and manage their own deadlines.
	server := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		telemetry.Infof("Cricket commentary server running on port %d", cfg.Port)
		telemetry.Infof("Socket endpoint: ws://localhost:%d/ws", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// ── Shutdown ────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		telemetry.Infof("Shutting down...")
		h.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if runErr != nil {
		telemetry.Errorf("%v", runErr)
	}

	if err := sessionJournal.Close(); err != nil {
		telemetry.Warnf("Session journal close: %v", err)
	}

	m := telemetry.Metrics
	telemetry.Infof("Shutdown complete  sessions=%d  completed=%d  aborted=%d  events=%d  drops=%d  write_p50=%s  write_p99=%s",
		m.SessionsStarted.Value(),
		m.SessionsCompleted.Value(),
		m.SessionsAborted.Value(),
		m.EventsEmitted.Value(),
		m.SendDrops.Value(),
		m.WriteLatency.P50(),
		m.WriteLatency.P99(),
	)
	if runErr != nil {
		os.Exit(1)
	}
}
