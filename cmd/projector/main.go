// Command projector runs the streaming projection daemon: it subscribes to
// the relay's firehose, materializes users and posts into the graph
// database, and persists a resumable cursor across restarts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bskyproj/firehose-projector/internal/apiclient"
	"github.com/bskyproj/firehose-projector/internal/cache"
	"github.com/bskyproj/firehose-projector/internal/config"
	"github.com/bskyproj/firehose-projector/internal/cursor"
	"github.com/bskyproj/firehose-projector/internal/failedqueue"
	"github.com/bskyproj/firehose-projector/internal/firehose"
	"github.com/bskyproj/firehose-projector/internal/graphdb"
	"github.com/bskyproj/firehose-projector/internal/handlers"
	"github.com/bskyproj/firehose-projector/internal/httpserver"
	"github.com/bskyproj/firehose-projector/internal/ratelimit"
	"github.com/bskyproj/firehose-projector/internal/resolver"
)

// presenceCacheSize bounds each presence cache's resident entry count; the
// backing store is still the source of truth on a miss.
const presenceCacheSize = 200_000

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logLevel := slog.LevelInfo
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cur, err := cursor.Open(cfg.CursorFile)
	if err != nil {
		return fmt.Errorf("open cursor store: %w", err)
	}

	failed, err := failedqueue.Open(cfg.FailedQueueFile)
	if err != nil {
		return fmt.Errorf("open failed-message queue: %w", err)
	}

	store := graphdb.New(cfg.GraphDBEndpoint, cfg.GraphDBBranch, cfg.GraphDBToken)

	limiter := ratelimit.New(ctx, logger)
	api := apiclient.New(cfg.BskyAPIHost, limiter)

	userCache := cache.NewPresence(presenceCacheSize)
	postCache := cache.NewPresence(presenceCacheSize)

	res := resolver.New(store, api, userCache, postCache, logger)
	h := handlers.New(store, res, logger)
	driver := firehose.New(cfg.RelayHost, h, cur, failed, limiter, logger)
	ops := httpserver.NewServer(cfg.OpsAddr, driver, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	driverErr := make(chan error, 1)
	go func() {
		driverErr <- driver.Run(ctx)
	}()

	go func() {
		if err := ops.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops HTTP server exited with error", "error", err)
		}
	}()

	logger.Debug("projector started", "relay", cfg.RelayHost, "graphdb", cfg.GraphDBEndpoint, "ops_addr", cfg.OpsAddr)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		<-driverErr
	case err := <-driverErr:
		if err != nil && ctx.Err() == nil {
			logger.Error("firehose driver exited with error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down ops HTTP server", "error", err)
	}

	if err := cur.Flush(); err != nil {
		logger.Error("failed to flush cursor on shutdown", "error", err)
	}

	return nil
}
