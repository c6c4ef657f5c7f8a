package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gateway-fm/abisig/internal/config"
	"github.com/gateway-fm/abisig/internal/metrics"
	"github.com/gateway-fm/abisig/internal/output"
	"github.com/gateway-fm/abisig/internal/rpc"
	"github.com/gateway-fm/abisig/internal/storage"
	"github.com/gateway-fm/abisig/internal/transport"
	"github.com/gateway-fm/abisig/pkg/types"
)

// Exit codes
const (
	exitOK     = 0
	exitFatal  = 1
	exitFailed = 2 // strict mode and at least one file or entry failed
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[0], os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one invocation and returns the process exit code. Results go
// to stdout; logs go to stderr.
func run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(filepath.Base(name), args)
	if err != nil {
		if errors.Is(err, config.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFatal
	}

	// Validated by config.Load
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPrometheusMetrics(reg)

	// Initialize storage
	var store Store
	if cfg.DatabasePath != "" {
		s, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			logger.Error("failed to initialize storage", "error", err, "path", cfg.DatabasePath)
			return exitFatal
		}
		defer s.Close()
		logger.Info("initialized storage", "path", cfg.DatabasePath)
		store = s
	}

	var rpcClient rpc.Client
	if cfg.RPCURL != "" {
		rc := rpc.DefaultClientConfig(cfg.RPCURL)
		rc.Timeout = cfg.RPCTimeout
		rc.RateLimit = cfg.RPCRateLimit
		rc.Logger = logger
		rc.Metrics = m
		rpcClient = rpc.NewHTTPClient(rc)
	}

	dir := NewDirectory(cfg, store, rpcClient, m, logger)

	w := output.NewWriter(stdout, cfg.Format)
	summary, err := dir.scan(ctx, w)
	if err != nil {
		logger.Error("scan failed", "error", err)
		return exitFatal
	}
	if err := w.Err(); err != nil {
		logger.Error("failed to write results", "error", err)
		return exitFatal
	}

	if cfg.ListenAddr != "" {
		if err := serve(ctx, cfg, dir, reg, logger); err != nil {
			logger.Error("HTTP server failed", "error", err)
			return exitFatal
		}
		return exitOK
	}

	return exitCode(cfg, summary)
}

// exitCode maps a finished scan to the process exit code.
func exitCode(cfg *config.Config, summary *types.ScanSummary) int {
	if cfg.Strict && (summary.FilesFailed > 0 || summary.EntryErrors > 0) {
		return exitFailed
	}
	return exitOK
}

// serve runs the HTTP API until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, dir *Directory, reg *prometheus.Registry, logger *slog.Logger) error {
	server := transport.NewServer(dir, dir, reg, logger, cfg.CORSAllowedOrigins)
	defer server.Close()
	dir.AddObserver(server.Events())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
