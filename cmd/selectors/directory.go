package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gateway-fm/abisig/internal/config"
	"github.com/gateway-fm/abisig/internal/metrics"
	"github.com/gateway-fm/abisig/internal/rpc"
	"github.com/gateway-fm/abisig/internal/scanner"
	"github.com/gateway-fm/abisig/internal/storage"
	"github.com/gateway-fm/abisig/internal/transport"
	"github.com/gateway-fm/abisig/pkg/types"
)

// healthCheckTimeout bounds each readiness probe.
const healthCheckTimeout = 2 * time.Second

// errNoStore is returned by lookups when no database is configured.
var errNoStore = errors.New("no signature database configured")

// Store is the persistence the directory needs: signatures plus the list of
// scanned artifact files.
type Store interface {
	storage.Storage
	storage.SourceStorage
}

// Directory runs scans and answers lookups against the signature store.
// It implements transport.DirectoryAPI and transport.HealthChecker.
type Directory struct {
	cfg       *config.Config
	store     Store      // nil when no database is configured
	rpcClient rpc.Client // nil when no RPC endpoint is configured
	metrics   *metrics.PrometheusMetrics
	logger    *slog.Logger

	observers []scanner.Observer

	// scanMu is held for the whole scan; TryLock rejects overlapping scans.
	scanMu sync.Mutex

	statusMu  sync.RWMutex
	status    types.ScanStatus
	lastScan  *types.ScanSummary
	lastError string
}

// NewDirectory creates a Directory. store and rpcClient may be nil.
func NewDirectory(cfg *config.Config, store Store, rpcClient rpc.Client, m *metrics.PrometheusMetrics, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{
		cfg:       cfg,
		store:     store,
		rpcClient: rpcClient,
		metrics:   m,
		logger:    logger,
		status:    types.ScanIdle,
	}
	if m != nil {
		m.SetScanStatus(types.ScanIdle)
	}
	return d
}

// AddObserver registers o for every subsequent scan. Must be called before
// the first scan.
func (d *Directory) AddObserver(o scanner.Observer) {
	d.observers = append(d.observers, o)
}

// Scan runs a full scan with the registered observers.
func (d *Directory) Scan(ctx context.Context) (*types.ScanSummary, error) {
	return d.scan(ctx)
}

// scan runs one scan; extra observers apply to this scan only.
func (d *Directory) scan(ctx context.Context, extra ...scanner.Observer) (*types.ScanSummary, error) {
	if !d.scanMu.TryLock() {
		return nil, transport.ErrScanInProgress
	}
	defer d.scanMu.Unlock()

	d.setStatus(types.ScanRunning, nil, "")

	summary, err := d.runScan(ctx, extra)
	if err != nil {
		d.logger.Error("Scan failed", slog.String("error", err.Error()))
		d.setStatus(types.ScanError, summary, err.Error())
		return summary, err
	}

	d.setStatus(types.ScanCompleted, summary, "")
	return summary, nil
}

func (d *Directory) runScan(ctx context.Context, extra []scanner.Observer) (*types.ScanSummary, error) {
	code, err := d.fetchCode(ctx)
	if err != nil {
		return nil, err
	}

	root, pattern, recursive := d.cfg.ScanTarget()
	s := scanner.New(scanner.Config{
		Root:          root,
		Pattern:       pattern,
		Recursive:     recursive,
		Kinds:         d.cfg.Kinds,
		CheckBytecode: d.cfg.CheckBytecode,
		Code:          code,
		Logger:        d.logger,
	})
	for _, o := range extra {
		s.AddObserver(o)
	}
	if d.metrics != nil {
		s.AddObserver(d.metrics)
	}

	var rec *storage.Recorder
	if d.store != nil {
		rec = storage.NewRecorder(ctx, d.store, d.store, d.logger)
		s.AddObserver(rec)
	}
	for _, o := range d.observers {
		s.AddObserver(o)
	}

	result, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	summary := result.Summary

	if rec != nil && rec.Err() != nil {
		if d.metrics != nil {
			d.metrics.RecordError(metrics.CategoryStore)
		}
		return &summary, fmt.Errorf("failed to record scan: %w", rec.Err())
	}
	return &summary, nil
}

// fetchCode loads the runtime code of the configured contract. It returns
// nil when no address is configured.
func (d *Directory) fetchCode(ctx context.Context) (*scanner.CodeSource, error) {
	if d.cfg.Address == "" {
		return nil, nil
	}
	if d.rpcClient == nil {
		return nil, errors.New("address configured without an RPC client")
	}

	code, err := d.rpcClient.GetCode(ctx, d.cfg.Address)
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordError(metrics.CategoryRPC)
		}
		return nil, fmt.Errorf("failed to fetch code for %s: %w", d.cfg.Address, err)
	}
	d.logger.Info("Fetched contract code",
		slog.String("address", d.cfg.Address),
		slog.Int("bytes", len(code)),
	)
	return &scanner.CodeSource{Name: "chain:" + d.cfg.Address, Code: code}, nil
}

func (d *Directory) setStatus(status types.ScanStatus, summary *types.ScanSummary, lastError string) {
	d.statusMu.Lock()
	d.status = status
	if summary != nil {
		d.lastScan = summary
	}
	if status != types.ScanRunning {
		d.lastError = lastError
	}
	d.statusMu.Unlock()

	if d.metrics != nil {
		d.metrics.SetScanStatus(status)
	}
}

// Status reports the scan state together with directory statistics.
func (d *Directory) Status(ctx context.Context) (*types.ServerStatus, error) {
	d.statusMu.RLock()
	st := &types.ServerStatus{
		Status:    d.status,
		LastScan:  d.lastScan,
		LastError: d.lastError,
	}
	d.statusMu.RUnlock()

	if d.store == nil {
		return st, nil
	}
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st.Signatures = stats.Signatures
	st.Selectors = stats.Selectors
	st.Collisions = stats.Collisions
	return st, nil
}

// LookupSelector returns every stored signature with the given selector.
func (d *Directory) LookupSelector(ctx context.Context, selector string) ([]storage.SignatureRecord, error) {
	if d.store == nil {
		return nil, errNoStore
	}
	return d.store.LookupSelector(ctx, selector)
}

// SearchSignatures returns stored signatures containing query.
func (d *Directory) SearchSignatures(ctx context.Context, query string, limit, offset int) (*storage.PaginatedSignatures, error) {
	if d.store == nil {
		return nil, errNoStore
	}
	return d.store.SearchSignatures(ctx, query, limit, offset)
}

// Collisions returns selectors shared by distinct signatures.
func (d *Directory) Collisions(ctx context.Context) ([]storage.Collision, error) {
	if d.store == nil {
		return nil, errNoStore
	}
	return d.store.Collisions(ctx)
}

// ListSources returns the scanned artifact files.
func (d *Directory) ListSources(ctx context.Context, limit, offset int) (*storage.PaginatedSources, error) {
	if d.store == nil {
		return nil, errNoStore
	}
	return d.store.ListSources(ctx, limit, offset)
}

// CheckStore checks database connectivity.
func (d *Directory) CheckStore() error {
	if d.store == nil {
		return errNoStore
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	_, err := d.store.Stats(ctx)
	return err
}

// CheckRPC checks RPC connectivity. It reports false when no endpoint is
// configured.
func (d *Directory) CheckRPC() (bool, error) {
	if d.rpcClient == nil {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	_, err := d.rpcClient.ChainID(ctx)
	return true, err
}
