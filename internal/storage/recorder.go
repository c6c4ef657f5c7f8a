package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/gateway-fm/abisig/pkg/types"
)

// Recorder persists scan reports as they arrive. It satisfies the scanner's
// observer interface. Write failures are logged and the first one is kept
// for Err; the scan itself is never interrupted.
type Recorder struct {
	ctx     context.Context
	store   Storage
	sources SourceStorage // may be nil
	logger  *slog.Logger
	err     error
}

// NewRecorder creates a Recorder writing to store and, when non-nil, sources.
func NewRecorder(ctx context.Context, store Storage, sources SourceStorage, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{ctx: ctx, store: store, sources: sources, logger: logger}
}

// OnFile stores the derived entries of one file.
func (r *Recorder) OnFile(report *types.FileReport) {
	if err := r.store.SaveSignatures(r.ctx, report.Path, report.Entries); err != nil {
		r.fail(report.Path, err)
		return
	}
	if r.sources == nil {
		return
	}
	src := SourceRecord{
		Path:      report.Path,
		ScannedAt: time.Now().UTC(),
		Entries:   len(report.Entries),
		Errors:    len(report.Errors),
		Error:     report.Err,
	}
	if err := r.sources.SaveSource(r.ctx, src); err != nil {
		r.fail(report.Path, err)
	}
}

// OnDone is a no-op; every file is committed in OnFile.
func (r *Recorder) OnDone(types.ScanSummary) {}

// Err returns the first write error.
func (r *Recorder) Err() error {
	return r.err
}

func (r *Recorder) fail(path string, err error) {
	r.logger.Error("Failed to store signatures",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
	if r.err == nil {
		r.err = err
	}
}
