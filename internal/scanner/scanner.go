// Package scanner walks a directory of compiled artifacts and derives the
// selectors of every named ABI entry, one file at a time.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gateway-fm/abisig/internal/abisig"
	"github.com/gateway-fm/abisig/internal/artifact"
	"github.com/gateway-fm/abisig/internal/dispatch"
	"github.com/gateway-fm/abisig/pkg/types"
)

// DefaultPattern matches Foundry's out/<Source>.sol/<Contract>.json layout.
const DefaultPattern = "out/*/*.json"

// Observer is notified as a scan progresses. Calls happen on the scanning
// goroutine, in file order.
type Observer interface {
	OnFile(report *types.FileReport)
	OnDone(summary types.ScanSummary)
}

// Config for creating a Scanner.
type Config struct {
	Root    string
	Pattern string
	// Recursive walks Root and matches Pattern against each file's base
	// name instead of treating Pattern as a path glob.
	Recursive bool
	// Kinds limits which named entries are emitted. Empty means
	// types.DefaultKinds.
	Kinds []types.EntryKind
	// CheckBytecode compares function selectors with the artifact's
	// deployed bytecode.
	CheckBytecode bool
	// Code, when set, replaces each artifact's deployed bytecode in the
	// dispatch check. Used for code fetched from a node.
	Code   *CodeSource
	Logger *slog.Logger
}

// CodeSource is bytecode obtained outside the artifact.
type CodeSource struct {
	Name string // reported as DispatchReport.Source, e.g. "chain:0x..."
	Code []byte
}

// Scanner derives selectors for a set of artifact files.
type Scanner struct {
	root          string
	pattern       string
	recursive     bool
	kinds         map[types.EntryKind]bool
	checkBytecode bool
	code          *CodeSource
	observers     []Observer
	logger        *slog.Logger
}

// New creates a new Scanner.
func New(cfg Config) *Scanner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root := cfg.Root
	if root == "" {
		root = "."
	}
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = types.DefaultKinds
	}
	kindSet := make(map[types.EntryKind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	return &Scanner{
		root:          root,
		pattern:       pattern,
		recursive:     cfg.Recursive,
		kinds:         kindSet,
		checkBytecode: cfg.CheckBytecode,
		code:          cfg.Code,
		logger:        logger,
	}
}

// AddObserver registers o for subsequent scans.
func (s *Scanner) AddObserver(o Observer) {
	if o != nil {
		s.observers = append(s.observers, o)
	}
}

// Files returns the artifact paths the scan would visit, in lexical order.
func (s *Scanner) Files() ([]string, error) {
	if _, err := filepath.Match(s.pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", s.pattern, err)
	}

	var files []string
	if s.recursive {
		err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if ok, _ := filepath.Match(s.pattern, d.Name()); ok {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", s.root, err)
		}
	} else {
		matches, err := filepath.Glob(filepath.Join(s.root, s.pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", s.pattern, err)
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.IsDir() {
				continue
			}
			files = append(files, m)
		}
	}

	sort.Strings(files)
	return files, nil
}

// Scan processes every matching file sequentially. A file that cannot be
// read or decoded is recorded in its report and the scan moves on; only an
// invalid pattern or a cancelled context stops the batch.
func (s *Scanner) Scan(ctx context.Context) (*types.ScanResult, error) {
	started := time.Now()

	files, err := s.Files()
	if err != nil {
		return nil, err
	}

	result := &types.ScanResult{
		Summary: types.ScanSummary{
			Root:      s.root,
			Pattern:   s.pattern,
			StartedAt: started,
		},
		Files: make([]types.FileReport, 0, len(files)),
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		report := s.ScanFile(path)
		result.Files = append(result.Files, report)

		sum := &result.Summary
		sum.Files++
		sum.Entries += len(report.Entries)
		sum.EntryErrors += len(report.Errors)
		sum.Skipped += report.Skipped
		if report.Err != "" {
			sum.FilesFailed++
		}

		for _, o := range s.observers {
			o.OnFile(&result.Files[len(result.Files)-1])
		}
	}

	result.Summary.Duration = time.Since(started)
	s.logger.Info("Scan completed",
		slog.String("root", s.root),
		slog.String("pattern", s.pattern),
		slog.Int("files", result.Summary.Files),
		slog.Int("files_failed", result.Summary.FilesFailed),
		slog.Int("entries", result.Summary.Entries),
		slog.Int("entry_errors", result.Summary.EntryErrors),
		slog.Duration("duration", result.Summary.Duration),
	)

	for _, o := range s.observers {
		o.OnDone(result.Summary)
	}
	return result, nil
}

// ScanFile derives the selectors of a single artifact.
func (s *Scanner) ScanFile(path string) types.FileReport {
	report := types.FileReport{Path: path}

	art, err := artifact.ReadFile(path)
	if err != nil {
		report.Err = err.Error()
		s.logger.Warn("Failed to process artifact",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return report
	}

	report.HasABI = art.HasABI
	if !art.HasABI {
		s.logger.Debug("Artifact has no abi, skipping", slog.String("path", path))
		return report
	}

	report.Entries, report.Errors, report.Skipped = s.DeriveEntries(art.ABI)
	for _, e := range report.Errors {
		s.logger.Warn("Failed to derive selector",
			slog.String("path", path),
			slog.String("entry", e.Name),
			slog.Int("index", e.Index),
			slog.String("error", e.Error),
		)
	}

	switch {
	case s.code != nil:
		report.Dispatch = dispatch.Check(s.code.Name, s.code.Code, report.Entries)
	case s.checkBytecode:
		report.Dispatch = dispatch.Check("artifact", art.DeployedBytecode, report.Entries)
	}
	return report
}

// DeriveEntries derives every named entry of the configured kinds, in ABI
// order. Unnamed entries are counted as skipped and produce no output.
func (s *Scanner) DeriveEntries(entries []abisig.Entry) ([]types.Derived, []types.EntryError, int) {
	var (
		derived []types.Derived
		errs    []types.EntryError
		skipped int
	)
	for i, e := range entries {
		if e.Name == "" {
			skipped++
			continue
		}
		if !s.kinds[e.Kind()] {
			continue
		}
		d, err := abisig.Derive(e)
		if err != nil {
			errs = append(errs, types.EntryError{Index: i, Name: e.Name, Error: err.Error()})
			continue
		}
		derived = append(derived, d)
	}
	return derived, errs, skipped
}
