package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gateway-fm/abisig/pkg/types"
)

func TestRecorder(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	rec := NewRecorder(ctx, storage, storage, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec.OnFile(&types.FileReport{Path: "out/Token.sol/Token.json", HasABI: true, Entries: tokenEntries()})
	rec.OnFile(&types.FileReport{Path: "out/Bad.sol/Bad.json", Err: "invalid JSON"})
	rec.OnDone(types.ScanSummary{})

	if err := rec.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}

	stats, err := storage.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Signatures != 3 || stats.Sources != 2 {
		t.Errorf("expected 3 signatures from 2 sources, got %+v", stats)
	}

	sources, err := storage.ListSources(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListSources failed: %v", err)
	}
	if sources.Sources[0].Error != "invalid JSON" {
		t.Errorf("expected failed file to be recorded, got %+v", sources.Sources[0])
	}
}

type failingStore struct {
	Storage
}

func (failingStore) SaveSignatures(context.Context, string, []types.Derived) error {
	return errors.New("disk full")
}

func TestRecorder_KeepsFirstError(t *testing.T) {
	rec := NewRecorder(context.Background(), failingStore{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec.OnFile(&types.FileReport{Path: "a.json"})
	rec.OnFile(&types.FileReport{Path: "b.json"})

	if err := rec.Err(); err == nil || err.Error() != "disk full" {
		t.Errorf("Err() = %v, want disk full", err)
	}
}
