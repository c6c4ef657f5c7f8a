package storage

import (
	"context"

	"github.com/gateway-fm/abisig/pkg/types"
)

// Storage defines the persistence interface for derived signatures.
type Storage interface {
	// Writes (called once per scanned file)
	SaveSignatures(ctx context.Context, source string, entries []types.Derived) error

	// Lookups
	LookupSelector(ctx context.Context, selector string) ([]SignatureRecord, error)
	SearchSignatures(ctx context.Context, query string, limit, offset int) (*PaginatedSignatures, error)
	Collisions(ctx context.Context) ([]Collision, error)
	Stats(ctx context.Context) (*StoreStats, error)

	// Lifecycle
	Close() error
}

// SourceStorage records which artifact files fed the directory.
type SourceStorage interface {
	SaveSource(ctx context.Context, src SourceRecord) error
	ListSources(ctx context.Context, limit, offset int) (*PaginatedSources, error)
}
