// Package storage provides a persistent signature directory.
package storage

import (
	"time"

	"github.com/gateway-fm/abisig/pkg/types"
)

// SignatureRecord is one stored (selector, signature, kind) triple.
// JSON tags use camelCase to match the HTTP API.
type SignatureRecord struct {
	Selector  string          `json:"selector"`
	Signature string          `json:"signature"`
	Name      string          `json:"name"`
	Kind      types.EntryKind `json:"kind"`
	Topic     string          `json:"topic,omitempty"`
	Source    string          `json:"source,omitempty"` // first artifact the signature was seen in
	FirstSeen time.Time       `json:"firstSeen"`
}

// Collision is a selector shared by more than one distinct signature.
type Collision struct {
	Selector   string   `json:"selector"`
	Signatures []string `json:"signatures"`
}

// StoreStats summarises the directory contents.
type StoreStats struct {
	Signatures int `json:"signatures"`
	Selectors  int `json:"selectors"`
	Collisions int `json:"collisions"`
	Sources    int `json:"sources"`
}

// SourceRecord is the latest scan outcome for one artifact file.
type SourceRecord struct {
	Path      string    `json:"path"`
	ScannedAt time.Time `json:"scannedAt"`
	Entries   int       `json:"entries"`
	Errors    int       `json:"errors"`
	Error     string    `json:"error,omitempty"`
}

// PaginatedSignatures represents a paginated list of signatures.
type PaginatedSignatures struct {
	Signatures []SignatureRecord `json:"signatures"`
	Total      int               `json:"total"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

// PaginatedSources represents a paginated list of sources.
type PaginatedSources struct {
	Sources []SourceRecord `json:"sources"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}
