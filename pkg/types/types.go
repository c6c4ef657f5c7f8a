// Package types contains public API types for the selector deriver.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// EntryKind is the ABI entry type ("function", "event", ...).
type EntryKind string

const (
	KindFunction    EntryKind = "function"
	KindEvent       EntryKind = "event"
	KindError       EntryKind = "error"
	KindConstructor EntryKind = "constructor"
	KindFallback    EntryKind = "fallback"
	KindReceive     EntryKind = "receive"
)

// DefaultKinds are the entry kinds that produce output when no filter is set.
// Every named entry is printed, so this covers all kinds that can carry a name.
var DefaultKinds = []EntryKind{KindFunction, KindEvent, KindError}

// OutputFormat selects how scan results are rendered.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// ScanStatus represents the state of the server-side scanner.
type ScanStatus string

const (
	ScanIdle      ScanStatus = "idle"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanError     ScanStatus = "error"
)

// Derived is one canonical signature together with its selector.
// JSON tags use camelCase to match the HTTP API.
type Derived struct {
	Name      string    `json:"name"`
	Kind      EntryKind `json:"kind"`
	Signature string    `json:"signature"`
	Selector  string    `json:"selector"`        // 0x-prefixed, 4 bytes
	Topic     string    `json:"topic,omitempty"` // events only, full 32-byte hash
}

// EntryError reports an ABI entry that could not be derived.
type EntryError struct {
	Index int    `json:"index"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error"`
}

// DispatchReport is the result of checking derived function selectors
// against bytecode.
type DispatchReport struct {
	Source  string   `json:"source"`            // "artifact" or "chain:<address>"
	NoCode  bool     `json:"noCode,omitempty"`  // bytecode was empty
	Checked int      `json:"checked"`           // function selectors checked
	Missing []string `json:"missing,omitempty"` // signatures with no PUSH4 in code
}

// FileReport is the per-file outcome of a scan.
type FileReport struct {
	Path     string          `json:"path"`
	HasABI   bool            `json:"hasAbi"`
	Entries  []Derived       `json:"entries,omitempty"`
	Skipped  int             `json:"skipped,omitempty"` // unnamed entries
	Errors   []EntryError    `json:"errors,omitempty"`
	Dispatch *DispatchReport `json:"dispatch,omitempty"`
	Err      string          `json:"error,omitempty"` // whole-file failure
}

// Failed reports whether the file or any of its entries failed.
func (r *FileReport) Failed() bool {
	return r.Err != "" || len(r.Errors) > 0
}

// ScanSummary aggregates a scan.
type ScanSummary struct {
	Root        string        `json:"root"`
	Pattern     string        `json:"pattern"`
	Files       int           `json:"files"`
	FilesFailed int           `json:"filesFailed"`
	Entries     int           `json:"entries"`
	EntryErrors int           `json:"entryErrors"`
	Skipped     int           `json:"skipped"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"durationNs"`
}

// ScanResult is the full output of one scan.
type ScanResult struct {
	Summary ScanSummary  `json:"summary"`
	Files   []FileReport `json:"files"`
}

// ServerStatus is returned by GET /v1/status.
type ServerStatus struct {
	Status     ScanStatus   `json:"status"`
	LastScan   *ScanSummary `json:"lastScan,omitempty"`
	LastError  string       `json:"lastError,omitempty"`
	Signatures int          `json:"signatures"`
	Selectors  int          `json:"selectors"`
	Collisions int          `json:"collisions"`
	Uptime     string       `json:"uptime"`
}

// ScanEvent is pushed to WebSocket subscribers while a scan runs.
type ScanEvent struct {
	Type    string       `json:"type"` // "file" or "done"
	File    *FileReport  `json:"file,omitempty"`
	Summary *ScanSummary `json:"summary,omitempty"`
}

// Scan event types.
const (
	EventFile = "file"
	EventDone = "done"
)
