package layout

import (
	"sort"
	"sync"
)

// Registry holds registered artifact layouts.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Layout
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Layout),
	}
}

// Register adds or replaces a layout.
func (r *Registry) Register(l *Layout) {
	if l == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[l.Name] = l
}

// Get retrieves a layout by name. Returns nil if not found.
func (r *Registry) Get(name string) *Layout {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// Names returns all registered layout names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry pre-populated with the built-in layouts.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Foundry())
	r.Register(Hardhat())
	r.Register(Truffle())
	// Alias: forge writes the Foundry layout
	forge := Foundry()
	forge.Name = "forge"
	r.Register(forge)
	return r
}

// Foundry is out/<Source>.sol/<Contract>.json.
func Foundry() *Layout {
	return &Layout{Name: "foundry", Pattern: "out/*/*.json"}
}

// Hardhat is artifacts/contracts/<path>/<Source>.sol/<Contract>.json, nested
// to the depth of the source tree. Debug files (*.dbg.json) carry no abi and
// are reported as such.
func Hardhat() *Layout {
	return &Layout{Name: "hardhat", Dir: "artifacts/contracts", Pattern: "*.json", Recursive: true}
}

// Truffle is build/contracts/<Contract>.json.
func Truffle() *Layout {
	return &Layout{Name: "truffle", Pattern: "build/contracts/*.json"}
}
