// Package layout describes where common build toolchains write their
// compiled artifacts, so a project can be scanned by naming its toolchain
// instead of spelling out a glob.
package layout

import "path/filepath"

// Layout locates artifact files under a project root.
type Layout struct {
	// Name is the identifier used on the command line (e.g. "foundry").
	Name string

	// Dir is joined to the project root before matching.
	Dir string

	// Pattern is the glob matched under Dir. With Recursive set it is
	// matched against file base names at any depth instead.
	Pattern string

	Recursive bool
}

// String returns the layout name.
func (l *Layout) String() string {
	if l == nil {
		return "custom"
	}
	return l.Name
}

// Target resolves the scan root, pattern and recursion for a project root.
func (l *Layout) Target(projectRoot string) (root, pattern string, recursive bool) {
	root = projectRoot
	if l.Dir != "" {
		root = filepath.Join(projectRoot, filepath.FromSlash(l.Dir))
	}
	return root, l.Pattern, l.Recursive
}
