// Package paths resolves the file locations named in configuration.
//
// Configured paths may be absolute, relative, start with ~, or carry a
// named prefix such as "data:" that is anchored to a configured root
// directory ("data:sage.db" becomes "<data_dir>/sage.db").
package paths

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolver maps named prefixes to directories. A nil *Resolver only
// performs home directory expansion.
type Resolver struct {
	prefixes map[string]string // "data:" -> "/var/lib/sage"
	sorted   []string          // longest first
}

// New creates a Resolver from a prefix-to-directory map. Keys are
// prefix names without the trailing colon. Entries with an empty
// directory are ignored. Returns nil if nothing remains.
func New(prefixes map[string]string) *Resolver {
	m := make(map[string]string, len(prefixes))
	sorted := make([]string, 0, len(prefixes))
	for name, dir := range prefixes {
		if dir == "" {
			continue
		}
		key := strings.TrimSuffix(name, ":") + ":"
		m[key] = ExpandHome(dir)
		sorted = append(sorted, key)
	}
	if len(m) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		return len(sorted[i]) > len(sorted[j])
	})
	return &Resolver{prefixes: m, sorted: sorted}
}

// Resolve expands a prefixed or ~-relative path. Paths that match no
// prefix are returned with only home expansion applied; an empty path
// stays empty.
func (r *Resolver) Resolve(path string) string {
	if path == "" {
		return ""
	}
	if r != nil {
		for _, prefix := range r.sorted {
			if rel, ok := strings.CutPrefix(path, prefix); ok {
				base := r.prefixes[prefix]
				if rel == "" {
					return base
				}
				return filepath.Join(base, rel)
			}
		}
	}
	return ExpandHome(path)
}

// Prefixes returns the registered prefix names sorted alphabetically,
// without trailing colons.
func (r *Resolver) Prefixes() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.prefixes))
	for prefix := range r.prefixes {
		names = append(names, strings.TrimSuffix(prefix, ":"))
	}
	sort.Strings(names)
	return names
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
