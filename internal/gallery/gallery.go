// Package gallery reconciles the ordered list of image references shown on the dashboards.
package gallery

import (
	"os"
	"path"
	"strings"
)

// DefaultExtensions lists the image extensions recognised when restoring from disk.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// LegacyHostPrefix marks host-qualified references written by older deployments.
const LegacyHostPrefix = "http://localhost"

// Merge appends every incoming reference not already present, keeping the order of
// existing followed by incoming. Neither argument is modified.
func Merge(existing, incoming []string) []string {
	out := make([]string, 0, len(existing)+len(incoming))
	out = append(out, existing...)

	seen := make(map[string]struct{}, len(out))
	for _, ref := range out {
		seen[ref] = struct{}{}
	}
	for _, ref := range incoming {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// Remove drops every entry containing filename as a substring.
// An empty filename removes nothing.
func Remove(existing []string, filename string) []string {
	out := make([]string, 0, len(existing))
	for _, ref := range existing {
		if filename != "" && strings.Contains(ref, filename) {
			continue
		}
		out = append(out, ref)
	}
	return out
}

// RestoreFromDirectory merges directory entries with a recognised image extension into the
// gallery as base+entry, after stripping references that start with legacyPrefix.
// It returns the new gallery and how many references were added. Running it again on its
// own output adds nothing.
func RestoreFromDirectory(existing, entries, exts []string, base, legacyPrefix string) ([]string, int) {
	kept := make([]string, 0, len(existing))
	for _, ref := range existing {
		if legacyPrefix != "" && strings.HasPrefix(ref, legacyPrefix) {
			continue
		}
		kept = append(kept, ref)
	}

	refs := make([]string, 0, len(entries))
	for _, name := range entries {
		if IsImage(name, exts) {
			refs = append(refs, base+name)
		}
	}

	merged := Merge(kept, refs)
	return merged, len(merged) - len(kept)
}

// IsImage reports whether name is a visible file with one of the given extensions,
// compared case-insensitively.
func IsImage(name string, exts []string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return false
	}
	for _, allowed := range exts {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// ListDirectory returns the names of regular files in dir, in directory order.
func ListDirectory(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
