package core

import (
	"path/filepath"
	"strings"
)

// ScopeInput carries the roots contributed by a loop, its domain, and an
// optional redeemed override token.
type ScopeInput struct {
	LoopRoot      string
	DomainRoots   []string
	OverrideRoots []string
}

// ResolveScopeRoots computes the filesystem roots a turn may touch. Pure:
// no state, no I/O. The loop root comes first; duplicates and empty
// entries are dropped.
func ResolveScopeRoots(in ScopeInput) []string {
	seen := make(map[string]bool)
	var roots []string
	add := func(root string) {
		root = strings.TrimSpace(root)
		if root == "" {
			return
		}
		root = filepath.Clean(root)
		if seen[root] {
			return
		}
		seen[root] = true
		roots = append(roots, root)
	}
	add(in.LoopRoot)
	for _, root := range in.DomainRoots {
		add(root)
	}
	for _, root := range in.OverrideRoots {
		add(root)
	}
	return roots
}

// PathWithinRoots reports whether path falls under one of the roots.
func PathWithinRoots(path string, roots []string) bool {
	path = filepath.Clean(path)
	for _, root := range roots {
		root = filepath.Clean(root)
		if path == root {
			return true
		}
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
