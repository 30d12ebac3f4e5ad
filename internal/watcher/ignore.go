// Package watcher implements the Watcher (C2): a scan-diff pass for
// startup/one-shot runs and a live fsnotify-backed watcher for the
// steady-state control loop, both emitting core.FileChange batches.
package watcher

import (
	"path/filepath"
	"strings"
)

// ignorePattern is one compiled exclude_patterns entry. A pattern containing
// '/' is anchored to the full path relative to the sync root; one without
// a '/' only ever looks at the final path segment, so "*.tmp" excludes
// every *.tmp file no matter how deep it sits.
type ignorePattern struct {
	glob      string
	matchPath bool
}

// matches reports whether p excludes a path given both its slash-normalized
// form relative to the sync root and its final segment. A malformed glob
// (filepath.Match's ErrBadPattern) is treated as a non-match rather than
// propagated — one unparsable exclude_patterns entry shouldn't stop the
// watcher from classifying everything else.
func (p ignorePattern) matches(relPath, base string) bool {
	target := base
	if p.matchPath {
		target = relPath
	}
	ok, err := filepath.Match(p.glob, target)
	return err == nil && ok
}

// IgnoreMatcher tests paths under a sync root against its exclude_patterns.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher compiles rawPatterns (a sync root's exclude_patterns
// list) into an IgnoreMatcher. Blank entries and '#'-prefixed comments are
// dropped rather than compiled.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		m.patterns = append(m.patterns, ignorePattern{glob: raw, matchPath: strings.Contains(raw, "/")})
	}
	return m
}

// Match reports whether relativePath — relative to the sync root, using
// platform filepath separators — falls under any compiled exclude pattern
// and should therefore be skipped by the scanner and live watcher alike.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if len(m.patterns) == 0 {
		return false
	}

	relPath := filepath.ToSlash(relativePath)
	base := filepath.Base(relativePath)
	for _, p := range m.patterns {
		if p.matches(relPath, base) {
			return true
		}
	}
	return false
}
