// Package fspath resolves include paths written for case-insensitive
// filesystems against a case-sensitive one. SSL scripts were authored on
// Windows, so `#include "..\HEADERS\Define.h"` must find `headers/define.h`.
package fspath

import (
	"os"
	"path/filepath"
	"strings"
)

// Resolve joins rawInclude with baseDir and returns the on-disk path.
// Back-slash separators are tolerated. When the joined path does not exist
// exactly, each component is matched case-insensitively against directory
// entries and the path is rebuilt with the real on-disk casing.
// Returns false if any component cannot be resolved.
func Resolve(baseDir, rawInclude string) (string, bool) {
	if rawInclude == "" {
		return "", false
	}

	normalized := strings.ReplaceAll(rawInclude, "\\", "/")
	joined := filepath.Join(baseDir, filepath.FromSlash(normalized))

	// Fast path: the overwhelmingly common case is an exact match.
	if _, err := os.Stat(joined); err == nil {
		return joined, true
	}

	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", false
	}

	return resolveCaseInsensitive(abs)
}

// resolveCaseInsensitive walks an absolute path component by component,
// accepting the first case-insensitive directory entry for any component
// that does not match exactly.
func resolveCaseInsensitive(abs string) (string, bool) {
	root := rootOf(abs)
	rest := abs[len(root):]

	current := root
	for _, component := range strings.Split(rest, string(filepath.Separator)) {
		if component == "" {
			continue
		}

		candidate := filepath.Join(current, component)
		if _, err := os.Stat(candidate); err == nil {
			current = candidate
			continue
		}

		entries, err := os.ReadDir(current)
		if err != nil {
			return "", false
		}

		matched := ""
		for _, entry := range entries {
			if strings.EqualFold(entry.Name(), component) {
				matched = entry.Name()
				break
			}
		}
		if matched == "" {
			return "", false
		}
		current = filepath.Join(current, matched)
	}

	if _, err := os.Stat(current); err != nil {
		return "", false
	}
	return current, true
}

// rootOf returns the path prefix that needs no case resolution: "/" on
// Unix, the volume name plus separator on Windows.
func rootOf(abs string) string {
	vol := filepath.VolumeName(abs)
	if len(abs) > len(vol) && abs[len(vol)] == filepath.Separator {
		return abs[:len(vol)+1]
	}
	return vol
}
