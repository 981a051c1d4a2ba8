// Package pathutil normalizes and checks slash-separated archive paths.
package pathutil

import (
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/meigma/crate/internal/cratetype"
)

// Clean normalizes a caller supplied archive name.
//
//   - Backslashes become slashes: `a\b` → "a/b"
//   - Leading and trailing slashes are stripped: "/etc/x/" → "etc/x"
//   - "." elements and repeated slashes collapse: "a/./b//c" → "a/b/c"
//
// Empty names and names that climb out of the archive root are rejected
// with cratetype.ErrInvalidInput.
func Clean(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty name", cratetype.ErrInvalidInput)
	}
	n := strings.Trim(path.Clean("/"+strings.ReplaceAll(name, `\`, "/")), "/")
	if n == "" || !fs.ValidPath(n) || escapes(name) {
		return "", fmt.Errorf("%w: invalid name %q", cratetype.ErrInvalidInput, name)
	}
	return n, nil
}

// escapes reports whether name uses ".." to leave the archive root.
func escapes(name string) bool {
	depth := 0
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		switch part {
		case ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

// Safe reports whether an archive path read from an archive can be
// extracted below a destination directory: relative, without ".."
// elements or backslashes, and not a drive-qualified path.
func Safe(name string) bool {
	if name == "" || strings.ContainsRune(name, '\\') || strings.Contains(name, ":") {
		return false
	}
	return fs.ValidPath(name) && name != "."
}
