//go:build !unix

package platform

import (
	"io/fs"
	"os"

	"github.com/meigma/crate/internal/cratetype"
)

// OpenNoFollow opens path for reading without following a final symlink.
// Returns an error matching cratetype.ErrSymlink if path is a symbolic link.
func OpenNoFollow(path string) (*os.File, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, &os.PathError{Op: "open", Path: path, Err: cratetype.ErrSymlink}
	}
	return os.Open(path)
}

// CreateNoFollow creates name inside root for writing. The name must not
// already exist.
func CreateNoFollow(root *os.Root, name string, perm os.FileMode) (*os.File, error) {
	if info, err := root.Lstat(name); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		return nil, &os.PathError{Op: "create", Path: name, Err: cratetype.ErrSymlink}
	}
	return root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
}
