//go:build unix

package platform

import (
	"errors"
	"os"
	"syscall"

	"github.com/meigma/crate/internal/cratetype"
)

// OpenNoFollow opens path for reading without following a final symlink.
// Returns an error matching cratetype.ErrSymlink if path is a symbolic link.
func OpenNoFollow(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if errors.Is(err, syscall.ELOOP) {
			return nil, &os.PathError{Op: "open", Path: path, Err: cratetype.ErrSymlink}
		}
		return nil, err
	}
	return f, nil
}

// CreateNoFollow creates (or truncates) name inside root for writing
// without following a final symlink.
func CreateNoFollow(root *os.Root, name string, perm os.FileMode) (*os.File, error) {
	f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL|syscall.O_NOFOLLOW, perm)
	if err != nil {
		if errors.Is(err, syscall.ELOOP) {
			return nil, &os.PathError{Op: "create", Path: name, Err: cratetype.ErrSymlink}
		}
		return nil, err
	}
	return f, nil
}
