package crate

import (
	"context"
	"io"

	"github.com/meigma/crate/internal/collect"
	"github.com/meigma/crate/internal/directory"
)

// Modification renames or deletes one existing entry.
type Modification struct {
	delete bool
	name   string
}

// Rename moves an entry to a new slash separated path.
func Rename(name string) Modification {
	return Modification{name: name}
}

// Delete removes an entry.
func Delete() Modification {
	return Modification{delete: true}
}

// IsDelete reports whether the modification deletes the entry.
func (m Modification) IsDelete() bool { return m.delete }

// Name returns the target path of a rename.
func (m Modification) Name() string { return m.name }

// Modifications maps entry indices of the existing archive to the change
// applied to them.
type Modifications map[int]Modification

func (m Modifications) changes() map[int]directory.Change {
	out := make(map[int]directory.Change, len(m))
	for i, mod := range m {
		out[i] = directory.Change{Delete: mod.delete, Rename: mod.name}
	}
	return out
}

// ModifyArchive renames and deletes entries of the archive at dest, then
// appends the given paths as new entries. Indices refer to the archive as
// it is on disk when the call starts.
//
// Every index is checked before anything is written: an unknown index or
// an illegal rename fails with ErrInvalidModification and leaves dest
// untouched. Unchanged entries are copied without being decoded.
func (c *Compressor) ModifyArchive(ctx context.Context, dest string, mods Modifications, paths ...string) error {
	j := &job{
		op:      "modify",
		mode:    ModeModify,
		dest:    dest,
		changes: mods.changes(),
	}
	if len(paths) > 0 {
		j.collect = func(o collect.Options) ([]collect.Source, error) {
			return collect.Files(paths, o)
		}
	}
	return c.run(ctx, j)
}

// ModifyArchiveStream applies mods to the archive held in rw and rewrites
// rw in place. The stream is truncated when it implements
// Truncate(int64) error; otherwise the result must not be shorter than the
// original.
func (c *Compressor) ModifyArchiveStream(ctx context.Context, rw io.ReadWriteSeeker, mods Modifications) error {
	return c.run(ctx, &job{
		op:      "modify",
		mode:    ModeModify,
		w:       rw,
		changes: mods.changes(),
	})
}
