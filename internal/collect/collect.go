package collect

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/meigma/crate/internal/cratetype"
	"github.com/meigma/crate/internal/pathutil"
)

// DefaultStreamName is the archive name of a single unnamed stream.
const DefaultStreamName = "stream"

// Files collects the given paths. Names are relative to the common parent
// directory of all inputs, or base names when DirectoryStructure is false.
// Directories are expanded like Directory.
func Files(paths []string, opts Options) ([]Source, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no input paths", cratetype.ErrInvalidInput)
	}
	c, err := newCollector(opts)
	if err != nil {
		return nil, err
	}

	abs := make([]string, len(paths))
	infos := make([]fs.FileInfo, len(paths))
	for i, p := range paths {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: empty path at position %d", cratetype.ErrInvalidInput, i)
		}
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", cratetype.ErrInvalidInput, err)
		}
		info, err := os.Lstat(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", cratetype.ErrInvalidInput, err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return nil, fmt.Errorf("%w: %s: %w", cratetype.ErrInvalidInput, p, cratetype.ErrSymlink)
		}
		abs[i], infos[i] = a, info
	}

	base := commonParent(abs)
	for i, a := range abs {
		if infos[i].IsDir() {
			n := len(c.sources)
			if err := c.walk(a, relName(base, a), opts.DirectoryStructure); err != nil {
				return nil, err
			}
			if len(c.sources) == n {
				return nil, fmt.Errorf("%w: directory %s contains no files", cratetype.ErrInvalidInput, paths[i])
			}
			continue
		}
		if !infos[i].Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s is not a regular file", cratetype.ErrInvalidInput, paths[i])
		}
		name := filepath.Base(a)
		if opts.DirectoryStructure {
			name = relName(base, a)
		}
		if err := c.add(fileSource(name, a, infos[i])); err != nil {
			return nil, err
		}
	}
	return c.sources, nil
}

// Directory collects the regular files below root in lexical order.
// Symlinks and special files are skipped.
func Directory(root string, opts Options) ([]Source, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: empty directory path", cratetype.ErrInvalidInput)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cratetype.ErrInvalidInput, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cratetype.ErrInvalidInput, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", cratetype.ErrInvalidInput, root)
	}
	c, err := newCollector(opts)
	if err != nil {
		return nil, err
	}
	prefix := ""
	if opts.PreserveRoot {
		prefix = filepath.Base(abs)
	}
	if err := c.walk(abs, prefix, opts.DirectoryStructure); err != nil {
		return nil, err
	}
	if len(c.sources) == 0 {
		return nil, fmt.Errorf("%w: directory %s contains no files", cratetype.ErrInvalidInput, root)
	}
	return c.sources, nil
}

// walk adds the regular files below dir, naming them prefix/rel.
func (c *collector) walk(dir, prefix string, structured bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		skip, err := c.excluded(rel)
		if err != nil {
			return fmt.Errorf("%w: match %s: %w", cratetype.ErrInvalidInput, rel, err)
		}
		if d.IsDir() {
			if skip || !c.opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if skip || d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		name := filepath.Base(p)
		if structured {
			name = path.Join(prefix, filepath.ToSlash(rel))
		}
		return c.add(fileSource(name, p, info))
	})
}

// FileMap collects explicit archive name to path pairs, sorted by name.
func FileMap(files map[string]string, opts Options) ([]Source, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: empty file map", cratetype.ErrInvalidInput)
	}
	c, err := newCollector(opts)
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(files) {
		p := files[name]
		clean, err := pathutil.Clean(name)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: empty path for %q", cratetype.ErrInvalidInput, name)
		}
		info, err := os.Lstat(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", cratetype.ErrInvalidInput, err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s is not a regular file", cratetype.ErrInvalidInput, p)
		}
		if err := c.add(fileSource(clean, p, info)); err != nil {
			return nil, err
		}
	}
	return c.sources, nil
}

// Stream wraps a single reader. An empty name uses DefaultStreamName.
// Owned streams are closed by the engine.
func Stream(r io.Reader, name string, owned bool) ([]Source, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil stream", cratetype.ErrInvalidInput)
	}
	if name == "" {
		name = DefaultStreamName
	}
	clean, err := pathutil.Clean(name)
	if err != nil {
		return nil, err
	}
	return []Source{streamSource(clean, r, owned, time.Now())}, nil
}

// Readers collects named streams, sorted by name.
func Readers(streams map[string]io.Reader, owned bool) ([]Source, error) {
	if len(streams) == 0 {
		return nil, fmt.Errorf("%w: no streams", cratetype.ErrInvalidInput)
	}
	now := time.Now()
	out := make([]Source, 0, len(streams))
	for _, name := range sortedKeys(streams) {
		r := streams[name]
		if r == nil {
			return nil, fmt.Errorf("%w: nil stream for %q", cratetype.ErrInvalidInput, name)
		}
		clean, err := pathutil.Clean(name)
		if err != nil {
			return nil, err
		}
		out = append(out, streamSource(clean, r, owned, now))
	}
	return out, nil
}

// commonParent returns the deepest directory containing every path.
func commonParent(paths []string) string {
	parent := filepath.Dir(paths[0])
	for _, p := range paths[1:] {
		for !within(parent, p) {
			next := filepath.Dir(parent)
			if next == parent {
				break
			}
			parent = next
		}
	}
	return parent
}

func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func relName(base, p string) string {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return filepath.Base(p)
	}
	return filepath.ToSlash(rel)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
