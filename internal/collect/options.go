package collect

import (
	"fmt"

	"github.com/moby/patternmatcher"

	"github.com/meigma/crate/internal/cratetype"
)

// Options control how inputs are named and filtered.
type Options struct {
	// DirectoryStructure keeps relative paths. When false, names are
	// flattened to base names.
	DirectoryStructure bool

	// PreserveRoot prefixes names from a directory walk with the name of
	// the walked directory.
	PreserveRoot bool

	// Recursive descends into subdirectories.
	Recursive bool

	// Exclude holds .dockerignore style patterns matched against paths
	// relative to the walked directory.
	Exclude []string

	// MaxFiles limits the number of sources. Zero or negative means no limit.
	MaxFiles int
}

type collector struct {
	opts    Options
	matcher *patternmatcher.PatternMatcher
	sources []Source
	names   map[string]string
}

func newCollector(opts Options) (*collector, error) {
	c := &collector{opts: opts, names: make(map[string]string)}
	if len(opts.Exclude) > 0 {
		pm, err := patternmatcher.New(opts.Exclude)
		if err != nil {
			return nil, fmt.Errorf("%w: exclude patterns: %w", cratetype.ErrInvalidInput, err)
		}
		c.matcher = pm
	}
	return c, nil
}

// excluded reports whether rel (an OS path relative to the walk root)
// matches an exclude pattern.
func (c *collector) excluded(rel string) (bool, error) {
	if c.matcher == nil {
		return false, nil
	}
	return c.matcher.MatchesOrParentMatches(rel)
}

// add appends a source, rejecting duplicate names and enforcing MaxFiles.
func (c *collector) add(s Source) error {
	if prev, ok := c.names[s.Name]; ok {
		return fmt.Errorf("%w: %q and %q both map to archive name %q", cratetype.ErrInvalidInput, prev, s.Path, s.Name)
	}
	if c.opts.MaxFiles > 0 && len(c.sources) >= c.opts.MaxFiles {
		return fmt.Errorf("%w: limit is %d", cratetype.ErrTooManyFiles, c.opts.MaxFiles)
	}
	c.names[s.Name] = s.Path
	c.sources = append(c.sources, s)
	return nil
}
