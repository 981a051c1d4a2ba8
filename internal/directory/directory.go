// Package directory models the ordered entry list of an archive while it
// is being planned: entries carried over from an existing archive, entries
// still to be encoded from sources, and the edits applied in between.
//
// A Model is owned by a single operation. Apply and AppendSources return
// new models and leave the receiver untouched.
package directory

import (
	"fmt"

	"github.com/meigma/crate/internal/collect"
	"github.com/meigma/crate/internal/container"
	"github.com/meigma/crate/internal/cratetype"
	"github.com/meigma/crate/internal/pathutil"
)

// Item is one planned entry.
type Item struct {
	Entry cratetype.Entry

	// Origin is the entry index in the loaded archive, or -1 for new
	// entries.
	Origin int

	// Source supplies the content of a new entry.
	Source *collect.Source
}

// Passthrough reports whether the item is copied from the loaded archive.
func (it *Item) Passthrough() bool {
	return it.Origin >= 0
}

// Model is an ordered list of planned entries plus archive metadata.
type Model struct {
	Format          cratetype.Format
	Encrypted       bool
	HeaderEncrypted bool

	// Volumes is the number of parts the archive was read from.
	Volumes int

	Items []Item
}

// New returns an empty model for format f.
func New(f cratetype.Format) *Model {
	return &Model{Format: f}
}

// Load builds a model from the entries of an existing archive.
func Load(r container.Reader, volumes int) *Model {
	entries := r.Entries()
	m := &Model{
		Format:          r.Format(),
		HeaderEncrypted: r.HeaderEncrypted(),
		Volumes:         volumes,
		Items:           make([]Item, len(entries)),
	}
	for i, e := range entries {
		m.Items[i] = Item{Entry: e, Origin: i}
		m.Encrypted = m.Encrypted || e.Encrypted
	}
	return m
}

// Len returns the number of entries.
func (m *Model) Len() int {
	return len(m.Items)
}

// Entries returns the entry metadata in order.
func (m *Model) Entries() []cratetype.Entry {
	out := make([]cratetype.Entry, len(m.Items))
	for i := range m.Items {
		out[i] = m.Items[i].Entry
	}
	return out
}

// Change is an edit of one existing entry.
type Change struct {
	// Delete removes the entry.
	Delete bool

	// Rename moves the entry to a new path when Delete is false.
	Rename string
}

// Apply returns a model with changes applied. Keys are entry indices of m.
// Validation is all or nothing: on error no change is applied.
// Deleted entries disappear, renamed ones keep their position, and
// indices are renumbered contiguously.
func (m *Model) Apply(changes map[int]Change) (*Model, error) {
	renames := make(map[int]string, len(changes))
	for i, c := range changes {
		if i < 0 || i >= len(m.Items) {
			return nil, fmt.Errorf("%w: index %d out of range [0, %d)", cratetype.ErrInvalidModification, i, len(m.Items))
		}
		if c.Delete {
			continue
		}
		name, err := pathutil.Clean(c.Rename)
		if err != nil {
			return nil, fmt.Errorf("%w: index %d: %w", cratetype.ErrInvalidModification, i, err)
		}
		renames[i] = name
	}

	out := &Model{
		Format:          m.Format,
		HeaderEncrypted: m.HeaderEncrypted,
		Volumes:         m.Volumes,
		Items:           make([]Item, 0, len(m.Items)),
	}
	for i, it := range m.Items {
		if c, ok := changes[i]; ok && c.Delete {
			continue
		}
		if name, ok := renames[i]; ok {
			it.Entry.Path = name
		}
		it.Entry.Index = len(out.Items)
		out.Encrypted = out.Encrypted || it.Entry.Encrypted
		out.Items = append(out.Items, it)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", cratetype.ErrInvalidModification, err)
	}
	return out, nil
}

// AppendSources returns a model with one new entry per source after the
// existing entries. Indices continue from the last existing entry.
func (m *Model) AppendSources(sources []collect.Source) *Model {
	out := *m
	out.Items = make([]Item, len(m.Items), len(m.Items)+len(sources))
	copy(out.Items, m.Items)
	for i := range sources {
		s := &sources[i]
		out.Items = append(out.Items, Item{
			Entry: cratetype.Entry{
				Index:   len(out.Items),
				Path:    s.Name,
				Size:    uint64(max(s.Size, 0)), //nolint:gosec // clamped non-negative
				ModTime: s.ModTime,
				Mode:    s.Mode,
			},
			Origin: -1,
			Source: s,
		})
	}
	return &out
}

// Release closes the owned sources of new entries that were never opened.
func (m *Model) Release() {
	for _, it := range m.Items {
		if it.Source != nil {
			it.Source.Close() //nolint:errcheck // best-effort cleanup
		}
	}
}

// Validate checks that live paths are unique and indices contiguous.
func (m *Model) Validate() error {
	seen := make(map[string]int, len(m.Items))
	for i, it := range m.Items {
		if it.Entry.Index != i {
			return fmt.Errorf("%w: entry %q has index %d at position %d", cratetype.ErrInvalidInput, it.Entry.Path, it.Entry.Index, i)
		}
		if prev, ok := seen[it.Entry.Path]; ok {
			return fmt.Errorf("%w: duplicate path %q at indices %d and %d", cratetype.ErrInvalidInput, it.Entry.Path, prev, i)
		}
		seen[it.Entry.Path] = i
	}
	return nil
}
