// Package codec is the table of compression methods and container format
// capabilities.
//
// The table is built once and never mutated, so lookups are safe from any
// goroutine.
package codec

import (
	"fmt"
	"io"

	"github.com/meigma/crate/internal/cratetype"
)

// Codec encodes and decodes one compression method.
type Codec struct {
	// Method is the compression method this codec implements.
	Method cratetype.Method

	// MinDict and MaxDict bound the dictionary (or window) size.
	// Both zero means the method has no tunable dictionary.
	MinDict uint32
	MaxDict uint32

	encode func(w io.Writer, level cratetype.Level, dict uint32) (io.WriteCloser, error)
	decode func(r io.Reader, dict uint32) (io.ReadCloser, error)
	dict   func(level cratetype.Level) uint32
}

// NewWriter returns a writer that compresses into w. Closing the returned
// writer flushes the stream but does not close w.
func (c *Codec) NewWriter(w io.Writer, level cratetype.Level, dict uint32) (io.WriteCloser, error) {
	enc, err := c.encode(w, level, dict)
	if err != nil {
		return nil, fmt.Errorf("%s encoder: %w", c.Method, err)
	}
	return enc, nil
}

// NewReader returns a reader that decompresses r. dict must be at least
// the dictionary size the content was encoded with.
func (c *Codec) NewReader(r io.Reader, dict uint32) (io.ReadCloser, error) {
	dec, err := c.decode(r, dict)
	if err != nil {
		return nil, fmt.Errorf("%s decoder: %w: %w", c.Method, cratetype.ErrDecompression, err)
	}
	return dec, nil
}

// HasDictionary reports whether the method accepts a dictionary size.
func (c *Codec) HasDictionary() bool {
	return c.MaxDict != 0
}

// DefaultDictionary returns the dictionary size used for level when the
// caller does not pick one. Zero for methods without a dictionary.
func (c *Codec) DefaultDictionary(level cratetype.Level) uint32 {
	if c.dict == nil {
		return 0
	}
	return c.dict(level)
}

// FormatSpec describes what a container format supports.
type FormatSpec struct {
	Format cratetype.Format

	// Methods lists the legal compression methods.
	Methods []cratetype.Method

	// Default is the method used when none is requested.
	Default cratetype.Method

	// Fixed reports that the format has exactly one method and rejects an
	// explicit request for any other.
	Fixed bool

	// Encryption reports support for content encryption.
	Encryption bool

	// HeaderEncryption reports support for encrypting entry names.
	HeaderEncryption bool

	// MultiEntry reports whether the format holds more than one entry.
	MultiEntry bool

	// Update reports support for append and modify.
	Update bool
}

// Supports reports whether m is a legal method for the format.
func (s *FormatSpec) Supports(m cratetype.Method) bool {
	for _, v := range s.Methods {
		if v == m {
			return true
		}
	}
	return false
}

// Registry maps methods to codecs and formats to their capabilities.
type Registry struct {
	codecs  map[cratetype.Method]*Codec
	formats map[cratetype.Format]*FormatSpec
}

// Default is the registry of every built-in codec and format.
var Default = New()

// New builds a registry with the built-in codecs and formats.
func New() *Registry {
	r := &Registry{
		codecs:  make(map[cratetype.Method]*Codec),
		formats: make(map[cratetype.Format]*FormatSpec),
	}
	for _, c := range builtinCodecs() {
		r.codecs[c.Method] = c
	}
	for _, s := range builtinFormats() {
		r.formats[s.Format] = s
	}
	return r
}

// Codec returns the codec for m.
func (r *Registry) Codec(m cratetype.Method) (*Codec, error) {
	c, ok := r.codecs[m]
	if !ok {
		return nil, fmt.Errorf("%w: no codec for method %s", cratetype.ErrUnsupportedCombination, m)
	}
	return c, nil
}

// Spec returns the capabilities of format f.
func (r *Registry) Spec(f cratetype.Format) (*FormatSpec, error) {
	s, ok := r.formats[f]
	if !ok {
		return nil, fmt.Errorf("%w: unknown format %d", cratetype.ErrUnsupportedCombination, f)
	}
	return s, nil
}

// Resolve picks the concrete method for format f.
//
// MethodDefault resolves to the format default. LevelNone resolves to
// MethodCopy when the format allows it, so stored entries stay readable by
// any reader of the format. An explicit method the format cannot hold is an
// error.
func (r *Registry) Resolve(f cratetype.Format, m cratetype.Method, level cratetype.Level) (cratetype.Method, error) {
	spec, err := r.Spec(f)
	if err != nil {
		return 0, err
	}
	if m == cratetype.MethodDefault {
		m = spec.Default
		if level == cratetype.LevelNone && spec.Supports(cratetype.MethodCopy) {
			m = cratetype.MethodCopy
		}
		return m, nil
	}
	if !spec.Supports(m) {
		return 0, fmt.Errorf("%w: method %s is not supported by format %s", cratetype.ErrUnsupportedCombination, m, f)
	}
	if level == cratetype.LevelNone && spec.Supports(cratetype.MethodCopy) {
		return cratetype.MethodCopy, nil
	}
	return m, nil
}

// Dictionary returns the dictionary size for method m at level. A non-zero
// requested size must fall inside the codec's range.
func (r *Registry) Dictionary(m cratetype.Method, level cratetype.Level, requested uint32) (uint32, error) {
	c, err := r.Codec(m)
	if err != nil {
		return 0, err
	}
	if requested == 0 || m == cratetype.MethodCopy {
		return c.DefaultDictionary(level), nil
	}
	if !c.HasDictionary() {
		return 0, fmt.Errorf("%w: method %s has no dictionary size", cratetype.ErrUnsupportedCombination, m)
	}
	if requested < c.MinDict || requested > c.MaxDict {
		return 0, fmt.Errorf("%w: dictionary size %d outside [%d, %d] for %s",
			cratetype.ErrUnsupportedCombination, requested, c.MinDict, c.MaxDict, m)
	}
	return requested, nil
}
