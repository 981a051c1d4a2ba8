// Package index encodes and decodes the entry table of a crate container.
//
// The table is a FlatBuffers buffer (see schema/index.fbs). Entries keep
// archive order rather than being sorted, since entry indices are part of
// the public contract.
package index

import (
	"fmt"
	"io/fs"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/crate/internal/cratetype"
	"github.com/meigma/crate/internal/fb"
	"github.com/meigma/crate/internal/sizing"
)

// Version is the index layout version written by Build.
const Version = 1

// Record is one entry of the table plus its position in the data region.
type Record struct {
	cratetype.Entry

	// Offset is the position of the payload relative to the data region.
	Offset uint64
}

// Index is a decoded entry table.
type Index struct {
	Version  uint32
	Records  []Record
	DataSize uint64

	// DataDigest is the digest of the whole data region.
	DataDigest digest.Digest
}

// Build encodes idx.
func Build(idx *Index) []byte {
	builder := flatbuffers.NewBuilder(1024)

	// FlatBuffers builds back to front.
	offsets := make([]flatbuffers.UOffsetT, len(idx.Records))
	for i := len(idx.Records) - 1; i >= 0; i-- {
		r := &idx.Records[i]
		pathOffset := builder.CreateString(r.Path)

		var hashOffset flatbuffers.UOffsetT
		if len(r.Hash) > 0 {
			hashOffset = builder.CreateByteVector(r.Hash)
		}

		fb.EntryStart(builder)
		fb.EntryAddPath(builder, pathOffset)
		fb.EntryAddDataOffset(builder, r.Offset)
		fb.EntryAddDataSize(builder, r.PackedSize)
		fb.EntryAddOriginalSize(builder, r.Size)
		if hashOffset != 0 {
			fb.EntryAddHash(builder, hashOffset)
		}
		fb.EntryAddMode(builder, uint32(r.Mode))
		fb.EntryAddMtimeNs(builder, r.ModTime.UnixNano())
		fb.EntryAddMethod(builder, byte(r.Method))
		fb.EntryAddEncrypted(builder, r.Encrypted)
		fb.EntryAddCrc32(builder, r.CRC32)
		fb.EntryAddIsDir(builder, r.IsDir)
		fb.EntryAddDictionary(builder, r.Dictionary)
		offsets[i] = fb.EntryEnd(builder)
	}

	fb.IndexStartEntriesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entriesOffset := builder.EndVector(len(offsets))

	var digestOffset flatbuffers.UOffsetT
	if idx.DataDigest != "" {
		digestOffset = builder.CreateString(idx.DataDigest.String())
	}

	fb.IndexStart(builder)
	fb.IndexAddVersion(builder, Version)
	fb.IndexAddEntries(builder, entriesOffset)
	fb.IndexAddDataSize(builder, idx.DataSize)
	if digestOffset != 0 {
		fb.IndexAddDataDigest(builder, digestOffset)
	}
	builder.Finish(fb.IndexEnd(builder))
	return builder.FinishedBytes()
}

// Load decodes an index buffer. Every record is bounds checked against
// dataSize; a malformed buffer yields an error rather than a panic.
func Load(data []byte) (idx *Index, err error) {
	defer func() {
		if r := recover(); r != nil {
			idx = nil
			err = fmt.Errorf("%w: malformed index: %v", cratetype.ErrArchiveRead, r)
		}
	}()
	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: empty index data", cratetype.ErrArchiveRead)
	}

	root := fb.GetRootAsIndex(data, 0)
	idx = &Index{
		Version:  root.Version(),
		DataSize: root.DataSize(),
	}
	if idx.Version != Version {
		return nil, fmt.Errorf("%w: unsupported index version %d", cratetype.ErrArchiveRead, idx.Version)
	}
	if raw := root.DataDigest(); len(raw) > 0 {
		d, perr := digest.Parse(string(raw))
		if perr != nil {
			return nil, fmt.Errorf("%w: data digest: %w", cratetype.ErrArchiveRead, perr)
		}
		idx.DataDigest = d
	}

	n := root.EntriesLength()
	idx.Records = make([]Record, n)
	var e fb.Entry
	for i := range n {
		if !root.Entries(&e, i) {
			return nil, fmt.Errorf("%w: index entry %d missing", cratetype.ErrArchiveRead, i)
		}
		end, ok := sizing.AddUint64(e.DataOffset(), e.DataSize())
		if !ok || end > idx.DataSize {
			return nil, fmt.Errorf("%w: entry %d exceeds data region", cratetype.ErrArchiveRead, i)
		}
		var hash []byte
		if b := e.HashBytes(); len(b) > 0 {
			hash = append([]byte(nil), b...)
		}
		idx.Records[i] = Record{
			Entry: cratetype.Entry{
				Index:      i,
				Path:       string(e.Path()),
				Size:       e.OriginalSize(),
				PackedSize: e.DataSize(),
				ModTime:    time.Unix(0, e.MtimeNs()),
				Mode:       fs.FileMode(e.Mode()),
				IsDir:      e.IsDir(),
				CRC32:      e.Crc32(),
				Hash:       hash,
				Method:     cratetype.Method(e.Method()),
				Dictionary: e.Dictionary(),
				Encrypted:  e.Encrypted(),
			},
			Offset: e.DataOffset(),
		}
	}
	return idx, nil
}
