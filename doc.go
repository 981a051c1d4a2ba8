//go:generate flatc --go --go-namespace fb -o internal/fb schema/index.fbs

// Package crate creates, appends to, modifies and extracts archives.
//
// Four container formats are supported:
//   - crate: the native format. Any compression method, AES-256 content
//     encryption, and optional encryption of the entry index itself.
//   - zip: copy, deflate or zstd entries, with WinZip AES encryption.
//   - tar: uncompressed entries.
//   - gzip: a single deflate stream.
//
// A Compressor is built once from options and is safe for concurrent use:
//
//	c, err := crate.NewCompressor(
//		crate.WithFormat(crate.FormatCrate),
//		crate.WithLevel(crate.LevelHigh),
//		crate.WithPassword("secret"),
//		crate.WithEncryptHeaders(true),
//	)
//	if err != nil {
//		return err
//	}
//	err = c.CompressDirectory(ctx, "./site", "site.crate")
//
// With ModeAppend new entries are added after the existing ones, which are
// copied into the new archive without being decoded. ModifyArchive renames
// and deletes entries by index in the same way. Output is written to a
// temp file and only replaces the destination once the whole archive has
// been encoded, so a failed call leaves the destination untouched.
//
// WithVolumeSize splits the result into numbered parts (site.crate.001,
// site.crate.002, ...). Open accepts either the base name or the first part.
//
// Archives are read with Open, OpenVolumes or OpenReader:
//
//	a, err := crate.Open("site.crate", crate.OpenWithPassword("secret"))
//	if err != nil {
//		return err
//	}
//	defer a.Close()
//	err = a.Extract(ctx, "./out")
package crate
