package cratetype

// Format identifies an archive container format.
type Format uint8

const (
	FormatCrate Format = iota
	FormatZip
	FormatTar
	FormatGzip
)

// Formats lists every supported container format.
var Formats = []Format{FormatCrate, FormatZip, FormatTar, FormatGzip}

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatCrate:
		return "crate"
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	case FormatGzip:
		return "gzip"
	default:
		return "unknown"
	}
}

// Extension returns the conventional file extension for the format.
func (f Format) Extension() string {
	switch f {
	case FormatCrate:
		return ".crate"
	case FormatZip:
		return ".zip"
	case FormatTar:
		return ".tar"
	case FormatGzip:
		return ".gz"
	default:
		return ""
	}
}

// ParseFormat converts a format name to a Format.
func ParseFormat(s string) (Format, bool) {
	switch s {
	case "", "crate":
		return FormatCrate, true
	case "zip":
		return FormatZip, true
	case "tar":
		return FormatTar, true
	case "gzip", "gz":
		return FormatGzip, true
	default:
		return FormatCrate, false
	}
}

// Encryption identifies the content encryption method.
type Encryption uint8

const (
	EncryptionNone Encryption = iota
	EncryptionAES256
)

// String returns the encryption method name.
func (e Encryption) String() string {
	switch e {
	case EncryptionNone:
		return "none"
	case EncryptionAES256:
		return "aes256"
	default:
		return "unknown"
	}
}

// Mode selects how an operation treats an existing destination.
type Mode uint8

const (
	// ModeCreate replaces the destination with a new archive.
	ModeCreate Mode = iota

	// ModeAppend adds entries after the entries of the existing archive.
	ModeAppend

	// ModeModify renames or deletes entries of the existing archive
	// before appending any new entries.
	ModeModify
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeAppend:
		return "append"
	case ModeModify:
		return "modify"
	default:
		return "unknown"
	}
}
