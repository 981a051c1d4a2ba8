package cratetype

// Method identifies the compression algorithm used for an entry.
type Method uint8

const (
	MethodDefault Method = iota
	MethodCopy
	MethodDeflate
	MethodLZMA
	MethodLZMA2
	MethodZstd
	MethodLZ4
	MethodS2
)

// Methods lists every concrete compression method.
var Methods = []Method{
	MethodCopy,
	MethodDeflate,
	MethodLZMA,
	MethodLZMA2,
	MethodZstd,
	MethodLZ4,
	MethodS2,
}

// String returns the human-readable name of the compression method.
func (m Method) String() string {
	switch m {
	case MethodDefault:
		return "default"
	case MethodCopy:
		return "copy"
	case MethodDeflate:
		return "deflate"
	case MethodLZMA:
		return "lzma"
	case MethodLZMA2:
		return "lzma2"
	case MethodZstd:
		return "zstd"
	case MethodLZ4:
		return "lz4"
	case MethodS2:
		return "s2"
	default:
		return "unknown"
	}
}

// ParseMethod converts a method name to a Method.
func ParseMethod(s string) (Method, bool) {
	if s == "" {
		return MethodDefault, true
	}
	for _, m := range append([]Method{MethodDefault}, Methods...) {
		if m.String() == s {
			return m, true
		}
	}
	return MethodDefault, false
}

// Level is the requested compression strength.
type Level uint8

const (
	LevelNormal Level = iota
	LevelNone
	LevelFastest
	LevelFast
	LevelHigh
	LevelUltra
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelFastest:
		return "fastest"
	case LevelFast:
		return "fast"
	case LevelNormal:
		return "normal"
	case LevelHigh:
		return "high"
	case LevelUltra:
		return "ultra"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name to a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "", "normal":
		return LevelNormal, true
	case "none", "store":
		return LevelNone, true
	case "fastest":
		return LevelFastest, true
	case "fast":
		return LevelFast, true
	case "high":
		return LevelHigh, true
	case "ultra", "max":
		return LevelUltra, true
	default:
		return LevelNormal, false
	}
}
