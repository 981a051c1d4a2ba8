package cratetype

// ProgressEvent represents a progress update during an archive operation.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the entry currently being processed, if applicable.
	Path string

	// BytesDone is the number of uncompressed bytes encoded so far.
	BytesDone uint64

	// BytesTotal is the total number of uncompressed bytes.
	// Zero indicates the total is unknown.
	BytesTotal uint64

	// FilesDone is the number of entries completed.
	FilesDone int

	// FilesTotal is the total number of entries.
	// Zero indicates the total is unknown (e.g., during collection).
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Stages of one archive generation. StageFailed is reachable from any stage.
const (
	StageIdle ProgressStage = iota
	StageValidating
	StageCollecting
	StageEncoding
	StageSplitting
	StageFinalized
	StageFailed
	StageExtracting
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageValidating:
		return "validating"
	case StageCollecting:
		return "collecting"
	case StageEncoding:
		return "encoding"
	case StageSplitting:
		return "splitting"
	case StageFinalized:
		return "finalized"
	case StageFailed:
		return "failed"
	case StageExtracting:
		return "extracting"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
