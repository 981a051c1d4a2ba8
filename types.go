package crate

import (
	"github.com/meigma/crate/internal/collect"
	"github.com/meigma/crate/internal/cratetype"
)

// Entry describes one file or directory inside an archive.
type Entry = cratetype.Entry

// Format identifies an archive container format.
type Format = cratetype.Format

// Method identifies the compression algorithm of an entry.
type Method = cratetype.Method

// Level is the requested compression strength.
type Level = cratetype.Level

// Encryption identifies the content encryption method.
type Encryption = cratetype.Encryption

// Mode selects how an operation treats an existing destination.
type Mode = cratetype.Mode

// ProgressEvent is a progress update during an operation.
type ProgressEvent = cratetype.ProgressEvent

// ProgressStage identifies the current phase of an operation.
type ProgressStage = cratetype.ProgressStage

// ProgressFunc receives progress updates. It must be safe for concurrent calls.
type ProgressFunc = cratetype.ProgressFunc

// SkipCompressionFunc returns true when an input should be stored uncompressed.
// It is called once per input and should be inexpensive.
type SkipCompressionFunc = collect.SkipCompressionFunc

// DefaultSkipCompression returns a SkipCompressionFunc that skips inputs
// smaller than minSize and known already-compressed extensions.
var DefaultSkipCompression = collect.DefaultSkipCompression

// Formats.
const (
	FormatCrate = cratetype.FormatCrate
	FormatZip   = cratetype.FormatZip
	FormatTar   = cratetype.FormatTar
	FormatGzip  = cratetype.FormatGzip
)

// Compression methods. MethodDefault selects the format default.
const (
	MethodDefault = cratetype.MethodDefault
	MethodCopy    = cratetype.MethodCopy
	MethodDeflate = cratetype.MethodDeflate
	MethodLZMA    = cratetype.MethodLZMA
	MethodLZMA2   = cratetype.MethodLZMA2
	MethodZstd    = cratetype.MethodZstd
	MethodLZ4     = cratetype.MethodLZ4
	MethodS2      = cratetype.MethodS2
)

// Compression levels.
const (
	LevelNormal  = cratetype.LevelNormal
	LevelNone    = cratetype.LevelNone
	LevelFastest = cratetype.LevelFastest
	LevelFast    = cratetype.LevelFast
	LevelHigh    = cratetype.LevelHigh
	LevelUltra   = cratetype.LevelUltra
)

// Encryption methods.
const (
	EncryptionNone   = cratetype.EncryptionNone
	EncryptionAES256 = cratetype.EncryptionAES256
)

// Modes.
const (
	ModeCreate = cratetype.ModeCreate
	ModeAppend = cratetype.ModeAppend
	ModeModify = cratetype.ModeModify
)

// Progress stages.
const (
	StageIdle       = cratetype.StageIdle
	StageValidating = cratetype.StageValidating
	StageCollecting = cratetype.StageCollecting
	StageEncoding   = cratetype.StageEncoding
	StageSplitting  = cratetype.StageSplitting
	StageFinalized  = cratetype.StageFinalized
	StageFailed     = cratetype.StageFailed
	StageExtracting = cratetype.StageExtracting
)

// ParseFormat converts a format name ("crate", "zip", "tar", "gzip") to a Format.
var ParseFormat = cratetype.ParseFormat

// ParseMethod converts a method name to a Method.
var ParseMethod = cratetype.ParseMethod

// ParseLevel converts a level name to a Level.
var ParseLevel = cratetype.ParseLevel
