package secdb

import (
	"errors"

	"go.uber.org/zap"
)

// Record tags. The high bit marks a record that carries a payload at all;
// full records set the next bit to distinguish them from deltas, and trades
// occupy the slot in between. Any other leading byte is a corruption.
const (
	tagDeltaMD byte = 0x80
	tagTrade   byte = 0xA0
	tagFullMD  byte = 0xC0
)

const (
	// Version is the file format version written by this package.
	Version = 2

	// DayMillis is the span of one UTC trading day in milliseconds.
	DayMillis = 86_400_000

	// MaxDepth bounds the number of quote levels stored per side.
	MaxDepth = 32

	chunkmapEntrySize = 4
)

// ErrNotFound is returned when no file exists for a (symbol, date) pair.
var ErrNotFound = errors.New("secdb: not found")

var (
	// ErrIncompatibleHeader is returned when append options disagree with
	// the options stored in an existing file.
	ErrIncompatibleHeader = errors.New("secdb: incompatible header")

	// ErrCorruptStream is returned on an unknown record tag, a delta
	// without an anchor snapshot, or an impossible field value.
	ErrCorruptStream = errors.New("secdb: corrupt stream")

	// ErrOutOfOrder is returned on an append with a decreasing timestamp.
	ErrOutOfOrder = errors.New("secdb: out-of-order append")

	// ErrOutOfRange is returned on an append with a timestamp outside the
	// file's UTC day.
	ErrOutOfRange = errors.New("secdb: timestamp out of range")

	// ErrFilter wraps an error raised by a filter stage.
	ErrFilter = errors.New("secdb: filter failed")
)

var (
	errClosed      = errors.New("secdb: is closed")
	errShortRecord = errors.New("secdb: short record") // torn tail, tolerated on read
)

// log carries internal diagnostics. It stays a no-op unless the process
// routes it somewhere at startup.
var log = zap.NewNop()

// SetLogger routes internal diagnostics to l. Call once during startup,
// before any files are opened.
func SetLogger(l *zap.Logger) { log = l }
