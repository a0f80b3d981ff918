package secdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Options are a file's immutable creation-time parameters. They are written
// into the header once and must match on every subsequent append-open.
type Options struct {
	Version   int
	Symbol    string
	Date      string // YYYY-MM-DD
	Depth     int    // quote levels per side, 1..32. Default: 1.
	Scale     int    // price multiplier. Default: 100.
	ChunkSize int64  // chunk width in milliseconds. Default: 5 minutes.
}

func (o *Options) norm() *Options {
	var oo Options
	if o != nil {
		oo = *o
	}

	if oo.Version < 1 {
		oo.Version = Version
	}
	if oo.Depth < 1 {
		oo.Depth = 1
	}
	if oo.Scale < 1 {
		oo.Scale = 100
	}
	if oo.ChunkSize < 1 {
		oo.ChunkSize = 300_000
	}
	return &oo
}

func (o *Options) validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("secdb: symbol must not be empty")
	}
	if o.Depth < 1 || o.Depth > MaxDepth {
		return fmt.Errorf("secdb: depth %d out of bounds 1..%d", o.Depth, MaxDepth)
	}
	if o.Scale < 1 {
		return fmt.Errorf("secdb: scale %d must be positive", o.Scale)
	}
	if o.ChunkSize < 1 {
		return fmt.Errorf("secdb: chunk_size %d must be positive", o.ChunkSize)
	}
	if _, err := o.dayStart(); err != nil {
		return err
	}
	return nil
}

// dayStart returns the UTC midnight of the file's date in epoch ms.
func (o *Options) dayStart() (int64, error) {
	t, err := time.Parse("2006-01-02", o.Date)
	if err != nil {
		return 0, fmt.Errorf("secdb: invalid date %q", o.Date)
	}
	return t.UnixMilli(), nil
}

// numChunks derives the chunkmap length from the chunk width.
func (o *Options) numChunks() int {
	return int((DayMillis + o.ChunkSize - 1) / o.ChunkSize)
}

// ScalePx converts a decimal price to its stored integer representation,
// rounding half away from zero.
func (o *Options) ScalePx(px decimal.Decimal) int64 {
	return px.Mul(decimal.NewFromInt(int64(o.Scale))).Round(0).IntPart()
}

// UnscalePx converts a stored integer price back to a decimal.
func (o *Options) UnscalePx(p int64) decimal.Decimal {
	return decimal.NewFromInt(p).Div(decimal.NewFromInt(int64(o.Scale)))
}

// NewMarketData returns an empty snapshot shaped for this file's depth,
// with all levels absent.
func (o *Options) NewMarketData(ts int64) *MarketData {
	return &MarketData{Time: ts, Bid: make([]Quote, o.Depth), Ask: make([]Quote, o.Depth)}
}

// appendHeader serializes the options block. The blank line terminates the
// header; the byte after it is the start of the chunkmap.
func (o *Options) appendHeader(dst []byte) []byte {
	dst = append(dst, "version="+strconv.Itoa(o.Version)+"\n"...)
	dst = append(dst, "symbol="+o.Symbol+"\n"...)
	dst = append(dst, "date="+o.Date+"\n"...)
	dst = append(dst, "depth="+strconv.Itoa(o.Depth)+"\n"...)
	dst = append(dst, "scale="+strconv.Itoa(o.Scale)+"\n"...)
	dst = append(dst, "chunk_size="+strconv.FormatInt(o.ChunkSize, 10)+"\n"...)
	return append(dst, '\n')
}

var requiredKeys = []string{"version", "symbol", "date", "depth", "scale", "chunk_size"}

// parseHeader reads the options block off the front of data and returns the
// parsed options together with the header length in bytes.
func parseHeader(data []byte) (*Options, int, error) {
	o := new(Options)
	seen := make(map[string]bool, len(requiredKeys))
	pos := 0

	for {
		nl := bytes.IndexByte(data[pos:], '\n')
		if nl < 0 {
			return nil, 0, fmt.Errorf("%w: unterminated header", ErrCorruptStream)
		}
		line := string(data[pos : pos+nl])
		pos += nl + 1
		if line == "" {
			break
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, 0, fmt.Errorf("%w: malformed header line %q", ErrCorruptStream, line)
		}

		var err error
		switch key {
		case "version":
			o.Version, err = strconv.Atoi(val)
		case "symbol":
			o.Symbol = val
		case "date":
			o.Date = val
		case "depth":
			o.Depth, err = strconv.Atoi(val)
		case "scale":
			o.Scale, err = strconv.Atoi(val)
		case "chunk_size":
			o.ChunkSize, err = strconv.ParseInt(val, 10, 64)
		default:
			continue // unknown keys are ignored
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: bad header value %q", ErrCorruptStream, line)
		}
		seen[key] = true
	}

	for _, key := range requiredKeys {
		if !seen[key] {
			return nil, 0, fmt.Errorf("%w: header is missing %q", ErrCorruptStream, key)
		}
	}
	return o, pos, nil
}

// parseChunkmap decodes n big-endian uint32 entries off the front of data.
func parseChunkmap(data []byte, n int) ([]uint32, error) {
	if len(data) < n*chunkmapEntrySize {
		return nil, fmt.Errorf("%w: truncated chunkmap", ErrCorruptStream)
	}
	cm := make([]uint32, n)
	for i := range cm {
		cm[i] = binary.BigEndian.Uint32(data[i*chunkmapEntrySize:])
	}
	return cm, nil
}
