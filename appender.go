package secdb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Appender writes events to the end of a single (symbol, date) file. It is
// owned by exactly one caller and is not safe for concurrent use.
type Appender struct {
	f  *os.File
	bw *bufio.Writer
	o  *Options

	day         int64 // UTC midnight of the file's date, epoch ms
	chunkmapOff int64
	chunkmap    []uint32

	offset   int64       // absolute offset of the next record
	lastTime int64       // timestamp of the last event, -1 if none
	lastMD   *MarketData // delta anchor
	curChunk int         // bucket of the last snapshot, -1 if none

	tmp []byte // scratch record buffer
}

// OpenAppendFile opens path for appending, creating the file (and any
// missing directories) when it does not exist yet. The supplied options
// must match the stored header of an existing file.
func OpenAppendFile(path string, o *Options) (*Appender, error) {
	o = o.norm()
	if err := o.validate(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		return createAppender(path, o)
	}
	return reopenAppender(path, o)
}

func createAppender(path string, o *Options) (*Appender, error) {
	day, err := o.dayStart()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}

	hdr := o.appendHeader(nil)
	hdr = append(hdr, make([]byte, o.numChunks()*chunkmapEntrySize)...)
	if _, err := f.Write(hdr); err != nil {
		_ = f.Close()
		return nil, err
	}

	log.Debug("secdb: created file",
		zap.String("path", path),
		zap.String("symbol", o.Symbol),
		zap.String("date", o.Date))

	return &Appender{
		f:           f,
		bw:          bufio.NewWriter(f),
		o:           o,
		day:         day,
		chunkmapOff: int64(len(hdr)) - int64(o.numChunks()*chunkmapEntrySize),
		chunkmap:    make([]uint32, o.numChunks()),
		offset:      int64(len(hdr)),
		lastTime:    -1,
		curChunk:    -1,
	}, nil
}

func reopenAppender(path string, o *Options) (*Appender, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	stored, hlen, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if *stored != *o {
		return nil, fmt.Errorf("%w: %s holds version=%d symbol=%s date=%s depth=%d scale=%d chunk_size=%d",
			ErrIncompatibleHeader, path, stored.Version, stored.Symbol, stored.Date,
			stored.Depth, stored.Scale, stored.ChunkSize)
	}
	day, err := stored.dayStart()
	if err != nil {
		return nil, err
	}

	chunkmap, err := parseChunkmap(data[hlen:], stored.numChunks())
	if err != nil {
		return nil, err
	}
	streamStart := hlen + stored.numChunks()*chunkmapEntrySize

	// Replay the stream to recover the delta anchor and the last timestamp.
	d := decoder{buf: data[streamStart:], depth: stored.Depth}
	lastTime, curChunk, good := int64(-1), -1, 0
	for {
		ev, err := d.next()
		if err == io.EOF || errors.Is(err, errShortRecord) {
			break
		}
		if err != nil {
			return nil, err
		}
		lastTime = ev.Timestamp()
		if _, ok := ev.(*MarketData); ok {
			curChunk = int((lastTime - day) / stored.ChunkSize)
		}
		good = d.pos
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	end := int64(streamStart + good)
	if end < int64(len(data)) {
		// A torn record from an interrupted append; drop it.
		log.Warn("secdb: truncating torn record",
			zap.String("path", path),
			zap.Int64("offset", end),
			zap.Int64("size", int64(len(data))))
		if err := f.Truncate(end); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	if _, err := f.Seek(end, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}

	log.Debug("secdb: reopened for append",
		zap.String("path", path),
		zap.Int64("offset", end),
		zap.Int64("last_time", lastTime))

	return &Appender{
		f:           f,
		bw:          bufio.NewWriter(f),
		o:           stored,
		day:         day,
		chunkmapOff: int64(hlen),
		chunkmap:    chunkmap,
		offset:      end,
		lastTime:    lastTime,
		lastMD:      d.last,
		curChunk:    curChunk,
	}, nil
}

// Options returns the file's creation-time parameters.
func (a *Appender) Options() Options { return *a.o }

// Append appends an event to the store.
func (a *Appender) Append(ev Event) error {
	if a.bw == nil {
		return errClosed
	}

	ts := ev.Timestamp()
	if ts < a.day || ts >= a.day+DayMillis {
		return fmt.Errorf("%w: %d is outside the UTC day of %s", ErrOutOfRange, ts, a.o.Date)
	}
	if ts < a.lastTime {
		return fmt.Errorf("%w: %d must be >= %d", ErrOutOfOrder, ts, a.lastTime)
	}
	bucket := int((ts - a.day) / a.o.ChunkSize)

	switch ev := ev.(type) {
	case *MarketData:
		if len(ev.Bid) != a.o.Depth || len(ev.Ask) != a.o.Depth {
			return fmt.Errorf("secdb: snapshot must carry %d levels per side, got %d/%d",
				a.o.Depth, len(ev.Bid), len(ev.Ask))
		}
		if a.curChunk != bucket || a.lastMD == nil {
			if a.chunkmap[bucket] == 0 {
				if err := a.setChunk(bucket); err != nil {
					return err
				}
			}
			a.tmp = appendFullMD(a.tmp[:0], ev)
		} else {
			a.tmp = appendDeltaMD(a.tmp[:0], a.lastMD, ev)
		}
		a.lastMD = ev.clone()
		a.curChunk = bucket
	case *Trade:
		// Trades are not chunk anchors and leave the delta chain alone.
		a.tmp = appendTrade(a.tmp[:0], ev)
	default:
		return fmt.Errorf("secdb: cannot append %T", ev)
	}

	n, err := a.bw.Write(a.tmp)
	a.offset += int64(n)
	if err != nil {
		return err
	}
	a.lastTime = ts
	return nil
}

// setChunk records the upcoming record's offset as the bucket's anchor,
// both in memory and in the on-disk chunkmap.
func (a *Appender) setChunk(bucket int) error {
	var buf [chunkmapEntrySize]byte
	binary.BigEndian.PutUint32(buf[:], uint32(a.offset))
	if _, err := a.f.WriteAt(buf[:], a.chunkmapOff+int64(bucket)*chunkmapEntrySize); err != nil {
		return err
	}
	a.chunkmap[bucket] = uint32(a.offset)
	return nil
}

// Close flushes buffered writes, syncs and closes the file.
func (a *Appender) Close() error {
	if a.bw == nil {
		return errClosed
	}
	err := a.bw.Flush()
	if err == nil {
		err = a.f.Sync()
	}
	if cerr := a.f.Close(); err == nil {
		err = cerr
	}
	a.bw = nil

	log.Debug("secdb: closed appender",
		zap.String("symbol", a.o.Symbol),
		zap.String("date", a.o.Date),
		zap.Int64("size", a.offset))
	return err
}
