package secdb

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"go.uber.org/zap"
)

// ReaderState is a self-sufficient snapshot of one file: the parsed header,
// the chunkmap and the entire event region held in memory. It does not keep
// a file descriptor open, so the underlying file may move or vanish while
// the state stays readable.
type ReaderState struct {
	path        string
	o           *Options
	day         int64
	chunkmap    []uint32
	streamStart int64 // absolute offset of the event region
	events      []byte
}

// OpenReadFile reads the file at path into a detached ReaderState.
func OpenReadFile(path string) (*ReaderState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return newReaderState(path, data)
}

func newReaderState(path string, data []byte) (*ReaderState, error) {
	o, hlen, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStream, err)
	}
	day, err := o.dayStart()
	if err != nil {
		return nil, err
	}
	chunkmap, err := parseChunkmap(data[hlen:], o.numChunks())
	if err != nil {
		return nil, err
	}

	start := hlen + o.numChunks()*chunkmapEntrySize
	log.Debug("secdb: opened for read",
		zap.String("path", path),
		zap.String("symbol", o.Symbol),
		zap.Int("events_bytes", len(data)-start))

	return &ReaderState{
		path:        path,
		o:           o,
		day:         day,
		chunkmap:    chunkmap,
		streamStart: int64(start),
		events:      data[start:],
	}, nil
}

// Options returns the file's creation-time parameters.
func (rs *ReaderState) Options() Options { return *rs.o }

// Path returns the file location this state was read from, if any.
func (rs *ReaderState) Path() string { return rs.path }

// Chunkmap returns the time index: one absolute byte offset per chunk of
// the day, zero meaning the chunk holds no snapshot.
func (rs *ReaderState) Chunkmap() []uint32 {
	return append([]uint32(nil), rs.chunkmap...)
}

// Snapshot serializes the state into a single snappy-compressed block that
// OpenSnapshot re-opens with no filesystem dependency, e.g. after shipping
// it to another node.
func (rs *ReaderState) Snapshot() []byte {
	raw := rs.o.appendHeader(nil)
	for _, off := range rs.chunkmap {
		raw = append(raw, byte(off>>24), byte(off>>16), byte(off>>8), byte(off))
	}
	raw = append(raw, rs.events...)
	return snappy.Encode(nil, raw)
}

// OpenSnapshot re-opens a state serialized with Snapshot.
func OpenSnapshot(data []byte) (*ReaderState, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStream, err)
	}
	return newReaderState("", raw)
}

// Iterator returns a pull iterator over the state's events, routed through
// the given filter stack in order. When the first filter is a range with a
// lower bound, the iterator seeks there via the chunkmap instead of
// scanning from the start.
func (rs *ReaderState) Iterator(filters ...Filter) (*Iterator, error) {
	it := &Iterator{
		rs:      rs,
		filters: filters,
		closed:  make([]bool, len(filters)),
		d:       decoder{buf: rs.events, depth: rs.o.Depth},
	}
	for i, f := range filters {
		r, ok := f.(*RangeFilter)
		if !ok {
			continue
		}
		if err := r.resolve(rs.day, i == 0); err != nil {
			return nil, err
		}
		if i == 0 && r.start >= 0 {
			it.seek(r.start)
		}
	}
	return it, nil
}

// Events decodes the whole stream through the given filters.
func (rs *ReaderState) Events(filters ...Filter) ([]Event, error) {
	it, err := rs.Iterator(filters...)
	if err != nil {
		return nil, err
	}
	return it.Collect()
}

// --------------------------------------------------------------------

// Iterator is a lazy, finite, non-restartable cursor over a stream of
// events. It is owned by a single caller.
type Iterator struct {
	rs      *ReaderState
	d       decoder
	filters []Filter
	closed  []bool // stages that saw end-of-stream already
	queue   []Event
	cur     Event
	pending Event // decoded during seek, not yet consumed
	srcDone bool
	flushed bool
	err     error
}

// seek positions the cursor at the first event with a timestamp >= t that
// follows the landing anchor. The chunkmap is the sole random-access index:
// the search lands on the latest populated bucket at or before t's bucket
// and scans forward from its anchor, which is guaranteed to be a full
// snapshot. Trades stored in the landing bucket before its first snapshot
// lie ahead of the anchor and are not visited.
func (it *Iterator) seek(t int64) {
	rs := it.rs

	bucket := -1
	if rel := t - rs.day; rel >= 0 {
		bucket = int(rel / rs.o.ChunkSize)
		if bucket >= len(rs.chunkmap) {
			bucket = len(rs.chunkmap) - 1
		}
	}
	var off int64 // relative to the stream start
	for b := bucket; b >= 0; b-- {
		if rs.chunkmap[b] != 0 {
			off = int64(rs.chunkmap[b]) - rs.streamStart
			break
		}
	}
	if off < 0 || off > int64(len(rs.events)) {
		it.err = fmt.Errorf("%w: chunkmap offset outside the event region", ErrCorruptStream)
		return
	}

	it.d = decoder{buf: rs.events, pos: int(off), depth: rs.o.Depth}
	for {
		ev, err := it.d.next()
		if err == io.EOF || errors.Is(err, errShortRecord) {
			it.srcDone = true
			return
		}
		if err != nil {
			it.err = err
			return
		}
		if ev.Timestamp() >= t {
			it.pending = ev
			return
		}
	}
}

func (it *Iterator) readSource() (Event, error) {
	if ev := it.pending; ev != nil {
		it.pending = nil
		return ev, nil
	}
	ev, err := it.d.next()
	if err == io.EOF || errors.Is(err, errShortRecord) {
		// A short record is a torn tail from an interrupted append.
		return nil, io.EOF
	}
	return ev, err
}

// feed runs one event through the filter stack from the given stage down,
// queueing whatever falls out of the last stage. A stage reporting done
// clips the stream: the source stops and everything downstream is flushed.
func (it *Iterator) feed(stage int, ev Event) error {
	if stage == len(it.filters) {
		it.queue = append(it.queue, ev)
		return nil
	}
	if it.closed[stage] {
		return nil
	}

	out, done, err := it.filters[stage].Step(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFilter, err)
	}
	for _, o := range out {
		if err := it.feed(stage+1, o); err != nil {
			return err
		}
	}
	if done {
		it.srcDone = true
		it.closed[stage] = true
		return it.finish(stage + 1)
	}
	return nil
}

// finish propagates end-of-stream from the given stage down, flushing each
// stage's buffered output through the rest of the stack.
func (it *Iterator) finish(from int) error {
	for s := from; s < len(it.filters); s++ {
		if it.closed[s] {
			return nil // everything below was flushed when s closed
		}
		it.closed[s] = true

		out, err := it.filters[s].Flush()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFilter, err)
		}
		for _, o := range out {
			if err := it.feed(s+1, o); err != nil {
				return err
			}
		}
	}
	return nil
}

// Next advances the cursor to the next event and returns true if one is
// available.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}

	for len(it.queue) == 0 {
		if it.srcDone {
			if it.flushed {
				return false
			}
			it.flushed = true
			if err := it.finish(0); err != nil {
				it.err = err
				return false
			}
			continue
		}

		ev, err := it.readSource()
		if err == io.EOF {
			it.srcDone = true
			continue
		}
		if err != nil {
			it.err = err
			return false
		}
		if err := it.feed(0, ev); err != nil {
			it.err = err
			return false
		}
	}

	it.cur = it.queue[0]
	it.queue = it.queue[1:]
	return true
}

// Event returns the current event.
func (it *Iterator) Event() Event { return it.cur }

// Err exposes iterator errors, if any.
func (it *Iterator) Err() error { return it.err }

// Collect drains the iterator.
func (it *Iterator) Collect() ([]Event, error) {
	var evs []Event
	for it.Next() {
		evs = append(evs, it.Event())
	}
	return evs, it.Err()
}
