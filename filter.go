package secdb

import "errors"

// A Filter is a stateful event transformer. Step consumes one event and
// returns the events to emit downstream; done reports that the filter
// accepts no further input, clipping the stream early. Flush is called once
// at end-of-stream and returns any buffered output. Filters stack: the
// output of each stage feeds the next.
type Filter interface {
	Step(ev Event) (emitted []Event, done bool, err error)
	Flush() ([]Event, error)
}

// --------------------------------------------------------------------

// RangeFilter clips a stream to [start, end]. As the first filter on a
// reader it additionally drives a chunkmap seek to start, which skips trades
// stored in start's chunk ahead of that chunk's first snapshot; cascaded on
// top of another filter it only clips.
type RangeFilter struct {
	start, end int64 // epoch ms; -1 = open-ended
	startTOD   tod
	endTOD     tod
}

type tod struct {
	hh, mm, ss int
	set        bool
}

func (t tod) millis() int64 {
	return int64(t.hh)*3_600_000 + int64(t.mm)*60_000 + int64(t.ss)*1000
}

// Range clips to absolute millisecond timestamps. Either bound may be -1 to
// leave it open.
func Range(start, end int64) *RangeFilter {
	return &RangeFilter{start: start, end: end}
}

// RangeTOD clips to times of day resolved against the file's date. Only
// valid as the first filter on a reader, which is the one place the file
// date is known.
func RangeTOD(startHH, startMM, startSS, endHH, endMM, endSS int) *RangeFilter {
	return &RangeFilter{
		start:    -1,
		end:      -1,
		startTOD: tod{startHH, startMM, startSS, true},
		endTOD:   tod{endHH, endMM, endSS, true},
	}
}

func (f *RangeFilter) resolve(dayStart int64, first bool) error {
	if !first && (f.startTOD.set || f.endTOD.set) {
		return errors.New("secdb: a time-of-day range must be the first filter")
	}
	if f.startTOD.set {
		f.start = dayStart + f.startTOD.millis()
		f.startTOD.set = false
	}
	if f.endTOD.set {
		f.end = dayStart + f.endTOD.millis()
		f.endTOD.set = false
	}
	return nil
}

// Step implements Filter.
func (f *RangeFilter) Step(ev Event) ([]Event, bool, error) {
	ts := ev.Timestamp()
	if f.end >= 0 && ts > f.end {
		return nil, true, nil
	}
	if f.start >= 0 && ts < f.start {
		return nil, false, nil
	}
	return []Event{ev}, false, nil
}

// Flush implements Filter.
func (f *RangeFilter) Flush() ([]Event, error) { return nil, nil }

// --------------------------------------------------------------------

// CandleFilter aggregates snapshots and trades into OHLC candles. Open and
// close come from snapshot mid-prices when the bucket saw any snapshot,
// otherwise from trade prices; high and low prefer trade prices. A period
// of 0 folds the entire stream into a single candle.
type CandleFilter struct {
	period int64
	open   bool
	bucket int64

	mdFirst, mdLast int64 // mid prices
	mdMin, mdMax    int64
	trFirst, trLast int64
	trMin, trMax    int64
	hasMD, hasTrade bool
	volume          uint64
}

// Candles aggregates the stream into candles of the given period in
// milliseconds.
func Candles(period int64) *CandleFilter {
	return &CandleFilter{period: period}
}

func (f *CandleFilter) bucketStart(ts int64) int64 {
	if f.period <= 0 {
		if f.open {
			return f.bucket
		}
		return ts
	}
	return ts - ts%f.period
}

// Step implements Filter.
func (f *CandleFilter) Step(ev Event) ([]Event, bool, error) {
	var md *MarketData
	var tr *Trade
	switch ev := ev.(type) {
	case *MarketData:
		md = ev
	case *Trade:
		tr = ev
	default:
		return []Event{ev}, false, nil // pass through derived events
	}

	var out []Event
	if start := f.bucketStart(ev.Timestamp()); !f.open || start != f.bucket {
		if f.open {
			out = append(out, f.emit())
		}
		f.reset(start)
	}

	if md != nil {
		mid := md.Mid()
		if !f.hasMD {
			f.hasMD = true
			f.mdFirst, f.mdMin, f.mdMax = mid, mid, mid
		}
		f.mdLast = mid
		if mid < f.mdMin {
			f.mdMin = mid
		}
		if mid > f.mdMax {
			f.mdMax = mid
		}
	} else {
		if !f.hasTrade {
			f.hasTrade = true
			f.trFirst, f.trMin, f.trMax = tr.Price, tr.Price, tr.Price
		}
		f.trLast = tr.Price
		if tr.Price < f.trMin {
			f.trMin = tr.Price
		}
		if tr.Price > f.trMax {
			f.trMax = tr.Price
		}
		f.volume += tr.Volume
	}
	return out, false, nil
}

// Flush implements Filter.
func (f *CandleFilter) Flush() ([]Event, error) {
	if !f.open {
		return nil, nil
	}
	return []Event{f.emit()}, nil
}

func (f *CandleFilter) reset(bucket int64) {
	*f = CandleFilter{period: f.period, open: true, bucket: bucket}
}

func (f *CandleFilter) emit() Event {
	c := &Candle{Time: f.bucket, Volume: f.volume}
	if f.hasMD {
		c.Open, c.Close = f.mdFirst, f.mdLast
	} else {
		c.Open, c.Close = f.trFirst, f.trLast
	}
	if f.hasTrade {
		c.High, c.Low = f.trMax, f.trMin
	} else {
		c.High, c.Low = f.mdMax, f.mdMin
	}
	f.open = false
	return c
}
