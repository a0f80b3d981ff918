package secdb_test

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/3liv/secdb"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("RangeFilter", func() {
	var dir, path string
	var opts *secdb.Options

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "secdb-filter-test")
		Expect(err).NotTo(HaveOccurred())

		path = filepath.Join(dir, "X-2012-01-15.secdb")
		opts = &secdb.Options{Symbol: "X", Date: "2012-01-15", Depth: 1, ChunkSize: 60_000}
		seedFile(path, opts,
			md(testDay+1000, quotes(100, 10), quotes(110, 10)),
			trade(testDay+2000, 1, 105, 5),
			md(testDay+3000, quotes(101, 10), quotes(110, 10)),
			md(testDay+70_000, quotes(102, 10), quotes(111, 10)),
			trade(testDay+80_000, 2, 106, 5),
		)
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("should clip both ends", func() {
		rs, err := secdb.OpenReadFile(path)
		Expect(err).NotTo(HaveOccurred())

		evs, err := rs.Events(secdb.Range(testDay+2000, testDay+70_000))
		Expect(err).NotTo(HaveOccurred())
		Expect(evs).To(HaveLen(3))
		Expect(evs[0].Timestamp()).To(Equal(testDay + 2000))
		Expect(evs[2].Timestamp()).To(Equal(testDay + 70_000))
	})

	It("should leave open ends open", func() {
		rs, err := secdb.OpenReadFile(path)
		Expect(err).NotTo(HaveOccurred())

		evs, err := rs.Events(secdb.Range(-1, -1))
		Expect(err).NotTo(HaveOccurred())
		Expect(evs).To(HaveLen(5))
	})

	It("should match a plain scan when used with a seek", func() {
		rs, err := secdb.OpenReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		all, err := rs.Events()
		Expect(err).NotTo(HaveOccurred())

		start, end := testDay+2000, testDay+70_000
		var want []secdb.Event
		for _, ev := range all {
			if ts := ev.Timestamp(); ts >= start && ts <= end {
				want = append(want, ev)
			}
		}

		rs2, err := secdb.OpenReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		got, err := rs2.Events(secdb.Range(start, end))
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(want))
	})

	It("should clip identically when cascaded behind another filter", func() {
		rs, err := secdb.OpenReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		seeked, err := rs.Events(secdb.Range(testDay+2000, testDay+70_000))
		Expect(err).NotTo(HaveOccurred())

		rs2, err := secdb.OpenReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		cascaded, err := rs2.Events(passFilter{}, secdb.Range(testDay+2000, testDay+70_000))
		Expect(err).NotTo(HaveOccurred())
		Expect(cascaded).To(Equal(seeked))
	})

	It("should resolve time-of-day bounds against the file's date", func() {
		rs, err := secdb.OpenReadFile(path)
		Expect(err).NotTo(HaveOccurred())

		// 00:00:02 .. 00:01:10
		evs, err := rs.Events(secdb.RangeTOD(0, 0, 2, 0, 1, 10))
		Expect(err).NotTo(HaveOccurred())
		Expect(evs).To(HaveLen(3))
		Expect(evs[0].Timestamp()).To(Equal(testDay + 2000))
		Expect(evs[2].Timestamp()).To(Equal(testDay + 70_000))
	})

	It("should reject time-of-day bounds on a cascaded range", func() {
		rs, err := secdb.OpenReadFile(path)
		Expect(err).NotTo(HaveOccurred())

		_, err = rs.Iterator(secdb.Candles(60_000), secdb.RangeTOD(0, 0, 2, 0, 1, 10))
		Expect(err).To(MatchError(`secdb: a time-of-day range must be the first filter`))
	})
})

var _ = Describe("CandleFilter", func() {
	var dir, path string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "secdb-candle-test")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(dir, "X-1970-01-01.secdb")
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("should aggregate trades into hourly candles", func() {
		seedFile(path, &secdb.Options{Symbol: "X", Date: "1970-01-01", Depth: 1},
			trade(1, 1, 10, 5),
			trade(1000, 2, 12, 3),
			trade(3_600_001, 3, 9, 1),
		)

		evs, err := readAllWith(path, secdb.Candles(3_600_000))
		Expect(err).NotTo(HaveOccurred())
		Expect(evs).To(Equal([]secdb.Event{
			&secdb.Candle{Time: 0, Open: 10, High: 12, Low: 10, Close: 12, Volume: 8},
			&secdb.Candle{Time: 3_600_000, Open: 9, High: 9, Low: 9, Close: 9, Volume: 1},
		}))
	})

	It("should fall back to mid-prices without trades", func() {
		seedFile(path, &secdb.Options{Symbol: "X", Date: "1970-01-01", Depth: 1},
			md(1000, quotes(100, 10), quotes(110, 10)), // mid 105
			md(2000, quotes(104, 10), quotes(110, 10)), // mid 107
			md(3000, quotes(102, 10), quotes(110, 10)), // mid 106
		)

		evs, err := readAllWith(path, secdb.Candles(60_000))
		Expect(err).NotTo(HaveOccurred())
		Expect(evs).To(Equal([]secdb.Event{
			&secdb.Candle{Time: 0, Open: 105, High: 107, Low: 105, Close: 106},
		}))
	})

	It("should source open/close from snapshots and high/low from trades", func() {
		seedFile(path, &secdb.Options{Symbol: "X", Date: "1970-01-01", Depth: 1},
			md(1000, quotes(100, 10), quotes(110, 10)), // mid 105
			trade(1500, 1, 120, 5),
			trade(1600, 2, 95, 2),
			md(2000, quotes(106, 10), quotes(110, 10)), // mid 108
		)

		evs, err := readAllWith(path, secdb.Candles(60_000))
		Expect(err).NotTo(HaveOccurred())
		Expect(evs).To(Equal([]secdb.Event{
			&secdb.Candle{Time: 0, Open: 105, High: 120, Low: 95, Close: 108, Volume: 7},
		}))
	})

	It("should fold the whole stream into one candle with no period", func() {
		seedFile(path, &secdb.Options{Symbol: "X", Date: "1970-01-01", Depth: 1},
			trade(1, 1, 10, 5),
			trade(3_600_001, 2, 12, 3),
			trade(40_000_000, 3, 9, 1),
		)

		evs, err := readAllWith(path, secdb.Candles(0))
		Expect(err).NotTo(HaveOccurred())
		Expect(evs).To(Equal([]secdb.Event{
			&secdb.Candle{Time: 1, Open: 10, High: 12, Low: 9, Close: 9, Volume: 9},
		}))
	})
})

var _ = Describe("filter pipeline", func() {
	var dir, path string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "secdb-pipeline-test")
		Expect(err).NotTo(HaveOccurred())

		path = filepath.Join(dir, "X-2012-01-15.secdb")
		seedFile(path, &secdb.Options{Symbol: "X", Date: "2012-01-15", Depth: 1},
			trade(testDay+1000, 1, 100, 5),
			trade(testDay+2000, 2, 101, 5),
		)
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("should surface filter errors", func() {
		_, err := readAllWith(path, failingFilter{})
		Expect(err).To(MatchError(secdb.ErrFilter))
		Expect(err).To(MatchError(ContainSubstring("boom")))
	})
})

type passFilter struct{}

func (passFilter) Step(ev secdb.Event) ([]secdb.Event, bool, error) {
	return []secdb.Event{ev}, false, nil
}

func (passFilter) Flush() ([]secdb.Event, error) { return nil, nil }

type failingFilter struct{}

func (failingFilter) Step(secdb.Event) ([]secdb.Event, bool, error) {
	return nil, false, errors.New("boom")
}

func (failingFilter) Flush() ([]secdb.Event, error) { return nil, nil }

func readAllWith(path string, filters ...secdb.Filter) ([]secdb.Event, error) {
	rs, err := secdb.OpenReadFile(path)
	if err != nil {
		return nil, err
	}
	return rs.Events(filters...)
}
