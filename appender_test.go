package secdb_test

import (
	"os"
	"path/filepath"

	"github.com/3liv/secdb"
	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Appender", func() {
	var dir, path string
	var opts *secdb.Options

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "secdb-appender-test")
		Expect(err).NotTo(HaveOccurred())

		path = filepath.Join(dir, "X-2012-01-15.secdb")
		opts = &secdb.Options{Symbol: "X", Date: "2012-01-15", Depth: 2, Scale: 100}
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("should round-trip a single snapshot", func() {
		px := func(s string) int64 { return opts.ScalePx(decimal.RequireFromString(s)) }
		seedFile(path, opts, md(1326601810453,
			quotes(px("450.10"), 100, px("449.56"), 1000),
			quotes(px("452.43"), 20, px("454.15"), 40),
		))

		rs, err := secdb.OpenReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		evs, err := rs.Events()
		Expect(err).NotTo(HaveOccurred())
		Expect(evs).To(HaveLen(1))

		snap := evs[0].(*secdb.MarketData)
		Expect(snap.Time).To(Equal(int64(1326601810453)))
		Expect(snap.Bid).To(Equal(quotes(45010, 100, 44956, 1000)))
		Expect(snap.Ask).To(Equal(quotes(45243, 20, 45415, 40)))
	})

	It("should prevent out-of-order appends", func() {
		apd, err := secdb.OpenAppendFile(path, opts)
		Expect(err).NotTo(HaveOccurred())

		Expect(apd.Append(md(testDay+100, quotes(100, 1, 99, 1), quotes(101, 1, 102, 1)))).To(Succeed())
		Expect(apd.Append(md(testDay+50, quotes(100, 1, 99, 1), quotes(101, 1, 102, 1)))).
			To(MatchError(secdb.ErrOutOfOrder))
		Expect(apd.Append(trade(testDay+50, 1, 100, 5))).To(MatchError(secdb.ErrOutOfOrder))
		Expect(apd.Close()).To(Succeed())

		evs, err := readAll(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(evs).To(HaveLen(1))
		Expect(evs[0].Timestamp()).To(Equal(testDay + 100))
	})

	It("should accept equal timestamps", func() {
		apd, err := secdb.OpenAppendFile(path, opts)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = apd.Close() }()

		Expect(apd.Append(trade(testDay, 1, 100, 5))).To(Succeed())
		Expect(apd.Append(trade(testDay, 2, 101, 5))).To(Succeed())
	})

	It("should reject timestamps outside the file's day", func() {
		apd, err := secdb.OpenAppendFile(path, opts)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = apd.Close() }()

		Expect(apd.Append(trade(testDay-1, 1, 100, 5))).To(MatchError(secdb.ErrOutOfRange))
		Expect(apd.Append(trade(testDay+86_400_000, 1, 100, 5))).To(MatchError(secdb.ErrOutOfRange))
		Expect(apd.Append(trade(testDay+86_399_999, 1, 100, 5))).To(Succeed())
	})

	It("should reject snapshots with the wrong number of levels", func() {
		apd, err := secdb.OpenAppendFile(path, opts)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = apd.Close() }()

		err = apd.Append(md(testDay, quotes(100, 1), quotes(101, 1, 102, 1)))
		Expect(err).To(MatchError(ContainSubstring("2 levels per side")))
	})

	It("should refuse mismatched options on reopen", func() {
		seedFile(path, opts, trade(testDay, 1, 100, 5))

		_, err := secdb.OpenAppendFile(path, &secdb.Options{Symbol: "X", Date: "2012-01-15", Depth: 3, Scale: 100})
		Expect(err).To(MatchError(secdb.ErrIncompatibleHeader))

		_, err = secdb.OpenAppendFile(path, &secdb.Options{Symbol: "X", Date: "2012-01-15", Depth: 2, Scale: 1000})
		Expect(err).To(MatchError(secdb.ErrIncompatibleHeader))
	})

	It("should resume appending after a reopen", func() {
		seedFile(path, opts,
			md(testDay+1000, quotes(100, 10, 99, 10), quotes(101, 10, 102, 10)),
			md(testDay+2000, quotes(100, 12, 99, 10), quotes(101, 10, 102, 10)),
		)

		apd, err := secdb.OpenAppendFile(path, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(apd.Append(md(testDay+3000, quotes(100, 14, 99, 10), quotes(101, 10, 102, 11)))).To(Succeed())
		Expect(apd.Append(trade(testDay+3500, 7, 100, 25))).To(Succeed())
		Expect(apd.Close()).To(Succeed())

		evs, err := readAll(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(evs).To(HaveLen(4))
		Expect(evs[2].(*secdb.MarketData).Bid).To(Equal(quotes(100, 14, 99, 10)))
		Expect(evs[2].(*secdb.MarketData).Ask).To(Equal(quotes(101, 10, 102, 11)))
		Expect(evs[3].(*secdb.Trade).Volume).To(Equal(uint64(25)))

		// still a single populated chunk, the reopened snapshot was a delta
		info, err := secdb.ReadInfo(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Presence.Chunks).To(Equal([]int{0}))
	})

	It("should anchor every populated chunk at a full snapshot", func() {
		opts.ChunkSize = 60_000
		seedFile(path, opts,
			md(testDay, quotes(100, 10, 99, 10), quotes(101, 10, 102, 10)),
			md(testDay+10, quotes(100, 11, 99, 10), quotes(101, 10, 102, 10)),
			trade(testDay+20, 1, 100, 5),
			md(testDay+70_000, quotes(102, 10, 99, 10), quotes(103, 10, 104, 10)),
			md(testDay+130_000, quotes(103, 10, 99, 10), quotes(104, 10, 105, 10)),
		)

		rs, err := secdb.OpenReadFile(path)
		Expect(err).NotTo(HaveOccurred())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())

		var populated []int
		for bucket, off := range rs.Chunkmap() {
			if off == 0 {
				continue
			}
			populated = append(populated, bucket)
			Expect(data[off]).To(Equal(byte(0xC0)), "chunk %d must anchor at a full snapshot", bucket)
		}
		Expect(populated).To(Equal([]int{0, 1, 2}))
	})

	It("should not anchor chunks at trades", func() {
		opts.ChunkSize = 60_000
		seedFile(path, opts,
			trade(testDay+10, 1, 100, 5),
			trade(testDay+61_000, 2, 101, 5),
		)

		info, err := secdb.ReadInfo(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Presence.Chunks).To(BeEmpty())

		evs, err := readAll(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(evs).To(HaveLen(2))
	})

	It("should fail operations on a closed appender", func() {
		apd, err := secdb.OpenAppendFile(path, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(apd.Close()).To(Succeed())
		Expect(apd.Append(trade(testDay, 1, 100, 5))).To(MatchError(`secdb: is closed`))
		Expect(apd.Close()).To(MatchError(`secdb: is closed`))
	})
})

func readAll(path string) ([]secdb.Event, error) {
	rs, err := secdb.OpenReadFile(path)
	if err != nil {
		return nil, err
	}
	return rs.Events()
}
