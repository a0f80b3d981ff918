// Command secdb-reader dumps the content of a secdb database file.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/3liv/secdb"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	filename  string
	symbol    string
	date      string
	fileInfo  bool
	candles   bool
	period    int64
	depth     int
	epochTime bool
	unique    bool
	verbose   bool
)

func init() {
	flag.StringVar(&filename, "f", "", "read the given .secdb file")
	flag.StringVar(&symbol, "s", "", "read the file for this symbol under the configured root (with -date)")
	flag.StringVar(&date, "date", "", "trading date for -s, e.g. 2015-01-03")
	flag.BoolVar(&fileInfo, "i", false, "print file information only (no market data)")
	flag.BoolVar(&candles, "c", false, "print candles instead of raw events")
	flag.BoolVar(&candles, "candle", false, "same as -c")
	flag.Int64Var(&period, "p", 0, "candle period in milliseconds (0 = one candle for the whole file)")
	flag.IntVar(&depth, "d", 0, "limit output to this many levels per side (0 = all)")
	flag.BoolVar(&epochTime, "epoch-time", false, "print epoch milliseconds rather than HH:MM:SS")
	flag.BoolVar(&unique, "unique", false, "only print snapshots whose prices or quantities changed")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
}

func main() {
	flag.Parse()

	logger := newLogger()
	defer func() { _ = logger.Sync() }()
	secdb.SetLogger(logger)

	rs, err := open()
	if err != nil {
		logger.Fatal("cannot open file", zap.Error(err))
	}

	if fileInfo {
		printInfo(rs.Info())
		return
	}
	if candles {
		printCandles(logger, rs)
		return
	}
	printEvents(logger, rs)
}

func open() (*secdb.ReaderState, error) {
	switch {
	case filename != "":
		return secdb.OpenReadFile(filename)
	case symbol != "" && date != "":
		return secdb.New("").OpenRead(symbol, date)
	default:
		fmt.Fprintln(os.Stderr, "Dump content of a secdb database file")
		fmt.Fprintln(os.Stderr)
		flag.Usage()
		os.Exit(1)
		return nil, nil
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"
	if !verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}

	logger, err := config.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cannot initialize logger:", err)
		os.Exit(1)
	}
	return logger
}

func printInfo(info *secdb.Info) {
	fmt.Printf("path:      %s\n", info.Path)
	fmt.Printf("symbol:    %s\n", info.Symbol)
	fmt.Printf("date:      %s\n", info.Date)
	fmt.Printf("version:   %d\n", info.Version)
	fmt.Printf("scale:     %d\n", info.Scale)
	fmt.Printf("depth:     %d\n", info.Depth)
	fmt.Printf("interval:  %dms\n", info.Interval)
	fmt.Printf("presence:  %d/%d chunks %v\n",
		len(info.Presence.Chunks), info.Presence.ChunkCount, info.Presence.Chunks)
}

func printEvents(logger *zap.Logger, rs *secdb.ReaderState) {
	o := rs.Options()
	it, err := rs.Iterator()
	if err != nil {
		logger.Fatal("cannot iterate", zap.Error(err))
	}

	var prev *secdb.MarketData
	for it.Next() {
		switch ev := it.Event().(type) {
		case *secdb.MarketData:
			if unique && ev.SamePrices(prev, levelLimit(&o), false) {
				continue
			}
			prev = ev
			fmt.Printf("md    %s bid %s | ask %s\n",
				stamp(ev.Time), side(&o, ev.Bid), side(&o, ev.Ask))
		case *secdb.Trade:
			fmt.Printf("trade %s id=%d %s x %d\n",
				stamp(ev.Time), ev.ID, o.UnscalePx(ev.Price), ev.Volume)
		}
	}
	if err := it.Err(); err != nil {
		logger.Fatal("read failed", zap.Error(err))
	}
}

func printCandles(logger *zap.Logger, rs *secdb.ReaderState) {
	o := rs.Options()
	events, err := rs.Events(secdb.Candles(period))
	if err != nil {
		logger.Fatal("read failed", zap.Error(err))
	}

	for _, ev := range events {
		c, ok := ev.(*secdb.Candle)
		if !ok {
			continue
		}
		fmt.Printf("candle %s o=%s h=%s l=%s c=%s v=%d\n",
			stamp(c.Time), o.UnscalePx(c.Open), o.UnscalePx(c.High),
			o.UnscalePx(c.Low), o.UnscalePx(c.Close), c.Volume)
	}
}

func levelLimit(o *secdb.Options) int {
	if depth < 1 || depth > o.Depth {
		return o.Depth
	}
	return depth
}

func side(o *secdb.Options, levels []secdb.Quote) string {
	n := levelLimit(o)
	parts := make([]string, 0, n)
	for _, q := range levels[:n] {
		parts = append(parts, fmt.Sprintf("%sx%d", o.UnscalePx(q.Price), q.Size))
	}
	return strings.Join(parts, " ")
}

func stamp(ts int64) string {
	if epochTime {
		return fmt.Sprintf("%d", ts)
	}
	return time.UnixMilli(ts).UTC().Format("15:04:05.000")
}
