package secdb

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// DB locates secdb files for (symbol, date) pairs under a root directory.
// Files live at <root>/stock/<YYYY>/<MM>/<symbol>-<YYYY-MM-DD>.secdb.
type DB struct {
	root string
}

// New returns a DB rooted at dir. An empty dir falls back to the
// process-wide root resolved from configuration.
func New(dir string) *DB {
	if dir == "" {
		dir = Root()
	}
	return &DB{root: dir}
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", "2006.01.02"}

// ParseDate accepts YYYY-MM-DD, YYYY/MM/DD and YYYY.MM.DD.
func ParseDate(date string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("secdb: invalid date %q", date)
}

// Path returns the file location for a symbol on a trading date.
func (db *DB) Path(symbol, date string) (string, error) {
	d, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return filepath.Join(db.root, "stock",
		fmt.Sprintf("%04d", d.Year()),
		fmt.Sprintf("%02d", int(d.Month())),
		symbol+"-"+d.Format("2006-01-02")+".secdb"), nil
}

// OpenAppend opens the file for a (symbol, date) pair in append mode,
// creating it with the given options when absent.
func (db *DB) OpenAppend(symbol, date string, o *Options) (*Appender, error) {
	d, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	oo := o.norm()
	oo.Symbol = symbol
	oo.Date = d.Format("2006-01-02")

	path, err := db.Path(symbol, date)
	if err != nil {
		return nil, err
	}
	return OpenAppendFile(path, oo)
}

// OpenRead reads the file for a (symbol, date) pair into a detached
// ReaderState.
func (db *DB) OpenRead(symbol, date string) (*ReaderState, error) {
	path, err := db.Path(symbol, date)
	if err != nil {
		return nil, err
	}
	return OpenReadFile(path)
}

// Events decodes the whole stream of a (symbol, date) file through the
// given filters.
func (db *DB) Events(symbol, date string, filters ...Filter) ([]Event, error) {
	rs, err := db.OpenRead(symbol, date)
	if err != nil {
		return nil, err
	}
	return rs.Events(filters...)
}

// fileRE extracts (symbol, date) from a stored file's base name.
var fileRE = regexp.MustCompile(`^(.+)-(\d{4}-\d{2}-\d{2})\.secdb$`)

func (db *DB) glob() ([]string, error) {
	return filepath.Glob(filepath.Join(db.root, "stock", "*", "*", "*.secdb"))
}

// Symbols lists the distinct symbols stored under the root, sorted.
func (db *DB) Symbols() ([]string, error) {
	paths, err := db.glob()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, path := range paths {
		m := fileRE.FindStringSubmatch(filepath.Base(path))
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		symbols = append(symbols, m[1])
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Dates lists the sorted trading dates stored for a symbol.
func (db *DB) Dates(symbol string) ([]string, error) {
	paths, err := db.glob()
	if err != nil {
		return nil, err
	}

	var dates []string
	for _, path := range paths {
		m := fileRE.FindStringSubmatch(filepath.Base(path))
		if m == nil || m[1] != symbol {
			continue
		}
		dates = append(dates, m[2])
	}
	sort.Strings(dates)
	return dates, nil
}

// CommonDates returns the sorted dates present for every given symbol.
func (db *DB) CommonDates(symbols ...string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	counts := make(map[string]int)
	for _, symbol := range symbols {
		dates, err := db.Dates(symbol)
		if err != nil {
			return nil, err
		}
		for _, d := range dates {
			counts[d]++
		}
	}

	var common []string
	for d, n := range counts {
		if n == len(symbols) {
			common = append(common, d)
		}
	}
	sort.Strings(common)
	return common, nil
}

// --------------------------------------------------------------------

// Presence describes which chunks of the day hold data.
type Presence struct {
	ChunkCount int   // total number of chunks in the day
	Chunks     []int // indices of populated chunks, ascending
}

// Info is the summary of one file.
type Info struct {
	Path     string
	Symbol   string
	Date     string
	Version  int
	Scale    int
	Depth    int
	Interval int64 // chunk width, ms
	Presence Presence
}

// Info summarizes the state's file without decoding events.
func (rs *ReaderState) Info() *Info {
	info := &Info{
		Path:     rs.path,
		Symbol:   rs.o.Symbol,
		Date:     rs.o.Date,
		Version:  rs.o.Version,
		Scale:    rs.o.Scale,
		Depth:    rs.o.Depth,
		Interval: rs.o.ChunkSize,
		Presence: Presence{ChunkCount: len(rs.chunkmap)},
	}
	for i, off := range rs.chunkmap {
		if off != 0 {
			info.Presence.Chunks = append(info.Presence.Chunks, i)
		}
	}
	return info
}

// ReadInfo summarizes the file at path.
func ReadInfo(path string) (*Info, error) {
	rs, err := OpenReadFile(path)
	if err != nil {
		return nil, err
	}
	return rs.Info(), nil
}

// Info summarizes the file for a (symbol, date) pair.
func (db *DB) Info(symbol, date string) (*Info, error) {
	path, err := db.Path(symbol, date)
	if err != nil {
		return nil, err
	}
	return ReadInfo(path)
}
