package secdb

// Event is one element of a file's stream: a *MarketData or a *Trade.
// Filters may introduce derived events such as *Candle.
type Event interface {
	Timestamp() int64
}

// Quote is a single price level. Prices are stored as scaled integers;
// an absent level is (0, 0).
type Quote struct {
	Price int64
	Size  uint64
}

// MarketData is a full order-book snapshot with a fixed number of levels
// per side. Level 0 is the best bid/ask.
type MarketData struct {
	Time int64 // milliseconds since epoch
	Bid  []Quote
	Ask  []Quote
}

// Timestamp implements Event.
func (md *MarketData) Timestamp() int64 { return md.Time }

// Mid returns the scaled mid-price between the best bid and the best ask.
func (md *MarketData) Mid() int64 { return (md.Bid[0].Price + md.Ask[0].Price) / 2 }

// SamePrices reports whether the top n levels of md and prev carry the same
// prices and, unless priceOnly, the same sizes.
func (md *MarketData) SamePrices(prev *MarketData, n int, priceOnly bool) bool {
	if prev == nil || len(prev.Bid) != len(md.Bid) || len(prev.Ask) != len(md.Ask) {
		return false
	}
	if n > len(md.Bid) {
		n = len(md.Bid)
	}
	for i := 0; i < n; i++ {
		if md.Bid[i].Price != prev.Bid[i].Price || md.Ask[i].Price != prev.Ask[i].Price {
			return false
		}
		if !priceOnly && (md.Bid[i].Size != prev.Bid[i].Size || md.Ask[i].Size != prev.Ask[i].Size) {
			return false
		}
	}
	return true
}

func (md *MarketData) clone() *MarketData {
	return &MarketData{
		Time: md.Time,
		Bid:  append([]Quote(nil), md.Bid...),
		Ask:  append([]Quote(nil), md.Ask...),
	}
}

// Trade is a single executed transaction.
type Trade struct {
	Time   int64 // milliseconds since epoch
	ID     uint64
	Price  int64 // scaled integer
	Volume uint64
}

// Timestamp implements Event.
func (t *Trade) Timestamp() int64 { return t.Time }

// Candle aggregates trading activity over a time bucket. Prices are scaled
// integers like everywhere else; Time is the bucket's start timestamp.
type Candle struct {
	Time   int64
	Open   int64
	High   int64
	Low    int64
	Close  int64
	Volume uint64
}

// Timestamp implements Event.
func (c *Candle) Timestamp() int64 { return c.Time }
