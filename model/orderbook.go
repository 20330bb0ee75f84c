package model

import (
	"fmt"
	"sort"
)

// PriceLevel is one (price, amount) level of an order book side.
type PriceLevel struct {
	Price  float64
	Amount float64
}

// OrderBook is a symbol's bid/ask ladder. Bids are sorted strictly
// descending by price, asks strictly ascending; zero-amount levels are
// removed, never retained, and a crossed book (best bid >= best ask) is
// rejected by NewOrderBook.
type OrderBook struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp int64
	Nonce     int64 // optional monotonic sequence; zero means absent
}

// NewOrderBook builds an OrderBook from raw (possibly unsorted, possibly
// zero-amount) levels, enforcing every invariant in the data model: levels
// are sorted into the required order, zero-amount levels are dropped, and a
// crossed book is rejected.
func NewOrderBook(symbol string, rawBids, rawAsks []PriceLevel, timestamp, nonce int64) (*OrderBook, error) {
	bids := dropZero(rawBids)
	asks := dropZero(rawAsks)

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	if len(bids) > 0 && len(asks) > 0 && bids[0].Price >= asks[0].Price {
		return nil, fmt.Errorf("model: crossed order book for %s: best bid %.8f >= best ask %.8f", symbol, bids[0].Price, asks[0].Price)
	}

	return &OrderBook{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: timestamp,
		Nonce:     nonce,
	}, nil
}

func dropZero(levels []PriceLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Amount > 0 {
			out = append(out, l)
		}
	}
	return out
}

// BookAssembler is an opt-in helper for callers who want the core to
// maintain order-book state across a snapshot + delta stream, since the
// pipeline itself never reconciles deltas (Non-goals: order/balance
// reconciliation between REST snapshots and WS deltas is the caller's job).
// Grounded on the Binance-style firstUpdateId/finalUpdateId gap-detection
// algorithm: a delta is applied only if it contiguously follows the last
// applied update id; a gap means the book is out of sync and the caller
// must re-snapshot.
type BookAssembler struct {
	symbol      string
	bids        map[float64]float64
	asks        map[float64]float64
	lastUpdate  int64
	initialized bool
}

// NewBookAssembler creates an assembler for one symbol.
func NewBookAssembler(symbol string) *BookAssembler {
	return &BookAssembler{
		symbol: symbol,
		bids:   make(map[float64]float64),
		asks:   make(map[float64]float64),
	}
}

// ErrOutOfSync is returned by ApplyDelta when a gap is detected between the
// last applied update and the incoming delta's FirstUpdateID.
var ErrOutOfSync = fmt.Errorf("model: order book out of sync, re-snapshot required")

// ApplySnapshot resets the assembler to a fresh REST/WS snapshot.
func (a *BookAssembler) ApplySnapshot(book *OrderBook, lastUpdateID int64) {
	a.bids = make(map[float64]float64, len(book.Bids))
	a.asks = make(map[float64]float64, len(book.Asks))
	for _, l := range book.Bids {
		a.bids[l.Price] = l.Amount
	}
	for _, l := range book.Asks {
		a.asks[l.Price] = l.Amount
	}
	a.lastUpdate = lastUpdateID
	a.initialized = true
}

// ApplyDelta merges one WS delta event into the assembled book. It returns
// ErrOutOfSync if the delta does not contiguously follow the last applied
// update, in which case the caller must re-snapshot before calling again.
func (a *BookAssembler) ApplyDelta(event OrderBookEvent) error {
	if !a.initialized {
		return fmt.Errorf("model: assembler for %s has no snapshot applied yet", a.symbol)
	}
	if event.FirstUpdateID > a.lastUpdate+1 {
		return ErrOutOfSync
	}
	if event.FinalUpdateID <= a.lastUpdate {
		return nil // already applied, stale delta
	}
	for _, l := range event.Book.Bids {
		applyLevel(a.bids, l)
	}
	for _, l := range event.Book.Asks {
		applyLevel(a.asks, l)
	}
	a.lastUpdate = event.FinalUpdateID
	return nil
}

func applyLevel(side map[float64]float64, l PriceLevel) {
	if l.Amount == 0 {
		delete(side, l.Price)
		return
	}
	side[l.Price] = l.Amount
}

// Snapshot returns the assembler's current state as an OrderBook.
func (a *BookAssembler) Snapshot(timestamp int64) (*OrderBook, error) {
	bids := make([]PriceLevel, 0, len(a.bids))
	for p, amt := range a.bids {
		bids = append(bids, PriceLevel{Price: p, Amount: amt})
	}
	asks := make([]PriceLevel, 0, len(a.asks))
	for p, amt := range a.asks {
		asks = append(asks, PriceLevel{Price: p, Amount: amt})
	}
	return NewOrderBook(a.symbol, bids, asks, timestamp, a.lastUpdate)
}
