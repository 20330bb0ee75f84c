package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Seed scenario 3: order book parse from array of tuples
// [[30000,1,2.5],[29999,0,1.0],[30001,1,-1.5]] (price, count, signed
// amount): first => bid (30000, 2.5); second => discarded (count=0); third
// => ask (30001, 1.5).
func TestOrderBookSeedScenario(t *testing.T) {
	bids := []PriceLevel{{Price: 30000, Amount: 2.5}}
	asks := []PriceLevel{{Price: 30001, Amount: 1.5}}
	// Level with amount 0 must never be constructed into the book at all —
	// the adapter parser drops it before calling NewOrderBook, mirroring
	// "discarded (count=0)".
	book, err := NewOrderBook("BTC/USDT", bids, asks, 1700000000000, 0)
	require.NoError(t, err)
	assert.Equal(t, []PriceLevel{{Price: 30000, Amount: 2.5}}, book.Bids)
	assert.Equal(t, []PriceLevel{{Price: 30001, Amount: 1.5}}, book.Asks)
}

func TestOrderBookDropsZeroAmountLevels(t *testing.T) {
	bids := []PriceLevel{{Price: 30000, Amount: 2.5}, {Price: 29999, Amount: 0}}
	book, err := NewOrderBook("BTC/USDT", bids, nil, 0, 0)
	require.NoError(t, err)
	assert.Len(t, book.Bids, 1)
}

func TestOrderBookRejectsCrossedBook(t *testing.T) {
	bids := []PriceLevel{{Price: 30001, Amount: 1}}
	asks := []PriceLevel{{Price: 30000, Amount: 1}}
	_, err := NewOrderBook("BTC/USDT", bids, asks, 0, 0)
	assert.Error(t, err)
}

func TestOrderBookSortsDescendingAscending(t *testing.T) {
	bids := []PriceLevel{{Price: 100, Amount: 1}, {Price: 102, Amount: 1}, {Price: 101, Amount: 1}}
	asks := []PriceLevel{{Price: 105, Amount: 1}, {Price: 103, Amount: 1}, {Price: 104, Amount: 1}}
	book, err := NewOrderBook("X/Y", bids, asks, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{102, 101, 100}, priceSlice(book.Bids))
	assert.Equal(t, []float64{103, 104, 105}, priceSlice(book.Asks))
}

func priceSlice(levels []PriceLevel) []float64 {
	out := make([]float64, len(levels))
	for i, l := range levels {
		out[i] = l.Price
	}
	return out
}

// Seed scenario 4: OHLCV reorder from source tuple
// [1700000000000,100,105,110,95,42] (MTS, OPEN, CLOSE, HIGH, LOW, VOLUME)
// parsed as [1700000000000,100,110,95,105,42].
func TestCandleReorderSeedScenario(t *testing.T) {
	order := CandleColumnOrder{Timestamp: 0, Open: 1, Close: 2, High: 3, Low: 4, Volume: 5}
	tuple := []float64{1700000000000, 100, 105, 110, 95, 42}

	c, err := ParseCandleTuple(tuple, order)
	require.NoError(t, err)
	assert.Equal(t, Candle{
		Timestamp: 1700000000000, Open: 100, High: 110, Low: 95, Close: 105, Volume: 42,
	}, c)
}

func TestParseCandleTupleRejectsShortTuple(t *testing.T) {
	order := CandleColumnOrder{Timestamp: 0, Open: 1, Close: 2, High: 3, Low: 4, Volume: 5}
	_, err := ParseCandleTuple([]float64{1700000000000, 100}, order)
	assert.Error(t, err)
}

func TestCandleChronologicalSortInvariant(t *testing.T) {
	candles := []Candle{
		{Timestamp: 1700000000002, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{Timestamp: 1700000000000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{Timestamp: 1700000000001, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
	}
	sorted := SortCandles(candles)
	assert.Equal(t, int64(1700000000000), sorted[0].Timestamp)
	assert.Equal(t, int64(1700000000001), sorted[1].Timestamp)
	assert.Equal(t, int64(1700000000002), sorted[2].Timestamp)
}

func TestOrderInvariants(t *testing.T) {
	o := &Order{Amount: 10, Filled: 4, Cost: 40, Status: StatusPartiallyFilled}
	o.Derive()
	assert.InDelta(t, 6, o.Remaining, 1e-9)
	assert.InDelta(t, 10, o.Average, 1e-9)
	assert.InDelta(t, o.Amount, o.Filled+o.Remaining, 1e-9)
}

func TestOrderStatusTransitions(t *testing.T) {
	assert.True(t, StatusNew.CanTransitionTo(StatusPartiallyFilled))
	assert.True(t, StatusPartiallyFilled.CanTransitionTo(StatusFilled))
	assert.False(t, StatusFilled.CanTransitionTo(StatusCanceled))
	assert.True(t, StatusNew.CanTransitionTo(StatusCanceled))
}

func TestBookAssemblerGapDetection(t *testing.T) {
	a := NewBookAssembler("BTC/USDT")
	snap, err := NewOrderBook("BTC/USDT", []PriceLevel{{Price: 100, Amount: 1}}, []PriceLevel{{Price: 101, Amount: 1}}, 0, 0)
	require.NoError(t, err)
	a.ApplySnapshot(snap, 10)

	delta := OrderBookEvent{
		Book:          &OrderBook{Bids: []PriceLevel{{Price: 100, Amount: 2}}},
		FirstUpdateID: 11,
		FinalUpdateID: 11,
	}
	require.NoError(t, a.ApplyDelta(delta))

	gappy := OrderBookEvent{FirstUpdateID: 20, FinalUpdateID: 21}
	assert.ErrorIs(t, a.ApplyDelta(gappy), ErrOutOfSync)
}

func TestTickerFillDerived(t *testing.T) {
	ticker := &Ticker{Last: 110, Open: 100}
	ticker.FillDerived()
	assert.InDelta(t, 10, ticker.Change, 1e-9)
	assert.InDelta(t, 10, ticker.Percentage, 1e-9)
}
