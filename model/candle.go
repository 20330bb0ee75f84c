package model

import (
	"fmt"
	"sort"
)

// SortCandles returns candles in chronological (ascending timestamp) order,
// the canonical order fetchOHLCV always returns regardless of the venue's
// native column order or direction.
func SortCandles(candles []Candle) []Candle {
	out := make([]Candle, len(candles))
	copy(out, candles)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// CandleColumnOrder names which index of a raw numeric candle tuple holds
// each OHLCV field. Most venues already return tuples in canonical
// [ts, open, high, low, close, volume] order, in which case a parser just
// types the tuple directly; ParseCandleTuple exists for the minority whose
// wire format doesn't, so the reorder happens in one place instead of once
// per adapter.
type CandleColumnOrder struct {
	Timestamp, Open, High, Low, Close, Volume int
}

// ParseCandleTuple reorders a raw numeric tuple into a canonical Candle
// per order. It is opt-in, like BookAssembler: a parser calls it only when
// its venue's native tuple layout isn't already canonical.
func ParseCandleTuple(tuple []float64, order CandleColumnOrder) (Candle, error) {
	max := order.Timestamp
	for _, idx := range []int{order.Open, order.High, order.Low, order.Close, order.Volume} {
		if idx > max {
			max = idx
		}
	}
	if max >= len(tuple) {
		return Candle{}, fmt.Errorf("model: candle tuple has %d elements, column order needs index %d", len(tuple), max)
	}
	return Candle{
		Timestamp: int64(tuple[order.Timestamp]),
		Open:      tuple[order.Open],
		High:      tuple[order.High],
		Low:       tuple[order.Low],
		Close:     tuple[order.Close],
		Volume:    tuple[order.Volume],
	}, nil
}
