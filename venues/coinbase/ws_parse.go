package coinbase

import (
	"encoding/json"
	"strings"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
)

// wsEnvelope is the {channel, events} shape every Advanced Trade WS frame
// shares; channel routes the frame to the right parser, and each element of
// events carries its own "type" (snapshot/update).
type wsEnvelope struct {
	Channel string            `json:"channel"`
	Events  []json.RawMessage `json:"events"`
}

// parseWSTickerEvent parses one element of the "ticker" channel's events
// array: {"type":"snapshot","tickers":[{...}]}.
func parseWSTickerEvent(raw json.RawMessage) ([]*model.Ticker, error) {
	var e struct {
		Tickers []struct {
			ProductID string `json:"product_id"`
			Price     string `json:"price"`
			Volume24h string `json:"volume_24_h"`
			High24h   string `json:"high_24_h"`
			Low24h    string `json:"low_24_h"`
			Open24h   string `json:"open_24_h"`
			BestBid   string `json:"best_bid"`
			BestAsk   string `json:"best_ask"`
		} `json:"tickers"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed ticker event: "+err.Error())
	}
	out := make([]*model.Ticker, 0, len(e.Tickers))
	for _, t := range e.Tickers {
		ticker := &model.Ticker{
			Symbol: strings.ReplaceAll(t.ProductID, "-", "/"),
			Last:   f(t.Price), High: f(t.High24h), Low: f(t.Low24h), Open: f(t.Open24h),
			BaseVolume: f(t.Volume24h), Bid: f(t.BestBid), Ask: f(t.BestAsk),
		}
		ticker.FillDerived()
		out = append(out, ticker)
	}
	return out, nil
}

// parseWSBookEvent parses one element of the "l2_data" channel's events
// array: {"type":"snapshot"/"update","product_id":"...","updates":[{"side":
// "bid"/"offer","price_level":"...","new_quantity":"..."}]}. Coinbase's
// level2 feed carries no paired first/last update id the way Binance's
// does (Open Question (b)): both FirstUpdateID and FinalUpdateID are left
// zero, since there is no venue-native sequence number to surface verbatim
// here (unlike bybit's seq/u pair).
func parseWSBookEvent(raw json.RawMessage) (model.OrderBookEvent, error) {
	var e struct {
		Type      string `json:"type"`
		ProductID string `json:"product_id"`
		Updates   []struct {
			Side        string `json:"side"`
			PriceLevel  string `json:"price_level"`
			NewQuantity string `json:"new_quantity"`
		} `json:"updates"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.OrderBookEvent{}, errs.New(errs.ExchangeError, venueID, "", "malformed l2_data event: "+err.Error())
	}
	var bids, asks []model.PriceLevel
	for _, u := range e.Updates {
		lvl := model.PriceLevel{Price: f(u.PriceLevel), Amount: f(u.NewQuantity)}
		if strings.EqualFold(u.Side, "bid") {
			bids = append(bids, lvl)
		} else {
			asks = append(asks, lvl)
		}
	}
	entryKind := model.Delta
	if e.Type == "snapshot" {
		entryKind = model.Snapshot
	}
	return model.OrderBookEvent{
		Type: entryKind,
		Book: &model.OrderBook{Symbol: strings.ReplaceAll(e.ProductID, "-", "/"), Bids: bids, Asks: asks},
	}, nil
}

// parseWSTradeEvent parses one element of the "market_trades" channel's
// events array.
func parseWSTradeEvent(raw json.RawMessage) ([]model.Trade, error) {
	var e struct {
		Trades []struct {
			TradeID   string `json:"trade_id"`
			ProductID string `json:"product_id"`
			Price     string `json:"price"`
			Size      string `json:"size"`
			Side      string `json:"side"`
			Time      string `json:"time"`
		} `json:"trades"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed market_trades event: "+err.Error())
	}
	out := make([]model.Trade, 0, len(e.Trades))
	for _, t := range e.Trades {
		price, amount := f(t.Price), f(t.Size)
		ts, _ := parseRFC3339Millis(t.Time)
		out = append(out, model.Trade{
			ID: t.TradeID, Symbol: strings.ReplaceAll(t.ProductID, "-", "/"), Price: price, Amount: amount,
			Cost: price * amount, Side: model.Side(strings.ToLower(t.Side)), Timestamp: ts,
		})
	}
	return out, nil
}

// parseWSCandleEvent parses one element of the "candles" channel's events array.
func parseWSCandleEvent(raw json.RawMessage) ([]model.Candle, error) {
	var e struct {
		Candles []json.RawMessage `json:"candles"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed candles event: "+err.Error())
	}
	out := make([]model.Candle, 0, len(e.Candles))
	for _, raw := range e.Candles {
		c, err := parseCandle(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// parseWSOrderEvent parses one element of the "user" channel's events array.
func parseWSOrderEvent(raw json.RawMessage) ([]*model.Order, error) {
	var e struct {
		Orders []json.RawMessage `json:"orders"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed user event: "+err.Error())
	}
	out := make([]*model.Order, 0, len(e.Orders))
	for _, raw := range e.Orders {
		o, err := parseOrder(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
