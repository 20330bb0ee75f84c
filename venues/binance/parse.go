package binance

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
)

var knownQuotes = []string{"USDT", "BUSD", "USDC", "BTC", "ETH", "BNB", "TRY", "EUR"}

// ToVenueSymbol converts "BASE/QUOTE" to Binance's concatenated id, e.g.
// "BTC/USDT" -> "BTCUSDT".
func (a *Adapter) ToVenueSymbol(canonical string) string {
	return strings.ReplaceAll(canonical, "/", "")
}

// FromVenueSymbol prefers a marketsById lookup and falls back to
// longest-suffix heuristic splitting against the known quote list.
func (a *Adapter) FromVenueSymbol(venueSymbol string) (string, error) {
	if sym, ok := a.ResolveFromVenueSymbol(venueSymbol, knownQuotes); ok {
		return sym, nil
	}
	return "", errs.New(errs.BadSymbol, venueID, "", "unrecognized symbol: "+venueSymbol)
}

// parseTicker24hr parses a single object from GET /api/v3/ticker/24hr.
func parseTicker24hr(raw json.RawMessage) (*model.Ticker, error) {
	var t struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		BidPrice           string `json:"bidPrice"`
		BidQty             string `json:"bidQty"`
		AskPrice           string `json:"askPrice"`
		AskQty             string `json:"askQty"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		OpenPrice          string `json:"openPrice"`
		PrevClosePrice     string `json:"prevClosePrice"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
		PriceChange        string `json:"priceChange"`
		PriceChangePercent string `json:"priceChangePercent"`
		WeightedAvgPrice   string `json:"weightedAvgPrice"`
		CloseTime          int64  `json:"closeTime"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed ticker body: "+err.Error())
	}
	ticker := &model.Ticker{
		Symbol:      t.Symbol,
		Last:        f(t.LastPrice),
		Bid:         f(t.BidPrice),
		BidVolume:   f(t.BidQty),
		Ask:         f(t.AskPrice),
		AskVolume:   f(t.AskQty),
		High:        f(t.HighPrice),
		Low:         f(t.LowPrice),
		Open:        f(t.OpenPrice),
		Close:       f(t.PrevClosePrice),
		BaseVolume:  f(t.Volume),
		QuoteVolume: f(t.QuoteVolume),
		Change:      f(t.PriceChange),
		Percentage:  f(t.PriceChangePercent),
		VWAP:        f(t.WeightedAvgPrice),
		Timestamp:   t.CloseTime,
	}
	ticker.FillDerived()
	return ticker, nil
}

// parseDepth parses Binance's standard GET /api/v3/depth response:
// {"lastUpdateId":...,"bids":[["p","q"],...],"asks":[...]}.
func parseDepth(symbol string, raw json.RawMessage) (*model.OrderBook, int64, error) {
	var d struct {
		LastUpdateID int64      `json:"lastUpdateId"`
		Bids         [][]string `json:"bids"`
		Asks         [][]string `json:"asks"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, 0, errs.New(errs.ExchangeError, venueID, "", "malformed depth body: "+err.Error())
	}
	bids := make([]model.PriceLevel, 0, len(d.Bids))
	for _, lvl := range d.Bids {
		if len(lvl) < 2 {
			continue
		}
		bids = append(bids, model.PriceLevel{Price: f(lvl[0]), Amount: f(lvl[1])})
	}
	asks := make([]model.PriceLevel, 0, len(d.Asks))
	for _, lvl := range d.Asks {
		if len(lvl) < 2 {
			continue
		}
		asks = append(asks, model.PriceLevel{Price: f(lvl[0]), Amount: f(lvl[1])})
	}
	book, err := model.NewOrderBook(symbol, bids, asks, 0, d.LastUpdateID)
	return book, d.LastUpdateID, err
}

// parseKline parses one row of GET /api/v3/klines: [openTime, open, high,
// low, close, volume, closeTime, ...]. Binance already returns OHLC in
// canonical order; this simply types the raw tuple.
func parseKline(row []interface{}) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, errs.New(errs.ExchangeError, venueID, "", "malformed kline row")
	}
	ts, _ := row[0].(float64)
	return model.Candle{
		Timestamp: int64(ts),
		Open:      parseAny(row[1]),
		High:      parseAny(row[2]),
		Low:       parseAny(row[3]),
		Close:     parseAny(row[4]),
		Volume:    parseAny(row[5]),
	}, nil
}

func parseAny(v interface{}) float64 {
	switch x := v.(type) {
	case string:
		return f(x)
	case float64:
		return x
	default:
		return 0
	}
}

var statusMap = map[string]model.OrderStatus{
	"NEW":              model.StatusNew,
	"PARTIALLY_FILLED": model.StatusPartiallyFilled,
	"FILLED":           model.StatusFilled,
	"CANCELED":         model.StatusCanceled,
	"PENDING_CANCEL":   model.StatusPartiallyFilled,
	"REJECTED":         model.StatusRejected,
	"EXPIRED":          model.StatusExpired,
}

func parseOrder(raw json.RawMessage) (*model.Order, error) {
	var o struct {
		Symbol              string `json:"symbol"`
		OrderID             int64  `json:"orderId"`
		ClientOrderID       string `json:"clientOrderId"`
		Price               string `json:"price"`
		OrigQty             string `json:"origQty"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		Status              string `json:"status"`
		TimeInForce         string `json:"timeInForce"`
		Type                string `json:"type"`
		Side                string `json:"side"`
		Time                int64  `json:"time"`
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed order body: "+err.Error())
	}
	status, ok := statusMap[o.Status]
	if !ok {
		status = model.StatusNew
	}
	order := &model.Order{
		ID:            strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Type:          model.OrderType(strings.ToUpper(o.Type)),
		Side:          model.Side(strings.ToLower(o.Side)),
		Price:         f(o.Price),
		Amount:        f(o.OrigQty),
		Filled:        f(o.ExecutedQty),
		Cost:          f(o.CummulativeQuoteQty),
		Status:        status,
		TimeInForce:   o.TimeInForce,
		Timestamp:     o.Time,
	}
	order.Derive()
	return order, nil
}

func f(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
