package okx

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
)

// ToVenueSymbol converts "BASE/QUOTE" to OKX's hyphenated instId, e.g.
// "BTC/USDT" -> "BTC-USDT".
func (a *Adapter) ToVenueSymbol(canonical string) string {
	return strings.ReplaceAll(canonical, "/", "-")
}

// FromVenueSymbol prefers a marketsById lookup and falls back to splitting
// on OKX's own "-" separator, since instIds are already base-hyphen-quote
// and never need the longest-suffix heuristic.
func (a *Adapter) FromVenueSymbol(venueSymbol string) (string, error) {
	if m, ok := a.MarketByVenueID(venueSymbol); ok {
		return m.Symbol, nil
	}
	parts := strings.SplitN(venueSymbol, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", errs.New(errs.BadSymbol, venueID, "", "unrecognized symbol: "+venueSymbol)
	}
	return parts[0] + "/" + parts[1], nil
}

// parseTicker parses one element of GET /api/v5/market/ticker's data array.
func parseTicker(raw json.RawMessage) (*model.Ticker, error) {
	var t struct {
		InstID    string `json:"instId"`
		Last      string `json:"last"`
		BidPx     string `json:"bidPx"`
		BidSz     string `json:"bidSz"`
		AskPx     string `json:"askPx"`
		AskSz     string `json:"askSz"`
		High24h   string `json:"high24h"`
		Low24h    string `json:"low24h"`
		Open24h   string `json:"open24h"`
		Vol24h    string `json:"vol24h"`
		VolCcy24h string `json:"volCcy24h"`
		TS        string `json:"ts"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed ticker body: "+err.Error())
	}
	ts, _ := strconv.ParseInt(t.TS, 10, 64)
	ticker := &model.Ticker{
		Symbol:      strings.ReplaceAll(t.InstID, "-", "/"),
		Last:        f(t.Last),
		Bid:         f(t.BidPx),
		BidVolume:   f(t.BidSz),
		Ask:         f(t.AskPx),
		AskVolume:   f(t.AskSz),
		High:        f(t.High24h),
		Low:         f(t.Low24h),
		Open:        f(t.Open24h),
		BaseVolume:  f(t.Vol24h),
		QuoteVolume: f(t.VolCcy24h),
		Timestamp:   ts,
	}
	ticker.FillDerived()
	return ticker, nil
}

// parseBookLevels parses OKX's [price, size, numLiquidated, numOrders]
// tuples: only price and size are canonical fields; the remaining two
// entries (liquidated-order count, total order count) are venue-specific
// depth metadata this client does not surface.
func parseBookLevels(tuples [][]string) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(tuples))
	for _, t := range tuples {
		if len(t) < 2 {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: f(t[0]), Amount: f(t[1])})
	}
	return levels
}

// parseBooks parses GET /api/v5/market/books: data is a one-element array
// carrying {asks, bids, ts}.
func parseBooks(symbol string, raw json.RawMessage) (*model.OrderBook, int64, error) {
	var rows []struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
		TS   string     `json:"ts"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		return nil, 0, errs.New(errs.ExchangeError, venueID, "", "malformed books body")
	}
	row := rows[0]
	ts, _ := strconv.ParseInt(row.TS, 10, 64)
	book, err := model.NewOrderBook(symbol, parseBookLevels(row.Bids), parseBookLevels(row.Asks), ts, ts)
	return book, ts, err
}

// parseCandle parses one row of GET /api/v5/market/candles:
// [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
func parseCandle(row []interface{}) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, errs.New(errs.ExchangeError, venueID, "", "malformed candle row")
	}
	ts := parseAny(row[0])
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

var stateMap = map[string]model.OrderStatus{
	"live":            model.StatusNew,
	"partially_filled": model.StatusPartiallyFilled,
	"filled":          model.StatusFilled,
	"canceled":        model.StatusCanceled,
	"mmp_canceled":    model.StatusCanceled,
}

var typeMap = map[string]model.OrderType{
	"limit":      model.Limit,
	"market":     model.Market,
	"post_only":  model.LimitMaker,
	"fok":        model.FOK,
	"ioc":        model.IOC,
}

func orderTypeToVenue(t model.OrderType) (string, bool) {
	switch t {
	case model.Limit:
		return "limit", true
	case model.Market:
		return "market", true
	case model.LimitMaker:
		return "post_only", true
	case model.FOK:
		return "fok", true
	case model.IOC:
		return "ioc", true
	default:
		return "", false
	}
}

// parseOrder parses one element of the trade-order data array (shared by
// create/cancel/amend/fetch-order/fetch-open-orders/fetch-closed-orders).
func parseOrder(raw json.RawMessage) (*model.Order, error) {
	var o struct {
		InstID  string `json:"instId"`
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		Px      string `json:"px"`
		Sz      string `json:"sz"`
		AccFillSz string `json:"accFillSz"`
		FillNotionalUsd string `json:"fillNotionalUsd"`
		State   string `json:"state"`
		Side    string `json:"side"`
		OrdType string `json:"ordType"`
		TdMode  string `json:"tdMode"`
		UTime   string `json:"uTime"`
		CTime   string `json:"cTime"`
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed order body: "+err.Error())
	}
	status, ok := stateMap[o.State]
	if !ok {
		status = model.StatusNew
	}
	orderType, ok := typeMap[o.OrdType]
	if !ok {
		orderType = model.Limit
	}
	ts, _ := strconv.ParseInt(firstNonEmpty(o.UTime, o.CTime), 10, 64)
	order := &model.Order{
		ID:            o.OrdID,
		ClientOrderID: o.ClOrdID,
		Symbol:        strings.ReplaceAll(o.InstID, "-", "/"),
		Type:          orderType,
		Side:          model.Side(strings.ToLower(o.Side)),
		Price:         f(o.Px),
		Amount:        f(o.Sz),
		Filled:        f(o.AccFillSz),
		Status:        status,
		Timestamp:     ts,
	}
	order.Derive()
	return order, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseOrderList(body json.RawMessage) ([]*model.Order, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed order list body: "+err.Error())
	}
	orders := make([]*model.Order, 0, len(raws))
	for _, raw := range raws {
		o, err := parseOrder(raw)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func f(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
