package bybit

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
)

var knownQuotes = []string{"USDT", "USDC", "USD", "BTC", "ETH", "DAI", "EUR"}

// ToVenueSymbol converts "BASE/QUOTE" to Bybit's concatenated id, e.g.
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

// parseTicker parses one element of GET /v5/market/tickers's result.list.
func parseTicker(raw json.RawMessage) (*model.Ticker, error) {
	var t struct {
		Symbol        string `json:"symbol"`
		LastPrice     string `json:"lastPrice"`
		Bid1Price     string `json:"bid1Price"`
		Bid1Size      string `json:"bid1Size"`
		Ask1Price     string `json:"ask1Price"`
		Ask1Size      string `json:"ask1Size"`
		HighPrice24h  string `json:"highPrice24h"`
		LowPrice24h   string `json:"lowPrice24h"`
		PrevPrice24h  string `json:"prevPrice24h"`
		Volume24h     string `json:"volume24h"`
		Turnover24h   string `json:"turnover24h"`
		Price24hPcnt  string `json:"price24hPcnt"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed ticker body: "+err.Error())
	}
	ticker := &model.Ticker{
		Symbol:      t.Symbol,
		Last:        f(t.LastPrice),
		Bid:         f(t.Bid1Price),
		BidVolume:   f(t.Bid1Size),
		Ask:         f(t.Ask1Price),
		AskVolume:   f(t.Ask1Size),
		High:        f(t.HighPrice24h),
		Low:         f(t.LowPrice24h),
		Open:        f(t.PrevPrice24h),
		BaseVolume:  f(t.Volume24h),
		QuoteVolume: f(t.Turnover24h),
		Percentage:  f(t.Price24hPcnt) * 100,
	}
	ticker.FillDerived()
	return ticker, nil
}

// parseBookLevels parses a Bybit [price, size] tuple list into canonical
// price levels.
func parseBookLevels(rows [][]string) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: f(r[0]), Amount: f(r[1])})
	}
	return levels
}

// parseBook parses GET /v5/market/orderbook's result object:
// {s, b:[[price,size]], a:[[price,size]], ts, u}.
func parseBook(symbol string, raw json.RawMessage) (*model.OrderBook, int64, error) {
	var d struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
		TS   int64      `json:"ts"`
		U    int64      `json:"u"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, 0, errs.New(errs.ExchangeError, venueID, "", "malformed orderbook body: "+err.Error())
	}
	book, err := model.NewOrderBook(symbol, parseBookLevels(d.Bids), parseBookLevels(d.Asks), d.TS, d.U)
	return book, d.TS, err
}

// parseCandle parses one row of GET /v5/market/kline's result.list:
// [start, open, high, low, close, volume, turnover].
func parseCandle(row []interface{}) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, errs.New(errs.ExchangeError, venueID, "", "malformed kline row")
	}
	ts, _ := strconv.ParseInt(parseAny(row[0]), 10, 64)
	return model.Candle{
		Timestamp: ts,
		Open:      f(parseAny(row[1])),
		High:      f(parseAny(row[2])),
		Low:       f(parseAny(row[3])),
		Close:     f(parseAny(row[4])),
		Volume:    f(parseAny(row[5])),
	}, nil
}

func parseAny(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

var stateMap = map[string]model.OrderStatus{
	"New":                     model.StatusNew,
	"PartiallyFilled":         model.StatusPartiallyFilled,
	"Filled":                  model.StatusFilled,
	"Cancelled":               model.StatusCanceled,
	"PartiallyFilledCanceled": model.StatusCanceled,
	"Rejected":                model.StatusRejected,
	"Deactivated":             model.StatusExpired,
}

var orderTypeToVenue = map[model.OrderType]string{
	model.Limit:  "Limit",
	model.Market: "Market",
}

// parseOrder parses one element of an order endpoint's result.list.
func parseOrder(raw json.RawMessage) (*model.Order, error) {
	var o struct {
		Symbol       string `json:"symbol"`
		OrderID      string `json:"orderId"`
		OrderLinkID  string `json:"orderLinkId"`
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		CumExecQty   string `json:"cumExecQty"`
		CumExecValue string `json:"cumExecValue"`
		OrderStatus  string `json:"orderStatus"`
		TimeInForce  string `json:"timeInForce"`
		OrderType    string `json:"orderType"`
		Side         string `json:"side"`
		CreatedTime  string `json:"createdTime"`
		UpdatedTime  string `json:"updatedTime"`
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed order body: "+err.Error())
	}
	status, ok := stateMap[o.OrderStatus]
	if !ok {
		status = model.StatusNew
	}
	ts, _ := strconv.ParseInt(firstNonEmpty(o.UpdatedTime, o.CreatedTime), 10, 64)
	order := &model.Order{
		ID:            o.OrderID,
		ClientOrderID: o.OrderLinkID,
		Symbol:        o.Symbol,
		Type:          model.OrderType(strings.ToUpper(o.OrderType)),
		Side:          model.Side(strings.ToLower(o.Side)),
		Price:         f(o.Price),
		Amount:        f(o.Qty),
		Filled:        f(o.CumExecQty),
		Cost:          f(o.CumExecValue),
		Status:        status,
		TimeInForce:   o.TimeInForce,
		Timestamp:     ts,
	}
	order.Derive()
	return order, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseOrderList(body json.RawMessage) ([]*model.Order, error) {
	var wrapper struct {
		List []json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed order list body: "+err.Error())
	}
	orders := make([]*model.Order, 0, len(wrapper.List))
	for _, raw := range wrapper.List {
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
