package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
	"github.com/ccgate/ccgate/transport"
	"github.com/ccgate/ccgate/venue"
)

// FetchTime returns the venue's server time in milliseconds.
func (a *Adapter) FetchTime(ctx context.Context) (int64, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{Method: transport.GET, Path: "/api/v5/public/time", Weight: 1})
	if err != nil {
		return 0, err
	}
	var rows []struct {
		TS string `json:"ts"`
	}
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return 0, errs.New(errs.ExchangeError, venueID, "", "malformed public/time body")
	}
	ts, _ := strconv.ParseInt(rows[0].TS, 10, 64)
	return ts, nil
}

// LoadMarkets fetches GET /api/v5/public/instruments?instType=SPOT and
// populates the market cache.
func (a *Adapter) LoadMarkets(ctx context.Context, reload bool) ([]*model.Market, error) {
	if a.MarketsLoaded() && !reload {
		return a.AllMarkets(), nil
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v5/public/instruments", Weight: 5,
		Params: map[string]interface{}{"instType": "SPOT"},
	})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		InstID  string `json:"instId"`
		BaseCcy string `json:"baseCcy"`
		QuoteCcy string `json:"quoteCcy"`
		State   string `json:"state"`
		TickSz  string `json:"tickSz"`
		LotSz   string `json:"lotSz"`
		MinSz   string `json:"minSz"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed instruments body: "+err.Error())
	}
	markets := make([]*model.Market, 0, len(rows))
	for _, r := range rows {
		markets = append(markets, &model.Market{
			VenueID:    r.InstID,
			Symbol:     r.BaseCcy + "/" + r.QuoteCcy,
			Base:       r.BaseCcy,
			Quote:      r.QuoteCcy,
			Active:     r.State == "live",
			PriceStep:  f(r.TickSz),
			AmountStep: f(r.LotSz),
			AmountMin:  f(r.MinSz),
		})
	}
	a.SetMarkets(markets)
	return markets, nil
}

// FetchTicker fetches the ticker for one symbol.
func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v5/market/ticker", Weight: 1,
		Params: map[string]interface{}{"instId": a.ToVenueSymbol(symbol)},
	})
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed ticker body")
	}
	return parseTicker(rows[0])
}

// FetchTickers fetches tickers for every SPOT instrument, or just those
// named in symbols when non-empty.
func (a *Adapter) FetchTickers(ctx context.Context, symbols []string) ([]*model.Ticker, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v5/market/tickers", Weight: 1,
		Params: map[string]interface{}{"instType": "SPOT"},
	})
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed tickers body: "+err.Error())
	}
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[a.ToVenueSymbol(s)] = true
	}
	tickers := make([]*model.Ticker, 0, len(rows))
	for _, raw := range rows {
		t, err := parseTicker(raw)
		if err != nil {
			return nil, err
		}
		if len(wanted) > 0 && !wanted[a.ToVenueSymbol(t.Symbol)] {
			continue
		}
		tickers = append(tickers, t)
	}
	return tickers, nil
}

// FetchOrderBook fetches GET /api/v5/market/books at the given depth (0 =
// venue default).
func (a *Adapter) FetchOrderBook(ctx context.Context, symbol string, limit int) (*model.OrderBook, int64, error) {
	params := map[string]interface{}{"instId": a.ToVenueSymbol(symbol)}
	if limit > 0 {
		params["sz"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{Method: transport.GET, Path: "/api/v5/market/books", Weight: 2, Params: params})
	if err != nil {
		return nil, 0, err
	}
	return parseBooks(symbol, body)
}

// FetchTrades fetches recent public trades for symbol.
func (a *Adapter) FetchTrades(ctx context.Context, symbol string, since int64, limit int) ([]model.Trade, error) {
	params := map[string]interface{}{"instId": a.ToVenueSymbol(symbol)}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{Method: transport.GET, Path: "/api/v5/market/trades", Weight: 2, Params: params})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		TradeID string `json:"tradeId"`
		Px      string `json:"px"`
		Sz      string `json:"sz"`
		Side    string `json:"side"`
		TS      string `json:"ts"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed trades body: "+err.Error())
	}
	trades := make([]model.Trade, 0, len(rows))
	for _, r := range rows {
		ts, _ := strconv.ParseInt(r.TS, 10, 64)
		price, amount := f(r.Px), f(r.Sz)
		trades = append(trades, model.Trade{
			ID: r.TradeID, Symbol: symbol, Price: price, Amount: amount,
			Cost: price * amount, Side: model.Side(strings.ToLower(r.Side)), Timestamp: ts,
		})
		_ = since // OKX's public trades endpoint has no since filter; callers paginate by tradeId instead
	}
	return trades, nil
}

// FetchOHLCV fetches GET /api/v5/market/candles and returns candles in
// chronological order (OKX itself returns newest-first).
func (a *Adapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]model.Candle, error) {
	native, ok := a.Descriptor.Timeframes[timeframe]
	if !ok {
		return nil, errs.New(errs.BadRequest, venueID, "", "unsupported timeframe: "+timeframe)
	}
	params := map[string]interface{}{"instId": a.ToVenueSymbol(symbol), "bar": native}
	if since > 0 {
		params["after"] = since
	}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{Method: transport.GET, Path: "/api/v5/market/candles", Weight: 2, Params: params})
	if err != nil {
		return nil, err
	}
	var rows [][]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed candles body: "+err.Error())
	}
	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseCandle(row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return model.SortCandles(candles), nil
}

// CreateOrder places a new order with tdMode "cash" (spot, non-margin).
func (a *Adapter) CreateOrder(ctx context.Context, symbol string, orderType model.OrderType, side model.Side, amount, price float64, params map[string]interface{}) (*model.Order, error) {
	native, ok := orderTypeToVenue(orderType)
	if !ok {
		return nil, errs.New(errs.InvalidOrder, venueID, "", fmt.Sprintf("unsupported order type %s on okx spot", orderType))
	}
	reqParams := map[string]interface{}{
		"instId":  a.ToVenueSymbol(symbol),
		"tdMode":  "cash",
		"side":    string(side),
		"ordType": native,
		"sz":      strconv.FormatFloat(amount, 'f', -1, 64),
	}
	if orderType == model.Limit || orderType == model.LimitMaker {
		if price <= 0 {
			return nil, errs.New(errs.InvalidOrder, venueID, "", "limit order requires a price")
		}
		reqParams["px"] = strconv.FormatFloat(price, 'f', -1, 64)
	}
	for k, v := range params {
		reqParams[k] = v
	}

	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.POST, Path: "/api/v5/trade/order", Signed: true, Weight: 1,
		Encoding: transport.JSONBody, Params: reqParams,
	})
	if err != nil {
		return nil, err
	}
	orders, err := parseOrderList(body)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, errs.New(errs.ExchangeError, venueID, "", "order response had no data")
	}
	return orders[0], nil
}

// CreateLimitOrder is a convenience wrapper over CreateOrder for limit orders.
func (a *Adapter) CreateLimitOrder(ctx context.Context, symbol string, side model.Side, amount, price float64, params map[string]interface{}) (*model.Order, error) {
	return a.CreateOrder(ctx, symbol, model.Limit, side, amount, price, params)
}

// CreateMarketOrder is a convenience wrapper over CreateOrder for market orders.
func (a *Adapter) CreateMarketOrder(ctx context.Context, symbol string, side model.Side, amount float64, params map[string]interface{}) (*model.Order, error) {
	return a.CreateOrder(ctx, symbol, model.Market, side, amount, 0, params)
}

// AmendOrder amends an order's size and/or price in place via
// POST /api/v5/trade/amend-order, a capability Binance spot lacks but OKX
// exposes directly.
func (a *Adapter) AmendOrder(ctx context.Context, id, symbol string, params map[string]interface{}) (*model.Order, error) {
	reqParams := map[string]interface{}{
		"instId": a.ToVenueSymbol(symbol),
		"ordId":  id,
	}
	if newSz, ok := params["amount"]; ok {
		reqParams["newSz"] = newSz
	}
	if newPx, ok := params["price"]; ok {
		reqParams["newPx"] = newPx
	}
	for k, v := range params {
		if k == "amount" || k == "price" {
			continue
		}
		reqParams[k] = v
	}
	_, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.POST, Path: "/api/v5/trade/amend-order", Signed: true, Weight: 1,
		Encoding: transport.JSONBody, Params: reqParams,
	})
	if err != nil {
		return nil, err
	}
	return a.FetchOrder(ctx, id, symbol)
}

// CancelOrder cancels id on symbol. category, if present in params, is
// preserved verbatim and always wins over anything the adapter would
// otherwise infer (DESIGN.md Open Question (a)).
func (a *Adapter) CancelOrder(ctx context.Context, id, symbol string, params map[string]interface{}) (*model.Order, error) {
	reqParams := map[string]interface{}{
		"instId": a.ToVenueSymbol(symbol),
		"ordId":  id,
	}
	for k, v := range params {
		reqParams[k] = v
	}
	if category, ok := params["category"]; ok {
		reqParams["category"] = category
	}
	_, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.POST, Path: "/api/v5/trade/cancel-order", Signed: true, Weight: 1,
		Encoding: transport.JSONBody, Params: reqParams,
	})
	if err != nil {
		return nil, err
	}
	return a.FetchOrder(ctx, id, symbol)
}

// CancelAllOrders is not exposed as a single call on OKX spot: callers
// compose it from FetchOpenOrders + CancelOrder themselves.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) ([]*model.Order, error) {
	return nil, venue.NotImplemented(venueID, "cancelAllOrders")
}

// FetchOrder retrieves an order's current state.
func (a *Adapter) FetchOrder(ctx context.Context, id, symbol string) (*model.Order, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v5/trade/order", Signed: true, Weight: 1,
		Params: map[string]interface{}{"instId": a.ToVenueSymbol(symbol), "ordId": id},
	})
	if err != nil {
		return nil, err
	}
	orders, err := parseOrderList(body)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, errs.New(errs.OrderNotFound, venueID, "", "order not found: "+id)
	}
	return orders[0], nil
}

// FetchOpenOrders lists open (pending) orders, optionally filtered by symbol.
func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]*model.Order, error) {
	params := map[string]interface{}{}
	if symbol != "" {
		params["instId"] = a.ToVenueSymbol(symbol)
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v5/trade/orders-pending", Signed: true, Weight: 1, Params: params,
	})
	if err != nil {
		return nil, err
	}
	return parseOrderList(body)
}

// FetchClosedOrders lists terminal-state orders for symbol via the
// 7-day order history endpoint.
func (a *Adapter) FetchClosedOrders(ctx context.Context, symbol string, since int64, limit int) ([]*model.Order, error) {
	params := map[string]interface{}{"instType": "SPOT"}
	if symbol != "" {
		params["instId"] = a.ToVenueSymbol(symbol)
	}
	if since > 0 {
		params["after"] = since
	}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v5/trade/orders-history", Signed: true, Weight: 2, Params: params,
	})
	if err != nil {
		return nil, err
	}
	return parseOrderList(body)
}

// FetchMyTrades lists the caller's own fills for symbol.
func (a *Adapter) FetchMyTrades(ctx context.Context, symbol string, since int64, limit int) ([]model.Trade, error) {
	params := map[string]interface{}{}
	if symbol != "" {
		params["instId"] = a.ToVenueSymbol(symbol)
	}
	if since > 0 {
		params["after"] = since
	}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v5/trade/fills", Signed: true, Weight: 2, Params: params,
	})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		TradeID  string `json:"tradeId"`
		OrdID    string `json:"ordId"`
		InstID   string `json:"instId"`
		Side     string `json:"side"`
		FillPx   string `json:"fillPx"`
		FillSz   string `json:"fillSz"`
		Fee      string `json:"fee"`
		FeeCcy   string `json:"feeCcy"`
		ExecType string `json:"execType"`
		TS       string `json:"ts"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed fills body: "+err.Error())
	}
	trades := make([]model.Trade, 0, len(rows))
	for _, r := range rows {
		ts, _ := strconv.ParseInt(r.TS, 10, 64)
		price, amount := f(r.FillPx), f(r.FillSz)
		fee := f(r.Fee)
		if fee < 0 {
			fee = -fee // OKX reports fee as a negative debit; canonical Fee.Cost is always non-negative
		}
		trades = append(trades, model.Trade{
			ID: r.TradeID, Symbol: symbol, Price: price, Amount: amount,
			Cost: price * amount, Side: model.Side(strings.ToLower(r.Side)), Timestamp: ts,
			Fill: &model.Fill{
				OrderID: r.OrdID,
				Fee:     model.Fee{Cost: fee, Currency: r.FeeCcy},
				IsMaker: r.ExecType == "M",
			},
		})
	}
	return trades, nil
}

// FetchBalance retrieves the account's asset balances.
func (a *Adapter) FetchBalance(ctx context.Context) ([]model.Balance, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v5/account/balance", Signed: true, Weight: 2,
	})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Details []struct {
			Ccy     string `json:"ccy"`
			AvailBal string `json:"availBal"`
			FrozenBal string `json:"frozenBal"`
		} `json:"details"`
		UTime string `json:"uTime"`
	}
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed balance body")
	}
	ts, _ := strconv.ParseInt(rows[0].UTime, 10, 64)
	balances := make([]model.Balance, 0, len(rows[0].Details))
	for _, d := range rows[0].Details {
		free, used := f(d.AvailBal), f(d.FrozenBal)
		balances = append(balances, model.Balance{
			Currency: d.Ccy, Free: free, Used: used, Total: free + used, Timestamp: ts,
		})
	}
	return balances, nil
}

// FetchTradingFees fetches the account's current maker/taker fee rates,
// scoped to one symbol (OKX requires instId for SPOT fee-rate lookups).
func (a *Adapter) FetchTradingFees(ctx context.Context, symbol string) ([]venue.Fees, error) {
	params := map[string]interface{}{"instType": "SPOT"}
	if symbol != "" {
		params["instId"] = a.ToVenueSymbol(symbol)
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v5/account/trade-fee", Signed: true, Weight: 1, Params: params,
	})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Maker string `json:"maker"`
		Taker string `json:"taker"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed trade-fee body: "+err.Error())
	}
	fees := make([]venue.Fees, 0, len(rows))
	for _, r := range rows {
		// OKX reports maker/taker as negative rebate-style decimals; take
		// the magnitude so Fees.{Maker,Taker} stay in the canonical
		// cost-fraction convention every other adapter uses.
		maker, taker := f(r.Maker), f(r.Taker)
		if maker < 0 {
			maker = -maker
		}
		if taker < 0 {
			taker = -taker
		}
		fees = append(fees, venue.Fees{Maker: maker, Taker: taker})
	}
	return fees, nil
}
