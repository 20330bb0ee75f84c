package bybit

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
	body, err := a.Pipeline.Do(ctx, a, transport.Request{Method: transport.GET, Path: "/v5/market/time", Weight: 1})
	if err != nil {
		return 0, err
	}
	var out struct {
		TimeSecond string `json:"timeSecond"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, errs.New(errs.ExchangeError, venueID, "", err.Error())
	}
	sec, _ := strconv.ParseInt(out.TimeSecond, 10, 64)
	return sec * 1000, nil
}

// LoadMarkets fetches GET /v5/market/instruments-info and populates the
// market cache. Subsequent calls are served from cache unless reload is true.
func (a *Adapter) LoadMarkets(ctx context.Context, reload bool) ([]*model.Market, error) {
	if a.MarketsLoaded() && !reload {
		return a.AllMarkets(), nil
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/v5/market/instruments-info", Weight: 5,
		Params: map[string]interface{}{"category": defaultCategory},
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		List []struct {
			Symbol      string `json:"symbol"`
			BaseCoin    string `json:"baseCoin"`
			QuoteCoin   string `json:"quoteCoin"`
			Status      string `json:"status"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				BasePrecision string `json:"basePrecision"`
				MinOrderQty   string `json:"minOrderQty"`
				MinOrderAmt   string `json:"minOrderAmt"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed instruments-info body: "+err.Error())
	}
	markets := make([]*model.Market, 0, len(out.List))
	for _, s := range out.List {
		markets = append(markets, &model.Market{
			VenueID:    s.Symbol,
			Symbol:     s.BaseCoin + "/" + s.QuoteCoin,
			Base:       s.BaseCoin,
			Quote:      s.QuoteCoin,
			Active:     s.Status == "Trading",
			PriceStep:  f(s.PriceFilter.TickSize),
			AmountStep: f(s.LotSizeFilter.BasePrecision),
			AmountMin:  f(s.LotSizeFilter.MinOrderQty),
			CostMin:    f(s.LotSizeFilter.MinOrderAmt),
		})
	}
	a.SetMarkets(markets)
	return markets, nil
}

// FetchTicker fetches the ticker for one symbol.
func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/v5/market/tickers", Weight: 1,
		Params: withCategory(map[string]interface{}{"symbol": a.ToVenueSymbol(symbol)}),
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		List []json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(body, &out); err != nil || len(out.List) == 0 {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed tickers body")
	}
	return parseTicker(out.List[0])
}

// FetchTickers fetches tickers for every symbol, or just those named in
// symbols when non-empty.
func (a *Adapter) FetchTickers(ctx context.Context, symbols []string) ([]*model.Ticker, error) {
	params := map[string]interface{}{}
	if len(symbols) == 1 {
		params["symbol"] = a.ToVenueSymbol(symbols[0])
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/v5/market/tickers", Weight: 1, Params: withCategory(params),
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		List []json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed tickers body: "+err.Error())
	}
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[a.ToVenueSymbol(s)] = true
	}
	tickers := make([]*model.Ticker, 0, len(out.List))
	for _, raw := range out.List {
		t, err := parseTicker(raw)
		if err != nil {
			return nil, err
		}
		if len(wanted) > 0 && !wanted[strings.ReplaceAll(t.Symbol, "/", "")] {
			continue
		}
		tickers = append(tickers, t)
	}
	return tickers, nil
}

// FetchOrderBook fetches GET /v5/market/orderbook at the given limit
// (0 = venue default).
func (a *Adapter) FetchOrderBook(ctx context.Context, symbol string, limit int) (*model.OrderBook, int64, error) {
	params := map[string]interface{}{"symbol": a.ToVenueSymbol(symbol)}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/v5/market/orderbook", Weight: 2, Params: withCategory(params),
	})
	if err != nil {
		return nil, 0, err
	}
	return parseBook(symbol, body)
}

// FetchOHLCV fetches GET /v5/market/kline; Bybit returns rows newest-first,
// so the result is re-sorted into chronological order.
func (a *Adapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]model.Candle, error) {
	native, ok := a.Descriptor.Timeframes[timeframe]
	if !ok {
		return nil, errs.New(errs.BadRequest, venueID, "", "unsupported timeframe: "+timeframe)
	}
	params := map[string]interface{}{"symbol": a.ToVenueSymbol(symbol), "interval": native}
	if since > 0 {
		params["start"] = since
	}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/v5/market/kline", Weight: 1, Params: withCategory(params),
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		List [][]interface{} `json:"list"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed kline body: "+err.Error())
	}
	candles := make([]model.Candle, 0, len(out.List))
	for _, row := range out.List {
		c, err := parseCandle(row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return model.SortCandles(candles), nil
}

// FetchTrades fetches recent public trades for symbol.
func (a *Adapter) FetchTrades(ctx context.Context, symbol string, since int64, limit int) ([]model.Trade, error) {
	params := map[string]interface{}{"symbol": a.ToVenueSymbol(symbol)}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/v5/market/recent-trade", Weight: 2, Params: withCategory(params),
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		List []struct {
			ExecID string `json:"execId"`
			Price  string `json:"price"`
			Size   string `json:"size"`
			Side   string `json:"side"`
			Time   string `json:"time"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed recent-trade body: "+err.Error())
	}
	trades := make([]model.Trade, 0, len(out.List))
	for _, r := range out.List {
		ts, _ := strconv.ParseInt(r.Time, 10, 64)
		price, amount := f(r.Price), f(r.Size)
		trades = append(trades, model.Trade{
			ID: r.ExecID, Symbol: symbol, Price: price, Amount: amount,
			Cost: price * amount, Side: model.Side(strings.ToLower(r.Side)), Timestamp: ts,
		})
		_ = since // Bybit's recent-trade endpoint has no since filter
	}
	return trades, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// CreateOrder places a new order.
func (a *Adapter) CreateOrder(ctx context.Context, symbol string, orderType model.OrderType, side model.Side, amount, price float64, params map[string]interface{}) (*model.Order, error) {
	venueType, ok := orderTypeToVenue[orderType]
	if !ok {
		return nil, errs.New(errs.InvalidOrder, venueID, "", fmt.Sprintf("unsupported order type %s on bybit spot", orderType))
	}
	reqParams := map[string]interface{}{
		"symbol":    a.ToVenueSymbol(symbol),
		"side":      capitalize(string(side)),
		"orderType": venueType,
		"qty":       strconv.FormatFloat(amount, 'f', -1, 64),
	}
	if orderType == model.Limit {
		if price <= 0 {
			return nil, errs.New(errs.InvalidOrder, venueID, "", "Limit order requires a price")
		}
		reqParams["price"] = strconv.FormatFloat(price, 'f', -1, 64)
		if tif, ok := params["timeInForce"]; ok {
			reqParams["timeInForce"] = tif
		} else {
			reqParams["timeInForce"] = "GTC"
		}
	}
	for k, v := range params {
		if k == "timeInForce" {
			continue
		}
		reqParams[k] = v
	}

	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.POST, Path: "/v5/order/create", Signed: true, Weight: 1,
		Encoding: transport.JSONBody, Params: withCategory(reqParams),
	})
	if err != nil {
		return nil, err
	}
	var created struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed order/create body: "+err.Error())
	}
	return a.FetchOrder(ctx, created.OrderID, symbol)
}

// CreateLimitOrder is a convenience wrapper over CreateOrder for Limit orders.
func (a *Adapter) CreateLimitOrder(ctx context.Context, symbol string, side model.Side, amount, price float64, params map[string]interface{}) (*model.Order, error) {
	return a.CreateOrder(ctx, symbol, model.Limit, side, amount, price, params)
}

// CreateMarketOrder is a convenience wrapper over CreateOrder for Market orders.
func (a *Adapter) CreateMarketOrder(ctx context.Context, symbol string, side model.Side, amount float64, params map[string]interface{}) (*model.Order, error) {
	return a.CreateOrder(ctx, symbol, model.Market, side, amount, 0, params)
}

// AmendOrder amends price/qty on an open order; Bybit supports in-place
// amendment directly, unlike Binance spot.
func (a *Adapter) AmendOrder(ctx context.Context, id, symbol string, params map[string]interface{}) (*model.Order, error) {
	reqParams := map[string]interface{}{
		"symbol":  a.ToVenueSymbol(symbol),
		"orderId": id,
	}
	for k, v := range params {
		reqParams[k] = v
	}
	_, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.POST, Path: "/v5/order/amend", Signed: true, Weight: 1,
		Encoding: transport.JSONBody, Params: withCategory(reqParams),
	})
	if err != nil {
		return nil, err
	}
	return a.FetchOrder(ctx, id, symbol)
}

// CancelOrder cancels id on symbol. category, if present in params, is
// preserved verbatim and always wins over the adapter's default (Open
// Question (a)).
func (a *Adapter) CancelOrder(ctx context.Context, id, symbol string, params map[string]interface{}) (*model.Order, error) {
	reqParams := map[string]interface{}{
		"symbol":  a.ToVenueSymbol(symbol),
		"orderId": id,
	}
	for k, v := range params {
		reqParams[k] = v
	}
	_, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.POST, Path: "/v5/order/cancel", Signed: true, Weight: 1,
		Encoding: transport.JSONBody, Params: withCategory(reqParams),
	})
	if err != nil {
		return nil, err
	}
	return a.FetchOrder(ctx, id, symbol)
}

// CancelAllOrders cancels every open order on symbol. Bybit's cancel-all
// response carries only {orderId, orderLinkId} per canceled order, not the
// full order record, so the result is synthesized rather than parsed via
// parseOrder.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) ([]*model.Order, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.POST, Path: "/v5/order/cancel-all", Signed: true, Weight: 1,
		Encoding: transport.JSONBody,
		Params:   withCategory(map[string]interface{}{"symbol": a.ToVenueSymbol(symbol)}),
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed cancel-all body: "+err.Error())
	}
	orders := make([]*model.Order, 0, len(out.List))
	for _, o := range out.List {
		orders = append(orders, &model.Order{
			ID: o.OrderID, ClientOrderID: o.OrderLinkID, Symbol: symbol, Status: model.StatusCanceled,
		})
	}
	return orders, nil
}

// FetchOrder retrieves an order's current state via the open-order-or-recent
// /v5/order/realtime endpoint.
func (a *Adapter) FetchOrder(ctx context.Context, id, symbol string) (*model.Order, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/v5/order/realtime", Signed: true, Weight: 2,
		Params: withCategory(map[string]interface{}{"symbol": a.ToVenueSymbol(symbol), "orderId": id}),
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

// FetchOpenOrders lists open orders, optionally filtered by symbol.
func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]*model.Order, error) {
	params := map[string]interface{}{}
	if symbol != "" {
		params["symbol"] = a.ToVenueSymbol(symbol)
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/v5/order/realtime", Signed: true, Weight: 3, Params: withCategory(params),
	})
	if err != nil {
		return nil, err
	}
	return parseOrderList(body)
}

// FetchClosedOrders lists terminal-state orders for symbol via the account
// order history endpoint.
func (a *Adapter) FetchClosedOrders(ctx context.Context, symbol string, since int64, limit int) ([]*model.Order, error) {
	params := map[string]interface{}{"symbol": a.ToVenueSymbol(symbol)}
	if since > 0 {
		params["startTime"] = since
	}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/v5/order/history", Signed: true, Weight: 5, Params: withCategory(params),
	})
	if err != nil {
		return nil, err
	}
	all, err := parseOrderList(body)
	if err != nil {
		return nil, err
	}
	closed := make([]*model.Order, 0, len(all))
	for _, o := range all {
		if o.Status == model.StatusFilled || o.Status == model.StatusCanceled ||
			o.Status == model.StatusRejected || o.Status == model.StatusExpired {
			closed = append(closed, o)
		}
	}
	return closed, nil
}

// FetchMyTrades lists the caller's own fills for symbol.
func (a *Adapter) FetchMyTrades(ctx context.Context, symbol string, since int64, limit int) ([]model.Trade, error) {
	params := map[string]interface{}{"symbol": a.ToVenueSymbol(symbol)}
	if since > 0 {
		params["startTime"] = since
	}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/v5/execution/list", Signed: true, Weight: 5, Params: withCategory(params),
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		List []struct {
			ExecID      string `json:"execId"`
			OrderID     string `json:"orderId"`
			ExecPrice   string `json:"execPrice"`
			ExecQty     string `json:"execQty"`
			ExecValue   string `json:"execValue"`
			ExecFee     string `json:"execFee"`
			FeeCurrency string `json:"feeCurrency"`
			Side        string `json:"side"`
			ExecTime    string `json:"execTime"`
			IsMaker     bool   `json:"isMaker"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed execution/list body: "+err.Error())
	}
	trades := make([]model.Trade, 0, len(out.List))
	for _, r := range out.List {
		ts, _ := strconv.ParseInt(r.ExecTime, 10, 64)
		trades = append(trades, model.Trade{
			ID: r.ExecID, Symbol: symbol, Price: f(r.ExecPrice), Amount: f(r.ExecQty),
			Cost: f(r.ExecValue), Side: model.Side(strings.ToLower(r.Side)), Timestamp: ts,
			Fill: &model.Fill{
				OrderID: r.OrderID,
				Fee:     model.Fee{Cost: f(r.ExecFee), Currency: r.FeeCurrency},
				IsMaker: r.IsMaker,
			},
		})
	}
	return trades, nil
}

// FetchBalance retrieves the unified-account's asset balances.
func (a *Adapter) FetchBalance(ctx context.Context) ([]model.Balance, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/v5/account/wallet-balance", Signed: true, Weight: 5,
		Params: map[string]interface{}{"accountType": "UNIFIED"},
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		List []struct {
			Coin []struct {
				Coin               string `json:"coin"`
				WalletBalance      string `json:"walletBalance"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
				Locked             string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed wallet-balance body: "+err.Error())
	}
	var balances []model.Balance
	for _, acc := range out.List {
		for _, c := range acc.Coin {
			total := f(c.WalletBalance)
			free := f(c.AvailableToWithdraw)
			used := f(c.Locked)
			if free == 0 && used == 0 {
				free = total
			}
			balances = append(balances, model.Balance{
				Currency: c.Coin, Free: free, Used: used, Total: total,
			})
		}
	}
	return balances, nil
}

// FetchTradingFees fetches the account's current maker/taker fee rates,
// optionally scoped to one symbol.
func (a *Adapter) FetchTradingFees(ctx context.Context, symbol string) ([]venue.Fees, error) {
	params := map[string]interface{}{}
	if symbol != "" {
		params["symbol"] = a.ToVenueSymbol(symbol)
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/v5/account/fee-rate", Signed: true, Weight: 2, Params: withCategory(params),
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		List []struct {
			Symbol        string `json:"symbol"`
			MakerFeeRate  string `json:"makerFeeRate"`
			TakerFeeRate  string `json:"takerFeeRate"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed fee-rate body: "+err.Error())
	}
	fees := make([]venue.Fees, 0, len(out.List))
	for _, r := range out.List {
		fees = append(fees, venue.Fees{Maker: f(r.MakerFeeRate), Taker: f(r.TakerFeeRate)})
	}
	return fees, nil
}
