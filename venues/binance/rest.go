package binance

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
	body, err := a.Pipeline.Do(ctx, a, transport.Request{Method: transport.GET, Path: "/api/v3/time", Weight: 1})
	if err != nil {
		return 0, err
	}
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, errs.New(errs.ExchangeError, venueID, "", err.Error())
	}
	return out.ServerTime, nil
}

// LoadMarkets fetches GET /api/v3/exchangeInfo and populates the market
// cache. Subsequent calls are served from cache unless reload is true.
func (a *Adapter) LoadMarkets(ctx context.Context, reload bool) ([]*model.Market, error) {
	if a.MarketsLoaded() && !reload {
		return a.AllMarkets(), nil
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{Method: transport.GET, Path: "/api/v3/exchangeInfo", Weight: 10})
	if err != nil {
		return nil, err
	}
	var out struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Status     string `json:"status"`
			Filters    []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed exchangeInfo body: "+err.Error())
	}

	markets := make([]*model.Market, 0, len(out.Symbols))
	for _, s := range out.Symbols {
		m := &model.Market{
			VenueID: s.Symbol,
			Symbol:  s.BaseAsset + "/" + s.QuoteAsset,
			Base:    s.BaseAsset,
			Quote:   s.QuoteAsset,
			Active:  s.Status == "TRADING",
		}
		for _, flt := range s.Filters {
			switch flt.FilterType {
			case "PRICE_FILTER":
				m.PriceStep = f(flt.TickSize)
			case "LOT_SIZE":
				m.AmountStep = f(flt.StepSize)
			case "MIN_NOTIONAL", "NOTIONAL":
				m.CostMin = f(flt.MinNotional)
			}
		}
		markets = append(markets, m)
	}
	a.SetMarkets(markets)
	return markets, nil
}

// FetchTicker fetches the 24h ticker for one symbol.
func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v3/ticker/24hr", Weight: 2,
		Params: map[string]interface{}{"symbol": a.ToVenueSymbol(symbol)},
	})
	if err != nil {
		return nil, err
	}
	return parseTicker24hr(body)
}

// FetchOrderBook fetches GET /api/v3/depth at the given limit (0 = venue default).
func (a *Adapter) FetchOrderBook(ctx context.Context, symbol string, limit int) (*model.OrderBook, int64, error) {
	params := map[string]interface{}{"symbol": a.ToVenueSymbol(symbol)}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{Method: transport.GET, Path: "/api/v3/depth", Weight: 5, Params: params})
	if err != nil {
		return nil, 0, err
	}
	return parseDepth(symbol, body)
}

// FetchOHLCV fetches GET /api/v3/klines and returns candles in chronological order.
func (a *Adapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]model.Candle, error) {
	native, ok := a.Descriptor.Timeframes[timeframe]
	if !ok {
		return nil, errs.New(errs.BadRequest, venueID, "", "unsupported timeframe: "+timeframe)
	}
	params := map[string]interface{}{"symbol": a.ToVenueSymbol(symbol), "interval": native}
	if since > 0 {
		params["startTime"] = since
	}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{Method: transport.GET, Path: "/api/v3/klines", Weight: 2, Params: params})
	if err != nil {
		return nil, err
	}
	var rows [][]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed klines body: "+err.Error())
	}
	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseKline(row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return model.SortCandles(candles), nil
}

// CreateOrder places a new order.
func (a *Adapter) CreateOrder(ctx context.Context, symbol string, orderType model.OrderType, side model.Side, amount, price float64, params map[string]interface{}) (*model.Order, error) {
	if orderType != model.Limit && orderType != model.Market {
		return nil, errs.New(errs.InvalidOrder, venueID, "", fmt.Sprintf("unsupported order type %s on binance spot", orderType))
	}
	reqParams := map[string]interface{}{
		"symbol":   a.ToVenueSymbol(symbol),
		"side":     strings.ToUpper(string(side)),
		"type":     string(orderType),
		"quantity": amount,
	}
	if orderType == model.Limit {
		if price <= 0 {
			return nil, errs.New(errs.InvalidOrder, venueID, "", "LIMIT order requires a price")
		}
		reqParams["price"] = price
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
		Method: transport.POST, Path: "/api/v3/order", Signed: true, Weight: 1,
		Encoding: transport.FormBody, Params: reqParams,
	})
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

// CancelOrder cancels id on symbol. category, if present in params, is
// preserved verbatim and always wins over anything the adapter would
// otherwise infer (DESIGN.md Open Question (a)).
func (a *Adapter) CancelOrder(ctx context.Context, id, symbol string, params map[string]interface{}) (*model.Order, error) {
	reqParams := map[string]interface{}{
		"symbol":  a.ToVenueSymbol(symbol),
		"orderId": id,
	}
	for k, v := range params {
		reqParams[k] = v
	}
	if category, ok := params["category"]; ok {
		reqParams["category"] = category
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.DELETE, Path: "/api/v3/order", Signed: true, Weight: 1, Params: reqParams,
	})
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

// FetchOrder retrieves an order's current state.
func (a *Adapter) FetchOrder(ctx context.Context, id, symbol string) (*model.Order, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v3/order", Signed: true, Weight: 2,
		Params: map[string]interface{}{"symbol": a.ToVenueSymbol(symbol), "orderId": id},
	})
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

// FetchBalance retrieves the account's asset balances.
func (a *Adapter) FetchBalance(ctx context.Context) ([]model.Balance, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v3/account", Signed: true, Weight: 10,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed account body: "+err.Error())
	}
	balances := make([]model.Balance, 0, len(out.Balances))
	for _, b := range out.Balances {
		free, used := f(b.Free), f(b.Locked)
		balances = append(balances, model.Balance{
			Currency: b.Asset, Free: free, Used: used, Total: free + used,
		})
	}
	return balances, nil
}

// FetchTickers fetches 24h tickers for every symbol, or just those named in
// symbols when non-empty.
func (a *Adapter) FetchTickers(ctx context.Context, symbols []string) ([]*model.Ticker, error) {
	params := map[string]interface{}{}
	if len(symbols) > 0 {
		venueSymbols := make([]string, len(symbols))
		for i, s := range symbols {
			venueSymbols[i] = a.ToVenueSymbol(s)
		}
		encoded, err := json.Marshal(venueSymbols)
		if err != nil {
			return nil, errs.New(errs.BadRequest, venueID, "", err.Error())
		}
		params["symbols"] = string(encoded)
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{Method: transport.GET, Path: "/api/v3/ticker/24hr", Weight: 2, Params: params})
	if err != nil {
		return nil, err
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		single, singleErr := parseTicker24hr(body)
		if singleErr != nil {
			return nil, errs.New(errs.ExchangeError, venueID, "", "malformed ticker/24hr body: "+err.Error())
		}
		return []*model.Ticker{single}, nil
	}
	tickers := make([]*model.Ticker, 0, len(raws))
	for _, raw := range raws {
		t, err := parseTicker24hr(raw)
		if err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, nil
}

// FetchTrades fetches recent public trades for symbol.
func (a *Adapter) FetchTrades(ctx context.Context, symbol string, since int64, limit int) ([]model.Trade, error) {
	params := map[string]interface{}{"symbol": a.ToVenueSymbol(symbol)}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{Method: transport.GET, Path: "/api/v3/trades", Weight: 10, Params: params})
	if err != nil {
		return nil, err
	}
	var raws []struct {
		ID       int64  `json:"id"`
		Price    string `json:"price"`
		Qty      string `json:"qty"`
		Time     int64  `json:"time"`
		IsBuyer  bool   `json:"isBuyerMaker"`
	}
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed trades body: "+err.Error())
	}
	trades := make([]model.Trade, 0, len(raws))
	for _, r := range raws {
		side := model.Buy
		if r.IsBuyer {
			side = model.Sell
		}
		price, amount := f(r.Price), f(r.Qty)
		trades = append(trades, model.Trade{
			ID: strconv.FormatInt(r.ID, 10), Symbol: symbol, Price: price, Amount: amount,
			Cost: price * amount, Side: side, Timestamp: r.Time,
		})
		_ = since // Binance's public trades endpoint has no since filter; callers paginate by fromId instead
	}
	return trades, nil
}

// CreateLimitOrder is a convenience wrapper over CreateOrder for LIMIT orders.
func (a *Adapter) CreateLimitOrder(ctx context.Context, symbol string, side model.Side, amount, price float64, params map[string]interface{}) (*model.Order, error) {
	return a.CreateOrder(ctx, symbol, model.Limit, side, amount, price, params)
}

// CreateMarketOrder is a convenience wrapper over CreateOrder for MARKET orders.
func (a *Adapter) CreateMarketOrder(ctx context.Context, symbol string, side model.Side, amount float64, params map[string]interface{}) (*model.Order, error) {
	return a.CreateOrder(ctx, symbol, model.Market, side, amount, 0, params)
}

// AmendOrder is not supported on Binance spot: cancel-and-replace is the
// venue's own documented substitute, which callers can compose from
// CancelOrder + CreateOrder themselves.
func (a *Adapter) AmendOrder(ctx context.Context, id, symbol string, params map[string]interface{}) (*model.Order, error) {
	return nil, venue.NotImplemented(venueID, "amendOrder")
}

// CancelAllOrders cancels every open order on symbol.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) ([]*model.Order, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.DELETE, Path: "/api/v3/openOrders", Signed: true, Weight: 1,
		Params: map[string]interface{}{"symbol": a.ToVenueSymbol(symbol)},
	})
	if err != nil {
		return nil, err
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed openOrders cancel body: "+err.Error())
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

// FetchOpenOrders lists open orders, optionally filtered by symbol.
func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]*model.Order, error) {
	params := map[string]interface{}{}
	if symbol != "" {
		params["symbol"] = a.ToVenueSymbol(symbol)
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v3/openOrders", Signed: true, Weight: 3, Params: params,
	})
	if err != nil {
		return nil, err
	}
	return parseOrderList(body)
}

// FetchClosedOrders lists terminal-state orders for symbol via the
// account-wide order history endpoint.
func (a *Adapter) FetchClosedOrders(ctx context.Context, symbol string, since int64, limit int) ([]*model.Order, error) {
	params := map[string]interface{}{"symbol": a.ToVenueSymbol(symbol)}
	if since > 0 {
		params["startTime"] = since
	}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/api/v3/allOrders", Signed: true, Weight: 10, Params: params,
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
		Method: transport.GET, Path: "/api/v3/myTrades", Signed: true, Weight: 10, Params: params,
	})
	if err != nil {
		return nil, err
	}
	var raws []struct {
		ID              int64  `json:"id"`
		OrderID         int64  `json:"orderId"`
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		QuoteQty        string `json:"quoteQty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
		Time            int64  `json:"time"`
		IsBuyer         bool   `json:"isBuyer"`
		IsMaker         bool   `json:"isMaker"`
	}
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed myTrades body: "+err.Error())
	}
	trades := make([]model.Trade, 0, len(raws))
	for _, r := range raws {
		side := model.Sell
		if r.IsBuyer {
			side = model.Buy
		}
		trades = append(trades, model.Trade{
			ID: strconv.FormatInt(r.ID, 10), Symbol: symbol, Price: f(r.Price), Amount: f(r.Qty),
			Cost: f(r.QuoteQty), Side: side, Timestamp: r.Time,
			Fill: &model.Fill{
				OrderID: strconv.FormatInt(r.OrderID, 10),
				Fee:     model.Fee{Cost: f(r.Commission), Currency: r.CommissionAsset},
				IsMaker: r.IsMaker,
			},
		})
	}
	return trades, nil
}

// FetchTradingFees fetches the account's current maker/taker fee rates,
// optionally scoped to one symbol.
func (a *Adapter) FetchTradingFees(ctx context.Context, symbol string) ([]venue.Fees, error) {
	params := map[string]interface{}{}
	if symbol != "" {
		params["symbol"] = a.ToVenueSymbol(symbol)
	}
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.GET, Path: "/sapi/v1/asset/tradeFee", Signed: true, Weight: 1, Params: params,
	})
	if err != nil {
		return nil, err
	}
	var raws []struct {
		Symbol          string `json:"symbol"`
		MakerCommission string `json:"makerCommission"`
		TakerCommission string `json:"takerCommission"`
	}
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed tradeFee body: "+err.Error())
	}
	fees := make([]venue.Fees, 0, len(raws))
	for _, r := range raws {
		fees = append(fees, venue.Fees{Maker: f(r.MakerCommission), Taker: f(r.TakerCommission)})
	}
	return fees, nil
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
