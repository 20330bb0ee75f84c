package coinbase

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
)

// parseRFC3339Millis converts Coinbase's RFC3339 created_time string to ms
// since epoch.
func parseRFC3339Millis(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// ToVenueSymbol converts "BASE/QUOTE" to Coinbase's dash-joined product id,
// e.g. "BTC/USDT" -> "BTC-USDT".
func (a *Adapter) ToVenueSymbol(canonical string) string {
	return strings.ReplaceAll(canonical, "/", "-")
}

// FromVenueSymbol prefers a marketsById lookup and otherwise splits
// Coinbase's product id on its single "-" separator directly — unlike the
// suffix-matching venues, Coinbase's product ids are already delimited, so
// no known-quote heuristic is needed.
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

// product is GET /api/v3/brokerage/products/{product_id}'s response shape,
// also reused for one element of GET /api/v3/brokerage/products' "products"
// array — grounded on sawpanic-cryptorun's CoinbaseProductResponse.
type product struct {
	ProductID               string `json:"product_id"`
	Price                   string `json:"price"`
	PricePercentageChange24h string `json:"price_percentage_change_24h"`
	Volume24h               string `json:"volume_24h"`
	BaseIncrement           string `json:"base_increment"`
	QuoteIncrement          string `json:"quote_increment"`
	BaseMinSize             string `json:"base_min_size"`
	BaseMaxSize             string `json:"base_max_size"`
	QuoteMinSize            string `json:"quote_min_size"`
	QuoteMaxSize            string `json:"quote_max_size"`
	BaseCurrencyID          string `json:"base_currency_id"`
	QuoteCurrencyID         string `json:"quote_currency_id"`
	Status                  string `json:"status"`
	TradingDisabled         bool   `json:"trading_disabled"`
}

func (p product) toMarket() *model.Market {
	return &model.Market{
		VenueID:    p.ProductID,
		Symbol:     p.BaseCurrencyID + "/" + p.QuoteCurrencyID,
		Base:       p.BaseCurrencyID,
		Quote:      p.QuoteCurrencyID,
		Active:     p.Status == "online" && !p.TradingDisabled,
		AmountMin:  f(p.BaseMinSize),
		AmountMax:  f(p.BaseMaxSize),
		CostMin:    f(p.QuoteMinSize),
		CostMax:    f(p.QuoteMaxSize),
		PriceStep:  f(p.QuoteIncrement),
		AmountStep: f(p.BaseIncrement),
	}
}

// pricebookLevel is one [{"price":"...","size":"..."}] entry shared by
// GET /api/v3/brokerage/product_book and GET /api/v3/brokerage/best_bid_ask.
type pricebookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func parseLevels(rows []pricebookLevel) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.PriceLevel{Price: f(r.Price), Amount: f(r.Size)})
	}
	return out
}

// parseProductTicker builds a Ticker from a product-detail body merged with
// a best_bid_ask pricebook; either may be nil if the caller only has one.
func parseProductTicker(productBody, bestBidAskBody json.RawMessage) (*model.Ticker, error) {
	var p product
	if err := json.Unmarshal(productBody, &p); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed product body: "+err.Error())
	}
	t := &model.Ticker{
		Symbol:      p.BaseCurrencyID + "/" + p.QuoteCurrencyID,
		Last:        f(p.Price),
		Percentage:  f(p.PricePercentageChange24h) * 100,
		BaseVolume:  f(p.Volume24h),
		QuoteVolume: f(p.Volume24h) * f(p.Price),
	}
	if len(bestBidAskBody) > 0 {
		var bb struct {
			Pricebooks []struct {
				ProductID string           `json:"product_id"`
				Bids      []pricebookLevel `json:"bids"`
				Asks      []pricebookLevel `json:"asks"`
			} `json:"pricebooks"`
		}
		if err := json.Unmarshal(bestBidAskBody, &bb); err == nil && len(bb.Pricebooks) > 0 {
			pb := bb.Pricebooks[0]
			if len(pb.Bids) > 0 {
				t.Bid, t.BidVolume = f(pb.Bids[0].Price), f(pb.Bids[0].Size)
			}
			if len(pb.Asks) > 0 {
				t.Ask, t.AskVolume = f(pb.Asks[0].Price), f(pb.Asks[0].Size)
			}
		}
	}
	t.FillDerived()
	return t, nil
}

// parseCandle parses one element of GET .../candles' "candles" array.
// Coinbase returns candles newest-first; callers re-sort via model.SortCandles.
func parseCandle(raw json.RawMessage) (model.Candle, error) {
	var c struct {
		Start  string `json:"start"`
		Low    string `json:"low"`
		High   string `json:"high"`
		Open   string `json:"open"`
		Close  string `json:"close"`
		Volume string `json:"volume"`
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return model.Candle{}, errs.New(errs.ExchangeError, venueID, "", "malformed candle: "+err.Error())
	}
	startSec, _ := strconv.ParseInt(c.Start, 10, 64)
	return model.Candle{
		Timestamp: startSec * 1000,
		Open:      f(c.Open), High: f(c.High), Low: f(c.Low), Close: f(c.Close), Volume: f(c.Volume),
	}, nil
}

// statusMap translates Coinbase's order status vocabulary. OPEN with a
// nonzero filled size is reported as PARTIALLY_FILLED by the caller, not
// here, since the mapping alone can't see the filled-size field.
var statusMap = map[string]model.OrderStatus{
	"OPEN":                 model.StatusNew,
	"FILLED":               model.StatusFilled,
	"CANCELLED":            model.StatusCanceled,
	"EXPIRED":              model.StatusExpired,
	"FAILED":               model.StatusRejected,
	"PENDING":              model.StatusNew,
	"QUEUED":               model.StatusNew,
	"UNKNOWN_ORDER_STATUS": model.StatusNew,
}

// orderEnvelope is GET .../orders/historical/{id}'s "order" object, and one
// element of .../orders/historical/batch's "orders" array.
type orderEnvelope struct {
	OrderID             string `json:"order_id"`
	ProductID           string `json:"product_id"`
	ClientOrderID       string `json:"client_order_id"`
	Side                string `json:"side"`
	Status              string `json:"status"`
	TimeInForce         string `json:"time_in_force"`
	FilledSize          string `json:"filled_size"`
	AverageFilledPrice  string `json:"average_filled_price"`
	FilledValue         string `json:"filled_value"`
	TotalFees           string `json:"total_fees"`
	CreatedTime         string `json:"created_time"`
	OrderConfiguration  struct {
		LimitGTC *limitConfig  `json:"limit_limit_gtc"`
		LimitGTD *limitConfig  `json:"limit_limit_gtd"`
		MarketIOC *marketConfig `json:"market_market_ioc"`
	} `json:"order_configuration"`
}

type limitConfig struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
	PostOnly   bool   `json:"post_only"`
}

type marketConfig struct {
	BaseSize  string `json:"base_size"`
	QuoteSize string `json:"quote_size"`
}

func parseOrder(raw json.RawMessage) (*model.Order, error) {
	var o orderEnvelope
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed order body: "+err.Error())
	}
	status, ok := statusMap[o.Status]
	if !ok {
		status = model.StatusNew
	}
	filled := f(o.FilledSize)
	if status == model.StatusNew && filled > 0 {
		status = model.StatusPartiallyFilled
	}

	orderType := model.Limit
	amount, price := 0.0, 0.0
	switch {
	case o.OrderConfiguration.LimitGTC != nil:
		amount = f(o.OrderConfiguration.LimitGTC.BaseSize)
		price = f(o.OrderConfiguration.LimitGTC.LimitPrice)
	case o.OrderConfiguration.LimitGTD != nil:
		amount = f(o.OrderConfiguration.LimitGTD.BaseSize)
		price = f(o.OrderConfiguration.LimitGTD.LimitPrice)
	case o.OrderConfiguration.MarketIOC != nil:
		orderType = model.Market
		amount = f(o.OrderConfiguration.MarketIOC.BaseSize)
	}

	var timestamp int64
	if t, err := parseRFC3339Millis(o.CreatedTime); err == nil {
		timestamp = t
	}

	order := &model.Order{
		ID: o.OrderID, ClientOrderID: o.ClientOrderID, Symbol: strings.ReplaceAll(o.ProductID, "-", "/"),
		Type: orderType, Side: model.Side(strings.ToLower(o.Side)),
		Price: price, Amount: amount, Filled: filled, Cost: f(o.FilledValue),
		Status: status, TimeInForce: o.TimeInForce, Timestamp: timestamp,
		Fee: model.Fee{Cost: f(o.TotalFees)},
	}
	order.Derive()
	return order, nil
}

func parseOrderList(raws []json.RawMessage) ([]*model.Order, error) {
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
