package binance

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
)

// parseWSTicker parses a 24hrTicker payload from the <symbol>@ticker stream.
func parseWSTicker(raw json.RawMessage) (*model.Ticker, error) {
	var t struct {
		Symbol      string `json:"s"`
		LastPrice   string `json:"c"`
		BidPrice    string `json:"b"`
		BidQty      string `json:"B"`
		AskPrice    string `json:"a"`
		AskQty      string `json:"A"`
		HighPrice   string `json:"h"`
		LowPrice    string `json:"l"`
		OpenPrice   string `json:"o"`
		Volume      string `json:"v"`
		QuoteVolume string `json:"q"`
		Change      string `json:"p"`
		Percentage  string `json:"P"`
		WeightedAvg string `json:"w"`
		EventTime   int64  `json:"E"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed ticker stream frame: "+err.Error())
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
		BaseVolume:  f(t.Volume),
		QuoteVolume: f(t.QuoteVolume),
		Change:      f(t.Change),
		Percentage:  f(t.Percentage),
		VWAP:        f(t.WeightedAvg),
		Timestamp:   t.EventTime,
	}
	ticker.FillDerived()
	return ticker, nil
}

// parseWSDepthEvent parses a diffDepthUpdate payload from the
// <symbol>@depth@100ms stream, surfacing firstUpdateId/finalUpdateId
// verbatim as model.OrderBookEvent carries (Open Question (b)).
func parseWSDepthEvent(symbol string, raw json.RawMessage) (model.OrderBookEvent, error) {
	var d struct {
		FirstUpdateID int64      `json:"U"`
		FinalUpdateID int64      `json:"u"`
		Bids          [][]string `json:"b"`
		Asks          [][]string `json:"a"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return model.OrderBookEvent{}, errs.New(errs.ExchangeError, venueID, "", "malformed depth stream frame: "+err.Error())
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
	return model.OrderBookEvent{
		Type:          model.Delta,
		Book:          &model.OrderBook{Symbol: symbol, Bids: bids, Asks: asks},
		FirstUpdateID: d.FirstUpdateID,
		FinalUpdateID: d.FinalUpdateID,
	}, nil
}

// parseWSAggTrade parses an aggTrade payload.
func parseWSAggTrade(symbol string, raw json.RawMessage) (model.Trade, error) {
	var t struct {
		AggTradeID   int64  `json:"a"`
		Price        string `json:"p"`
		Quantity     string `json:"q"`
		TradeTime    int64  `json:"T"`
		IsBuyerMaker bool   `json:"m"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Trade{}, errs.New(errs.ExchangeError, venueID, "", "malformed aggTrade frame: "+err.Error())
	}
	side := model.Buy
	if t.IsBuyerMaker {
		side = model.Sell
	}
	price, amount := f(t.Price), f(t.Quantity)
	return model.Trade{
		ID:        strconv.FormatInt(t.AggTradeID, 10),
		Symbol:    symbol,
		Price:     price,
		Amount:    amount,
		Cost:      price * amount,
		Side:      side,
		Timestamp: t.TradeTime,
	}, nil
}

// parseWSKline parses a kline payload's nested "k" object.
func parseWSKline(raw json.RawMessage) (model.Candle, error) {
	var frame struct {
		K struct {
			OpenTime int64  `json:"t"`
			Open     string `json:"o"`
			High     string `json:"h"`
			Low      string `json:"l"`
			Close    string `json:"c"`
			Volume   string `json:"v"`
		} `json:"k"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return model.Candle{}, errs.New(errs.ExchangeError, venueID, "", "malformed kline frame: "+err.Error())
	}
	return model.Candle{
		Timestamp: frame.K.OpenTime,
		Open:      f(frame.K.Open),
		High:      f(frame.K.High),
		Low:       f(frame.K.Low),
		Close:     f(frame.K.Close),
		Volume:    f(frame.K.Volume),
	}, nil
}

// parseWSAccountPosition parses an outboundAccountPosition user-data event.
func parseWSAccountPosition(raw json.RawMessage) ([]model.Balance, error) {
	var e struct {
		Balances []struct {
			Asset string `json:"a"`
			Free  string `json:"f"`
			Locked string `json:"l"`
		} `json:"B"`
		EventTime int64 `json:"E"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed outboundAccountPosition frame: "+err.Error())
	}
	out := make([]model.Balance, 0, len(e.Balances))
	for _, b := range e.Balances {
		free, used := f(b.Free), f(b.Locked)
		out = append(out, model.Balance{
			Currency: b.Asset, Free: free, Used: used, Total: free + used, Timestamp: e.EventTime,
		})
	}
	return out, nil
}

// parseWSExecutionReport parses an executionReport user-data event into a
// canonical Order.
func parseWSExecutionReport(raw json.RawMessage) (*model.Order, error) {
	var e struct {
		Symbol              string `json:"s"`
		ClientOrderID       string `json:"c"`
		Side                string `json:"S"`
		Type                string `json:"o"`
		TimeInForce         string `json:"f"`
		Quantity            string `json:"q"`
		Price               string `json:"p"`
		OrderStatus         string `json:"X"`
		OrderID             int64  `json:"i"`
		CumulativeFilledQty string `json:"z"`
		CumulativeQuoteQty  string `json:"Z"`
		TransactionTime     int64  `json:"T"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed executionReport frame: "+err.Error())
	}
	status, ok := statusMap[e.OrderStatus]
	if !ok {
		status = model.StatusNew
	}
	order := &model.Order{
		ID:            strconv.FormatInt(e.OrderID, 10),
		ClientOrderID: e.ClientOrderID,
		Symbol:        e.Symbol,
		Type:          model.OrderType(strings.ToUpper(e.Type)),
		Side:          model.Side(strings.ToLower(e.Side)),
		Price:         f(e.Price),
		Amount:        f(e.Quantity),
		Filled:        f(e.CumulativeFilledQty),
		Cost:          f(e.CumulativeQuoteQty),
		Status:        status,
		TimeInForce:   e.TimeInForce,
		Timestamp:     e.TransactionTime,
	}
	order.Derive()
	return order, nil
}
