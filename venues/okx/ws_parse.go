package okx

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
)

// wsEnvelope is the {arg, data} shape every public/private push frame
// shares; arg.channel routes the frame to the right parser.
type wsEnvelope struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// parseWSTicker parses one element of the tickers channel's data array.
func parseWSTicker(raw json.RawMessage) (*model.Ticker, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed tickers frame")
	}
	return parseTicker(rows[0])
}

// parseWSBookEvent parses the books channel's data array, surfacing
// prevSeqId/seqId verbatim as firstUpdateId/finalUpdateId (Open Question
// (b)) — no client-side gap reconciliation is performed.
func parseWSBookEvent(symbol, action string, raw json.RawMessage) (model.OrderBookEvent, error) {
	var rows []struct {
		Asks      [][]string `json:"asks"`
		Bids      [][]string `json:"bids"`
		SeqID     int64      `json:"seqId"`
		PrevSeqID int64      `json:"prevSeqId"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		return model.OrderBookEvent{}, errs.New(errs.ExchangeError, venueID, "", "malformed books frame")
	}
	row := rows[0]
	entryKind := model.Delta
	if action == "snapshot" || action == "" {
		entryKind = model.Snapshot
	}
	return model.OrderBookEvent{
		Type:          entryKind,
		Book:          &model.OrderBook{Symbol: symbol, Bids: parseBookLevels(row.Bids), Asks: parseBookLevels(row.Asks)},
		FirstUpdateID: row.PrevSeqID,
		FinalUpdateID: row.SeqID,
	}, nil
}

// parseWSTrade parses one element of the trades channel's data array.
func parseWSTrade(symbol string, raw json.RawMessage) (model.Trade, error) {
	var t struct {
		TradeID string `json:"tradeId"`
		Px      string `json:"px"`
		Sz      string `json:"sz"`
		Side    string `json:"side"`
		TS      string `json:"ts"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Trade{}, errs.New(errs.ExchangeError, venueID, "", "malformed trades frame: "+err.Error())
	}
	ts, _ := strconv.ParseInt(t.TS, 10, 64)
	price, amount := f(t.Px), f(t.Sz)
	return model.Trade{
		ID: t.TradeID, Symbol: symbol, Price: price, Amount: amount,
		Cost: price * amount, Side: model.Side(strings.ToLower(t.Side)), Timestamp: ts,
	}, nil
}

// parseWSCandle parses one row of a candle<bar> channel's data array:
// [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
func parseWSCandle(raw json.RawMessage) (model.Candle, error) {
	var row []interface{}
	if err := json.Unmarshal(raw, &row); err != nil {
		return model.Candle{}, errs.New(errs.ExchangeError, venueID, "", "malformed candle frame: "+err.Error())
	}
	return parseCandle(row)
}

// parseWSAccountEvent parses the account channel's data array into balances.
func parseWSAccountEvent(raw json.RawMessage) ([]model.Balance, error) {
	var rows []struct {
		Details []struct {
			Ccy       string `json:"ccy"`
			AvailBal  string `json:"availBal"`
			FrozenBal string `json:"frozenBal"`
		} `json:"details"`
		UTime string `json:"uTime"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed account frame: "+err.Error())
	}
	var balances []model.Balance
	for _, row := range rows {
		ts, _ := strconv.ParseInt(row.UTime, 10, 64)
		for _, d := range row.Details {
			free, used := f(d.AvailBal), f(d.FrozenBal)
			balances = append(balances, model.Balance{
				Currency: d.Ccy, Free: free, Used: used, Total: free + used, Timestamp: ts,
			})
		}
	}
	return balances, nil
}

// parseWSOrderEvent parses one element of the orders channel's data array.
func parseWSOrderEvent(raw json.RawMessage) (*model.Order, error) {
	return parseOrder(raw)
}
