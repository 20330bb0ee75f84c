package bybit

import (
	"encoding/json"
	"strings"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
)

// wsEnvelope is the {topic, type, data, ts} shape every public/private push
// frame shares; topic routes the frame to the right parser.
type wsEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

// parseWSTicker parses the tickers.<symbol> channel's data object; its field
// set matches GET /v5/market/tickers closely enough to reuse parseTicker.
func parseWSTicker(raw json.RawMessage) (*model.Ticker, error) {
	return parseTicker(raw)
}

// parseWSBookEvent parses the orderbook.<depth>.<symbol> channel's data
// object, surfacing the venue's sequence fields verbatim (Open Question
// (b)): Bybit's v5 orderbook push carries "seq" and "u" rather than
// Binance's first/last pair, so "seq" is surfaced as FirstUpdateID and "u"
// as FinalUpdateID.
func parseWSBookEvent(symbol, frameType string, raw json.RawMessage) (model.OrderBookEvent, error) {
	var d struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
		U    int64      `json:"u"`
		Seq  int64      `json:"seq"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return model.OrderBookEvent{}, errs.New(errs.ExchangeError, venueID, "", "malformed orderbook frame: "+err.Error())
	}
	entryKind := model.Delta
	if frameType == "snapshot" {
		entryKind = model.Snapshot
	}
	return model.OrderBookEvent{
		Type:          entryKind,
		Book:          &model.OrderBook{Symbol: symbol, Bids: parseBookLevels(d.Bids), Asks: parseBookLevels(d.Asks)},
		FirstUpdateID: d.Seq,
		FinalUpdateID: d.U,
	}, nil
}

// parseWSTrade parses one element of the publicTrade.<symbol> channel's
// data array.
func parseWSTrade(raw json.RawMessage) (model.Trade, error) {
	var t struct {
		ID     string `json:"i"`
		Symbol string `json:"s"`
		Price  string `json:"p"`
		Volume string `json:"v"`
		Side   string `json:"S"`
		Time   int64  `json:"T"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Trade{}, errs.New(errs.ExchangeError, venueID, "", "malformed publicTrade frame: "+err.Error())
	}
	price, amount := f(t.Price), f(t.Volume)
	return model.Trade{
		ID: t.ID, Symbol: t.Symbol, Price: price, Amount: amount,
		Cost: price * amount, Side: model.Side(strings.ToLower(t.Side)), Timestamp: t.Time,
	}, nil
}

// parseWSCandle parses one element of the kline.<interval>.<symbol>
// channel's data array.
func parseWSCandle(raw json.RawMessage) (model.Candle, error) {
	var k struct {
		Start int64  `json:"start"`
		Open  string `json:"open"`
		High  string `json:"high"`
		Low   string `json:"low"`
		Close string `json:"close"`
		Vol   string `json:"volume"`
	}
	if err := json.Unmarshal(raw, &k); err != nil {
		return model.Candle{}, errs.New(errs.ExchangeError, venueID, "", "malformed kline frame: "+err.Error())
	}
	return model.Candle{
		Timestamp: k.Start, Open: f(k.Open), High: f(k.High), Low: f(k.Low), Close: f(k.Close), Volume: f(k.Vol),
	}, nil
}

// parseWSWalletEvent parses the wallet channel's data array into balances.
func parseWSWalletEvent(raw json.RawMessage) ([]model.Balance, error) {
	var rows []struct {
		Coin []struct {
			Coin                string `json:"coin"`
			WalletBalance       string `json:"walletBalance"`
			AvailableToWithdraw string `json:"availableToWithdraw"`
			Locked              string `json:"locked"`
		} `json:"coin"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed wallet frame: "+err.Error())
	}
	var balances []model.Balance
	for _, row := range rows {
		for _, c := range row.Coin {
			total := f(c.WalletBalance)
			free := f(c.AvailableToWithdraw)
			used := f(c.Locked)
			if free == 0 && used == 0 {
				free = total
			}
			balances = append(balances, model.Balance{Currency: c.Coin, Free: free, Used: used, Total: total})
		}
	}
	return balances, nil
}

// parseWSOrderEvent parses one element of the order channel's data array.
func parseWSOrderEvent(raw json.RawMessage) (*model.Order, error) {
	return parseOrder(raw)
}

