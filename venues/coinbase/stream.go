package coinbase

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
	"github.com/ccgate/ccgate/stream"
	"github.com/ccgate/ccgate/venue"
)

// Coinbase's Advanced Trade stream is a single endpoint gated by channel
// name, not separate public/private hosts — every public and private
// subscription shares the one client this adapter keeps under wsURL.
func wsURL(a *Adapter) string { return a.Descriptor.URLs.WS }

func topicKey(channel, productID string) string {
	if productID == "" {
		return channel
	}
	return channel + "#" + productID
}

func (a *Adapter) client(ctx context.Context) (*stream.Client, error) {
	url := wsURL(a)
	client := a.WSClient(url, func() *stream.Client {
		c := stream.New(stream.Config{
			URL:              url,
			KeepAlive:        stream.ProtocolPing,
			Interval:         30 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			Logger:           a.Logger,
			OnReconnect:      a.resubscribeAll,
		})
		c.On(a.dispatchFrame)
		return c
	})

	a.wsMu.Lock()
	defer a.wsMu.Unlock()
	if a.wsLoggedIn {
		return client, nil
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errs.Wrap(errs.Network, venueID, err)
	}
	a.wsLoggedIn = true
	return client, nil
}

// subscribeFrame builds one {"type":"subscribe",...} frame, attaching a
// fresh JWT whenever credentials are configured — Advanced Trade gates
// every channel, public or private, behind the same bearer token.
func (a *Adapter) subscribeFrame(channel string, productIDs []string) (map[string]interface{}, error) {
	frame := map[string]interface{}{"type": "subscribe", "channel": channel}
	if len(productIDs) > 0 {
		frame["product_ids"] = productIDs
	}
	if a.Config.APIKey != "" && a.Config.Secret != "" {
		token, err := a.buildWSJWT()
		if err != nil {
			return nil, err
		}
		frame["jwt"] = token
	}
	return frame, nil
}

func (a *Adapter) dispatchFrame(frame []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Channel == "" {
		return
	}
	switch env.Channel {
	case "user":
		a.userDataMu.RLock()
		listeners := make([]func(string, json.RawMessage), len(a.userDataListeners))
		copy(listeners, a.userDataListeners)
		a.userDataMu.RUnlock()
		for _, raw := range env.Events {
			for _, l := range listeners {
				l(env.Channel, raw)
			}
		}
	default:
		for _, raw := range env.Events {
			productID := eventProductID(raw)
			key := topicKey(env.Channel, productID)
			if sub, ok := a.Subscription(key); ok {
				sub.Callback(raw)
				continue
			}
			if sub, ok := a.Subscription(env.Channel); ok {
				sub.Callback(raw)
			}
		}
	}
}

// eventProductID extracts the product id an events[] element concerns.
// l2_data events carry it at the top level; ticker, market_trades and
// candles events nest it inside their first array element instead.
func eventProductID(raw json.RawMessage) string {
	var top struct {
		ProductID string `json:"product_id"`
		Tickers   []struct {
			ProductID string `json:"product_id"`
		} `json:"tickers"`
		Trades []struct {
			ProductID string `json:"product_id"`
		} `json:"trades"`
		Candles []struct {
			ProductID string `json:"product_id"`
		} `json:"candles"`
	}
	if err := json.Unmarshal(raw, &top); err != nil {
		return ""
	}
	switch {
	case top.ProductID != "":
		return strings.ReplaceAll(top.ProductID, "-", "")
	case len(top.Tickers) > 0:
		return strings.ReplaceAll(top.Tickers[0].ProductID, "-", "")
	case len(top.Trades) > 0:
		return strings.ReplaceAll(top.Trades[0].ProductID, "-", "")
	case len(top.Candles) > 0:
		return strings.ReplaceAll(top.Candles[0].ProductID, "-", "")
	default:
		return ""
	}
}

func (a *Adapter) subscribe(ctx context.Context, channel string, venueProductID string, cb model.SubscriptionCallback) error {
	client, err := a.client(ctx)
	if err != nil {
		return err
	}
	frame, err := a.subscribeFrame(channel, productIDArg(venueProductID))
	if err != nil {
		return err
	}
	if err := client.Send(frame); err != nil {
		return errs.Wrap(errs.Network, venueID, err)
	}
	key := topicKey(channel, strings.ReplaceAll(venueProductID, "-", ""))
	a.RegisterSubscription(key, &model.Subscription{URL: wsURL(a), Topic: key, Callback: cb})
	a.rememberTopic(channel, venueProductID)
	return nil
}

func productIDArg(venueProductID string) []string {
	if venueProductID == "" {
		return nil
	}
	return []string{venueProductID}
}

func (a *Adapter) rememberTopic(channel, productID string) {
	a.topicsMu.Lock()
	defer a.topicsMu.Unlock()
	a.heldTopics = append(a.heldTopics, topicSub{channel: channel, productID: productID})
}

// resubscribeAll re-issues subscribe frames (with fresh JWTs) for every
// held public topic and the user channel after a reconnect.
func (a *Adapter) resubscribeAll() {
	client, err := a.client(context.Background())
	if err != nil {
		a.EmitError(err)
		return
	}
	a.topicsMu.RLock()
	topics := make([]topicSub, len(a.heldTopics))
	copy(topics, a.heldTopics)
	a.topicsMu.RUnlock()
	for _, t := range topics {
		frame, err := a.subscribeFrame(t.channel, productIDArg(t.productID))
		if err != nil {
			a.EmitError(err)
			continue
		}
		_ = client.Send(frame)
	}

	a.userDataMu.RLock()
	held := a.userChannelHeld
	a.userDataMu.RUnlock()
	if held {
		frame, err := a.subscribeFrame("user", nil)
		if err == nil {
			_ = client.Send(frame)
		}
	}
}

// WatchTicker subscribes to the "ticker" channel for symbol.
func (a *Adapter) WatchTicker(ctx context.Context, symbol string, cb func(*model.Ticker)) error {
	return a.subscribe(ctx, "ticker", a.ToVenueSymbol(symbol), func(payload interface{}) {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			return
		}
		tickers, err := parseWSTickerEvent(raw)
		if err != nil {
			a.EmitError(err)
			return
		}
		for _, t := range tickers {
			cb(t)
		}
	})
}

// WatchOrderBook subscribes to the "l2_data" channel for symbol.
func (a *Adapter) WatchOrderBook(ctx context.Context, symbol string, cb func(model.OrderBookEvent)) error {
	return a.subscribe(ctx, "l2_data", a.ToVenueSymbol(symbol), func(payload interface{}) {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			return
		}
		evt, err := parseWSBookEvent(raw)
		if err != nil {
			a.EmitError(err)
			return
		}
		cb(evt)
	})
}

// WatchTrades subscribes to the "market_trades" channel for symbol.
func (a *Adapter) WatchTrades(ctx context.Context, symbol string, cb func(model.Trade)) error {
	return a.subscribe(ctx, "market_trades", a.ToVenueSymbol(symbol), func(payload interface{}) {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			return
		}
		trades, err := parseWSTradeEvent(raw)
		if err != nil {
			a.EmitError(err)
			return
		}
		for _, t := range trades {
			cb(t)
		}
	})
}

// WatchKlines subscribes to the "candles" channel for symbol. timeframe is
// accepted for interface symmetry but not honored: Coinbase's candles
// channel always streams ONE_MINUTE candles regardless of subscribe params.
func (a *Adapter) WatchKlines(ctx context.Context, symbol, timeframe string, cb func(model.Candle)) error {
	return a.subscribe(ctx, "candles", a.ToVenueSymbol(symbol), func(payload interface{}) {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			return
		}
		candles, err := parseWSCandleEvent(raw)
		if err != nil {
			a.EmitError(err)
			return
		}
		for _, c := range candles {
			cb(c)
		}
	})
}

// WatchBalance is not supported: Advanced Trade's WS surface has no balance
// push channel, only the REST accounts endpoint.
func (a *Adapter) WatchBalance(ctx context.Context, cb func([]model.Balance)) error {
	return venue.NotImplemented(venueID, "watchBalance")
}

// WatchOrders subscribes to the "user" channel, which streams the caller's
// own order updates (no product_ids filter — the channel is account-wide).
func (a *Adapter) WatchOrders(ctx context.Context, cb func(*model.Order)) error {
	a.userDataMu.Lock()
	a.userDataListeners = append(a.userDataListeners, func(channel string, raw json.RawMessage) {
		orders, err := parseWSOrderEvent(raw)
		if err != nil {
			a.EmitError(err)
			return
		}
		for _, o := range orders {
			cb(o)
		}
	})
	alreadyHeld := a.userChannelHeld
	a.userChannelHeld = true
	a.userDataMu.Unlock()

	client, err := a.client(ctx)
	if err != nil {
		return err
	}
	if alreadyHeld {
		return nil
	}
	frame, err := a.subscribeFrame("user", nil)
	if err != nil {
		return err
	}
	if err := client.Send(frame); err != nil {
		return errs.Wrap(errs.Network, venueID, err)
	}
	return nil
}
