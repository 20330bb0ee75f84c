package binance

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
	"github.com/ccgate/ccgate/stream"
	"github.com/ccgate/ccgate/transport"
)

// combinedStreamURL builds the single-connection multi-topic WS URL Binance
// exposes at /stream?streams=a/b/c. Individual streams are added after
// connect via SUBSCRIBE frames rather than in the URL.
func (a *Adapter) combinedStreamURL() string {
	base := a.Descriptor.URLs.WS
	if a.Config.Sandbox {
		base = a.Descriptor.URLs.WSTestnet
	}
	return base + "/stream"
}

func (a *Adapter) publicClient(ctx context.Context) (*stream.Client, error) {
	url := a.combinedStreamURL()
	client := a.WSClient(url, func() *stream.Client {
		c := stream.New(stream.Config{
			URL:              url,
			KeepAlive:        stream.ProtocolPing,
			Interval:         3 * time.Minute,
			HandshakeTimeout: 10 * time.Second,
			Logger:           a.Logger,
			OnReconnect:      a.resubscribeAll,
		})
		c.On(a.dispatchPublicFrame)
		return c
	})

	a.publicMu.Lock()
	defer a.publicMu.Unlock()
	if a.publicConnected {
		return client, nil
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errs.Wrap(errs.Network, venueID, err)
	}
	a.publicConnected = true
	return client, nil
}

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (a *Adapter) dispatchPublicFrame(frame []byte) {
	var cf combinedFrame
	if err := json.Unmarshal(frame, &cf); err != nil || cf.Stream == "" {
		return
	}
	sub, ok := a.Subscription(cf.Stream)
	if !ok {
		return
	}
	sub.Callback(cf.Data)
}

func streamName(symbol, suffix string) string {
	return strings.ToLower(strings.ReplaceAll(symbol, "/", "")) + "@" + suffix
}

// subscribe opens (or reuses) the shared combined-stream connection, sends
// SUBSCRIBE for name, and records the subscription so resubscribeAll and
// dispatchPublicFrame can find it again.
func (a *Adapter) subscribe(ctx context.Context, name string, cb model.SubscriptionCallback) error {
	client, err := a.publicClient(ctx)
	if err != nil {
		return err
	}
	if err := client.Send(map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": []string{name},
		"id":     time.Now().UnixNano(),
	}); err != nil {
		return errs.Wrap(errs.Network, venueID, err)
	}
	a.RegisterSubscription(name, &model.Subscription{URL: a.combinedStreamURL(), Topic: name, Callback: cb})
	return nil
}

// resubscribeAll re-issues SUBSCRIBE frames for every held public
// subscription after a reconnect; reconnect never restores subscriptions on
// its own (§4.4).
func (a *Adapter) resubscribeAll() {
	client, err := a.publicClient(context.Background())
	if err != nil {
		a.EmitError(err)
		return
	}
	for _, name := range a.publicTopicNames() {
		_ = client.Send(map[string]interface{}{
			"method": "SUBSCRIBE",
			"params": []string{name},
			"id":     time.Now().UnixNano(),
		})
	}
}

func (a *Adapter) publicTopicNames() []string {
	a.topicsMu.RLock()
	defer a.topicsMu.RUnlock()
	out := make([]string, len(a.heldTopics))
	copy(out, a.heldTopics)
	return out
}

func (a *Adapter) rememberTopic(name string) {
	a.topicsMu.Lock()
	defer a.topicsMu.Unlock()
	a.heldTopics = append(a.heldTopics, name)
}

// WatchTicker subscribes to the 24hr ticker stream (<symbol>@ticker) for symbol.
func (a *Adapter) WatchTicker(ctx context.Context, symbol string, cb func(*model.Ticker)) error {
	name := streamName(symbol, "ticker")
	a.rememberTopic(name)
	return a.subscribe(ctx, name, func(payload interface{}) {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			return
		}
		t, err := parseWSTicker(raw)
		if err != nil {
			a.EmitError(err)
			return
		}
		cb(t)
	})
}

// WatchOrderBook subscribes to the diff-depth stream for symbol, surfacing
// raw firstUpdateId/finalUpdateId per delta (Open Question (b)); reconciling
// against a REST snapshot via model.BookAssembler is left to the caller.
func (a *Adapter) WatchOrderBook(ctx context.Context, symbol string, cb func(model.OrderBookEvent)) error {
	name := streamName(symbol, "depth@100ms")
	a.rememberTopic(name)
	return a.subscribe(ctx, name, func(payload interface{}) {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			return
		}
		evt, err := parseWSDepthEvent(symbol, raw)
		if err != nil {
			a.EmitError(err)
			return
		}
		cb(evt)
	})
}

// WatchTrades subscribes to the public aggregate-trade stream for symbol.
func (a *Adapter) WatchTrades(ctx context.Context, symbol string, cb func(model.Trade)) error {
	name := streamName(symbol, "aggTrade")
	a.rememberTopic(name)
	return a.subscribe(ctx, name, func(payload interface{}) {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			return
		}
		trade, err := parseWSAggTrade(symbol, raw)
		if err != nil {
			a.EmitError(err)
			return
		}
		cb(trade)
	})
}

// WatchKlines subscribes to the kline stream for symbol/timeframe.
func (a *Adapter) WatchKlines(ctx context.Context, symbol, timeframe string, cb func(model.Candle)) error {
	native, ok := a.Descriptor.Timeframes[timeframe]
	if !ok {
		return errs.New(errs.BadRequest, venueID, "", "unsupported timeframe: "+timeframe)
	}
	name := streamName(symbol, "kline_"+native)
	a.rememberTopic(name)
	return a.subscribe(ctx, name, func(payload interface{}) {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			return
		}
		c, err := parseWSKline(raw)
		if err != nil {
			a.EmitError(err)
			return
		}
		cb(c)
	})
}

// listen-key lifecycle for the private user-data stream. Keep-alive runs on
// listenKeyTTL (25m), under Binance's documented 30-minute expiry.

func (a *Adapter) createListenKey(ctx context.Context) (string, error) {
	body, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.POST, Path: "/api/v3/userDataStream", Weight: 1,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errs.New(errs.ExchangeError, venueID, "", "malformed userDataStream body: "+err.Error())
	}
	return out.ListenKey, nil
}

func (a *Adapter) keepAliveListenKey(ctx context.Context, listenKey string) error {
	_, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.PUT, Path: "/api/v3/userDataStream", Weight: 1,
		Params: map[string]interface{}{"listenKey": listenKey},
	})
	return err
}

func (a *Adapter) deleteListenKey(ctx context.Context, listenKey string) error {
	_, err := a.Pipeline.Do(ctx, a, transport.Request{
		Method: transport.DELETE, Path: "/api/v3/userDataStream", Weight: 1,
		Params: map[string]interface{}{"listenKey": listenKey},
	})
	return err
}

// WatchBalance and WatchOrders both ride the single user-data stream;
// whichever is called first establishes the listen key and connection, the
// second just adds a dispatch callback for its own event type.
func (a *Adapter) WatchBalance(ctx context.Context, cb func([]model.Balance)) error {
	return a.ensureUserDataStream(ctx, func(eventType string, raw json.RawMessage) {
		if eventType != "outboundAccountPosition" {
			return
		}
		balances, err := parseWSAccountPosition(raw)
		if err != nil {
			a.EmitError(err)
			return
		}
		cb(balances)
	})
}

func (a *Adapter) WatchOrders(ctx context.Context, cb func(*model.Order)) error {
	return a.ensureUserDataStream(ctx, func(eventType string, raw json.RawMessage) {
		if eventType != "executionReport" {
			return
		}
		order, err := parseWSExecutionReport(raw)
		if err != nil {
			a.EmitError(err)
			return
		}
		cb(order)
	})
}

func (a *Adapter) ensureUserDataStream(ctx context.Context, onEvent func(eventType string, raw json.RawMessage)) error {
	a.userDataMu.Lock()
	defer a.userDataMu.Unlock()

	a.userDataListeners = append(a.userDataListeners, onEvent)
	if a.userDataClient != nil {
		return nil
	}

	listenKey, err := a.createListenKey(ctx)
	if err != nil {
		return err
	}
	a.listenKey = listenKey

	wsURL := a.Descriptor.URLs.WS
	if a.Config.Sandbox {
		wsURL = a.Descriptor.URLs.WSTestnet
	}
	wsURL = wsURL + "/ws/" + listenKey

	client := stream.New(stream.Config{
		URL:              wsURL,
		KeepAlive:        stream.NoKeepAlive,
		HandshakeTimeout: 10 * time.Second,
		Logger:           a.Logger,
		OnReconnect: func() {
			key, err := a.createListenKey(context.Background())
			if err != nil {
				a.EmitError(err)
				return
			}
			a.userDataMu.Lock()
			a.listenKey = key
			a.userDataMu.Unlock()
		},
	})
	client.On(func(frame []byte) {
		var env struct {
			EventType string `json:"e"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			return
		}
		a.userDataMu.RLock()
		listeners := make([]func(string, json.RawMessage), len(a.userDataListeners))
		copy(listeners, a.userDataListeners)
		a.userDataMu.RUnlock()
		for _, l := range listeners {
			l(env.EventType, json.RawMessage(frame))
		}
	})
	if err := client.Connect(ctx); err != nil {
		return errs.Wrap(errs.Network, venueID, err)
	}
	a.userDataClient = client
	a.SetPrivateAuthenticated(wsURL, true)
	go a.listenKeyKeepAliveLoop()
	return nil
}

func (a *Adapter) listenKeyKeepAliveLoop() {
	ticker := time.NewTicker(listenKeyTTL)
	defer ticker.Stop()
	for range ticker.C {
		a.userDataMu.RLock()
		key := a.listenKey
		client := a.userDataClient
		a.userDataMu.RUnlock()
		if client == nil {
			return
		}
		if err := a.keepAliveListenKey(context.Background(), key); err != nil {
			a.EmitError(err)
		}
	}
}
