package okx

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
	"github.com/ccgate/ccgate/stream"
	"github.com/ccgate/ccgate/xcrypto"
)

func (a *Adapter) publicWSURL() string {
	if a.Config.Sandbox {
		return a.Descriptor.URLs.WSTestnet
	}
	return a.Descriptor.URLs.WS
}

func (a *Adapter) privateWSURL() string {
	if a.Config.Sandbox {
		return a.Descriptor.URLs.PrivateWSTestnet
	}
	return a.Descriptor.URLs.PrivateWS
}

// pingPayload is OKX's plain-text application-level keep-alive frame; the
// server answers with the literal text "pong", which dispatchPublicFrame
// and dispatchPrivateFrame both drop silently since it fails json.Unmarshal
// as a wsEnvelope.
func pingPayload() []byte { return []byte("ping") }

func topicKey(channel, instID string) string {
	if instID == "" {
		return channel
	}
	return channel + ":" + instID
}

func (a *Adapter) publicClient(ctx context.Context) (*stream.Client, error) {
	url := a.publicWSURL()
	client := a.WSClient(url, func() *stream.Client {
		c := stream.New(stream.Config{
			URL:              url,
			KeepAlive:        stream.ApplicationPing,
			Interval:         25 * time.Second,
			AppPingPayload:   pingPayload,
			HandshakeTimeout: 10 * time.Second,
			Logger:           a.Logger,
			OnReconnect:      a.resubscribeAllPublic,
		})
		c.On(a.dispatchPublicFrame)
		return c
	})

	a.loginMu.Lock()
	defer a.loginMu.Unlock()
	if a.loggedIn[url+"#connected"] {
		return client, nil
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errs.Wrap(errs.Network, venueID, err)
	}
	a.loggedIn[url+"#connected"] = true
	return client, nil
}

func (a *Adapter) dispatchPublicFrame(frame []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Arg.Channel == "" {
		return
	}
	sub, ok := a.Subscription(topicKey(env.Arg.Channel, env.Arg.InstID))
	if !ok {
		return
	}
	sub.Callback(struct {
		Action string
		Data   json.RawMessage
	}{Action: env.Action, Data: env.Data})
}

// subscribe opens (or reuses) the shared public connection, sends a
// subscribe op frame, and records the subscription so resubscribeAllPublic
// and dispatchPublicFrame can find it again.
func (a *Adapter) subscribe(ctx context.Context, channel, instID string, cb model.SubscriptionCallback) error {
	client, err := a.publicClient(ctx)
	if err != nil {
		return err
	}
	arg := map[string]interface{}{"channel": channel}
	if instID != "" {
		arg["instId"] = instID
	}
	if err := client.Send(map[string]interface{}{"op": "subscribe", "args": []map[string]interface{}{arg}}); err != nil {
		return errs.Wrap(errs.Network, venueID, err)
	}
	key := topicKey(channel, instID)
	a.RegisterSubscription(key, &model.Subscription{URL: a.publicWSURL(), Topic: key, Callback: cb})
	a.rememberTopic(key)
	return nil
}

func (a *Adapter) rememberTopic(key string) {
	a.topicsMu.Lock()
	defer a.topicsMu.Unlock()
	a.heldTopics = append(a.heldTopics, key)
}

func (a *Adapter) publicTopicKeys() []string {
	a.topicsMu.RLock()
	defer a.topicsMu.RUnlock()
	out := make([]string, len(a.heldTopics))
	copy(out, a.heldTopics)
	return out
}

func (a *Adapter) resubscribeAllPublic() {
	client, err := a.publicClient(context.Background())
	if err != nil {
		a.EmitError(err)
		return
	}
	for _, key := range a.publicTopicKeys() {
		channel, instID := splitTopicKey(key)
		arg := map[string]interface{}{"channel": channel}
		if instID != "" {
			arg["instId"] = instID
		}
		_ = client.Send(map[string]interface{}{"op": "subscribe", "args": []map[string]interface{}{arg}})
	}
}

func splitTopicKey(key string) (channel, instID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// WatchTicker subscribes to the tickers channel for symbol.
func (a *Adapter) WatchTicker(ctx context.Context, symbol string, cb func(*model.Ticker)) error {
	return a.subscribe(ctx, "tickers", a.ToVenueSymbol(symbol), func(payload interface{}) {
		frame, ok := payload.(struct {
			Action string
			Data   json.RawMessage
		})
		if !ok {
			return
		}
		t, err := parseWSTicker(frame.Data)
		if err != nil {
			a.EmitError(err)
			return
		}
		cb(t)
	})
}

// WatchOrderBook subscribes to the books channel for symbol, surfacing raw
// prevSeqId/seqId per push (Open Question (b)); reconciling gaps against a
// REST snapshot via model.BookAssembler is left to the caller.
func (a *Adapter) WatchOrderBook(ctx context.Context, symbol string, cb func(model.OrderBookEvent)) error {
	return a.subscribe(ctx, "books", a.ToVenueSymbol(symbol), func(payload interface{}) {
		frame, ok := payload.(struct {
			Action string
			Data   json.RawMessage
		})
		if !ok {
			return
		}
		evt, err := parseWSBookEvent(symbol, frame.Action, frame.Data)
		if err != nil {
			a.EmitError(err)
			return
		}
		cb(evt)
	})
}

// WatchTrades subscribes to the public trades channel for symbol.
func (a *Adapter) WatchTrades(ctx context.Context, symbol string, cb func(model.Trade)) error {
	return a.subscribe(ctx, "trades", a.ToVenueSymbol(symbol), func(payload interface{}) {
		frame, ok := payload.(struct {
			Action string
			Data   json.RawMessage
		})
		if !ok {
			return
		}
		var rows []json.RawMessage
		if err := json.Unmarshal(frame.Data, &rows); err != nil {
			a.EmitError(errs.New(errs.ExchangeError, venueID, "", "malformed trades frame"))
			return
		}
		for _, raw := range rows {
			trade, err := parseWSTrade(symbol, raw)
			if err != nil {
				a.EmitError(err)
				continue
			}
			cb(trade)
		}
	})
}

// WatchKlines subscribes to the candle<bar> channel for symbol/timeframe.
func (a *Adapter) WatchKlines(ctx context.Context, symbol, timeframe string, cb func(model.Candle)) error {
	native, ok := a.Descriptor.Timeframes[timeframe]
	if !ok {
		return errs.New(errs.BadRequest, venueID, "", "unsupported timeframe: "+timeframe)
	}
	return a.subscribe(ctx, "candle"+native, a.ToVenueSymbol(symbol), func(payload interface{}) {
		frame, ok := payload.(struct {
			Action string
			Data   json.RawMessage
		})
		if !ok {
			return
		}
		var rows []json.RawMessage
		if err := json.Unmarshal(frame.Data, &rows); err != nil {
			a.EmitError(errs.New(errs.ExchangeError, venueID, "", "malformed candle frame"))
			return
		}
		for _, raw := range rows {
			c, err := parseWSCandle(raw)
			if err != nil {
				a.EmitError(err)
				continue
			}
			cb(c)
		}
	})
}

// privateClient lazily connects and logs in to the private WS endpoint,
// grounded on the login handshake: HMAC-SHA256-base64 over
// timestamp+"GET"+"/users/self/verify", sent as a login op frame.
func (a *Adapter) privateClient(ctx context.Context) (*stream.Client, error) {
	if a.Config.APIKey == "" || a.Config.Secret == "" || a.Config.Passphrase == "" {
		return nil, errs.New(errs.Authentication, venueID, "", "missing apiKey/secret/passphrase")
	}
	url := a.privateWSURL()
	client := a.WSClient(url, func() *stream.Client {
		c := stream.New(stream.Config{
			URL:              url,
			KeepAlive:        stream.ApplicationPing,
			Interval:         25 * time.Second,
			AppPingPayload:   pingPayload,
			HandshakeTimeout: 10 * time.Second,
			Logger:           a.Logger,
			OnReconnect:      func() { a.loginAndResubscribePrivate(url) },
		})
		c.On(a.dispatchPrivateFrame)
		return c
	})

	a.loginMu.Lock()
	defer a.loginMu.Unlock()
	if a.loggedIn[url] {
		return client, nil
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errs.Wrap(errs.Network, venueID, err)
	}
	if err := a.sendLogin(client); err != nil {
		return nil, err
	}
	a.loggedIn[url] = true
	a.SetPrivateAuthenticated(url, true)
	return client, nil
}

func (a *Adapter) sendLogin(client *stream.Client) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sign := xcrypto.SignK(a.Config.Secret, timestamp, "GET", "/users/self/verify", "")
	return client.Send(map[string]interface{}{
		"op": "login",
		"args": []map[string]interface{}{{
			"apiKey":     a.Config.APIKey,
			"passphrase": a.Config.Passphrase,
			"timestamp":  timestamp,
			"sign":       sign,
		}},
	})
}

func (a *Adapter) loginAndResubscribePrivate(url string) {
	a.loginMu.Lock()
	a.loggedIn[url] = false
	a.loginMu.Unlock()

	client, err := a.privateClient(context.Background())
	if err != nil {
		a.EmitError(err)
		return
	}
	for _, ch := range a.privateChannels {
		arg := map[string]interface{}{"channel": ch.channel}
		if ch.instType != "" {
			arg["instType"] = ch.instType
		}
		_ = client.Send(map[string]interface{}{"op": "subscribe", "args": []map[string]interface{}{arg}})
	}
}

type privateChannel struct {
	channel  string
	instType string
}

func (a *Adapter) dispatchPrivateFrame(frame []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Arg.Channel == "" {
		return
	}
	a.userDataMu.RLock()
	listeners := make([]func(channel string, raw json.RawMessage), len(a.userDataListeners))
	copy(listeners, a.userDataListeners)
	a.userDataMu.RUnlock()
	for _, l := range listeners {
		l(env.Arg.Channel, env.Data)
	}
}

// ensurePrivateStream lazily connects+logs in once and appends onEvent to
// the shared dispatch list; it also subscribes the given channel the first
// time that channel is requested.
func (a *Adapter) ensurePrivateStream(ctx context.Context, channel, instType string, onEvent func(channel string, raw json.RawMessage)) error {
	client, err := a.privateClient(ctx)
	if err != nil {
		return err
	}

	a.userDataMu.Lock()
	a.userDataListeners = append(a.userDataListeners, onEvent)
	alreadySubscribed := false
	for _, ch := range a.privateChannels {
		if ch.channel == channel {
			alreadySubscribed = true
			break
		}
	}
	if !alreadySubscribed {
		a.privateChannels = append(a.privateChannels, privateChannel{channel: channel, instType: instType})
	}
	a.userDataMu.Unlock()

	if alreadySubscribed {
		return nil
	}
	arg := map[string]interface{}{"channel": channel}
	if instType != "" {
		arg["instType"] = instType
	}
	if err := client.Send(map[string]interface{}{"op": "subscribe", "args": []map[string]interface{}{arg}}); err != nil {
		return errs.Wrap(errs.Network, venueID, err)
	}
	return nil
}

// WatchBalance subscribes to the account channel.
func (a *Adapter) WatchBalance(ctx context.Context, cb func([]model.Balance)) error {
	return a.ensurePrivateStream(ctx, "account", "", func(channel string, raw json.RawMessage) {
		if channel != "account" {
			return
		}
		balances, err := parseWSAccountEvent(raw)
		if err != nil {
			a.EmitError(err)
			return
		}
		cb(balances)
	})
}

// WatchOrders subscribes to the orders channel for all SPOT instruments.
func (a *Adapter) WatchOrders(ctx context.Context, cb func(*model.Order)) error {
	return a.ensurePrivateStream(ctx, "orders", "SPOT", func(channel string, raw json.RawMessage) {
		if channel != "orders" {
			return
		}
		var rows []json.RawMessage
		if err := json.Unmarshal(raw, &rows); err != nil {
			a.EmitError(errs.New(errs.ExchangeError, venueID, "", "malformed orders frame"))
			return
		}
		for _, r := range rows {
			order, err := parseWSOrderEvent(r)
			if err != nil {
				a.EmitError(err)
				continue
			}
			cb(order)
		}
	})
}

// Close sweeps every WS client via the shared best-effort CloseAllWS; OKX's
// private channel has no separate server-side resource analogous to
// Binance's listen key, so there is nothing else to release.
func (a *Adapter) Close() error {
	return a.CloseAllWS()
}
