package venue

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
	"github.com/ccgate/ccgate/ratelimit"
	"github.com/ccgate/ccgate/stream"
	"github.com/ccgate/ccgate/transport"
)

// EventKind distinguishes the two event types the adapter emits.
type EventKind string

const (
	EventRateLimitWarning EventKind = "rateLimitWarning"
	EventError            EventKind = "error"
)

// RateLimitWarning is the payload of an EventRateLimitWarning event.
type RateLimitWarning struct {
	Used           int
	Limit          int
	Remaining      int
	ResetTimestamp int64 // ms since epoch; zero means absent
}

// Event is one item on the adapter's event stream. No ordering guarantee is
// provided between events and operation completions.
type Event struct {
	Kind             EventKind
	RateLimitWarning *RateLimitWarning
	Err              error
}

// EventListener receives every emitted Event.
type EventListener func(Event)

// Base composes the framework machinery one adapter instance owns: the HTTP
// pipeline, the market cache, the WebSocket client map, and the
// subscription registry. It is held by reference from a concrete venues/*
// adapter — never embedded as a base class — so the pipeline can call back
// into the adapter through the transport.Adapter interface while Base
// supplies the shared bookkeeping every adapter needs identically.
type Base struct {
	Descriptor Descriptor
	Config     Config
	Pipeline   *transport.Pipeline
	Throttler  *ratelimit.Bucket
	Logger     zerolog.Logger

	marketsMu     sync.RWMutex
	marketsBySym  map[string]*model.Market
	marketsByID   map[string]*model.Market
	marketsLoaded bool

	wsMu          sync.RWMutex
	wsClients     map[string]*stream.Client
	subscriptions map[string]*model.Subscription
	privateAuth   map[string]bool

	listenersMu sync.RWMutex
	listeners   []EventListener
}

// NewBase builds the framework state for one adapter instance. When
// cfg.EnableRateLimit is false, no bucket is constructed at all and the
// pipeline dispatches every request unthrottled (see Pipeline.Do).
func NewBase(desc Descriptor, cfg Config, logger zerolog.Logger) *Base {
	cfg = cfg.WithDefaults()
	var bucket *ratelimit.Bucket
	if cfg.EnableRateLimit {
		bucket = ratelimit.NewBucket(desc.RateLimit.Capacity, desc.RateLimit.Refill, desc.RateLimit.Interval)
	}
	pipeline := transport.NewPipeline(desc.ID, bucket, cfg.Timeout, logger)
	return &Base{
		Descriptor:    desc,
		Config:        cfg,
		Pipeline:      pipeline,
		Throttler:     bucket,
		Logger:        logger.With().Str("venue", desc.ID).Logger(),
		marketsBySym:  make(map[string]*model.Market),
		marketsByID:   make(map[string]*model.Market),
		wsClients:     make(map[string]*stream.Client),
		subscriptions: make(map[string]*model.Subscription),
		privateAuth:   make(map[string]bool),
	}
}

// On registers an event listener.
func (b *Base) On(l EventListener) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *Base) emit(e Event) {
	b.listenersMu.RLock()
	listeners := make([]EventListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.listenersMu.RUnlock()
	for _, l := range listeners {
		l(e)
	}
}

// EmitRateLimitWarning fires a rateLimitWarning event.
func (b *Base) EmitRateLimitWarning(w RateLimitWarning) {
	b.emit(Event{Kind: EventRateLimitWarning, RateLimitWarning: &w})
}

// EmitError fires an error event.
func (b *Base) EmitError(err error) {
	b.emit(Event{Kind: EventError, Err: err})
}

// SetMarkets replaces the market cache, indexing by both canonical symbol
// and venue-native id. Invariant: marketsById[venueId] and markets[symbol]
// refer to the same *Market instance.
func (b *Base) SetMarkets(markets []*model.Market) {
	b.marketsMu.Lock()
	defer b.marketsMu.Unlock()
	b.marketsBySym = make(map[string]*model.Market, len(markets))
	b.marketsByID = make(map[string]*model.Market, len(markets))
	for _, m := range markets {
		b.marketsBySym[m.Symbol] = m
		b.marketsByID[m.VenueID] = m
	}
	b.marketsLoaded = true
}

// MarketsLoaded reports whether loadMarkets has populated the cache.
func (b *Base) MarketsLoaded() bool {
	b.marketsMu.RLock()
	defer b.marketsMu.RUnlock()
	return b.marketsLoaded
}

// MarketBySymbol looks up a cached market by canonical symbol.
func (b *Base) MarketBySymbol(symbol string) (*model.Market, bool) {
	b.marketsMu.RLock()
	defer b.marketsMu.RUnlock()
	m, ok := b.marketsBySym[symbol]
	return m, ok
}

// MarketByVenueID looks up a cached market by venue-native id.
func (b *Base) MarketByVenueID(id string) (*model.Market, bool) {
	b.marketsMu.RLock()
	defer b.marketsMu.RUnlock()
	m, ok := b.marketsByID[id]
	return m, ok
}

// AllMarkets returns a snapshot slice of every cached market.
func (b *Base) AllMarkets() []*model.Market {
	b.marketsMu.RLock()
	defer b.marketsMu.RUnlock()
	out := make([]*model.Market, 0, len(b.marketsBySym))
	for _, m := range b.marketsBySym {
		out = append(out, m)
	}
	return out
}

// WSClient returns the existing client for url, or builds one via factory
// and registers it — one client instance per url, per §4.4.
func (b *Base) WSClient(url string, factory func() *stream.Client) *stream.Client {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	if c, ok := b.wsClients[url]; ok {
		return c
	}
	c := factory()
	b.wsClients[url] = c
	return c
}

// RegisterSubscription records a held subscription under its topic key.
func (b *Base) RegisterSubscription(topicKey string, sub *model.Subscription) {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	b.subscriptions[topicKey] = sub
}

// Unsubscribe removes a held subscription.
func (b *Base) Unsubscribe(topicKey string) {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	delete(b.subscriptions, topicKey)
}

// Subscription looks up a held subscription by topic key.
func (b *Base) Subscription(topicKey string) (*model.Subscription, bool) {
	b.wsMu.RLock()
	defer b.wsMu.RUnlock()
	s, ok := b.subscriptions[topicKey]
	return s, ok
}

// SetPrivateAuthenticated records whether a connection has completed the
// private-channel auth handshake.
func (b *Base) SetPrivateAuthenticated(url string, authenticated bool) {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	b.privateAuth[url] = authenticated
}

// IsPrivateAuthenticated reports whether url has completed private auth.
func (b *Base) IsPrivateAuthenticated(url string) bool {
	b.wsMu.RLock()
	defer b.wsMu.RUnlock()
	return b.privateAuth[url]
}

// CloseAllWS closes every WS client, clears the subscription registry and
// the private-auth flags. It is best-effort: individual close errors are
// collected but do not stop the sweep, since an adapter that returns early
// here would leak the remaining sockets.
func (b *Base) CloseAllWS() error {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	var errsList []error
	for url, c := range b.wsClients {
		if err := c.Close(); err != nil {
			errsList = append(errsList, fmt.Errorf("close %s: %w", url, err))
		}
	}
	b.wsClients = make(map[string]*stream.Client)
	b.subscriptions = make(map[string]*model.Subscription)
	b.privateAuth = make(map[string]bool)

	if len(errsList) == 0 {
		return nil
	}
	return fmt.Errorf("venue: %d ws clients failed to close cleanly: %v", len(errsList), errsList)
}

// NotImplemented builds the fault a capability raises when its describe()
// flag is false but the caller invokes it anyway.
func NotImplemented(venueID, method string) *errs.Error {
	return errs.New(errs.BadRequest, venueID, "", fmt.Sprintf("%s is not implemented", method))
}
