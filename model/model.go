// Package model defines the canonical data shapes every venue adapter
// normalizes into, and the small set of invariant checks and conversions
// those shapes carry. Canonical numeric fields are always float64 in human
// units — venues that scale integers by a fixed power of ten, or that
// return strings, convert in their own parsers before reaching this
// package.
package model

// Info is the opaque, venue-specific passthrough every canonical shape
// carries. It is the one place dynamic typing survives normalization.
type Info map[string]interface{}

// Market identifies one tradable pair on one venue.
type Market struct {
	VenueID        string
	Symbol         string // canonical "BASE/QUOTE"
	Base           string
	Quote          string
	Active         bool
	PricePrecision int
	AmountPrecision int
	PriceMin       float64
	PriceMax       float64
	AmountMin      float64
	AmountMax      float64
	CostMin        float64
	CostMax        float64
	PriceStep      float64
	AmountStep     float64
	Info           Info
}

// Ticker is a 24h snapshot for one symbol.
type Ticker struct {
	Symbol      string
	Last        float64
	Bid         float64
	BidVolume   float64
	Ask         float64
	AskVolume   float64
	High        float64
	Low         float64
	Open        float64
	Close       float64
	BaseVolume  float64
	QuoteVolume float64
	Change      float64
	Percentage  float64
	VWAP        float64
	Timestamp   int64 // ms since epoch
	Datetime    string
	Info        Info
}

// FillDerived fills Open or Change when the venue supplied only one of
// {open, change}: change = last - open, or open = last - change. Whenever
// Open is non-zero it then recomputes Percentage as Change/Open*100. Close
// is never touched.
func (t *Ticker) FillDerived() {
	switch {
	case t.Open != 0 && t.Change == 0:
		t.Change = t.Last - t.Open
	case t.Open == 0 && t.Change != 0:
		t.Open = t.Last - t.Change
	}
	if t.Open != 0 {
		t.Percentage = (t.Change / t.Open) * 100
	}
}

// Side is a normalized trade/order side.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Trade is a single executed trade, public or (with Fill populated) a
// private fill.
type Trade struct {
	ID        string
	Symbol    string
	Price     float64
	Amount    float64
	Cost      float64
	Side      Side
	Timestamp int64
	Fill      *Fill // nil for public trades
	Info      Info
}

// Fill carries the private-fill-only fields.
type Fill struct {
	OrderID string
	Fee     Fee
	IsMaker bool
}

// Fee is a cost/currency pair.
type Fee struct {
	Cost     float64
	Currency string
}

// Candle is the canonical OHLCV tuple.
type Candle struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// OrderType is the canonical, upper-case order type vocabulary.
type OrderType string

const (
	Limit         OrderType = "LIMIT"
	Market        OrderType = "MARKET"
	Stop          OrderType = "STOP"
	StopLimit     OrderType = "STOP_LIMIT"
	TrailingStop  OrderType = "TRAILING_STOP"
	FOK           OrderType = "FOK"
	IOC           OrderType = "IOC"
	LimitMaker    OrderType = "LIMIT_MAKER"
)

// OrderStatus is the canonical order lifecycle state.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// terminal reports whether a status has no further transitions.
func (s OrderStatus) terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal order
// lifecycle transition: NEW -> PARTIALLY_FILLED -> FILLED, NEW -> FILLED, or NEW/
// PARTIALLY_FILLED -> CANCELED/REJECTED/EXPIRED. Terminal states never
// transition further.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.terminal() {
		return false
	}
	switch s {
	case StatusNew:
		return next == StatusPartiallyFilled || next == StatusFilled ||
			next == StatusCanceled || next == StatusRejected || next == StatusExpired
	case StatusPartiallyFilled:
		return next == StatusFilled || next == StatusCanceled ||
			next == StatusRejected || next == StatusExpired
	default:
		return false
	}
}

// Order is a canonical order record.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Type          OrderType
	Side          Side
	Price         float64
	Amount        float64
	Filled        float64
	Remaining     float64 // derived: Amount - Filled
	Cost          float64
	Average       float64 // derived: Cost / Filled when Filled > 0
	Status        OrderStatus
	TimeInForce   string
	Timestamp     int64
	Trades        []Trade
	Fee           Fee
	Info          Info
}

// Derive fills Remaining and Average from Amount/Filled/Cost.
func (o *Order) Derive() {
	o.Remaining = o.Amount - o.Filled
	if o.Filled > 0 {
		o.Average = o.Cost / o.Filled
	}
}

// Balance is one currency's free/used/total snapshot.
type Balance struct {
	Currency  string
	Free      float64
	Used      float64
	Total     float64
	Info      Info
	Timestamp int64
}

// SubscriptionCallback receives a decoded stream event for one topic.
type SubscriptionCallback func(payload interface{})

// Subscription is a held (url, topic, callback) triple.
type Subscription struct {
	URL      string
	Topic    string
	Callback SubscriptionCallback
}

// BookEntryKind distinguishes an order-book stream frame's role.
type BookEntryKind string

const (
	Snapshot BookEntryKind = "snapshot"
	Delta    BookEntryKind = "delta"
)

// OrderBookEvent is what watchOrderBook delivers to the caller: the parsed
// book plus venue sequence fields surfaced verbatim (see Open Question (b)
// in DESIGN.md — no reconciliation is performed by the core).
type OrderBookEvent struct {
	Type          BookEntryKind
	Book          *OrderBook
	FirstUpdateID int64
	FinalUpdateID int64
}
