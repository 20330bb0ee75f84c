// Package okx implements the K signing-family adapter: HMAC-SHA256-base64
// over an ISO-8601-timestamp + METHOD + requestPath + body message, with the
// passphrase carried as a header alongside the key and signature. Responses
// envelope as {code, msg, data} with code=="0" meaning success (OKX encodes
// its top-level code as a string, not a number).
//
// Grounded on other_examples/.../coachpo-meltica-gateway's OKX provider
// (REST endpoint shapes, ws login frame, {code,msg,data} envelope) and the
// teacher's market/api_client.go for the overall per-venue adapter shape.
package okx

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/transport"
	"github.com/ccgate/ccgate/venue"
	"github.com/ccgate/ccgate/xcrypto"
)

const venueID = "okx"

func init() {
	venue.Register(venueID, func(cfg venue.Config) (interface{}, error) {
		return New(cfg)
	})
}

// errorCodeKinds maps OKX's string error codes to the closed fault taxonomy.
var errorCodeKinds = map[string]errs.Kind{
	"50111": errs.Authentication, // invalid API key
	"50113": errs.Authentication, // invalid signature
	"50102": errs.BadRequest,     // timestamp request expired
	"51008": errs.InsufficientFunds,
	"51400": errs.OrderNotFound,
	"51401": errs.OrderNotFound,
	"51603": errs.OrderNotFound,
	"51004": errs.InvalidOrder,
	"51020": errs.InvalidOrder,
	"51010": errs.BadSymbol,
}

// Adapter is one configured OKX client instance.
type Adapter struct {
	*venue.Base

	// loginMu guards loggedIn (keyed by WS URL, tracking connect/login
	// state for both the public and private sockets).
	loginMu  sync.Mutex
	loggedIn map[string]bool

	topicsMu   sync.RWMutex
	heldTopics []string

	userDataMu        sync.RWMutex
	userDataListeners []func(channel string, raw json.RawMessage)
	privateChannels   []privateChannel
}

func describe() venue.Descriptor {
	return venue.Descriptor{
		ID:      venueID,
		Version: "v5",
		URLs: venue.URLs{
			REST:             "https://www.okx.com",
			WS:               "wss://ws.okx.com:8443/ws/v5/public",
			PrivateWS:        "wss://ws.okx.com:8443/ws/v5/private",
			RESTTestnet:      "https://www.okx.com",
			WSTestnet:        "wss://wspap.okx.com:8443/ws/v5/public",
			PrivateWSTestnet: "wss://wspap.okx.com:8443/ws/v5/private",
		},
		RateLimit: venue.RateLimitParams{Capacity: 60, Refill: 60, Interval: 2 * time.Second},
		Has: map[venue.Capability]bool{
			venue.HasFetchTicker: true, venue.HasFetchTickers: true,
			venue.HasFetchOrderBook: true, venue.HasFetchTrades: true,
			venue.HasFetchOHLCV: true, venue.HasCreateOrder: true,
			venue.HasCancelOrder: true, venue.HasCancelAllOrders: false,
			venue.HasFetchOrder: true, venue.HasFetchOpenOrders: true,
			venue.HasFetchClosedOrders: true, venue.HasFetchMyTrades: true,
			venue.HasFetchBalance: true, venue.HasFetchTradingFees: true,
			venue.HasWatchTicker: true, venue.HasWatchOrderBook: true,
			venue.HasWatchTrades: true, venue.HasWatchKlines: true,
			venue.HasWatchBalance: true, venue.HasWatchOrders: true,
			venue.HasAmendOrder: true,
		},
		Timeframes: map[string]string{
			"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
			"1h": "1H", "2h": "2H", "4h": "4H", "6h": "6H", "12h": "12H",
			"1d": "1D", "1w": "1W", "1M": "1M",
		},
		DefaultFees: venue.Fees{Maker: 0.0008, Taker: 0.001},
	}
}

// New constructs an OKX adapter.
func New(cfg venue.Config) (*Adapter, error) {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.Verbose {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}
	return &Adapter{
		Base:     venue.NewBase(describe(), cfg, logger),
		loggedIn: make(map[string]bool),
	}, nil
}

// VenueID implements transport.Adapter.
func (a *Adapter) VenueID() string { return venueID }

// BaseURL implements transport.Adapter. OKX does not split hosts by signed
// vs public; sandbox only changes the WS hosts (the demo-trading REST host
// is the same domain gated by an x-simulated-trading header this adapter
// does not set, since sandbox REST is out of scope for this client).
func (a *Adapter) BaseURL(signed bool) string {
	return a.Descriptor.URLs.REST
}

// Sign implements the K signing family: ISO-8601 millisecond timestamp +
// METHOD + requestPath (+ query string for GET) + JSON body (for POST),
// HMAC-SHA256-base64 under the secret, carried in headers alongside the
// passphrase (spec.md seed scenario 2).
func (a *Adapter) Sign(ctx context.Context, req *transport.Request) (transport.SignResult, error) {
	if a.Config.APIKey == "" || a.Config.Secret == "" || a.Config.Passphrase == "" {
		return transport.SignResult{}, errs.New(errs.Authentication, venueID, "", "missing apiKey/secret/passphrase")
	}
	timestamp := isoTimestampNow()

	requestPath := req.Path
	var body string
	switch req.Method {
	case transport.GET, transport.DELETE:
		if q := encodeSortedQuery(req.Params); q != "" {
			requestPath += "?" + q
		}
	default:
		payload, err := json.Marshal(req.Params)
		if err != nil {
			return transport.SignResult{}, errs.New(errs.BadRequest, venueID, "", err.Error())
		}
		if string(payload) != "{}" {
			body = string(payload)
		}
	}

	sig := xcrypto.SignK(a.Config.Secret, timestamp, string(req.Method), requestPath, body)

	return transport.SignResult{
		Params: req.Params,
		Headers: map[string]string{
			"OK-ACCESS-KEY":        a.Config.APIKey,
			"OK-ACCESS-SIGN":       sig,
			"OK-ACCESS-TIMESTAMP":  timestamp,
			"OK-ACCESS-PASSPHRASE": a.Config.Passphrase,
		},
	}, nil
}

func isoTimestampNow() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func encodeSortedQuery(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+toQueryValue(params[k]))
	}
	return strings.Join(parts, "&")
}

func toQueryValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	default:
		b, _ := json.Marshal(x)
		return strings.Trim(string(b), `"`)
	}
}

// OnHeaders is a no-op for OKX: the REST API does not expose a used-weight
// header the way Binance does, so there is nothing to feed back into the
// throttler beyond the fixed describe() rate-limit parameters.
func (a *Adapter) OnHeaders(h http.Header) {}

// OnHTTPError classifies a non-2xx response using the {code,msg,data}
// envelope and the venue error-code table.
func (a *Adapter) OnHTTPError(status int, body []byte) error {
	code, msg, hasEnvelope := parseEnvelope(body)
	if !hasEnvelope {
		if status >= 500 {
			return errs.New(errs.ExchangeNotAvailable, venueID, strconv.Itoa(status), string(body))
		}
		return errs.New(errs.BadRequest, venueID, strconv.Itoa(status), string(body))
	}
	kind, known := errorCodeKinds[code]
	if !known {
		kind = errs.ExchangeError
	}
	return errs.New(kind, venueID, code, msg)
}

// Unwrap implements OKX's {code, msg, data} envelope: code=="0" is success
// and data is the payload; any other code is a classified fault even on
// HTTP 200.
func (a *Adapter) Unwrap(body []byte) ([]byte, error) {
	var env struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed response body: "+err.Error())
	}
	if env.Code == "" || env.Code == "0" {
		if len(env.Data) == 0 {
			return body, nil
		}
		return env.Data, nil
	}
	kind, known := errorCodeKinds[env.Code]
	if !known {
		kind = errs.ExchangeError
	}
	return nil, errs.New(kind, venueID, env.Code, env.Msg)
}

func parseEnvelope(body []byte) (code, msg string, ok bool) {
	var env struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", "", false
	}
	if env.Code == "" {
		return "", "", false
	}
	return env.Code, env.Msg, true
}
