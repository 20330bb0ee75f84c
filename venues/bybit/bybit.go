// Package bybit implements the G signing-family adapter: HMAC-SHA512 hex
// over METHOD\nPATH\nQUERY\nSHA512(body)\nTIMESTAMP, carried in X-BAPI-*
// headers, against Bybit's unified v5 {retCode,retMsg,result} envelope.
//
// Grounded on the teacher's market/api_client.go (retCode/retMsg envelope,
// kline interval table, tickers/klines endpoint shapes) and
// other_examples/.../thrasher-corp-gocryptotrader's bybit_websocket.go for
// the public/private channel names, ping cadence, and the
// "GET/realtime"+expires login-payload shape the private WS auth frame
// reuses (here recomputed through SignG rather than raw HMAC-SHA256).
package bybit

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

const venueID = "bybit"

// defaultCategory is the product scope this adapter targets; Open Question
// (a) style override: a caller-supplied params["category"] always wins.
const defaultCategory = "spot"

func init() {
	venue.Register(venueID, func(cfg venue.Config) (interface{}, error) {
		return New(cfg)
	})
}

// errorCodeKinds maps Bybit's numeric retCode to the closed fault taxonomy.
var errorCodeKinds = map[int]errs.Kind{
	10003:  errs.Authentication, // invalid api key
	10004:  errs.Authentication, // error sign
	10005:  errs.Authentication, // permission denied
	10006:  errs.RateLimitExceeded,
	110001: errs.OrderNotFound,
	110007: errs.InsufficientFunds,
	110012: errs.InsufficientFunds,
	110017: errs.InvalidOrder,
	170131: errs.InsufficientFunds,
	170140: errs.InvalidOrder,
	170213: errs.BadSymbol,
}

// Adapter is one configured Bybit client instance.
type Adapter struct {
	*venue.Base

	loginMu  sync.Mutex
	loggedIn map[string]bool

	topicsMu   sync.RWMutex
	heldTopics []string

	userDataMu        sync.RWMutex
	userDataListeners []func(topic string, raw json.RawMessage)
	privateTopics     []string
}

func describe() venue.Descriptor {
	return venue.Descriptor{
		ID:      venueID,
		Version: "v5",
		URLs: venue.URLs{
			REST:             "https://api.bybit.com",
			WS:               "wss://stream.bybit.com/v5/public/spot",
			PrivateWS:        "wss://stream.bybit.com/v5/private",
			RESTTestnet:      "https://api-testnet.bybit.com",
			WSTestnet:        "wss://stream-testnet.bybit.com/v5/public/spot",
			PrivateWSTestnet: "wss://stream-testnet.bybit.com/v5/private",
		},
		RateLimit: venue.RateLimitParams{Capacity: 120, Refill: 120, Interval: 5 * time.Second},
		Has: map[venue.Capability]bool{
			venue.HasFetchTicker: true, venue.HasFetchTickers: true,
			venue.HasFetchOrderBook: true, venue.HasFetchTrades: true,
			venue.HasFetchOHLCV: true, venue.HasCreateOrder: true,
			venue.HasCancelOrder: true, venue.HasCancelAllOrders: true,
			venue.HasFetchOrder: true, venue.HasFetchOpenOrders: true,
			venue.HasFetchClosedOrders: true, venue.HasFetchMyTrades: true,
			venue.HasFetchBalance: true, venue.HasFetchTradingFees: true,
			venue.HasWatchTicker: true, venue.HasWatchOrderBook: true,
			venue.HasWatchTrades: true, venue.HasWatchKlines: true,
			venue.HasWatchBalance: true, venue.HasWatchOrders: true,
			venue.HasAmendOrder: true,
		},
		Timeframes: map[string]string{
			"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
			"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
			"1d": "D", "1w": "W", "1M": "M",
		},
		DefaultFees: venue.Fees{Maker: 0.001, Taker: 0.001},
	}
}

// New constructs a Bybit adapter.
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

// Close sweeps every WS client via the shared best-effort CloseAllWS; Bybit
// has no listen-key analogue to release.
func (a *Adapter) Close() error { return a.CloseAllWS() }

// VenueID implements transport.Adapter.
func (a *Adapter) VenueID() string { return venueID }

// BaseURL implements transport.Adapter.
func (a *Adapter) BaseURL(signed bool) string {
	if a.Config.Sandbox {
		return a.Descriptor.URLs.RESTTestnet
	}
	return a.Descriptor.URLs.REST
}

// Sign implements the G signing family: METHOD\nPATH\nQUERY\nSHA512(body)\n
// TIMESTAMP, HMAC-SHA512-hexed under the secret, carried in X-BAPI-* headers
// alongside the recv-window (spec.md §4.5's G row).
func (a *Adapter) Sign(ctx context.Context, req *transport.Request) (transport.SignResult, error) {
	if a.Config.APIKey == "" || a.Config.Secret == "" {
		return transport.SignResult{}, errs.New(errs.Authentication, venueID, "", "missing apiKey/secret")
	}
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	const recvWindow = "5000"

	var query, body string
	switch req.Method {
	case transport.GET, transport.DELETE:
		query = encodeSortedQuery(req.Params)
	default:
		payload, err := json.Marshal(req.Params)
		if err != nil {
			return transport.SignResult{}, errs.New(errs.BadRequest, venueID, "", err.Error())
		}
		if string(payload) != "{}" {
			body = string(payload)
		}
	}

	sig := xcrypto.SignG(a.Config.Secret, string(req.Method), req.Path, query, body, timestamp)

	return transport.SignResult{
		Params: req.Params,
		Headers: map[string]string{
			"X-BAPI-API-KEY":     a.Config.APIKey,
			"X-BAPI-SIGN":        sig,
			"X-BAPI-TIMESTAMP":   timestamp,
			"X-BAPI-RECV-WINDOW": recvWindow,
		},
	}, nil
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

// withCategory merges defaultCategory into params unless the caller already
// supplied one; the caller's value always wins.
func withCategory(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+1)
	out["category"] = defaultCategory
	for k, v := range params {
		out[k] = v
	}
	return out
}

// OnHeaders is a no-op: Bybit's v5 REST API does not expose a used-weight
// response header the way Binance does.
func (a *Adapter) OnHeaders(h http.Header) {}

// OnHTTPError classifies a non-2xx response using the {retCode,retMsg}
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
	return errs.New(kind, venueID, strconv.Itoa(code), msg)
}

// Unwrap implements Bybit's {retCode, retMsg, result} envelope: retCode==0
// is success and result is the payload; any other retCode is a classified
// fault even on HTTP 200.
func (a *Adapter) Unwrap(body []byte) ([]byte, error) {
	var env struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errs.New(errs.ExchangeError, venueID, "", "malformed response body: "+err.Error())
	}
	if env.RetCode == 0 {
		if len(env.Result) == 0 {
			return body, nil
		}
		return env.Result, nil
	}
	kind, known := errorCodeKinds[env.RetCode]
	if !known {
		kind = errs.ExchangeError
	}
	return nil, errs.New(kind, venueID, strconv.Itoa(env.RetCode), env.RetMsg)
}

func parseEnvelope(body []byte) (code int, msg string, ok bool) {
	var env struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, "", false
	}
	if env.RetCode == 0 && env.RetMsg == "" {
		return 0, "", false
	}
	return env.RetCode, env.RetMsg, true
}
