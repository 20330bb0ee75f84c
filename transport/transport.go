// Package transport implements the HTTP request pipeline every venue
// adapter shares: throttle -> resolve base URL -> sign -> encode body ->
// dispatch with a deadline -> inspect headers -> classify status -> parse
// body -> unwrap envelope. The pipeline never retries transparently; a
// sony/gobreaker circuit breaker wraps dispatch so a hammering caller gets
// fast local failures against a venue that is already failing, instead of
// the core silently retrying and risking duplicate orders.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/metrics"
	"github.com/ccgate/ccgate/ratelimit"
)

// Method is an HTTP verb.
type Method string

const (
	GET    Method = "GET"
	POST   Method = "POST"
	PUT    Method = "PUT"
	DELETE Method = "DELETE"
)

// Encoding selects one of the three mutually exclusive body-encoding modes.
type Encoding int

const (
	// QueryInURL serializes params as a URL-encoded query string for every
	// method; this is the default.
	QueryInURL Encoding = iota
	// JSONBody sends params as a JSON body on POST/PUT only; other methods
	// fall back to QueryInURL.
	JSONBody
	// FormBody sends params as an application/x-www-form-urlencoded body
	// on POST/PUT only; other methods fall back to QueryInURL.
	FormBody
)

// Request is one pipeline call.
type Request struct {
	Method   Method
	Path     string
	Params   map[string]interface{}
	Signed   bool
	Weight   int
	Encoding Encoding
}

// SignResult is what an adapter's Sign hook returns: params may have been
// extended (nonce/signature/timestamp fields added), headers are merged
// into the request, and URL, if non-empty, overrides the resolved base+path.
type SignResult struct {
	Params  map[string]interface{}
	Headers map[string]string
	URL     string
}

// Adapter is the minimal surface the pipeline needs from a venue adapter.
// Concrete adapters in venues/* implement this (often via venue.Base
// delegating to per-venue hooks) rather than subclassing anything.
type Adapter interface {
	VenueID() string
	BaseURL(signed bool) string
	Sign(ctx context.Context, req *Request) (SignResult, error)
	OnHeaders(h http.Header)
	OnHTTPError(status int, body []byte) error
	Unwrap(body []byte) ([]byte, error)
}

// dispatchResult is the raw response a dispatch carries back through the
// circuit breaker before status classification and unwrap.
type dispatchResult struct {
	status  int
	headers http.Header
	body    []byte
}

// Pipeline is the shared HTTP dispatch machinery; one instance per adapter
// instance (never a process-wide singleton, per the concurrency model).
type Pipeline struct {
	Throttler *ratelimit.Bucket
	Client    *http.Client
	Breaker   *gobreaker.CircuitBreaker[dispatchResult]
	Timeout   time.Duration
	Logger    zerolog.Logger
}

// NewPipeline builds a pipeline for one adapter instance. timeout is the
// per-request deadline (default 30s per the construction config).
func NewPipeline(venueID string, throttler *ratelimit.Bucket, timeout time.Duration, logger zerolog.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[dispatchResult](gobreaker.Settings{
		Name:        venueID,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Pipeline{
		Throttler: throttler,
		Client:    &http.Client{},
		Breaker:   breaker,
		Timeout:   timeout,
		Logger:    logger.With().Str("venue", venueID).Logger(),
	}
}

// Do runs the full nine-step pipeline and returns the unwrapped payload
// bytes.
func (p *Pipeline) Do(ctx context.Context, adapter Adapter, req Request) ([]byte, error) {
	venue := adapter.VenueID()

	// (1) throttle. A nil Throttler means the adapter was constructed with
	// enableRateLimit=false; every request then dispatches unthrottled.
	weight := req.Weight
	if weight <= 0 {
		weight = 1
	}
	if p.Throttler != nil {
		throttleStart := time.Now()
		err := p.Throttler.Consume(ctx, weight)
		metrics.ObserveThrottleWait(venue, time.Since(throttleStart))
		if err != nil {
			return nil, errs.Wrap(errs.RequestTimeout, venue, err)
		}
	}

	// (2) resolve base URL.
	base := adapter.BaseURL(req.Signed)
	params := cloneParams(req.Params)
	headers := map[string]string{}
	targetURL := strings.TrimRight(base, "/") + req.Path

	// (3) sign.
	if req.Signed {
		signed, err := adapter.Sign(ctx, &Request{
			Method: req.Method, Path: req.Path, Params: params, Signed: true, Weight: weight, Encoding: req.Encoding,
		})
		if err != nil {
			return nil, err
		}
		if signed.Params != nil {
			params = signed.Params
		}
		for k, v := range signed.Headers {
			headers[k] = v
		}
		if signed.URL != "" {
			targetURL = signed.URL
		}
	}

	// (4) encode body.
	var bodyReader io.Reader
	method := req.Method
	switch req.Encoding {
	case JSONBody:
		if method == POST || method == PUT {
			payload, err := json.Marshal(params)
			if err != nil {
				return nil, errs.New(errs.BadRequest, venue, "", err.Error())
			}
			bodyReader = bytes.NewReader(payload)
			headers["Content-Type"] = "application/json"
		} else {
			targetURL = appendQuery(targetURL, params)
		}
	case FormBody:
		if method == POST || method == PUT {
			bodyReader = strings.NewReader(encodeQuery(params))
			headers["Content-Type"] = "application/x-www-form-urlencoded"
		} else {
			targetURL = appendQuery(targetURL, params)
		}
	default: // QueryInURL
		targetURL = appendQuery(targetURL, params)
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, string(method), targetURL, bodyReader)
	if err != nil {
		return nil, errs.New(errs.BadRequest, venue, "", err.Error())
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	// (5) dispatch with deadline, through the circuit breaker.
	dispatchStart := time.Now()
	res, err := p.Breaker.Execute(func() (dispatchResult, error) {
		resp, err := p.Client.Do(httpReq)
		if err != nil {
			return dispatchResult{}, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return dispatchResult{}, err
		}
		return dispatchResult{status: resp.StatusCode, headers: resp.Header, body: body}, nil
	})
	metrics.ObserveRequestDuration(venue, string(req.Method), time.Since(dispatchStart))
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.RequestTimeout, venue, err)
		}
		return nil, errs.Wrap(errs.Network, venue, err)
	}

	// (6) onHeaders.
	adapter.OnHeaders(res.headers)

	// (7) status classification.
	if res.status == 429 || res.status == 418 {
		metrics.IncRateLimitWarning(venue)
		retryAfter := 0
		if ra := res.headers.Get("Retry-After"); ra != "" {
			if n, convErr := strconv.Atoi(ra); convErr == nil {
				retryAfter = n
			}
		}
		return nil, &errs.Error{
			Kind:              errs.RateLimitExceeded,
			Venue:             venue,
			Message:           string(res.body),
			RetryAfterSeconds: retryAfter,
		}
	}
	if res.status < 200 || res.status >= 300 {
		if err := adapter.OnHTTPError(res.status, res.body); err != nil {
			return nil, err
		}
		return nil, errs.New(errs.ExchangeError, venue, strconv.Itoa(res.status), string(res.body))
	}

	// (8) parse body: JSON first, text fallback is just the raw bytes.
	parsed := res.body

	// (9) unwrap envelope.
	payload, err := adapter.Unwrap(parsed)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func cloneParams(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func encodeQuery(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := url.Values{}
	for _, k := range keys {
		values.Set(k, fmt.Sprintf("%v", params[k]))
	}
	return values.Encode()
}

func appendQuery(target string, params map[string]interface{}) string {
	if len(params) == 0 {
		return target
	}
	q := encodeQuery(params)
	if strings.Contains(target, "?") {
		return target + "&" + q
	}
	return target + "?" + q
}
