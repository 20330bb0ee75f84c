package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/ratelimit"
)

// fakeAdapter is a minimal Adapter used only to exercise the pipeline.
type fakeAdapter struct {
	baseURL      string
	signHeader   string
	lastHeaders  http.Header
	envelopeMode string // "", "binance", "bybit"
}

func (f *fakeAdapter) VenueID() string { return "fake" }

func (f *fakeAdapter) BaseURL(signed bool) string { return f.baseURL }

func (f *fakeAdapter) Sign(ctx context.Context, req *Request) (SignResult, error) {
	return SignResult{
		Params:  req.Params,
		Headers: map[string]string{"X-FAKE-KEY": f.signHeader},
	}, nil
}

func (f *fakeAdapter) OnHeaders(h http.Header) { f.lastHeaders = h }

func (f *fakeAdapter) OnHTTPError(status int, body []byte) error {
	var env struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(body, &env) == nil && env.Code == -2010 {
		return errs.New(errs.InsufficientFunds, "fake", "-2010", env.Msg)
	}
	return errs.New(errs.ExchangeError, "fake", "", string(body))
}

func (f *fakeAdapter) Unwrap(body []byte) ([]byte, error) {
	switch f.envelopeMode {
	case "binance":
		var env struct {
			Code int             `json:"code"`
			Msg  string          `json:"msg"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err == nil && env.Code != 0 {
			return nil, f.OnHTTPError(200, body)
		}
		if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
			return env.Data, nil
		}
		return body, nil
	default:
		return body, nil
	}
}

func newPipeline() *Pipeline {
	bucket := ratelimit.NewBucket(100, 100, time.Second)
	return NewPipeline("fake", bucket, 2*time.Second, zerolog.Nop())
}

func TestPipelineHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "signed-key", r.Header.Get("X-FAKE-KEY"))
		w.WriteHeader(200)
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	adapter := &fakeAdapter{baseURL: srv.URL, signHeader: "signed-key"}
	p := newPipeline()

	body, err := p.Do(context.Background(), adapter, Request{Method: GET, Path: "/ping", Signed: true, Weight: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"ok"}`, string(body))
	assert.NotNil(t, adapter.lastHeaders)
}

func TestPipelineRateLimitStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(429)
		w.Write([]byte("too many requests"))
	}))
	defer srv.Close()

	adapter := &fakeAdapter{baseURL: srv.URL}
	p := newPipeline()

	_, err := p.Do(context.Background(), adapter, Request{Method: GET, Path: "/x", Weight: 1})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.RateLimitExceeded, e.Kind)
	assert.Equal(t, 7, e.RetryAfterSeconds)
}

// Seed scenario 6: HTTP 200 body {"code":-2010,"msg":"..."} (B2 family)
// raises InsufficientFunds.
func TestPipelineEnvelopeErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance"}`))
	}))
	defer srv.Close()

	adapter := &fakeAdapter{baseURL: srv.URL, envelopeMode: "binance"}
	p := newPipeline()

	_, err := p.Do(context.Background(), adapter, Request{Method: GET, Path: "/account", Weight: 1})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Contains(t, e.Error(), "-2010")
}

func TestPipelineNonEnvelopeHTTPErrorDelegatesToOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance"}`))
	}))
	defer srv.Close()

	adapter := &fakeAdapter{baseURL: srv.URL}
	p := newPipeline()

	_, err := p.Do(context.Background(), adapter, Request{Method: GET, Path: "/account", Weight: 1})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.InsufficientFunds, e.Kind)
}

// Seed scenario: enableRateLimit=false means no bucket is ever consulted —
// a pipeline built with a nil Throttler must not block even when a real
// bucket in its place would have starved the second call.
func TestPipelineDisabledRateLimitDoesNotThrottle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	adapter := &fakeAdapter{baseURL: srv.URL}
	p := NewPipeline("fake", nil, 2*time.Second, zerolog.Nop())
	require.Nil(t, p.Throttler)

	// A capacity-1, refill-once-per-hour bucket would starve any second
	// call within a short deadline; a nil Throttler must let both through.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Do(ctx, adapter, Request{Method: GET, Path: "/a", Weight: 1})
	require.NoError(t, err)
	_, err = p.Do(ctx, adapter, Request{Method: GET, Path: "/b", Weight: 1})
	require.NoError(t, err)
}

// Control case proving the bucket really would have starved the second call
// above, so the nil-Throttler test isn't vacuously passing.
func TestPipelineEnabledRateLimitDoesThrottle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	adapter := &fakeAdapter{baseURL: srv.URL}
	bucket := ratelimit.NewBucket(1, 1, time.Hour)
	p := NewPipeline("fake", bucket, 2*time.Second, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Do(ctx, adapter, Request{Method: GET, Path: "/a", Weight: 1})
	require.NoError(t, err)
	_, err = p.Do(ctx, adapter, Request{Method: GET, Path: "/b", Weight: 1})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.RequestTimeout, e.Kind)
}

func TestPipelineJSONBodyEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "BTC-USDT", body["instId"])
		w.WriteHeader(200)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	adapter := &fakeAdapter{baseURL: srv.URL, signHeader: "k"}
	p := newPipeline()

	_, err := p.Do(context.Background(), adapter, Request{
		Method: POST, Path: "/order", Signed: true, Weight: 1, Encoding: JSONBody,
		Params: map[string]interface{}{"instId": "BTC-USDT"},
	})
	require.NoError(t, err)
}
