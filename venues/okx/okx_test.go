package okx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
	"github.com/ccgate/ccgate/transport"
	"github.com/ccgate/ccgate/venue"
)

func newTestAdapter(t *testing.T, server *httptest.Server) *Adapter {
	t.Helper()
	a, err := New(venue.Config{APIKey: "key", Secret: "secret", Passphrase: "P"})
	require.NoError(t, err)
	if server != nil {
		a.Descriptor.URLs.REST = server.URL
	}
	return a
}

func TestSignAddsHeadersAndPassphrase(t *testing.T) {
	a := newTestAdapter(t, nil)
	req := transport.Request{Method: transport.GET, Path: "/api/v5/account/balance"}
	res, err := a.Sign(context.Background(), &req)
	require.NoError(t, err)
	assert.Equal(t, "key", res.Headers["OK-ACCESS-KEY"])
	assert.Equal(t, "P", res.Headers["OK-ACCESS-PASSPHRASE"])
	assert.NotEmpty(t, res.Headers["OK-ACCESS-SIGN"])
	assert.NotEmpty(t, res.Headers["OK-ACCESS-TIMESTAMP"])
}

func TestSignRequiresCredentials(t *testing.T) {
	a, err := New(venue.Config{})
	require.NoError(t, err)
	req := transport.Request{}
	_, err = a.Sign(context.Background(), &req)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.Authentication, e.Kind)
}

func TestOnHTTPErrorClassifiesKnownCode(t *testing.T) {
	a := newTestAdapter(t, nil)
	err := a.OnHTTPError(400, []byte(`{"code":"51008","msg":"Insufficient balance"}`))
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.InsufficientFunds, e.Kind)
}

func TestOnHTTPErrorFallsBackWithoutEnvelope(t *testing.T) {
	a := newTestAdapter(t, nil)
	err := a.OnHTTPError(503, []byte(`Service Unavailable`))
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.ExchangeNotAvailable, e.Kind)
}

// Seed scenario 6 analogue: a non-zero code embedded in a {code,msg,data}
// envelope must be classified even on HTTP 200.
func TestUnwrapDetectsEnvelopeFaultOnHTTP200(t *testing.T) {
	a := newTestAdapter(t, nil)
	_, err := a.Unwrap([]byte(`{"code":"51400","msg":"Order does not exist","data":[]}`))
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.OrderNotFound, e.Kind)
}

func TestUnwrapReturnsDataOnSuccess(t *testing.T) {
	a := newTestAdapter(t, nil)
	body, err := a.Unwrap([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT"}]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"instId":"BTC-USDT"}]`, string(body))
}

func TestFetchTickerRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/ticker", r.URL.Path)
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("instId"))
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"65000","bidPx":"64999","bidSz":"1","askPx":"65001","askSz":"1","high24h":"66000","low24h":"64000","open24h":"64500","vol24h":"100","volCcy24h":"6500000","ts":"1700000000000"}]}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	ticker, err := a.FetchTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", ticker.Symbol)
	assert.InDelta(t, 65000.0, ticker.Last, 1e-9)
}

func TestFetchOrderBookParsesLevels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","msg":"","data":[{"asks":[["30010","1","0","1"]],"bids":[["30000","1","0","1"],["30001","2","0","1"]],"ts":"1700000000000"}]}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	book, ts, err := a.FetchOrderBook(context.Background(), "BTC/USDT", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ts)
	require.Len(t, book.Bids, 2)
	assert.InDelta(t, 30001, book.Bids[0].Price, 1e-9) // sorted descending
}

func TestCreateOrderSendsSignedJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key", r.Header.Get("OK-ACCESS-KEY"))
		assert.Equal(t, "P", r.Header.Get("OK-ACCESS-PASSPHRASE"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "BTC-USDT", body["instId"])
		assert.Equal(t, "cash", body["tdMode"])
		assert.Equal(t, "buy", body["side"])
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","ordId":"1","clOrdId":"c1","px":"30000","sz":"1","accFillSz":"0","state":"live","side":"buy","ordType":"limit","uTime":"1700000000000"}]}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	order, err := a.CreateOrder(context.Background(), "BTC/USDT", model.Limit, model.Buy, 1, 30000, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", order.ID)
	assert.Equal(t, model.StatusNew, order.Status)
}

func TestCreateOrderRejectsUnsupportedType(t *testing.T) {
	a := newTestAdapter(t, nil)
	_, err := a.CreateOrder(context.Background(), "BTC/USDT", model.StopLimit, model.Buy, 1, 30000, nil)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.InvalidOrder, e.Kind)
}

// Open Question (a): caller-supplied params["category"] always wins.
func TestCancelOrderPreservesCallerCategoryOverride(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if r.URL.Path == "/api/v5/trade/cancel-order" {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "spot-override", body["category"])
			w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","ordId":"1"}]}`))
			return
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","ordId":"1","state":"canceled","side":"buy","ordType":"limit","px":"1","sz":"1","uTime":"1"}]}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	_, err := a.CancelOrder(context.Background(), "1", "BTC/USDT", map[string]interface{}{"category": "spot-override"})
	require.NoError(t, err)
	assert.Equal(t, 2, callCount) // cancel-order + FetchOrder round trip
}

// Unlike Binance, OKX exposes amend-order directly.
func TestAmendOrderRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v5/trade/amend-order" {
			w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"1"}]}`))
			return
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","ordId":"1","state":"live","side":"buy","ordType":"limit","px":"31000","sz":"1","uTime":"1"}]}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	order, err := a.AmendOrder(context.Background(), "1", "BTC/USDT", map[string]interface{}{"price": "31000"})
	require.NoError(t, err)
	assert.InDelta(t, 31000, order.Price, 1e-9)
}

func TestCancelAllOrdersNotImplemented(t *testing.T) {
	a := newTestAdapter(t, nil)
	_, err := a.CancelAllOrders(context.Background(), "BTC/USDT")
	require.Error(t, err)
}

func TestFromVenueSymbolSplitsOnHyphen(t *testing.T) {
	a := newTestAdapter(t, nil)
	sym, err := a.FromVenueSymbol("ETH-USDT")
	require.NoError(t, err)
	assert.Equal(t, "ETH/USDT", sym)

	_, err = a.FromVenueSymbol("")
	assert.Error(t, err)
}

func TestToVenueSymbolUsesHyphen(t *testing.T) {
	a := newTestAdapter(t, nil)
	assert.Equal(t, "BTC-USDT", a.ToVenueSymbol("BTC/USDT"))
}

func TestParseCandleCanonicalOrder(t *testing.T) {
	row := []interface{}{"1700000000000", "100", "110", "95", "105", "42"}
	c, err := parseCandle(row)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), c.Timestamp)
	assert.InDelta(t, 100, c.Open, 1e-9)
	assert.InDelta(t, 110, c.High, 1e-9)
}

func TestParseWSBookEventSurfacesSeqIDsVerbatim(t *testing.T) {
	raw := json.RawMessage(`[{"asks":[["30010","1","0","1"]],"bids":[["30000","1","0","1"]],"seqId":105,"prevSeqId":100}]`)
	evt, err := parseWSBookEvent("BTC/USDT", "update", raw)
	require.NoError(t, err)
	assert.Equal(t, int64(100), evt.FirstUpdateID)
	assert.Equal(t, int64(105), evt.FinalUpdateID)
	assert.Equal(t, model.Delta, evt.Type)
}

func TestTopicKeyRoundTripsThroughSplit(t *testing.T) {
	key := topicKey("books", "BTC-USDT")
	channel, instID := splitTopicKey(key)
	assert.Equal(t, "books", channel)
	assert.Equal(t, "BTC-USDT", instID)

	key = topicKey("account", "")
	channel, instID = splitTopicKey(key)
	assert.Equal(t, "account", channel)
	assert.Empty(t, instID)
}
