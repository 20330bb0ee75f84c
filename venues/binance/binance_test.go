package binance

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
	a, err := New(venue.Config{APIKey: "key", Secret: "secret"})
	require.NoError(t, err)
	if server != nil {
		a.Descriptor.URLs.REST = server.URL
	}
	return a
}

func TestSignAddsTimestampRecvWindowAndSignature(t *testing.T) {
	a := newTestAdapter(t, nil)
	req := transport.Request{Params: map[string]interface{}{"symbol": "BTCUSDT"}}
	res, err := a.Sign(context.Background(), &req)
	require.NoError(t, err)
	assert.Contains(t, res.Params, "timestamp")
	assert.Equal(t, 5000, res.Params["recvWindow"])
	assert.Contains(t, res.Params, "signature")
	assert.Equal(t, "key", res.Headers["X-MBX-APIKEY"])
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
	err := a.OnHTTPError(400, []byte(`{"code":-2010,"msg":"Account has insufficient balance"}`))
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

// Seed scenario 6: a {code,msg} fault embedded in an otherwise-2xx response
// must be classified, not passed through as a success.
func TestUnwrapDetectsEnvelopeFaultOnHTTP200(t *testing.T) {
	a := newTestAdapter(t, nil)
	_, err := a.Unwrap([]byte(`{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`))
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.InvalidOrder, e.Kind)
}

func TestUnwrapPassesThroughNonEnvelopeBody(t *testing.T) {
	a := newTestAdapter(t, nil)
	body, err := a.Unwrap([]byte(`{"symbol":"BTCUSDT","lastPrice":"100"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":"BTCUSDT","lastPrice":"100"}`, string(body))
}

func TestOnHeadersEmitsRateLimitWarningAbove80Percent(t *testing.T) {
	a := newTestAdapter(t, nil)
	received := make(chan venue.Event, 1)
	a.On(func(e venue.Event) { received <- e })

	h := http.Header{}
	h.Set("X-MBX-USED-WEIGHT-1M", "1000") // 1000/1200 = 83%
	a.OnHeaders(h)

	e := <-received
	assert.Equal(t, venue.EventRateLimitWarning, e.Kind)
	assert.Equal(t, 1000, e.RateLimitWarning.Used)
}

func TestFetchTickerRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"65000.00","bidPrice":"64999","bidQty":"1","askPrice":"65001","askQty":"1","highPrice":"66000","lowPrice":"64000","openPrice":"64500","volume":"100","quoteVolume":"6500000","priceChange":"500","priceChangePercent":"0.77","weightedAvgPrice":"65050","closeTime":1700000000000}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	ticker, err := a.FetchTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", ticker.Symbol)
	assert.InDelta(t, 65000.0, ticker.Last, 1e-9)
}

func TestFetchTicker24hrEnvelopeFault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	_, err := a.FetchTicker(context.Background(), "XXX/YYY")
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.BadSymbol, e.Kind)
}

func TestFetchOrderBookParsesAndSortsLevels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lastUpdateId":123456,"bids":[["30000","1"],["30001","2"]],"asks":[["30010","1"]]}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	book, lastUpdateID, err := a.FetchOrderBook(context.Background(), "BTC/USDT", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), lastUpdateID)
	require.Len(t, book.Bids, 2)
	assert.InDelta(t, 30001, book.Bids[0].Price, 1e-9) // sorted descending
}

func TestCreateOrderSendsSignedFormBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "BTCUSDT", r.PostForm.Get("symbol"))
		assert.Equal(t, "BUY", r.PostForm.Get("side"))
		assert.NotEmpty(t, r.PostForm.Get("signature"))
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":1,"clientOrderId":"c1","price":"30000","origQty":"1","executedQty":"0","cummulativeQuoteQty":"0","status":"NEW","timeInForce":"GTC","type":"LIMIT","side":"BUY","time":1700000000000}`))
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

// Open Question (a): caller-supplied params["category"] always wins over
// whatever the adapter would otherwise infer or omit.
func TestCancelOrderPreservesCallerCategoryOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "spot-override", r.URL.Query().Get("category"))
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":1,"status":"CANCELED","type":"LIMIT","side":"BUY","price":"1","origQty":"1","executedQty":"0","cummulativeQuoteQty":"0","time":1}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	_, err := a.CancelOrder(context.Background(), "1", "BTC/USDT", map[string]interface{}{"category": "spot-override"})
	require.NoError(t, err)
}

func TestAmendOrderNotImplemented(t *testing.T) {
	a := newTestAdapter(t, nil)
	_, err := a.AmendOrder(context.Background(), "1", "BTC/USDT", nil)
	require.Error(t, err)
}

func TestFromVenueSymbolUsesKnownQuoteList(t *testing.T) {
	a := newTestAdapter(t, nil)
	sym, err := a.FromVenueSymbol("ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "ETH/USDT", sym)

	_, err = a.FromVenueSymbol("")
	assert.Error(t, err)
}

func TestToVenueSymbolStripsSlash(t *testing.T) {
	a := newTestAdapter(t, nil)
	assert.Equal(t, "BTCUSDT", a.ToVenueSymbol("BTC/USDT"))
}

func TestParseKlineCanonicalOrder(t *testing.T) {
	row := []interface{}{float64(1700000000000), "100", "110", "95", "105", "42"}
	c, err := parseKline(row)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), c.Timestamp)
	assert.InDelta(t, 100, c.Open, 1e-9)
	assert.InDelta(t, 110, c.High, 1e-9)
	assert.InDelta(t, 95, c.Low, 1e-9)
	assert.InDelta(t, 105, c.Close, 1e-9)
}

func TestParseWSDepthEventSurfacesUpdateIDsVerbatim(t *testing.T) {
	raw := json.RawMessage(`{"U":100,"u":105,"b":[["30000","1"]],"a":[["30010","2"]]}`)
	evt, err := parseWSDepthEvent("BTC/USDT", raw)
	require.NoError(t, err)
	assert.Equal(t, int64(100), evt.FirstUpdateID)
	assert.Equal(t, int64(105), evt.FinalUpdateID)
	assert.Equal(t, model.Delta, evt.Type)
}

func TestParseWSExecutionReportDerivesOrder(t *testing.T) {
	raw := json.RawMessage(`{"s":"BTCUSDT","c":"c1","S":"BUY","o":"LIMIT","f":"GTC","q":"1","p":"30000","X":"PARTIALLY_FILLED","i":7,"z":"0.4","Z":"12000","T":1700000000000}`)
	order, err := parseWSExecutionReport(raw)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartiallyFilled, order.Status)
	assert.InDelta(t, 0.6, order.Remaining, 1e-9)
}
