package bybit

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

func TestSignAddsBAPIHeaders(t *testing.T) {
	a := newTestAdapter(t, nil)
	req := transport.Request{Method: transport.GET, Path: "/v5/account/wallet-balance"}
	res, err := a.Sign(context.Background(), &req)
	require.NoError(t, err)
	assert.Equal(t, "key", res.Headers["X-BAPI-API-KEY"])
	assert.NotEmpty(t, res.Headers["X-BAPI-SIGN"])
	assert.NotEmpty(t, res.Headers["X-BAPI-TIMESTAMP"])
	assert.Equal(t, "5000", res.Headers["X-BAPI-RECV-WINDOW"])
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
	err := a.OnHTTPError(400, []byte(`{"retCode":110007,"retMsg":"insufficient balance"}`))
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

// Seed scenario 6 analogue: a non-zero retCode embedded in a
// {retCode,retMsg,result} envelope must be classified even on HTTP 200.
func TestUnwrapDetectsEnvelopeFaultOnHTTP200(t *testing.T) {
	a := newTestAdapter(t, nil)
	_, err := a.Unwrap([]byte(`{"retCode":110001,"retMsg":"order not exists","result":{}}`))
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.OrderNotFound, e.Kind)
}

func TestUnwrapReturnsResultOnSuccess(t *testing.T) {
	a := newTestAdapter(t, nil)
	body, err := a.Unwrap([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT"}]}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"list":[{"symbol":"BTCUSDT"}]}`, string(body))
}

func TestFetchTickerRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/tickers", r.URL.Path)
		assert.Equal(t, "spot", r.URL.Query().Get("category"))
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","lastPrice":"65000","bid1Price":"64999","bid1Size":"1","ask1Price":"65001","ask1Size":"1","highPrice24h":"66000","lowPrice24h":"64000","prevPrice24h":"64500","volume24h":"100","turnover24h":"6500000"}]}}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	ticker, err := a.FetchTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", ticker.Symbol)
	assert.InDelta(t, 65000.0, ticker.Last, 1e-9)
}

func TestFetchOrderBookParsesLevels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"b":[["30000","1"],["30001","2"]],"a":[["30010","1"]],"ts":1700000000000,"u":55}}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	book, ts, err := a.FetchOrderBook(context.Background(), "BTC/USDT", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ts)
	require.Len(t, book.Bids, 2)
	assert.InDelta(t, 30001, book.Bids[0].Price, 1e-9) // sorted descending
}

func TestCreateOrderSendsSignedJSONBodyAndFetchesResult(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		assert.Equal(t, "key", r.Header.Get("X-BAPI-API-KEY"))
		if r.URL.Path == "/v5/order/create" {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "BTCUSDT", body["symbol"])
			assert.Equal(t, "spot", body["category"])
			assert.Equal(t, "Buy", body["side"])
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"1"}}`))
			return
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","orderId":"1","orderLinkId":"c1","price":"30000","qty":"1","cumExecQty":"0","orderStatus":"New","side":"Buy","orderType":"Limit","updatedTime":"1700000000000"}]}}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	order, err := a.CreateOrder(context.Background(), "BTC/USDT", model.Limit, model.Buy, 1, 30000, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", order.ID)
	assert.Equal(t, model.StatusNew, order.Status)
	assert.Equal(t, 2, callCount) // order/create + FetchOrder round trip
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
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v5/order/cancel" {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "linear-override", body["category"])
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"1"}}`))
			return
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","orderId":"1","orderStatus":"Cancelled","side":"Buy","orderType":"Limit","price":"1","qty":"1","updatedTime":"1"}]}}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	order, err := a.CancelOrder(context.Background(), "1", "BTC/USDT", map[string]interface{}{"category": "linear-override"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, order.Status)
}

// Unlike Binance, Bybit exposes amend-order directly.
func TestAmendOrderRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v5/order/amend" {
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"1"}}`))
			return
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","orderId":"1","orderStatus":"New","side":"Buy","orderType":"Limit","price":"31000","qty":"1","updatedTime":"1"}]}}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	order, err := a.AmendOrder(context.Background(), "1", "BTC/USDT", map[string]interface{}{"price": "31000"})
	require.NoError(t, err)
	assert.InDelta(t, 31000, order.Price, 1e-9)
}

func TestCancelAllOrdersSynthesizesOrdersFromIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"orderId":"1","orderLinkId":"c1"},{"orderId":"2","orderLinkId":"c2"}]}}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server)
	orders, err := a.CancelAllOrders(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, model.StatusCanceled, orders[0].Status)
}

func TestFromVenueSymbolSplitsOnKnownQuote(t *testing.T) {
	a := newTestAdapter(t, nil)
	sym, err := a.FromVenueSymbol("ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "ETH/USDT", sym)

	_, err = a.FromVenueSymbol("")
	assert.Error(t, err)
}

func TestToVenueSymbolConcatenates(t *testing.T) {
	a := newTestAdapter(t, nil)
	assert.Equal(t, "BTCUSDT", a.ToVenueSymbol("BTC/USDT"))
}

func TestParseCandleReordersNewestFirstToChronological(t *testing.T) {
	rows := [][]interface{}{
		{"1700000060000", "105", "110", "104", "108", "10"},
		{"1700000000000", "100", "106", "95", "105", "42"},
	}
	var candles []model.Candle
	for _, row := range rows {
		c, err := parseCandle(row)
		require.NoError(t, err)
		candles = append(candles, c)
	}
	sorted := model.SortCandles(candles)
	assert.Equal(t, int64(1700000000000), sorted[0].Timestamp)
	assert.Equal(t, int64(1700000060000), sorted[1].Timestamp)
}

func TestParseWSBookEventSurfacesUpdateIDVerbatim(t *testing.T) {
	raw := json.RawMessage(`{"b":[["30000","1"]],"a":[["30010","1"]],"u":105,"seq":100}`)
	evt, err := parseWSBookEvent("BTC/USDT", "delta", raw)
	require.NoError(t, err)
	assert.Equal(t, int64(100), evt.FirstUpdateID)
	assert.Equal(t, int64(105), evt.FinalUpdateID)
	assert.Equal(t, model.Delta, evt.Type)
}

func TestTopicKeyRoundTripsThroughSplit(t *testing.T) {
	key := topicKey("orderbook.50", "BTCUSDT")
	channel, instrument := splitTopicKey(key)
	assert.Equal(t, "orderbook.50", channel)
	assert.Equal(t, "BTCUSDT", instrument)

	key = topicKey("wallet", "")
	channel, instrument = splitTopicKey(key)
	assert.Equal(t, "wallet", channel)
	assert.Empty(t, instrument)
}
