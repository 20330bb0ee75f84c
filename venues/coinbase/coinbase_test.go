package coinbase

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccgate/ccgate/errs"
	"github.com/ccgate/ccgate/model"
	"github.com/ccgate/ccgate/transport"
	"github.com/ccgate/ccgate/venue"
)

func testECKeyPEM(t *testing.T) (string, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), key
}

func newTestAdapter(t *testing.T, server *httptest.Server) (*Adapter, *ecdsa.PrivateKey) {
	t.Helper()
	pemKey, key := testECKeyPEM(t)
	a, err := New(venue.Config{APIKey: "organizations/org/apiKeys/key-id", Secret: pemKey})
	require.NoError(t, err)
	if server != nil {
		a.Descriptor.URLs.REST = server.URL
	}
	return a, key
}

func TestSignProducesBearerJWTWithURIClaim(t *testing.T) {
	a, key := newTestAdapter(t, nil)
	req := transport.Request{Method: transport.GET, Path: "/api/v3/brokerage/accounts"}
	res, err := a.Sign(context.Background(), &req)
	require.NoError(t, err)

	auth := res.Headers["Authorization"]
	require.True(t, len(auth) > len("Bearer "))
	tokenString := auth[len("Bearer "):]

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	})
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "organizations/org/apiKeys/key-id", claims["sub"])
	assert.Equal(t, "cdp", claims["iss"])
	assert.Equal(t, "GET api.coinbase.com/api/v3/brokerage/accounts", claims["uri"])
	assert.NotEmpty(t, token.Header["nonce"])
	assert.Equal(t, "organizations/org/apiKeys/key-id", token.Header["kid"])
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
	a, _ := newTestAdapter(t, nil)
	err := a.OnHTTPError(401, []byte(`{"error":"UNAUTHENTICATED","message":"invalid bearer token"}`))
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.Authentication, e.Kind)
}

func TestOnHTTPErrorFallsBackWithoutEnvelope(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	err := a.OnHTTPError(503, []byte(`Service Unavailable`))
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.ExchangeNotAvailable, e.Kind)
}

func TestUnwrapDetectsFaultShapeOnHTTP200(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	_, err := a.Unwrap([]byte(`{"error":"INVALID_ARGUMENT","message":"bad size"}`))
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.BadRequest, e.Kind)
}

func TestUnwrapPassesThroughUnknownShape(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	body, err := a.Unwrap([]byte(`{"accounts":[{"currency":"BTC"}]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"accounts":[{"currency":"BTC"}]}`, string(body))
}

func TestFetchTickerRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/brokerage/products/BTC-USDT":
			w.Write([]byte(`{"product_id":"BTC-USDT","price":"65000","price_percentage_change_24h":"0.02","volume_24h":"100","base_currency_id":"BTC","quote_currency_id":"USDT"}`))
		case "/api/v3/brokerage/best_bid_ask":
			w.Write([]byte(`{"pricebooks":[{"product_id":"BTC-USDT","bids":[{"price":"64999","size":"1"}],"asks":[{"price":"65001","size":"1"}]}]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	a, _ := newTestAdapter(t, server)
	ticker, err := a.FetchTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", ticker.Symbol)
	assert.InDelta(t, 65000.0, ticker.Last, 1e-9)
	assert.InDelta(t, 64999.0, ticker.Bid, 1e-9)
	assert.InDelta(t, 65001.0, ticker.Ask, 1e-9)
}

func TestFetchOrderBookParsesLevels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pricebook":{"product_id":"BTC-USDT","bids":[{"price":"30000","size":"1"},{"price":"30001","size":"2"}],"asks":[{"price":"30010","size":"1"}],"time":"2024-01-01T00:00:00Z"}}`))
	}))
	defer server.Close()

	a, _ := newTestAdapter(t, server)
	book, ts, err := a.FetchOrderBook(context.Background(), "BTC/USDT", 50)
	require.NoError(t, err)
	assert.NotZero(t, ts)
	require.Len(t, book.Bids, 2)
	assert.InDelta(t, 30001, book.Bids[0].Price, 1e-9) // sorted descending
}

func TestCreateOrderBuildsLimitConfigurationAndFetchesResult(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if r.URL.Path == "/api/v3/brokerage/orders" {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "BTC-USDT", body["product_id"])
			assert.Equal(t, "BUY", body["side"])
			cfg := body["order_configuration"].(map[string]interface{})
			assert.Contains(t, cfg, "limit_limit_gtc")
			w.Write([]byte(`{"success":true,"success_response":{"order_id":"abc123"}}`))
			return
		}
		w.Write([]byte(`{"order":{"order_id":"abc123","product_id":"BTC-USDT","client_order_id":"c1","side":"BUY","status":"OPEN","filled_size":"0","order_configuration":{"limit_limit_gtc":{"base_size":"1","limit_price":"30000"}}}}`))
	}))
	defer server.Close()

	a, _ := newTestAdapter(t, server)
	order, err := a.CreateOrder(context.Background(), "BTC/USDT", model.Limit, model.Buy, 1, 30000, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc123", order.ID)
	assert.Equal(t, model.StatusNew, order.Status)
	assert.Equal(t, 2, callCount)
}

func TestCreateOrderRejectsUnsupportedType(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	_, err := a.CreateOrder(context.Background(), "BTC/USDT", model.StopLimit, model.Buy, 1, 30000, nil)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.InvalidOrder, e.Kind)
}

func TestAmendOrderRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/brokerage/orders/edit" {
			w.Write([]byte(`{"success":true}`))
			return
		}
		w.Write([]byte(`{"order":{"order_id":"1","product_id":"BTC-USDT","side":"BUY","status":"OPEN","filled_size":"0","order_configuration":{"limit_limit_gtc":{"base_size":"1","limit_price":"31000"}}}}`))
	}))
	defer server.Close()

	a, _ := newTestAdapter(t, server)
	order, err := a.AmendOrder(context.Background(), "1", "BTC/USDT", map[string]interface{}{"price": "31000"})
	require.NoError(t, err)
	assert.InDelta(t, 31000, order.Price, 1e-9)
}

func TestCancelAllOrdersSynthesizesFromOpenOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/brokerage/orders/historical/batch":
			w.Write([]byte(`{"orders":[{"order_id":"1","product_id":"BTC-USDT","side":"BUY","status":"OPEN","filled_size":"0","order_configuration":{"limit_limit_gtc":{"base_size":"1","limit_price":"1"}}},{"order_id":"2","product_id":"BTC-USDT","side":"SELL","status":"OPEN","filled_size":"0","order_configuration":{"limit_limit_gtc":{"base_size":"1","limit_price":"1"}}}]}`))
		case "/api/v3/brokerage/orders/batch_cancel":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			ids := body["order_ids"].([]interface{})
			assert.Len(t, ids, 2)
			w.Write([]byte(`{"results":[{"success":true,"order_id":"1"},{"success":true,"order_id":"2"}]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	a, _ := newTestAdapter(t, server)
	orders, err := a.CancelAllOrders(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, model.StatusCanceled, orders[0].Status)
}

func TestFromVenueSymbolSplitsOnDash(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	sym, err := a.FromVenueSymbol("ETH-USDT")
	require.NoError(t, err)
	assert.Equal(t, "ETH/USDT", sym)

	_, err = a.FromVenueSymbol("malformed")
	assert.Error(t, err)
}

func TestToVenueSymbolJoinsWithDash(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	assert.Equal(t, "BTC-USDT", a.ToVenueSymbol("BTC/USDT"))
}

func TestParseCandleReordersNewestFirstToChronological(t *testing.T) {
	rows := []json.RawMessage{
		[]byte(`{"start":"1700000060","low":"104","high":"110","open":"105","close":"108","volume":"10"}`),
		[]byte(`{"start":"1700000000","low":"95","high":"106","open":"100","close":"105","volume":"42"}`),
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

func TestParseWSBookEventHasNoUpdateID(t *testing.T) {
	raw := json.RawMessage(`{"type":"update","product_id":"BTC-USDT","updates":[{"side":"bid","price_level":"30000","new_quantity":"1"}]}`)
	evt, err := parseWSBookEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, model.Delta, evt.Type)
	assert.Zero(t, evt.FirstUpdateID)
	assert.Zero(t, evt.FinalUpdateID)
	require.Len(t, evt.Book.Bids, 1)
}
