package venue

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccgate/ccgate/model"
)

func testDescriptor() Descriptor {
	return Descriptor{
		ID: "fake",
		RateLimit: RateLimitParams{
			Capacity: 10, Refill: 10, Interval: time.Second,
		},
		Has: map[Capability]bool{HasFetchTicker: true},
	}
}

func TestBaseMarketCacheIndexesBothWays(t *testing.T) {
	b := NewBase(testDescriptor(), Config{}, zerolog.Nop())
	m := &model.Market{VenueID: "BTCUSDT", Symbol: "BTC/USDT"}
	b.SetMarkets([]*model.Market{m})

	bySym, ok := b.MarketBySymbol("BTC/USDT")
	require.True(t, ok)
	byID, ok := b.MarketByVenueID("BTCUSDT")
	require.True(t, ok)
	assert.Same(t, bySym, byID)
	assert.True(t, b.MarketsLoaded())
}

func TestSplitByKnownQuotesPrefersLongestSuffix(t *testing.T) {
	base, quote, ok := SplitByKnownQuotes("BTCUSDT", []string{"USDT", "USD", "T"})
	require.True(t, ok)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)
}

func TestCanonicalQuoteAlias(t *testing.T) {
	assert.Equal(t, "USDT", CanonicalQuote("UST"))
	assert.Equal(t, "BTC", CanonicalQuote("btc"))
}

func TestResolveFromVenueSymbolPrefersIndex(t *testing.T) {
	b := NewBase(testDescriptor(), Config{}, zerolog.Nop())
	b.SetMarkets([]*model.Market{{VenueID: "tBTCUSD", Symbol: "BTC/USD"}})

	sym, ok := b.ResolveFromVenueSymbol("tBTCUSD", []string{"USD"})
	require.True(t, ok)
	assert.Equal(t, "BTC/USD", sym)

	sym, ok = b.ResolveFromVenueSymbol("ETHUSDT", []string{"USDT"})
	require.True(t, ok)
	assert.Equal(t, "ETH/USDT", sym)
}

func TestCloseAllWSClearsRegistries(t *testing.T) {
	b := NewBase(testDescriptor(), Config{}, zerolog.Nop())
	b.RegisterSubscription("ticker:BTC/USDT", &model.Subscription{Topic: "ticker:BTC/USDT"})
	b.SetPrivateAuthenticated("wss://x", true)

	require.NoError(t, b.CloseAllWS())
	_, ok := b.Subscription("ticker:BTC/USDT")
	assert.False(t, ok)
	assert.False(t, b.IsPrivateAuthenticated("wss://x"))
}

func TestEventEmission(t *testing.T) {
	b := NewBase(testDescriptor(), Config{}, zerolog.Nop())
	received := make(chan Event, 1)
	b.On(func(e Event) { received <- e })

	b.EmitRateLimitWarning(RateLimitWarning{Used: 900, Limit: 1200, Remaining: 300})
	e := <-received
	assert.Equal(t, EventRateLimitWarning, e.Kind)
	assert.Equal(t, 900, e.RateLimitWarning.Used)
}

func TestNewBaseSkipsBucketWhenRateLimitDisabled(t *testing.T) {
	b := NewBase(testDescriptor(), Config{EnableRateLimit: false}, zerolog.Nop())
	assert.Nil(t, b.Throttler)
	assert.Nil(t, b.Pipeline.Throttler)
}

func TestNewBaseBuildsBucketWhenRateLimitEnabled(t *testing.T) {
	b := NewBase(testDescriptor(), Config{EnableRateLimit: true}, zerolog.Nop())
	require.NotNil(t, b.Throttler)
	assert.Same(t, b.Throttler, b.Pipeline.Throttler)
}

func TestRegistryRoundTrip(t *testing.T) {
	Register("fake-venue", func(cfg Config) (interface{}, error) { return "instance", nil })
	inst, err := New("fake-venue", Config{})
	require.NoError(t, err)
	assert.Equal(t, "instance", inst)

	_, err = New("does-not-exist", Config{})
	assert.Error(t, err)
}
