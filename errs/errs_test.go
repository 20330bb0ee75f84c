package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageFormat(t *testing.T) {
	e := New(InsufficientFunds, "binance", "-2010", "Account has insufficient balance")
	assert.Contains(t, e.Error(), "binance")
	assert.Contains(t, e.Error(), "-2010")
	assert.Contains(t, e.Error(), "Account has insufficient balance")
}

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	e := New(RateLimitExceeded, "okx", "50011", "too many requests")
	require.True(t, errors.Is(e, RateLimitExceeded.Sentinel()))
	require.False(t, errors.Is(e, Authentication.Sentinel()))
}

func TestWrapCarriesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := Wrap(Network, "bybit", cause)
	assert.Equal(t, cause, errors.Unwrap(e))
	assert.True(t, errors.Is(e, Network.Sentinel()))
}

func TestKindStringer(t *testing.T) {
	cases := map[Kind]string{
		Authentication:       "Authentication",
		RateLimitExceeded:    "RateLimitExceeded",
		InsufficientFunds:    "InsufficientFunds",
		InvalidOrder:         "InvalidOrder",
		OrderNotFound:        "OrderNotFound",
		BadSymbol:            "BadSymbol",
		BadRequest:           "BadRequest",
		ExchangeNotAvailable: "ExchangeNotAvailable",
		Network:              "Network",
		RequestTimeout:       "RequestTimeout",
		ExchangeError:        "ExchangeError",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}
