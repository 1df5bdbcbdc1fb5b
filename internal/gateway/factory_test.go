package gateway

import (
	"testing"

	"spotpilot/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExchange(name string) config.ExchangeConfig {
	return config.ExchangeConfig{
		Name:                   name,
		RESTBaseURL:            config.DefaultExchangeREST,
		RecvWindowMillis:       5000,
		ConnectTimeoutSeconds:  5,
		ReadTimeoutSeconds:     20,
		RequestsPerSecond:      10,
		Burst:                  10,
		BreakerThreshold:       5,
		BreakerCooldownSeconds: 30,
	}
}

func TestNewFromConfig(t *testing.T) {
	for _, name := range []string{"", "binance", "Binance-Testnet"} {
		gw, err := NewFromConfig(testExchange(name), nil)
		require.NoError(t, err, name)
		assert.NotNil(t, gw)
	}
	_, err := NewFromConfig(testExchange("kraken"), nil)
	assert.ErrorContains(t, err, "unsupported exchange")
}
