package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"ETH/USDT":      "ETHUSDT",
		" ethusdt ":     "ETHUSDT",
		"BTC_USDC":      "BTCUSDC",
		"sol-fdusd":     "SOLFDUSD",
		"ETH/USDT:USDT": "ETHUSDT",
		"XYZ":           "XYZ",
		"":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestNormalizeList(t *testing.T) {
	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT"}, NormalizeList([]string{"eth/usdt", "BTCUSDT", "ETHUSDT", " "}))
	assert.Nil(t, NormalizeList(nil))
}
