package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "btcusdt", "BTCUSDT"},
		{"dash perp", "BTC-PERP", "BTC"},
		{"dot perp", "ETHUSDT.P", "ETHUSDT"},
		{"underscore perp", "ETHUSDT_PERP", "ETHUSDT"},
		{"swap suffix", "SOLUSDT-SWAP", "SOLUSDT"},
		{"separators stripped", "BTC/USDT", "BTCUSDT"},
		{"usdtm folds to usdt", "BTCUSDTM", "BTCUSDT"},
		{"whitespace trimmed", "  btcusdt  ", "BTCUSDT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeSymbol(tc.in))
		})
	}
}

func TestPerpetualAlias(t *testing.T) {
	assert.Equal(t, "BTCUSDT.P", PerpetualAlias("BTCUSDT"))
}

func TestIsUSDTPair(t *testing.T) {
	assert.True(t, IsUSDTPair("BTCUSDT"))
	assert.True(t, IsUSDTPair("BTCUSDT.P"))
	assert.False(t, IsUSDTPair("BTCUSDC"))
}

func TestRegistry(t *testing.T) {
	c := NewClient(nil)
	r := NewRegistry(c)

	got, ok := r.Get("binance")
	assert.True(t, ok)
	assert.Equal(t, c, got)

	_, ok = r.Get("coinbase")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"binance"}, r.Exchanges())
}

func TestParseKline(t *testing.T) {
	row := restKline{
		float64(1_700_000_000_000), "100.5", "110.25", "95.0", "105.75", "12345.6",
		float64(1_700_000_059_999), "0", 100, "0", "0", "0",
	}
	k, err := parseKline(row)
	assert.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000), k.Time)
	assert.Equal(t, 100.5, k.Open)
	assert.Equal(t, 110.25, k.High)
	assert.Equal(t, 95.0, k.Low)
	assert.Equal(t, 105.75, k.Close)
	assert.Equal(t, 12345.6, k.Volume)
}

func TestParseKline_BadRow(t *testing.T) {
	row := restKline{}
	_, err := parseKline(row)
	assert.Error(t, err)
}

func TestClientStorePrice(t *testing.T) {
	c := NewClient(nil)
	c.storePrice("btcusdt", "63000.12")
	c.priceMu.RLock()
	price := c.lastPrice["btcusdt"]
	c.priceMu.RUnlock()
	assert.Equal(t, 63000.12, price)

	// invalid price is ignored
	c.storePrice("ethusdt", "not-a-number")
	c.priceMu.RLock()
	_, ok := c.lastPrice["ethusdt"]
	c.priceMu.RUnlock()
	assert.False(t, ok)
}
