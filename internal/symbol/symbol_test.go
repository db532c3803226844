package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer(nil)

	tests := []struct {
		raw  string
		want string
	}{
		{"aapl", "AAPL"},
		{"  msft ", "MSFT"},
		{"RELIANCE.NS", "NSE:RELIANCE"},
		{"reliance.ns", "NSE:RELIANCE"},
		{"TCS.BO", "BSE:TCS"},
		{"VOD.L", "LSE:VOD"},
		{"BINANCE:btcusdt", "BINANCE:BTCUSDT"},
		{"BRK.B", "BRK.B"},
		{".NS", ".NS"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.raw))
		})
	}
}

func TestNormalize_LongestSuffixWins(t *testing.T) {
	n := NewNormalizer(map[string]string{
		".L":   "LSE:",
		".IL":  "LSEIOB:",
		"TO":   "TSX:",
		"  ":   "IGNORED:",
		".NEO": "neo:",
	})

	assert.Equal(t, "LSEIOB:SBER", n.Normalize("SBER.IL"))
	assert.Equal(t, "LSE:SBER", n.Normalize("SBER.L"))
	assert.Equal(t, "TSX:RY", n.Normalize("RY.TO"), "suffix without dot is accepted")
	assert.Equal(t, "NEO:ABC", n.Normalize("abc.neo"), "prefix is upper-cased")
}

func TestNormalizeAll_ManyToOne(t *testing.T) {
	n := NewNormalizer(nil)

	got := n.NormalizeAll([]string{"infy.ns", "AAPL", "", "INFY.NS", "aapl", "NSE:INFY", "MSFT"})
	assert.Equal(t, []string{"NSE:INFY", "AAPL", "MSFT"}, got)
}
