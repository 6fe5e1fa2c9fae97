package api

import "testing"

func TestIsSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"BTCUSDT", true},
		{"ETHUSDT", true},
		{"1000PEPEUSDT", true},
		{"XU", true},
		{"", false},
		{"B", false},
		{"btcusdt", false},
		{"BTC-USDT", false},
		{"BTC USDT", false},
		{"AVERYLONGSYMBOLNAMEXX", false},
	}
	for _, tt := range tests {
		if got := isSymbol(tt.in); got != tt.want {
			t.Errorf("isSymbol(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
