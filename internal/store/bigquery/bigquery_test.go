package bigquery

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRatToDecimal(t *testing.T) {
	tests := []struct {
		name string
		in   *big.Rat
		want string
	}{
		{"nil", nil, "0"},
		{"whole", big.NewRat(150, 1), "150"},
		{"cents", big.NewRat(12345, 100), "123.45"},
		{"numeric precision rounds to cents", big.NewRat(1, 3), "0.33"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ratToDecimal(tt.in)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ratToDecimal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRatToDecimal_RoundTrip(t *testing.T) {
	d := decimal.RequireFromString("1999.99")
	if got := ratToDecimal(d.Rat()); !got.Equal(d) {
		t.Errorf("round trip = %s, want %s", got, d)
	}
}
