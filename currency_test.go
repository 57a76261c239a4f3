package roster

import (
	"testing"

	"github.com/minus-twelve/roster/types"
	"github.com/stretchr/testify/assert"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		amount   float64
		from, to types.Currency
		want     float64
	}{
		{100, types.USD, types.INR, 8300},
		{8300, types.INR, types.USD, 100},
		{42, types.USD, types.USD, 42},
		{42, types.INR, types.INR, 42},
		{42, "EUR", types.USD, 42},
		{42, types.USD, "GBP", 42},
		{0, types.USD, types.INR, 0},
	}
	for _, tt := range tests {
		if got := Convert(tt.amount, tt.from, tt.to); got != tt.want {
			t.Errorf("Convert(%v, %s, %s) = %v, want %v", tt.amount, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestConvertRoundTrip(t *testing.T) {
	for _, amount := range []float64{1, 98000, 1450000, 0.5, 123456.78} {
		back := Convert(Convert(amount, types.USD, types.INR), types.INR, types.USD)
		assert.InDelta(t, amount, back, 1e-9)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   float64
		currency types.Currency
		want     string
	}{
		{0, types.USD, "$0.00"},
		{999.5, types.USD, "$999.50"},
		{1234567.891, types.USD, "$1,234,567.89"},
		{-1500, types.USD, "-$1,500.00"},
		{1234567, types.INR, "₹12,34,567.00"},
		{100000, types.INR, "₹1,00,000.00"},
		{950, types.INR, "₹950.00"},
		{12.3, "EUR", "12.30 EUR"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAmount(tt.amount, tt.currency))
	}
}
