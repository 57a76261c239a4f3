package roster

import (
	"math"
	"strconv"
	"strings"

	"github.com/minus-twelve/roster/types"
)

// USDToINR is the fixed conversion rate used for display and export.
const USDToINR = 83

// Convert moves amount between currencies. Unknown pairs pass through.
func Convert(amount float64, from, to types.Currency) float64 {
	if from == to {
		return amount
	}
	switch {
	case from == types.USD && to == types.INR:
		return amount * USDToINR
	case from == types.INR && to == types.USD:
		return amount / USDToINR
	}
	return amount
}

// FormatAmount renders amount with its currency symbol and two decimals,
// grouping digits the way each locale does (1,234,567.00 vs 12,34,567.00).
func FormatAmount(amount float64, currency types.Currency) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	cents := int64(math.Round(amount * 100))
	whole := strconv.FormatInt(cents/100, 10)
	frac := cents % 100

	var grouped, symbol string
	switch currency {
	case types.INR:
		symbol = "₹"
		grouped = groupIndian(whole)
	case types.USD:
		symbol = "$"
		grouped = groupThousands(whole)
	default:
		return sign + whole + "." + pad2(frac) + " " + string(currency)
	}
	return sign + symbol + grouped + "." + pad2(frac)
}

func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func groupIndian(s string) string {
	if len(s) <= 3 {
		return s
	}
	last := s[len(s)-3:]
	rest := s[:len(s)-3]
	var parts []string
	for len(rest) > 2 {
		parts = append([]string{rest[len(rest)-2:]}, parts...)
		rest = rest[:len(rest)-2]
	}
	if rest != "" {
		parts = append([]string{rest}, parts...)
	}
	return strings.Join(parts, ",") + "," + last
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
