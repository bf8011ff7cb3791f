// Package money centralizes decimal arithmetic for prices, quantities and
// margin so no core computation ever touches float64.
package money

import (
	"github.com/shopspring/decimal"
)

// D is an alias kept local so callers don't have to import shopspring
// directly in every package; it also gives us one place to change the
// rounding mode if that's ever needed.
type D = decimal.Decimal

// Zero is the additive identity, handy for accumulation loops.
var Zero = decimal.Zero

// Parse converts a string (as stored in the key-value cluster, always a
// string there) into a Decimal. An empty string parses as zero with no
// error; any other non-numeric string returns an error.
func Parse(s string) (D, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// MustParse is Parse but panics on error; only used for compile-time-known
// literals (tests, defaults).
func MustParse(s string) D {
	return decimal.RequireFromString(s)
}

// FromFloat is an explicit, rare escape hatch for values that only exist as
// float64 at the boundary (e.g. a JSON field the HTTP layer already decoded).
func FromFloat(f float64) D {
	return decimal.NewFromFloat(f)
}

// RoundCurrency rounds to 2 decimal places, the convention used for every
// commission and margin figure expressed in an account currency.
func RoundCurrency(d D) D {
	return d.Round(2)
}

// RoundPrice rounds a price to the precision appropriate for its symbol:
// 3 places for JPY-quoted pairs, 5 places for everything else. Mirrors
// original_source/services/python-service/app/services/price_utils.py.
func RoundPrice(d D, symbol string) D {
	if len(symbol) >= 3 && symbol[len(symbol)-3:] == "JPY" {
		return d.Round(3)
	}
	return d.Round(5)
}

// Max returns the larger of two decimals.
func Max(a, b D) D {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of two decimals.
func Min(a, b D) D {
	if a.LessThan(b) {
		return a
	}
	return b
}
