// Package btc provides satoshi-denominated amounts.
//
// Amounts are held as int64 satoshis (1 BTC = 100,000,000 sats) so that
// earnings accumulate without floating point drift. On the wire they are
// rendered with exactly 8 decimal places.
package btc

import (
	"errors"
	"strconv"
	"strings"
)

// Decimals is the number of fractional digits in one bitcoin.
const Decimals = 8

// SatsPerBTC is the number of satoshis in one bitcoin.
const SatsPerBTC Amount = 100_000_000

// maxWholeDigits keeps whole*SatsPerBTC inside int64.
const maxWholeDigits = 10

var (
	ErrEmpty    = errors.New("btc: empty amount")
	ErrNegative = errors.New("btc: negative amounts not allowed")
	ErrFormat   = errors.New("btc: invalid amount format")
	ErrOverflow = errors.New("btc: amount out of range")
)

// Parse converts a decimal string (e.g. "0.0000093") to satoshis (930).
//
// Rules:
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional digits beyond 8 are truncated
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmpty
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegative
	}

	whole, frac, found := strings.Cut(s, ".")
	if found && strings.Contains(frac, ".") {
		return 0, ErrFormat
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		frac = frac[:Decimals]
	}
	for len(frac) < Decimals {
		frac += "0"
	}

	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, ErrFormat
	}
	whole = strings.TrimLeft(whole, "0")
	if len(whole) > maxWholeDigits {
		return 0, ErrOverflow
	}

	var w int64
	if whole != "" {
		var err error
		w, err = strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, ErrFormat
		}
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrFormat
	}
	return Amount(w)*SatsPerBTC + Amount(f), nil
}

// MustParse is Parse for compile-time constants; it panics on bad input.
func MustParse(s string) Amount {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders satoshis as a decimal string with exactly 8 decimals
// (e.g. 500 -> "0.00000500").
func Format(sats Amount) string {
	neg := sats < 0
	if neg {
		sats = -sats
	}
	s := strconv.FormatInt(int64(sats), 10)
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	point := len(s) - Decimals
	out := s[:point] + "." + s[point:]
	if neg {
		out = "-" + out
	}
	return out
}

// ToFloat converts satoshis to a float BTC value for histograms and logs.
// Never use the result for arithmetic on balances.
func ToFloat(sats Amount) float64 {
	return float64(sats) / float64(SatsPerBTC)
}

func digitsOnly(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
