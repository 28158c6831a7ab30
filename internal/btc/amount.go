package btc

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Amount is a quantity of satoshis.
type Amount int64

// String renders the amount in BTC with 8 decimals.
func (a Amount) String() string { return Format(a) }

// BTC returns the amount as a float for metrics. Not for arithmetic.
func (a Amount) BTC() float64 { return ToFloat(a) }

// MarshalJSON encodes the amount as a decimal string, e.g. "0.00000500".
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(Format(a))
}

// UnmarshalJSON accepts a decimal string or a JSON number. Numbers may use
// exponent notation (browsers serialize 1e-8 that way) and are rounded to
// the nearest satoshi.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := Parse(s)
		if err != nil {
			return err
		}
		*a = v
		return nil
	}

	if v, err := Parse(string(data)); err == nil {
		*a = v
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return ErrFormat
	}
	if f < 0 {
		return ErrNegative
	}
	sats := math.Round(f * float64(SatsPerBTC))
	if sats > math.MaxInt64/2 {
		return ErrOverflow
	}
	*a = Amount(sats)
	return nil
}
