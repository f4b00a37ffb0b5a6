package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Price is an optional amount. The zero value is an unknown price.
//
// JSON: a known price is a number, an unknown one is null. Legacy documents
// that stored "NaN" (or any non-numeric string) decode as unknown.
type Price struct {
	Value float64
	Valid bool
}

// PriceOf returns a known price. NaN and ±Inf become unknown.
func PriceOf(v float64) Price {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Price{}
	}
	return Price{Value: v, Valid: true}
}

// UnknownPrice returns the "unparsed/unknown" price.
func UnknownPrice() Price { return Price{} }

// Cents returns the price rounded to integer cents.
func (p Price) Cents() int64 { return int64(math.Round(p.Value * 100)) }

func (p Price) String() string {
	if !p.Valid {
		return "N/A"
	}
	return strconv.FormatFloat(p.Value, 'f', 2, 64)
}

func (p Price) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.Value)
}

func (p *Price) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = Price{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			*p = Price{}
			return nil
		}
		*p = PriceOf(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("price: %w", err)
	}
	*p = PriceOf(f)
	return nil
}

// Quantity is the stock count of one size.
//
// Sources sometimes hand over values that are not integers. Those are kept in
// Raw with Valid=false instead of being rejected, so a snapshot round-trips
// unchanged and the diff can still fall back to a presence check.
type Quantity struct {
	N     int
	Raw   string
	Valid bool
}

// Qty returns a parsed quantity; negative counts clamp to 0.
func Qty(n int) Quantity {
	if n < 0 {
		n = 0
	}
	return Quantity{N: n, Valid: true}
}

// RawQty keeps an unparsed quantity value.
func RawQty(raw string) Quantity {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return Qty(n)
	}
	return Quantity{Raw: raw}
}

// Available reports whether the size can be bought (parsed quantity > 0).
func (q Quantity) Available() bool { return q.Valid && q.N > 0 }

// Present is the boolean view of q: a positive count, or any unparsed value
// other than empty, "0" and "false".
func (q Quantity) Present() bool {
	if q.Valid {
		return q.N > 0
	}
	switch strings.ToLower(strings.TrimSpace(q.Raw)) {
	case "", "0", "false", "null", "none":
		return false
	}
	return true
}

func (q Quantity) String() string {
	if q.Valid {
		return strconv.Itoa(q.N)
	}
	if q.Raw == "" {
		return "?"
	}
	return q.Raw
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	if q.Valid {
		return []byte(strconv.Itoa(q.N)), nil
	}
	if q.Raw == "" {
		return []byte("null"), nil
	}
	return json.Marshal(q.Raw)
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*q = Quantity{}
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = RawQty(s)
		return nil
	case bytes.Equal(b, []byte("true")):
		*q = Quantity{Raw: "true"}
		return nil
	case bytes.Equal(b, []byte("false")):
		*q = Quantity{Raw: "false"}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	if f != math.Trunc(f) {
		*q = Quantity{Raw: string(b)}
		return nil
	}
	*q = Qty(int(f))
	return nil
}
