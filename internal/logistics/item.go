package logistics

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dimensions is a parsed "LxWxH" string in centimetres. A malformed input
// still yields a value; its Volume reports the parse error.
type Dimensions struct {
	raw     string
	l, w, h float64
	err     error
}

// ParseDimensions parses "LxWxH". Whitespace around numbers is ignored and
// the separator is case-insensitive.
func ParseDimensions(raw string) Dimensions {
	d := Dimensions{raw: raw}
	parts := strings.Split(strings.ToLower(strings.TrimSpace(raw)), "x")
	if len(parts) != 3 {
		d.err = &ParseError{Input: raw, Reason: "expected three values separated by x"}
		return d
	}
	values := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			d.err = &ParseError{Input: raw, Reason: fmt.Sprintf("value %d is not a number", i+1)}
			return d
		}
		if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			d.err = &ParseError{Input: raw, Reason: fmt.Sprintf("value %d must be positive", i+1)}
			return d
		}
		values[i] = v
	}
	if vol := values[0] * values[1] * values[2]; math.IsInf(vol, 0) {
		d.err = &ParseError{Input: raw, Reason: "volume overflows"}
		return d
	}
	d.l, d.w, d.h = values[0], values[1], values[2]
	return d
}

// Volume returns L*W*H in cubic centimetres.
func (d Dimensions) Volume() (float64, error) {
	if d.err != nil {
		return 0, d.err
	}
	return d.l * d.w * d.h, nil
}

// Err returns the parse error, if any.
func (d Dimensions) Err() error {
	return d.err
}

// String returns the original input.
func (d Dimensions) String() string {
	return d.raw
}

// MarshalJSON encodes the original string.
func (d Dimensions) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.raw)
}

// UnmarshalJSON parses the string form.
func (d *Dimensions) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = ParseDimensions(raw)
	return nil
}

// NewOrderItem validates a line item loaded from storage. The returned item
// is usable even on error so callers can keep the order and flag it.
func NewOrderItem(quantity int, weight float64, dimensions string, fragile, perishable bool) (OrderItem, error) {
	item := OrderItem{
		Quantity:   quantity,
		Weight:     weight,
		Dimensions: ParseDimensions(dimensions),
		Fragile:    fragile,
		Perishable: perishable,
	}
	if quantity <= 0 {
		return item, fmt.Errorf("%w: quantity %d must be positive", ErrInvalidItem, quantity)
	}
	if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return item, fmt.Errorf("%w: weight %.3f must not be negative", ErrInvalidItem, weight)
	}
	if err := item.Dimensions.Err(); err != nil {
		return item, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}
	return item, nil
}
