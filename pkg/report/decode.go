package report

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Number is a decimal read from legacy or imported data. It decodes from a
// JSON number or a numeric string. null and "" leave it missing; any other
// value that does not parse leaves it missing and Malformed instead of
// failing the whole document.
type Number struct {
	decimal.NullDecimal
	Malformed bool
}

func NumberOf(d decimal.Decimal) Number {
	return Number{NullDecimal: decimal.NewNullDecimal(d)}
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	raw, ok := scalar(b)
	if !ok {
		n.Malformed = true
		return nil
	}
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		n.Malformed = true
		return nil
	}
	n.NullDecimal = decimal.NewNullDecimal(d)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	return n.NullDecimal.MarshalJSON()
}

// Count is an integer decoded with the same tolerance as Number. Quoted
// integers such as "3" are accepted.
type Count struct {
	Value     int
	Valid     bool
	Malformed bool
}

func CountOf(n int) Count {
	return Count{Value: n, Valid: true}
}

func (c *Count) UnmarshalJSON(b []byte) error {
	*c = Count{}
	raw, ok := scalar(b)
	if !ok {
		c.Malformed = true
		return nil
	}
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsInteger() || !d.Abs().LessThan(decimal.NewFromInt(1<<31)) {
		c.Malformed = true
		return nil
	}
	c.Value, c.Valid = int(d.IntPart()), true
	return nil
}

func (c Count) MarshalJSON() ([]byte, error) {
	if !c.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(c.Value)), nil
}

// scalar returns the text of a JSON number or string, or "" for null. ok is
// false for objects, arrays and booleans.
func scalar(b []byte) (string, bool) {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, bytes.Equal(b, []byte("null")):
		return "", true
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		return string(b), true
	}
	return "", false
}
