package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrAmountOutOfRange  = errors.New("amount out of range")
	ErrAmountNotPositive = errors.New("amount must be positive")
)

var (
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

// Parse accepts an amount of unknown shape (native integers, decimal
// strings, json numbers) and returns the canonical int64 value. The
// label names the field in error messages.
func Parse(v any, label string) (int64, error) {
	d, err := toDecimal(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, label)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: %s must be a whole number", ErrInvalidAmount, label)
	}
	if err := ensureRange(d); err != nil {
		return 0, fmt.Errorf("%w: %s", err, label)
	}
	return d.IntPart(), nil
}

// ParsePositive is Parse restricted to values > 0.
func ParsePositive(v any, label string) (int64, error) {
	n, err := Parse(v, label)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrAmountNotPositive, label)
	}
	return n, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case uint64:
		return decimal.NewFromUint64(x), nil
	case float64:
		// NewFromFloat panics on non-finite input.
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, fmt.Errorf("non-finite amount")
		}
		return decimal.NewFromFloat(x), nil
	case decimal.Decimal:
		return x, nil
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero, fmt.Errorf("empty amount")
		}
		return decimal.NewFromString(s)
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}

func ensureRange(d decimal.Decimal) error {
	if d.GreaterThan(maxInt64) || d.LessThan(minInt64) {
		return ErrAmountOutOfRange
	}
	return nil
}

// Format renders an amount with thousands separators for display.
func Format(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
