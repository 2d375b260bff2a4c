package money

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAcceptsIntegerShapes(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
	}{
		{"int", 42, 42},
		{"int64", int64(-7), -7},
		{"uint64", uint64(9000), 9000},
		{"whole float", float64(250), 250},
		{"string", "1250", 1250},
		{"string with spaces", "  300  ", 300},
		{"negative string", "-15", -15},
		{"json number", json.Number("77"), 77},
		{"decimal", decimal.NewFromInt(5), 5},
		{"max int64 string", "9223372036854775807", 9223372036854775807},
	}
	for _, tc := range tests {
		got, err := Parse(tc.in, "amount")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}

func TestParseRejectsNonIntegers(t *testing.T) {
	for _, in := range []any{2.5, "2.5", "abc", "", "  ", json.Number("0.1"), struct{}{}, nil} {
		_, err := Parse(in, "bet")
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("input %v: expected ErrInvalidAmount, got %v", in, err)
		}
	}
}

func TestParseRejectsNonFiniteFloats(t *testing.T) {
	for _, in := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := Parse(in, "bet")
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("input %v: expected ErrInvalidAmount, got %v", in, err)
		}
	}
}

func TestParseNamesTheLabel(t *testing.T) {
	_, err := Parse("nope", "wager")
	if err == nil || !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if got := err.Error(); !strings.Contains(got, "wager") {
		t.Fatalf("error %q does not name the label", got)
	}
}

func TestParseRejectsOutOfRange(t *testing.T) {
	for _, in := range []any{"9223372036854775808", "-9223372036854775809", "1e30"} {
		_, err := Parse(in, "amount")
		if !errors.Is(err, ErrAmountOutOfRange) {
			t.Fatalf("input %v: expected ErrAmountOutOfRange, got %v", in, err)
		}
	}
}

func TestParsePositive(t *testing.T) {
	if _, err := ParsePositive(10, "amount"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, in := range []any{0, -1, "-500"} {
		_, err := ParsePositive(in, "amount")
		if !errors.Is(err, ErrAmountNotPositive) {
			t.Fatalf("input %v: expected ErrAmountNotPositive, got %v", in, err)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{7, "7"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-98765, "-98,765"},
	}
	for _, tc := range tests {
		if got := Format(tc.in); got != tc.want {
			t.Fatalf("Format(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
