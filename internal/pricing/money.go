package pricing

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// DefaultCurrency is used whenever a record carries no currency code.
const DefaultCurrency = "USD"

var hundred = decimal.NewFromInt(100)

// Quantize rounds amount to two decimal places, half away from zero.
func Quantize(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// DecimalToCents quantizes amount to two places and returns it in minor units.
func DecimalToCents(amount decimal.Decimal) Money {
	return Quantize(amount).Mul(hundred).Round(0).IntPart()
}

// WholeToCents converts an amount already expressed in whole currency units.
// The value is scaled directly so integral inputs never pass through rounding.
func WholeToCents(amount int64) Money {
	return amount * 100
}

// StringToCents parses a decimal string such as "199.995" and converts it to minor units.
func StringToCents(amount string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return DecimalToCents(d), nil
}

// CentsToDecimal converts minor units to a two-place decimal.
func CentsToDecimal(cents Money) decimal.Decimal {
	return Quantize(decimal.NewFromInt(cents).Div(hundred))
}

// CoerceCentsToDecimal converts loosely typed stored cents into a decimal.
// Anything that is not an integer count of cents yields zero.
func CoerceCentsToDecimal(v any) decimal.Decimal {
	switch value := v.(type) {
	case decimal.Decimal:
		return Quantize(value)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return decimal.Zero.Round(2)
		}
		return CentsToDecimal(parsed)
	default:
		return CentsToDecimal(SafeInt(v))
	}
}

// SafeInt coerces loosely typed numeric data into an int64, falling back to zero.
// Booleans count as 0 and 1. Fractional numbers and strings holding them yield
// zero rather than being truncated. Integral floats are accepted because
// encoding/json decodes whole numbers into float64; decimals are truncated.
func SafeInt(v any) int64 {
	switch value := v.(type) {
	case nil:
		return 0
	case bool:
		if value {
			return 1
		}
		return 0
	case int:
		return int64(value)
	case int32:
		return int64(value)
	case int64:
		return value
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) || value != math.Trunc(value) {
			return 0
		}
		if value >= math.MaxInt64 || value < math.MinInt64 {
			return 0
		}
		return int64(value)
	case float32:
		return SafeInt(float64(value))
	case json.Number:
		n, err := value.Int64()
		if err != nil {
			return 0
		}
		return n
	case decimal.Decimal:
		return value.IntPart()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// StrictInt reports the integer held by v when v is an integral number.
// Strings and fractional values are rejected.
func StrictInt(v any) (int64, bool) {
	switch value := v.(type) {
	case int:
		return int64(value), true
	case int32:
		return int64(value), true
	case int64:
		return value, true
	case float64:
		if value != math.Trunc(value) || math.IsInf(value, 0) {
			return 0, false
		}
		return int64(value), true
	case json.Number:
		n, err := value.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

var printer = message.NewPrinter(language.English)

// FormatCents renders minor units as a grouped two-place amount, e.g. 123456 -> "1,234.56".
func FormatCents(cents Money) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + printer.Sprintf("%d", cents/100) + fmt.Sprintf(".%02d", cents%100)
}

// FormatCentsOrZero renders cents, using "0.00" for zero amounts.
func FormatCentsOrZero(cents Money) string {
	if cents == 0 {
		return "0.00"
	}
	return FormatCents(cents)
}
