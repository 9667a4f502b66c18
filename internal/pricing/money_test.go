package pricing

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDecimalToCentsRoundsHalfUp(t *testing.T) {
	cases := map[string]Money{
		"0.005":   1,
		"0.004":   0,
		"19.995":  2000,
		"200":     20000,
		"-1.005":  -101,
		"1234.56": 123456,
	}
	for in, want := range cases {
		got, err := StringToCents(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestStringToCentsRejectsGarbage(t *testing.T) {
	_, err := StringToCents("twelve")
	require.Error(t, err)
}

func TestWholeToCentsScalesDirectly(t *testing.T) {
	require.Equal(t, Money(50000), WholeToCents(500))
	require.Equal(t, Money(0), WholeToCents(0))
}

func TestCentsRoundTrip(t *testing.T) {
	for _, in := range []string{"0.00", "0.01", "0.10", "1.99", "400.00", "99999.99", "-12.34"} {
		amount := decimal.RequireFromString(in)
		back := CentsToDecimal(DecimalToCents(amount))
		require.True(t, back.Equal(amount), "%s -> %s", in, back)
	}
}

func TestCentsRoundTripQuantizes(t *testing.T) {
	amount := decimal.RequireFromString("10.125")
	back := CentsToDecimal(DecimalToCents(amount))
	require.Equal(t, "10.13", back.StringFixed(2))
}

func TestCoerceCentsToDecimal(t *testing.T) {
	require.Equal(t, "12.34", CoerceCentsToDecimal("1234").StringFixed(2))
	require.Equal(t, "0.00", CoerceCentsToDecimal("12.5x").StringFixed(2))
	require.Equal(t, "0.00", CoerceCentsToDecimal(nil).StringFixed(2))
	require.Equal(t, "5.00", CoerceCentsToDecimal(float64(500)).StringFixed(2))
	require.Equal(t, "1.50", CoerceCentsToDecimal(json.Number("150")).StringFixed(2))
}

func TestSafeInt(t *testing.T) {
	require.Equal(t, int64(3), SafeInt(3))
	require.Equal(t, int64(3), SafeInt(float64(3)))
	require.Equal(t, int64(0), SafeInt(float64(3.7)))
	require.Equal(t, int64(0), SafeInt(float32(2.5)))
	require.Equal(t, int64(42), SafeInt(" 42 "))
	require.Equal(t, int64(0), SafeInt("3.7"))
	require.Equal(t, int64(1), SafeInt(true))
	require.Equal(t, int64(0), SafeInt(false))
	require.Equal(t, int64(0), SafeInt(nil))
	require.Equal(t, int64(0), SafeInt(map[string]any{}))
	require.Equal(t, int64(7), SafeInt(json.Number("7")))
	require.Equal(t, int64(0), SafeInt(json.Number("7.5")))
	require.Equal(t, int64(-3), SafeInt(decimal.RequireFromString("-3.9")))
	require.Equal(t, int64(0), SafeInt(math.Inf(1)))
}

func TestStrictInt(t *testing.T) {
	n, ok := StrictInt(float64(12))
	require.True(t, ok)
	require.Equal(t, int64(12), n)

	_, ok = StrictInt(12.5)
	require.False(t, ok)
	_, ok = StrictInt("12")
	require.False(t, ok)
	_, ok = StrictInt(nil)
	require.False(t, ok)
}

func TestFormatCents(t *testing.T) {
	require.Equal(t, "0.05", FormatCents(5))
	require.Equal(t, "1,234.56", FormatCents(123456))
	require.Equal(t, "1,000,000.00", FormatCents(100000000))
	require.Equal(t, "-3.10", FormatCents(-310))
	require.Equal(t, "0.00", FormatCentsOrZero(0))
}

func TestQuote(t *testing.T) {
	summary := Quote(
		decimal.RequireFromString("200"),
		decimal.RequireFromString("150.50"),
		Party{Adults: 2, Children: 1},
		[]Item{{Price: decimal.RequireFromString("25")}, {Price: decimal.RequireFromString("10.25")}},
	)
	require.Equal(t, Money(20000), summary.AdultPrice)
	require.Equal(t, Money(40000), summary.AdultTotal)
	require.Equal(t, Money(15050), summary.ChildTotal)
	require.Equal(t, Money(55050), summary.BaseTotal)
	require.Equal(t, Money(3525), summary.ExtrasTotal)
	require.Equal(t, Money(58575), summary.GrandTotal)
}

func TestPartyBilled(t *testing.T) {
	require.Equal(t, 1, Party{}.Billed())
	require.Equal(t, 3, Party{Adults: 2, Children: 1}.Billed())
}
