package pricing

import "github.com/shopspring/decimal"

// Item is a priced extra attached to a line.
type Item struct {
	Price decimal.Decimal
}

// Party describes the travelers billed on one line.
type Party struct {
	Adults   int
	Children int
}

// Billed returns the number of billed travelers, never less than one.
func (p Party) Billed() int {
	if n := p.Adults + p.Children; n > 1 {
		return n
	}
	return 1
}

// Summary aggregates computed pricing components for one line, all in minor units.
type Summary struct {
	AdultPrice  Money
	ChildPrice  Money
	AdultTotal  Money
	ChildTotal  Money
	BaseTotal   Money
	ExtrasTotal Money
	GrandTotal  Money
}

// Quote prices a line from per-person prices and the chosen extras. Totals are
// accumulated as decimals and converted once so rounding happens a single time.
func Quote(adultPrice, childPrice decimal.Decimal, party Party, extras []Item) Summary {
	adults := party.Adults
	if adults < 0 {
		adults = 0
	}
	children := party.Children
	if children < 0 {
		children = 0
	}
	adultTotal := adultPrice.Mul(decimal.NewFromInt(int64(adults)))
	childTotal := childPrice.Mul(decimal.NewFromInt(int64(children)))
	baseTotal := adultTotal.Add(childTotal)
	extrasTotal := decimal.Zero
	for _, it := range extras {
		extrasTotal = extrasTotal.Add(it.Price)
	}
	return Summary{
		AdultPrice:  DecimalToCents(adultPrice),
		ChildPrice:  DecimalToCents(childPrice),
		AdultTotal:  DecimalToCents(adultTotal),
		ChildTotal:  DecimalToCents(childTotal),
		BaseTotal:   DecimalToCents(baseTotal),
		ExtrasTotal: DecimalToCents(extrasTotal),
		GrandTotal:  DecimalToCents(baseTotal.Add(extrasTotal)),
	}
}
