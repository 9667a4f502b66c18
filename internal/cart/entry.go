package cart

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/trip-rewards/internal/catalog"
	"github.com/noah-isme/trip-rewards/internal/pricing"
)

// EntryInput is the traveler's request to book one trip.
type EntryInput struct {
	TripID     int64    `json:"trip_id" validate:"required,gt=0"`
	TravelDate string   `json:"travel_date" validate:"required,datetime=2006-01-02"`
	Adults     int      `json:"adults" validate:"gte=0,lte=50"`
	Children   int      `json:"children" validate:"gte=0,lte=50"`
	Infants    int      `json:"infants" validate:"gte=0,lte=20"`
	ExtraIDs   []int64  `json:"extras" validate:"omitempty,dive,gt=0"`
	OptionID   *int64   `json:"option_id" validate:"omitempty,gt=0"`
	Message    string   `json:"message" validate:"max=2000"`
	Contact    *Contact `json:"contact,omitempty"`
}

// BuildEntry prices a cart entry for trip. Disallowed children and infants are
// dropped, at least one adult is billed, and a booking option overrides the
// per-person prices.
func BuildEntry(trip catalog.Trip, in EntryInput, now time.Time) Entry {
	adults, children, infants := in.Adults, in.Children, in.Infants
	if adults < 0 {
		adults = 0
	}
	if children < 0 || !trip.AllowChildren {
		children = 0
	}
	if infants < 0 || !trip.AllowInfants {
		infants = 0
	}
	if adults+children <= 0 {
		adults = 1
	}
	party := pricing.Party{Adults: adults, Children: children}

	adultPrice := trip.BasePrice
	childPrice := trip.ChildPricePerPerson()
	var option map[string]any
	if opt := trip.PickOption(in.OptionID); opt != nil {
		adultPrice = opt.Price
		if opt.ChildPrice != nil {
			childPrice = *opt.ChildPrice
		}
		option = map[string]any{
			"id":                opt.ID,
			"label":             opt.Name,
			"price_cents":       pricing.DecimalToCents(opt.Price),
			"child_price_cents": pricing.DecimalToCents(childPrice),
		}
	}

	selected := trip.SelectExtras(in.ExtraIDs)
	items := make([]pricing.Item, 0, len(selected))
	extras := make([]any, 0, len(selected))
	for _, ex := range selected {
		items = append(items, pricing.Item{Price: ex.Price})
		extras = append(extras, map[string]any{
			"id":          ex.ID,
			"name":        ex.Name,
			"price_cents": pricing.DecimalToCents(ex.Price),
		})
	}
	quote := pricing.Quote(adultPrice, childPrice, party, items)

	currency := trip.Currency
	if currency == "" {
		currency = pricing.DefaultCurrency
	}
	hasChildPrice := quote.ChildPrice != quote.AdultPrice
	childDisplay := ""
	if hasChildPrice {
		childDisplay = pricing.FormatCents(quote.ChildPrice)
	}
	pricingRec := map[string]any{
		"currency":                       currency,
		"base_price_cents":               quote.AdultPrice,
		"adult_price_cents":              quote.AdultPrice,
		"child_price_cents":              quote.ChildPrice,
		"base_total_cents":               quote.BaseTotal,
		"adult_total_cents":              quote.AdultTotal,
		"child_total_cents":              quote.ChildTotal,
		"extras_total_cents":             quote.ExtrasTotal,
		"grand_total_cents":              quote.GrandTotal,
		"billed_traveler_count":          party.Billed(),
		"adult_count":                    adults,
		"child_count":                    children,
		"base_price_per_person_display":  pricing.FormatCents(quote.AdultPrice),
		"child_price_per_person_display": childDisplay,
		"has_child_price":                hasChildPrice,
	}

	entry := Entry{
		"id":          newEntryID(),
		"trip_id":     trip.ID,
		"trip_slug":   trip.Slug,
		"trip_title":  trip.Title,
		"travel_date": in.TravelDate,
		"adults":      adults,
		"children":    children,
		"infants":     infants,
		"message":     in.Message,
		"extras":      extras,
		"pricing":     pricingRec,
		"created_at":  now.UTC().Format(time.RFC3339),
	}
	if option != nil {
		entry["option"] = option
		entry["option_id"] = option["id"]
		entry["option_label"] = option["label"]
		pricingRec["option_id"] = option["id"]
		pricingRec["option_label"] = option["label"]
		pricingRec["option_price_cents"] = option["price_cents"]
		pricingRec["option_child_price_cents"] = option["child_price_cents"]
	}
	return entry
}

func newEntryID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
