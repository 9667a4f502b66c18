package rewards

import (
	"strings"

	"github.com/noah-isme/trip-rewards/internal/pricing"
)

// BuildEntrySnapshot reads the pricing fields of a raw cart entry. The entry id,
// an integral trip_id and a pricing object are required; every numeric field is
// otherwise coerced to zero when missing or malformed.
func BuildEntrySnapshot(entry map[string]any) (Snapshot, error) {
	entryID := keyString(entry["id"])
	if entryID == "" {
		return Snapshot{}, computationError(ReasonMissingEntryID)
	}
	tripID, ok := pricing.StrictInt(entry["trip_id"])
	if !ok {
		return Snapshot{}, computationError(ReasonMissingTripID)
	}
	pricingRec, ok := entry["pricing"].(map[string]any)
	if !ok {
		return Snapshot{}, computationError(ReasonInvalidPricing)
	}

	currency := stringOf(pricingRec["currency"])
	if currency == "" {
		currency = pricing.DefaultCurrency
	}
	basePrice := pricing.SafeInt(pricingRec["base_price_cents"])
	baseTotal := pricing.SafeInt(pricingRec["base_total_cents"])
	extrasTotal := pricing.SafeInt(pricingRec["extras_total_cents"])
	grandTotal := pricing.SafeInt(pricingRec["grand_total_cents"])

	adults := pricing.SafeInt(entry["adults"])
	children := pricing.SafeInt(entry["children"])
	travelers := adults + children
	if travelers < 1 {
		travelers = 1
	}

	if baseTotal == 0 {
		baseTotal = basePrice * travelers
	}
	if grandTotal == 0 {
		grandTotal = basePrice*travelers + extrasTotal
	}

	return Snapshot{
		EntryID:          entryID,
		TripID:           tripID,
		TravelerCount:    int(travelers),
		BasePriceCents:   basePrice,
		BaseTotalCents:   baseTotal,
		ExtrasTotalCents: extrasTotal,
		GrandTotalCents:  grandTotal,
		Currency:         currency,
	}, nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
