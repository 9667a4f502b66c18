package rewards

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/trip-rewards/internal/pricing"
)

// PhaseTrip links a trip to the phase that discounts it.
type PhaseTrip struct {
	ID              int64  `json:"id"`
	TripID          int64  `json:"trip_id"`
	Slug            string `json:"slug"`
	Title           string `json:"title"`
	Position        int    `json:"position"`
	CardImageURL    string `json:"card_image_url"`
	BasePriceCents  int64  `json:"base_price_cents"`
	ChildPriceCents int64  `json:"child_price_cents"`
}

// Phase is a read-only reward tier: a spend threshold unlocking a percentage
// discount on a fixed set of trips.
type Phase struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Slug            string          `json:"slug"`
	Position        int             `json:"position"`
	Threshold       decimal.Decimal `json:"threshold_amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Currency        string          `json:"currency"`
	Active          bool            `json:"is_active"`
	Headline        string          `json:"headline"`
	Description     string          `json:"description"`
	Trips           []PhaseTrip     `json:"trips"`
}

// ThresholdCents returns the unlock threshold in minor units.
func (p Phase) ThresholdCents() pricing.Money {
	return pricing.DecimalToCents(p.Threshold)
}

// TripIDs lists the eligible trip ids in display order.
func (p Phase) TripIDs() []int64 {
	ids := make([]int64, 0, len(p.Trips))
	for _, t := range p.Trips {
		ids = append(ids, t.TripID)
	}
	return ids
}

// Eligible reports whether tripID is linked to the phase.
func (p Phase) Eligible(tripID int64) bool {
	for _, t := range p.Trips {
		if t.TripID == tripID {
			return true
		}
	}
	return false
}

// MapPhasesByID indexes phases by id.
func MapPhasesByID(phases []Phase) map[int64]Phase {
	out := make(map[int64]Phase, len(phases))
	for _, p := range phases {
		out[p.ID] = p
	}
	return out
}

// Snapshot is the validated pricing read of one cart entry.
type Snapshot struct {
	EntryID          string        `json:"entry_id"`
	TripID           int64         `json:"trip_id"`
	TravelerCount    int           `json:"traveler_count"`
	BasePriceCents   pricing.Money `json:"base_price_cents"`
	BaseTotalCents   pricing.Money `json:"base_total_cents"`
	ExtrasTotalCents pricing.Money `json:"extras_total_cents"`
	GrandTotalCents  pricing.Money `json:"grand_total_cents"`
	Currency         string        `json:"currency"`
}

// Selection records the phase a cart entry has chosen and the trip that
// justified it.
type Selection struct {
	EntryID string `json:"entry_id"`
	PhaseID int64  `json:"phase_id"`
	TripID  int64  `json:"trip_id"`
}

// Calculation is the outcome of applying a phase to one snapshot.
type Calculation struct {
	EntryID                string          `json:"entry_id"`
	PhaseID                int64           `json:"phase_id"`
	TripID                 int64           `json:"trip_id"`
	TravelerCount          int             `json:"traveler_count"`
	DiscountCents          pricing.Money   `json:"discount_cents"`
	UpdatedBaseTotalCents  pricing.Money   `json:"updated_base_total_cents"`
	UpdatedGrandTotalCents pricing.Money   `json:"updated_grand_total_cents"`
	Currency               string          `json:"currency"`
	DiscountPercent        decimal.Decimal `json:"discount_percent"`
}

// DiscountAmount returns the discount as a two-place decimal.
func (c Calculation) DiscountAmount() decimal.Decimal {
	return pricing.CentsToDecimal(c.DiscountCents)
}

// UnlockProgress summarises which phases a cart total has reached.
// NextPhaseID and RemainingToNextCents are nil when every evaluable phase is unlocked.
type UnlockProgress struct {
	TotalCents           pricing.Money  `json:"total_cents"`
	Currency             string         `json:"currency"`
	UnlockedPhaseIDs     []int64        `json:"unlocked_phase_ids"`
	NextPhaseID          *int64         `json:"next_phase_id"`
	RemainingToNextCents *pricing.Money `json:"remaining_to_next_cents"`
}

// Unlocked reports whether phaseID is among the unlocked phases.
func (u UnlockProgress) Unlocked(phaseID int64) bool {
	for _, id := range u.UnlockedPhaseIDs {
		if id == phaseID {
			return true
		}
	}
	return false
}
