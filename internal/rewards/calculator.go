package rewards

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/trip-rewards/internal/obs"
	"github.com/noah-isme/trip-rewards/internal/pricing"
)

var hundred = decimal.NewFromInt(100)

// CalculateEntryReward applies phase to snapshot. The phase must be active, in the
// snapshot's currency and list the snapshot's trip. Only the base total is
// discounted; extras pass through unchanged.
func CalculateEntryReward(snapshot Snapshot, phase Phase) (Calculation, error) {
	if err := validatePhase(snapshot, phase); err != nil {
		recordCalculation(err)
		return Calculation{}, err
	}
	discount := Discount(snapshot.BaseTotalCents, phase.DiscountPercent)
	updatedBase := snapshot.BaseTotalCents - discount
	recordCalculation(nil)
	return Calculation{
		EntryID:                snapshot.EntryID,
		PhaseID:                phase.ID,
		TripID:                 snapshot.TripID,
		TravelerCount:          snapshot.TravelerCount,
		DiscountCents:          discount,
		UpdatedBaseTotalCents:  updatedBase,
		UpdatedGrandTotalCents: updatedBase + snapshot.ExtrasTotalCents,
		Currency:               snapshot.Currency,
		DiscountPercent:        phase.DiscountPercent,
	}, nil
}

func validatePhase(snapshot Snapshot, phase Phase) error {
	if !phase.Active {
		return computationError(ReasonPhaseInactive)
	}
	if snapshot.Currency != phase.Currency {
		return computationError(ReasonCurrencyMismatch)
	}
	if !phase.Eligible(snapshot.TripID) {
		return computationError(ReasonTripNotEligible)
	}
	return nil
}

// Discount computes round-half-up(base × percent / 100) in minor units, clamped to
// [0, baseCents].
func Discount(baseCents pricing.Money, percent decimal.Decimal) pricing.Money {
	if baseCents <= 0 {
		return 0
	}
	base := pricing.CentsToDecimal(baseCents)
	discount := pricing.DecimalToCents(base.Mul(percent.Div(hundred)))
	if discount > baseCents {
		discount = baseCents
	}
	if discount < 0 {
		return 0
	}
	return discount
}

func recordCalculation(err error) {
	if obs.RewardCalculationsTotal == nil {
		return
	}
	result := "applied"
	if err != nil {
		result = string(ReasonOf(err))
	}
	obs.RewardCalculationsTotal.WithLabelValues(result).Inc()
}
