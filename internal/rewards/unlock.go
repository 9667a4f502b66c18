package rewards

import "github.com/noah-isme/trip-rewards/internal/pricing"

// CalculateUnlockProgress evaluates totalCents against phases in the order given.
// The currency is taken from the first phase and phases in another currency are
// skipped. A phase unlocks when the total reaches its threshold; phases are not
// assumed to be sorted by threshold, so a later cheaper phase may unlock while an
// earlier one stays locked. The first locked phase becomes the next target.
func CalculateUnlockProgress(totalCents pricing.Money, phases []Phase) UnlockProgress {
	currency := pricing.DefaultCurrency
	if len(phases) > 0 {
		currency = phases[0].Currency
	}
	total := pricing.CentsToDecimal(totalCents)

	progress := UnlockProgress{
		TotalCents:       totalCents,
		Currency:         currency,
		UnlockedPhaseIDs: []int64{},
	}
	for _, phase := range phases {
		if phase.Currency != currency {
			continue
		}
		if total.GreaterThanOrEqual(phase.Threshold) {
			progress.UnlockedPhaseIDs = append(progress.UnlockedPhaseIDs, phase.ID)
			continue
		}
		if progress.NextPhaseID == nil {
			id := phase.ID
			remaining := pricing.DecimalToCents(phase.Threshold.Sub(total))
			if remaining < 0 {
				remaining = 0
			}
			progress.NextPhaseID = &id
			progress.RemainingToNextCents = &remaining
		}
	}
	return progress
}
