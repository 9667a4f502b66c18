package cart

import (
	"slices"

	"github.com/noah-isme/trip-rewards/internal/pricing"
	"github.com/noah-isme/trip-rewards/internal/rewards"
)

// Computation is the derived reward state of one cart. It is the single source
// of totals for both the summary and checkout.
type Computation struct {
	Phases                []rewards.Phase
	PhaseMap              map[int64]rewards.Phase
	Selections            map[string]rewards.Selection
	EntryOrder            []string
	Snapshots             map[string]rewards.Snapshot
	Calculations          map[string]rewards.Calculation
	InvalidEntryIDs       []string
	Progress              rewards.UnlockProgress
	UnlockedPhaseIDs      []int64
	PreDiscountTotalCents pricing.Money
}

// DiscountTotalCents sums the discounts of every calculation.
func (c Computation) DiscountTotalCents() pricing.Money {
	var total pricing.Money
	for _, calc := range c.Calculations {
		total += calc.DiscountCents
	}
	return total
}

// GrandTotalCents returns the entry's grand total after any discount.
func (c Computation) GrandTotalCents(entryID string) (pricing.Money, bool) {
	if calc, ok := c.Calculations[entryID]; ok {
		return calc.UpdatedGrandTotalCents, true
	}
	if snap, ok := c.Snapshots[entryID]; ok {
		return snap.GrandTotalCents, true
	}
	return 0, false
}

// ComputeRewards derives snapshots, unlock progress and per-entry calculations
// from the cart and the active phases. Entries that cannot be snapshotted are
// skipped; selections that do not resolve are reported in InvalidEntryIDs
// instead of failing the cart.
func ComputeRewards(c Cart, phases []rewards.Phase) Computation {
	comp := Computation{
		Phases:       phases,
		PhaseMap:     rewards.MapPhasesByID(phases),
		Selections:   c.Selections(),
		Snapshots:    map[string]rewards.Snapshot{},
		Calculations: map[string]rewards.Calculation{},
	}

	for _, e := range c.Entries {
		id := EntryID(e)
		if id == "" {
			continue
		}
		snap, err := rewards.BuildEntrySnapshot(e)
		if err != nil {
			continue
		}
		if _, seen := comp.Snapshots[id]; !seen {
			comp.EntryOrder = append(comp.EntryOrder, id)
		}
		comp.Snapshots[id] = snap
		comp.PreDiscountTotalCents += snap.GrandTotalCents
	}

	comp.Progress = rewards.CalculateUnlockProgress(comp.PreDiscountTotalCents, phases)
	comp.UnlockedPhaseIDs = comp.Progress.UnlockedPhaseIDs

	ids := make([]string, 0, len(comp.Selections))
	for id := range comp.Selections {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		calc, err := comp.resolve(comp.Selections[id])
		if err != nil {
			comp.InvalidEntryIDs = append(comp.InvalidEntryIDs, id)
			continue
		}
		comp.Calculations[id] = calc
	}
	return comp
}

// resolve turns a stored selection into a calculation, checking that the entry
// exists, the phase is known and unlocked, and the selection's trip is the
// entry's trip before applying the phase.
func (c Computation) resolve(sel rewards.Selection) (rewards.Calculation, error) {
	snap, ok := c.Snapshots[sel.EntryID]
	if !ok {
		return rewards.Calculation{}, &rewards.ComputationError{Reason: rewards.ReasonEntryNotFound}
	}
	phase, ok := c.PhaseMap[sel.PhaseID]
	if !ok {
		return rewards.Calculation{}, &rewards.ComputationError{Reason: rewards.ReasonPhaseNotFound}
	}
	if !c.Progress.Unlocked(phase.ID) {
		return rewards.Calculation{}, &rewards.ComputationError{Reason: rewards.ReasonPhaseLocked}
	}
	if sel.TripID != snap.TripID {
		return rewards.Calculation{}, &rewards.ComputationError{Reason: rewards.ReasonSelectionMismatch}
	}
	return rewards.CalculateEntryReward(snap, phase)
}
