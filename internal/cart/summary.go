package cart

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/trip-rewards/internal/pricing"
	"github.com/noah-isme/trip-rewards/internal/rewards"
)

// Summary is the display projection of a cart. Every amount is given in minor
// units and as a formatted string.
type Summary struct {
	Contact                 Contact       `json:"contact"`
	Entries                 []EntryLine   `json:"entries"`
	Count                   int           `json:"count"`
	Currency                string        `json:"currency"`
	TotalCents              pricing.Money `json:"total_cents"`
	TotalDisplay            string        `json:"total_display"`
	PreDiscountTotalCents   pricing.Money `json:"pre_discount_total_cents"`
	PreDiscountTotalDisplay string        `json:"pre_discount_total_display"`
	DiscountTotalCents      pricing.Money `json:"discount_total_cents"`
	DiscountTotalDisplay    string        `json:"discount_total_display"`
	Rewards                 RewardsBlock  `json:"rewards"`
}

// EntryLine is one cart entry as displayed.
type EntryLine struct {
	ID                        string         `json:"id"`
	TripID                    int64          `json:"trip_id"`
	TripTitle                 string         `json:"trip_title"`
	TripSlug                  string         `json:"trip_slug"`
	TravelDate                string         `json:"travel_date"`
	TravelDateDisplay         string         `json:"travel_date_display"`
	TravelerLabel             string         `json:"traveler_label"`
	Currency                  string         `json:"currency"`
	GrandTotalCents           pricing.Money  `json:"grand_total_cents"`
	GrandTotalDisplay         string         `json:"grand_total_display"`
	OriginalGrandTotalCents   pricing.Money  `json:"original_grand_total_cents"`
	OriginalGrandTotalDisplay string         `json:"original_grand_total_display"`
	DiscountTotalCents        pricing.Money  `json:"discount_total_cents"`
	DiscountTotalDisplay      string         `json:"discount_total_display"`
	ExtrasTotalCents          pricing.Money  `json:"extras_total_cents"`
	AdultCount                int            `json:"adult_count"`
	ChildCount                int            `json:"child_count"`
	InfantCount               int            `json:"infant_count"`
	AdultPriceDisplay         string         `json:"adult_price_display"`
	ChildPriceDisplay         string         `json:"child_price_display"`
	AdultTotalDisplay         string         `json:"adult_total_display"`
	ChildTotalDisplay         string         `json:"child_total_display"`
	HasChildPrice             bool           `json:"has_child_price"`
	BilledTravelerCount       int            `json:"billed_traveler_count"`
	OptionID                  *int64         `json:"option_id,omitempty"`
	OptionLabel               string         `json:"option_label,omitempty"`
	OptionPriceDisplay        string         `json:"option_price_display,omitempty"`
	OptionChildPriceDisplay   string         `json:"option_child_price_display,omitempty"`
	Extras                    []ExtraLine    `json:"extras"`
	AppliedReward             *AppliedReward `json:"applied_reward,omitempty"`
	RewardSelection           *RewardChoice  `json:"reward_selection,omitempty"`
}

// ExtraLine is a chosen extra on an entry.
type ExtraLine struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	PriceCents   pricing.Money `json:"price_cents"`
	PriceDisplay string        `json:"price_display"`
}

// AppliedReward describes the discount materialised on an entry.
type AppliedReward struct {
	PhaseID         int64         `json:"phase_id"`
	PhaseName       string        `json:"phase_name"`
	DiscountPercent string        `json:"discount_percent"`
	DiscountCents   pricing.Money `json:"discount_cents"`
	DiscountDisplay string        `json:"discount_display"`
}

// RewardsBlock describes every active phase relative to the cart.
type RewardsBlock struct {
	Phases               []PhaseLine             `json:"phases"`
	Progress             ProgressLine            `json:"progress"`
	UnlockedPhaseIDs     []int64                 `json:"unlocked_phase_ids"`
	Selections           map[string]RewardChoice `json:"selections"`
	DiscountTotalCents   pricing.Money           `json:"discount_total_cents"`
	DiscountTotalDisplay string                  `json:"discount_total_display"`
	HasRedeemedTrip      bool                    `json:"has_redeemed_trip"`
	RedeemedTripIDs      []int64                 `json:"redeemed_trip_ids"`
}

// PhaseLine is one phase with its trips and cart-relative state.
type PhaseLine struct {
	ID                     int64         `json:"id"`
	Name                   string        `json:"name"`
	Slug                   string        `json:"slug"`
	Position               int           `json:"position"`
	ThresholdAmountCents   pricing.Money `json:"threshold_amount_cents"`
	ThresholdAmountDisplay string        `json:"threshold_amount_display"`
	DiscountPercent        string        `json:"discount_percent"`
	Currency               string        `json:"currency"`
	IsActive               bool          `json:"is_active"`
	Unlocked               bool          `json:"unlocked"`
	Headline               string        `json:"headline"`
	Description            string        `json:"description"`
	TripOptions            []TripOption  `json:"trip_options"`
	RedeemedTripIDs        []int64       `json:"redeemed_trip_ids"`
	AppliedEntryIDs        []string      `json:"applied_entry_ids"`
	EligibleEntryIDs       []string      `json:"eligible_entry_ids"`
}

// TripOption is an eligible trip of a phase.
type TripOption struct {
	PhaseTripID                int64         `json:"phase_trip_id"`
	TripID                     int64         `json:"trip_id"`
	Slug                       string        `json:"slug"`
	Title                      string        `json:"title"`
	Position                   int           `json:"position"`
	CardImageURL               string        `json:"card_image_url"`
	BasePricePerPersonCents    pricing.Money `json:"base_price_per_person_cents"`
	BasePricePerPersonDisplay  string        `json:"base_price_per_person_display"`
	ChildPricePerPersonCents   pricing.Money `json:"child_price_per_person_cents"`
	ChildPricePerPersonDisplay string        `json:"child_price_per_person_display"`
	HasChildPrice              bool          `json:"has_child_price"`
	Comparison                 *Comparison   `json:"comparison"`
	IsRedeemed                 bool          `json:"is_redeemed"`
	RedeemedEntryIDs           []string      `json:"redeemed_entry_ids"`
	EligibleEntryIDs           []string      `json:"eligible_entry_ids"`
}

// Comparison contrasts full and reward pricing for a traveler count.
type Comparison struct {
	TravelerCount               int           `json:"traveler_count"`
	TravelerLabel               string        `json:"traveler_label"`
	FullPriceCents              pricing.Money `json:"full_price_cents"`
	FullPriceDisplay            string        `json:"full_price_display"`
	RewardPriceCents            pricing.Money `json:"reward_price_cents"`
	RewardPriceDisplay          string        `json:"reward_price_display"`
	DiscountCents               pricing.Money `json:"discount_cents"`
	DiscountDisplay             string        `json:"discount_display"`
	FullPricePerPersonDisplay   string        `json:"full_price_per_person_display"`
	ChildPricePerPersonDisplay  string        `json:"child_price_per_person_display"`
	RewardPricePerPersonDisplay string        `json:"reward_price_per_person_display"`
	Source                      string        `json:"source"`
}

// ProgressLine reports unlock progress for display.
type ProgressLine struct {
	TotalCents             pricing.Money  `json:"total_cents"`
	TotalDisplay           string         `json:"total_display"`
	Currency               string         `json:"currency"`
	UnlockedPhaseIDs       []int64        `json:"unlocked_phase_ids"`
	NextPhaseID            *int64         `json:"next_phase_id"`
	RemainingToNextCents   *pricing.Money `json:"remaining_to_next_cents"`
	RemainingToNextDisplay *string        `json:"remaining_to_next_display"`
}

// Project renders the cart and its computation into a Summary.
func Project(c Cart, comp Computation) Summary {
	s := Summary{
		Contact:               c.Contact,
		Entries:               make([]EntryLine, 0, len(c.Entries)),
		Currency:              pricing.DefaultCurrency,
		PreDiscountTotalCents: comp.PreDiscountTotalCents,
	}
	selections := map[string]RewardChoice{}

	for _, e := range c.Entries {
		line := entryLine(e)
		id := line.ID
		snap, hasSnap := comp.Snapshots[id]
		if hasSnap {
			line.Currency = snap.Currency
			line.GrandTotalCents = snap.GrandTotalCents
			line.OriginalGrandTotalCents = snap.GrandTotalCents
			line.ExtrasTotalCents = snap.ExtrasTotalCents
		}
		if calc, ok := comp.Calculations[id]; ok {
			line.GrandTotalCents = calc.UpdatedGrandTotalCents
			line.DiscountTotalCents = calc.DiscountCents
			line.AppliedReward = &AppliedReward{
				PhaseID:         calc.PhaseID,
				PhaseName:       comp.PhaseMap[calc.PhaseID].Name,
				DiscountPercent: calc.DiscountPercent.StringFixed(2),
				DiscountCents:   calc.DiscountCents,
				DiscountDisplay: pricing.FormatCents(calc.DiscountCents),
			}
			s.DiscountTotalCents += calc.DiscountCents
		}
		if sel, ok := comp.Selections[id]; ok {
			choice := RewardChoice{PhaseID: sel.PhaseID, TripID: sel.TripID}
			selections[id] = choice
			line.RewardSelection = &choice
		}
		line.GrandTotalDisplay = pricing.FormatCents(line.GrandTotalCents)
		line.OriginalGrandTotalDisplay = pricing.FormatCents(line.OriginalGrandTotalCents)
		line.DiscountTotalDisplay = pricing.FormatCentsOrZero(line.DiscountTotalCents)

		s.Entries = append(s.Entries, line)
		s.TotalCents += line.GrandTotalCents
		if line.Currency != "" {
			s.Currency = line.Currency
		}
	}
	s.Count = len(s.Entries)
	s.TotalDisplay = pricing.FormatCentsOrZero(s.TotalCents)
	s.PreDiscountTotalDisplay = pricing.FormatCentsOrZero(s.PreDiscountTotalCents)
	s.DiscountTotalDisplay = pricing.FormatCentsOrZero(s.DiscountTotalCents)
	s.Rewards = rewardsBlock(comp, selections, s.DiscountTotalCents)
	return s
}

func entryLine(e Entry) EntryLine {
	p := EntryPricing(e)
	tripID, _ := EntryTripID(e)
	adults := int(pricing.SafeInt(e["adults"]))
	children := int(pricing.SafeInt(e["children"]))
	infants := int(pricing.SafeInt(e["infants"]))
	travelers := max(adults+children, 1)

	currency := stringField(p, "currency")
	if currency == "" {
		currency = pricing.DefaultCurrency
	}
	grand := pricing.SafeInt(p["grand_total_cents"])
	adultPrice := firstNonZero(p["adult_price_cents"], p["base_price_cents"])
	childPrice := pricing.SafeInt(p["child_price_cents"])
	if childPrice == 0 {
		childPrice = adultPrice
	}
	hasChildPrice := childPrice != adultPrice

	line := EntryLine{
		ID:                      EntryID(e),
		TripID:                  tripID,
		TripTitle:               stringField(e, "trip_title"),
		TripSlug:                stringField(e, "trip_slug"),
		TravelDate:              stringField(e, "travel_date"),
		TravelDateDisplay:       travelDateDisplay(stringField(e, "travel_date")),
		TravelerLabel:           travelerLabel(travelers, infants),
		Currency:                currency,
		GrandTotalCents:         grand,
		OriginalGrandTotalCents: grand,
		ExtrasTotalCents:        pricing.SafeInt(p["extras_total_cents"]),
		AdultCount:              adults,
		ChildCount:              children,
		InfantCount:             infants,
		AdultPriceDisplay:       displayIfSet(adultPrice),
		AdultTotalDisplay:       displayIfSet(pricing.SafeInt(p["adult_total_cents"])),
		ChildTotalDisplay:       displayIfSet(pricing.SafeInt(p["child_total_cents"])),
		HasChildPrice:           hasChildPrice,
		BilledTravelerCount:     travelers,
		Extras:                  extraLines(e["extras"]),
	}
	if hasChildPrice {
		line.ChildPriceDisplay = pricing.FormatCents(childPrice)
	}
	if billed := int(pricing.SafeInt(p["billed_traveler_count"])); billed > 0 {
		line.BilledTravelerCount = billed
	}

	label := optionLabel(e, p)
	if label != "" {
		line.OptionLabel = label
		if id, ok := pricing.StrictInt(p["option_id"]); ok {
			line.OptionID = &id
		}
		optPrice := firstNonZero(p["option_price_cents"], adultPrice)
		optChild := firstNonZero(p["option_child_price_cents"], childPrice)
		line.OptionPriceDisplay = displayIfSet(optPrice)
		if optChild != 0 && optChild != optPrice {
			line.OptionChildPriceDisplay = pricing.FormatCents(optChild)
		}
	}
	return line
}

func optionLabel(e Entry, p map[string]any) string {
	if opt, ok := e["option"].(map[string]any); ok {
		if label := stringField(opt, "label"); label != "" {
			return label
		}
	}
	if label := stringField(e, "option_label"); label != "" {
		return label
	}
	return stringField(p, "option_label")
}

func extraLines(raw any) []ExtraLine {
	items, _ := raw.([]any)
	out := make([]ExtraLine, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		cents := pricing.SafeInt(m["price_cents"])
		out = append(out, ExtraLine{
			ID:           pricing.SafeInt(m["id"]),
			Name:         stringField(m, "name"),
			PriceCents:   cents,
			PriceDisplay: pricing.FormatCents(cents),
		})
	}
	return out
}

func rewardsBlock(comp Computation, selections map[string]RewardChoice, discountTotal pricing.Money) RewardsBlock {
	redeemed := map[[2]int64][]string{}
	for _, id := range comp.EntryOrder {
		if calc, ok := comp.Calculations[id]; ok {
			key := [2]int64{calc.PhaseID, calc.TripID}
			redeemed[key] = append(redeemed[key], id)
		}
	}

	firstByTrip := map[int64]rewards.Snapshot{}
	entriesByTrip := map[int64][]string{}
	defaultTravelers := 1
	for _, id := range comp.EntryOrder {
		snap := comp.Snapshots[id]
		if _, ok := firstByTrip[snap.TripID]; !ok {
			firstByTrip[snap.TripID] = snap
		}
		entriesByTrip[snap.TripID] = append(entriesByTrip[snap.TripID], id)
		defaultTravelers = max(defaultTravelers, snap.TravelerCount)
	}
	hasContext := len(firstByTrip) > 0

	globalRedeemed := map[int64]bool{}
	phases := make([]PhaseLine, 0, len(comp.Phases))
	for _, phase := range comp.Phases {
		threshold := phase.ThresholdCents()
		line := PhaseLine{
			ID:                     phase.ID,
			Name:                   phase.Name,
			Slug:                   phase.Slug,
			Position:               phase.Position,
			ThresholdAmountCents:   threshold,
			ThresholdAmountDisplay: pricing.FormatCents(threshold),
			DiscountPercent:        phase.DiscountPercent.StringFixed(2),
			Currency:               phase.Currency,
			IsActive:               phase.Active,
			Unlocked:               comp.Progress.Unlocked(phase.ID),
			Headline:               phase.Headline,
			Description:            phase.Description,
			TripOptions:            make([]TripOption, 0, len(phase.Trips)),
			RedeemedTripIDs:        []int64{},
			AppliedEntryIDs:        []string{},
			EligibleEntryIDs:       []string{},
		}
		for _, trip := range phase.Trips {
			redeemedIDs := redeemed[[2]int64{phase.ID, trip.TripID}]
			if len(redeemedIDs) > 0 {
				line.RedeemedTripIDs = append(line.RedeemedTripIDs, trip.TripID)
				globalRedeemed[trip.TripID] = true
			}
			eligible := slices.Clone(entriesByTrip[trip.TripID])
			line.EligibleEntryIDs = append(line.EligibleEntryIDs, eligible...)

			travelers, source := 0, ""
			if snap, ok := firstByTrip[trip.TripID]; ok {
				travelers, source = snap.TravelerCount, "entry"
			} else if hasContext {
				travelers, source = defaultTravelers, "cart"
			}
			opt := TripOption{
				PhaseTripID:               trip.ID,
				TripID:                    trip.TripID,
				Slug:                      trip.Slug,
				Title:                     trip.Title,
				Position:                  trip.Position,
				CardImageURL:              trip.CardImageURL,
				BasePricePerPersonCents:   trip.BasePriceCents,
				BasePricePerPersonDisplay: pricing.FormatCents(trip.BasePriceCents),
				ChildPricePerPersonCents:  trip.ChildPriceCents,
				HasChildPrice:             trip.ChildPriceCents != trip.BasePriceCents,
				Comparison:                comparison(trip, phase.DiscountPercent, travelers, source),
				IsRedeemed:                len(redeemedIDs) > 0,
				RedeemedEntryIDs:          nonNil(redeemedIDs),
				EligibleEntryIDs:          nonNil(eligible),
			}
			if opt.HasChildPrice {
				opt.ChildPricePerPersonDisplay = pricing.FormatCents(trip.ChildPriceCents)
			}
			line.TripOptions = append(line.TripOptions, opt)
		}
		slices.Sort(line.RedeemedTripIDs)
		line.RedeemedTripIDs = slices.Compact(line.RedeemedTripIDs)
		for _, id := range comp.EntryOrder {
			if calc, ok := comp.Calculations[id]; ok && calc.PhaseID == phase.ID {
				line.AppliedEntryIDs = append(line.AppliedEntryIDs, id)
			}
		}
		phases = append(phases, line)
	}

	redeemedTrips := make([]int64, 0, len(globalRedeemed))
	for id := range globalRedeemed {
		redeemedTrips = append(redeemedTrips, id)
	}
	slices.Sort(redeemedTrips)

	progress := comp.Progress
	pl := ProgressLine{
		TotalCents:           progress.TotalCents,
		TotalDisplay:         pricing.FormatCentsOrZero(progress.TotalCents),
		Currency:             progress.Currency,
		UnlockedPhaseIDs:     nonNilIDs(comp.UnlockedPhaseIDs),
		NextPhaseID:          progress.NextPhaseID,
		RemainingToNextCents: progress.RemainingToNextCents,
	}
	if progress.RemainingToNextCents != nil {
		display := pricing.FormatCents(*progress.RemainingToNextCents)
		pl.RemainingToNextDisplay = &display
	}

	return RewardsBlock{
		Phases:               phases,
		Progress:             pl,
		UnlockedPhaseIDs:     nonNilIDs(comp.UnlockedPhaseIDs),
		Selections:           selections,
		DiscountTotalCents:   discountTotal,
		DiscountTotalDisplay: pricing.FormatCentsOrZero(discountTotal),
		HasRedeemedTrip:      len(redeemedTrips) > 0,
		RedeemedTripIDs:      redeemedTrips,
	}
}

// comparison prices a phase trip at full and reward rate for travelers.
func comparison(trip rewards.PhaseTrip, percent decimal.Decimal, travelers int, source string) *Comparison {
	if travelers <= 0 || trip.BasePriceCents <= 0 {
		return nil
	}
	full := trip.BasePriceCents * int64(travelers)
	discount := rewards.Discount(full, percent)
	reward := max(full-discount, 0)
	perPerson := pricing.DecimalToCents(pricing.CentsToDecimal(reward).Div(decimal.NewFromInt(int64(travelers))))
	c := &Comparison{
		TravelerCount:               travelers,
		TravelerLabel:               travelerLabel(travelers, 0),
		FullPriceCents:              full,
		FullPriceDisplay:            pricing.FormatCents(full),
		RewardPriceCents:            reward,
		RewardPriceDisplay:          pricing.FormatCents(reward),
		DiscountCents:               discount,
		DiscountDisplay:             pricing.FormatCents(discount),
		FullPricePerPersonDisplay:   pricing.FormatCents(trip.BasePriceCents),
		RewardPricePerPersonDisplay: pricing.FormatCents(perPerson),
		Source:                      source,
	}
	if trip.ChildPriceCents != trip.BasePriceCents {
		c.ChildPricePerPersonDisplay = pricing.FormatCents(trip.ChildPriceCents)
	}
	return c
}

func travelerLabel(count, infants int) string {
	count = max(count, 1)
	label := "1 traveler"
	if count > 1 {
		label = fmt.Sprintf("%d travelers", count)
	}
	switch {
	case infants == 1:
		label += " + 1 infant"
	case infants > 1:
		label += fmt.Sprintf(" + %d infants", infants)
	}
	return label
}

func travelDateDisplay(raw string) string {
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return ""
	}
	return d.Format("Jan 02, 2006")
}

func displayIfSet(cents pricing.Money) string {
	if cents == 0 {
		return ""
	}
	return pricing.FormatCents(cents)
}

func firstNonZero(values ...any) pricing.Money {
	for _, v := range values {
		if n := pricing.SafeInt(v); n != 0 {
			return n
		}
	}
	return 0
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
