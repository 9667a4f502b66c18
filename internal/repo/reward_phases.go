package repo

import (
	"context"
	"fmt"

	"github.com/noah-isme/trip-rewards/internal/pricing"
	"github.com/noah-isme/trip-rewards/internal/rewards"
)

const listRewardPhases = `
SELECT id, name, slug, position, status = 'active', threshold_amount::text,
       discount_percent::text, currency, headline, description
FROM reward_phases
WHERE ($1::bool = false OR status = 'active')
ORDER BY position, id`

const listRewardPhaseTrips = `
SELECT rpt.id, rpt.phase_id, rpt.trip_id, t.slug, t.title, rpt.position,
       t.card_image_url, t.base_price::text, COALESCE(t.child_price, t.base_price)::text
FROM reward_phase_trips rpt
JOIN trips t ON t.id = rpt.trip_id
WHERE rpt.phase_id = ANY($1::bigint[])
ORDER BY rpt.phase_id, rpt.position, rpt.id`

// RewardPhaseRepo loads reward phases with their eligible trips.
type RewardPhaseRepo struct {
	DB DBTX
}

// LoadRewardPhases returns phases ordered by (position, id), each carrying its
// trips ordered the same way.
func (r RewardPhaseRepo) LoadRewardPhases(ctx context.Context, activeOnly bool) ([]rewards.Phase, error) {
	rows, err := r.DB.Query(ctx, listRewardPhases, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("query reward phases: %w", err)
	}
	var (
		phases []rewards.Phase
		ids    []int64
	)
	for rows.Next() {
		var (
			p                  rewards.Phase
			threshold, percent string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.Position, &p.Active, &threshold,
			&percent, &p.Currency, &p.Headline, &p.Description); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan reward phase: %w", err)
		}
		if p.Threshold, err = parseDecimal(threshold); err != nil {
			rows.Close()
			return nil, err
		}
		if p.DiscountPercent, err = parseDecimal(percent); err != nil {
			rows.Close()
			return nil, err
		}
		phases = append(phases, p)
		ids = append(ids, p.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reward phases: %w", err)
	}
	if len(phases) == 0 {
		return []rewards.Phase{}, nil
	}

	trips, err := r.loadTrips(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range phases {
		phases[i].Trips = trips[phases[i].ID]
	}
	return phases, nil
}

func (r RewardPhaseRepo) loadTrips(ctx context.Context, phaseIDs []int64) (map[int64][]rewards.PhaseTrip, error) {
	rows, err := r.DB.Query(ctx, listRewardPhaseTrips, phaseIDs)
	if err != nil {
		return nil, fmt.Errorf("query reward phase trips: %w", err)
	}
	defer rows.Close()
	out := make(map[int64][]rewards.PhaseTrip, len(phaseIDs))
	for rows.Next() {
		var (
			t           rewards.PhaseTrip
			phaseID     int64
			base, child string
		)
		if err := rows.Scan(&t.ID, &phaseID, &t.TripID, &t.Slug, &t.Title, &t.Position,
			&t.CardImageURL, &base, &child); err != nil {
			return nil, fmt.Errorf("scan reward phase trip: %w", err)
		}
		baseDec, err := parseDecimal(base)
		if err != nil {
			return nil, err
		}
		childDec, err := parseDecimal(child)
		if err != nil {
			return nil, err
		}
		t.BasePriceCents = pricing.DecimalToCents(baseDec)
		t.ChildPriceCents = pricing.DecimalToCents(childDec)
		out[phaseID] = append(out[phaseID], t)
	}
	return out, rows.Err()
}
