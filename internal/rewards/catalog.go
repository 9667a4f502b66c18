package rewards

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/trip-rewards/internal/obs"
	"github.com/noah-isme/trip-rewards/internal/pricing"
)

// PhaseStore loads reward phases with their trip links from durable storage.
type PhaseStore interface {
	LoadRewardPhases(ctx context.Context, activeOnly bool) ([]Phase, error)
}

// Catalog is the process-wide reward phase cache. It holds at most one result
// set per activeOnly flag. Invalidate swaps in an empty generation atomically so
// readers observe either the previous sets or a fresh load, never a partial one.
type Catalog struct {
	store       PhaseStore
	logger      *zerolog.Logger
	state       atomic.Pointer[catalogState]
	group       singleflight.Group
	loadTimeout time.Duration
}

// DefaultLoadTimeout bounds a shared catalog load.
const DefaultLoadTimeout = 5 * time.Second

type catalogState struct {
	generation uint64
	sets       map[bool][]Phase
}

// NewCatalog constructs a catalog backed by store.
func NewCatalog(store PhaseStore, logger *zerolog.Logger) *Catalog {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	c := &Catalog{store: store, logger: logger, loadTimeout: DefaultLoadTimeout}
	c.state.Store(&catalogState{sets: map[bool][]Phase{}})
	return c
}

// Phases returns the cached phase list, loading it on a miss. The returned slice
// must be treated as read-only.
func (c *Catalog) Phases(ctx context.Context, activeOnly bool) ([]Phase, error) {
	st := c.state.Load()
	if phases, ok := st.sets[activeOnly]; ok {
		cacheResult("hit")
		return slices.Clone(phases), nil
	}
	cacheResult("miss")

	key := fmt.Sprintf("%t:%d", activeOnly, st.generation)
	v, err, _ := c.group.Do(key, func() (any, error) {
		// The load is shared by every waiter and is not bound to the first caller.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		phases, err := c.Fresh(loadCtx, activeOnly)
		if err != nil {
			return nil, err
		}
		c.remember(st.generation, activeOnly, phases)
		return phases, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]Phase)), nil
}

// Fresh loads phases straight from the store, bypassing the cache.
func (c *Catalog) Fresh(ctx context.Context, activeOnly bool) ([]Phase, error) {
	if c.store == nil {
		return nil, errors.New("reward phase store not configured")
	}
	phases, err := c.store.LoadRewardPhases(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("load reward phases: %w", err)
	}
	out := normalizePhases(phases, activeOnly)
	if id, ok := thresholdOutOfOrder(out); ok {
		c.logger.Warn().Int64("phase_id", id).Msg("reward phase threshold lower than an earlier phase")
	}
	return out, nil
}

// thresholdOutOfOrder reports the first phase whose threshold is below that of a
// phase positioned before it. Unlock evaluation does not depend on the order.
func thresholdOutOfOrder(phases []Phase) (int64, bool) {
	for i := 1; i < len(phases); i++ {
		if phases[i].Threshold.LessThan(phases[i-1].Threshold) {
			return phases[i].ID, true
		}
	}
	return 0, false
}

// Invalidate drops every cached result set. It is safe to call concurrently with
// Phases; loads started before the call are not stored.
func (c *Catalog) Invalidate() {
	for {
		cur := c.state.Load()
		next := &catalogState{generation: cur.generation + 1, sets: map[bool][]Phase{}}
		if c.state.CompareAndSwap(cur, next) {
			cacheResult("invalidate")
			c.logger.Debug().Uint64("generation", next.generation).Msg("reward phase cache invalidated")
			return
		}
	}
}

func (c *Catalog) remember(generation uint64, activeOnly bool, phases []Phase) {
	for {
		cur := c.state.Load()
		if cur.generation != generation {
			return
		}
		sets := make(map[bool][]Phase, len(cur.sets)+1)
		for k, v := range cur.sets {
			sets[k] = v
		}
		sets[activeOnly] = phases
		if c.state.CompareAndSwap(cur, &catalogState{generation: generation, sets: sets}) {
			return
		}
	}
}

// normalizePhases orders phases and their trips by (position, id) and quantizes
// threshold and percent to two places.
func normalizePhases(phases []Phase, activeOnly bool) []Phase {
	out := make([]Phase, 0, len(phases))
	for _, p := range phases {
		if activeOnly && !p.Active {
			continue
		}
		p.Threshold = pricing.Quantize(p.Threshold)
		p.DiscountPercent = pricing.Quantize(p.DiscountPercent)
		p.Trips = slices.Clone(p.Trips)
		slices.SortStableFunc(p.Trips, func(a, b PhaseTrip) int {
			return comparePositionID(a.Position, a.ID, b.Position, b.ID)
		})
		out = append(out, p)
	}
	slices.SortStableFunc(out, func(a, b Phase) int {
		return comparePositionID(a.Position, a.ID, b.Position, b.ID)
	})
	return out
}

func comparePositionID(pa int, ia int64, pb int, ib int64) int {
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	case ia < ib:
		return -1
	case ia > ib:
		return 1
	}
	return 0
}

func cacheResult(result string) {
	if obs.RewardPhaseCacheTotal != nil {
		obs.RewardPhaseCacheTotal.WithLabelValues(result).Inc()
	}
}
