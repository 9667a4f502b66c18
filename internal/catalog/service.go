package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// ErrTripNotFound is returned when a trip does not exist or is not bookable.
var ErrTripNotFound = errors.New("trip not found")

// TripStore loads bookable trips with their extras and booking options.
type TripStore interface {
	GetTrip(ctx context.Context, id int64) (Trip, error)
}

// Extra is a purchasable add-on for a trip.
type Extra struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Position int             `json:"position"`
}

// BookingOption is an alternative package with its own per-person pricing.
type BookingOption struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	Price      decimal.Decimal  `json:"price_per_person"`
	ChildPrice *decimal.Decimal `json:"child_price_per_person,omitempty"`
	Position   int              `json:"position"`
}

// Trip is the bookable catalog record used to price a cart entry.
type Trip struct {
	ID            int64            `json:"id"`
	Slug          string           `json:"slug"`
	Title         string           `json:"title"`
	Currency      string           `json:"currency"`
	BasePrice     decimal.Decimal  `json:"base_price_per_person"`
	ChildPrice    *decimal.Decimal `json:"child_price_per_person,omitempty"`
	AllowChildren bool             `json:"allow_children"`
	AllowInfants  bool             `json:"allow_infants"`
	CardImageURL  string           `json:"card_image_url"`
	Extras        []Extra          `json:"extras"`
	Options       []BookingOption  `json:"booking_options"`
}

// ChildPricePerPerson returns the child price, defaulting to the adult price.
func (t Trip) ChildPricePerPerson() decimal.Decimal {
	if t.ChildPrice != nil {
		return *t.ChildPrice
	}
	return t.BasePrice
}

// SelectExtras returns the trip extras matching ids ordered by (position, id).
// Unknown ids are ignored.
func (t Trip) SelectExtras(ids []int64) []Extra {
	if len(ids) == 0 {
		return nil
	}
	var out []Extra
	for _, ex := range t.Extras {
		if slices.Contains(ids, ex.ID) {
			out = append(out, ex)
		}
	}
	slices.SortStableFunc(out, func(a, b Extra) int {
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// PickOption returns the requested booking option, else the first one, else nil.
func (t Trip) PickOption(id *int64) *BookingOption {
	if len(t.Options) == 0 {
		return nil
	}
	if id != nil {
		for i := range t.Options {
			if t.Options[i].ID == *id {
				return &t.Options[i]
			}
		}
	}
	return &t.Options[0]
}

// Service serves trip records, caching them in Redis.
type Service struct {
	store TripStore
	cache *Cache
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store TripStore
	Cache *Cache
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: trip store is required")
	}
	return &Service{store: cfg.Store, cache: cfg.Cache}, nil
}

// Trip returns the bookable trip with the given id.
func (s *Service) Trip(ctx context.Context, id int64) (Trip, error) {
	if id <= 0 {
		return Trip{}, ErrTripNotFound
	}
	if trip, found, err := s.cache.Get(ctx, id); found {
		return trip, err
	}
	trip, err := s.store.GetTrip(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTripNotFound) {
			_ = s.cache.PutMissing(ctx, id)
			return Trip{}, err
		}
		return Trip{}, fmt.Errorf("get trip %d: %w", id, err)
	}
	_ = s.cache.Put(ctx, trip)
	return trip, nil
}

// Forget drops the cached copy of a trip, including a remembered miss.
func (s *Service) Forget(ctx context.Context, id int64) error {
	return s.cache.Forget(ctx, id)
}
