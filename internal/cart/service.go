package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/trip-rewards/internal/catalog"
	"github.com/noah-isme/trip-rewards/internal/obs"
	"github.com/noah-isme/trip-rewards/internal/rewards"
)

// ErrNotFound indicates the requested cart line or trip could not be located.
var ErrNotFound = errors.New("not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// PhaseSource provides the reward phase catalog.
type PhaseSource interface {
	Phases(ctx context.Context, activeOnly bool) ([]rewards.Phase, error)
}

// TripSource provides trip pricing records.
type TripSource interface {
	Trip(ctx context.Context, id int64) (catalog.Trip, error)
}

// ServiceConfig wires the cart service collaborators.
type ServiceConfig struct {
	Store  Store
	Phases PhaseSource
	Trips  TripSource
	Logger *zerolog.Logger
	Now    func() time.Time
}

// Service encapsulates cart domain operations. Every mutation loads the whole
// cart, changes it in memory and writes it back in one Save.
type Service struct {
	store  Store
	phases PhaseSource
	trips  TripSource
	logger zerolog.Logger
	nowFn  func() time.Time
}

// NewService constructs a cart service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("cart store is required")
	}
	if cfg.Phases == nil {
		return nil, errors.New("phase source is required")
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Service{store: cfg.Store, phases: cfg.Phases, trips: cfg.Trips, logger: logger, nowFn: cfg.Now}, nil
}

func (s *Service) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

// Get loads the raw cart for a session.
func (s *Service) Get(ctx context.Context, sessionID string) (Cart, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Cart{}, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	return s.store.Load(ctx, sessionID)
}

func (s *Service) mutate(ctx context.Context, sessionID, op string, fn func(*Cart) error) (Cart, error) {
	c, err := s.Get(ctx, sessionID)
	if err != nil {
		return Cart{}, err
	}
	if err := fn(&c); err != nil {
		return Cart{}, err
	}
	if err := s.store.Save(ctx, sessionID, c); err != nil {
		return Cart{}, fmt.Errorf("save cart: %w", err)
	}
	if obs.CartMutationsTotal != nil {
		obs.CartMutationsTotal.WithLabelValues(op).Inc()
	}
	return c, nil
}

// AddEntry appends a prepared entry. Non-empty contact name, email and phone
// values replace the stored ones.
func (s *Service) AddEntry(ctx context.Context, sessionID string, entry Entry, contact *Contact) (Cart, error) {
	if EntryID(entry) == "" {
		return Cart{}, fmt.Errorf("%w: entry id is required", ErrInvalidInput)
	}
	return s.mutate(ctx, sessionID, "add_entry", func(c *Cart) error {
		c.Entries = append(c.Entries, entry)
		if contact != nil {
			mergeContact(&c.Contact, *contact)
		}
		return nil
	})
}

// AddTrip prices a new entry for a trip and replaces any entries already held
// for that trip.
func (s *Service) AddTrip(ctx context.Context, sessionID string, in EntryInput) (Entry, error) {
	if s.trips == nil {
		return nil, errors.New("trip source not configured")
	}
	trip, err := s.trips.Trip(ctx, in.TripID)
	if err != nil {
		if errors.Is(err, catalog.ErrTripNotFound) {
			return nil, fmt.Errorf("%w: trip %d", ErrNotFound, in.TripID)
		}
		return nil, err
	}
	entry := BuildEntry(trip, in, s.now())
	_, err = s.mutate(ctx, sessionID, "add_trip", func(c *Cart) error {
		removed := c.removeEntries(func(e Entry) bool {
			id, ok := EntryTripID(e)
			return ok && id == trip.ID
		})
		c.removeSelections(removed...)
		c.Entries = append(c.Entries, entry)
		if in.Contact != nil {
			mergeContact(&c.Contact, *in.Contact)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RemoveEntry drops one entry and its reward selection.
func (s *Service) RemoveEntry(ctx context.Context, sessionID, entryID string) (Cart, error) {
	return s.mutate(ctx, sessionID, "remove_entry", func(c *Cart) error {
		removed := c.removeEntries(func(e Entry) bool { return EntryID(e) == entryID })
		if len(removed) == 0 {
			return fmt.Errorf("%w: entry %s", ErrNotFound, entryID)
		}
		c.removeSelections(removed...)
		return nil
	})
}

// RemoveTripEntries drops every entry for a trip and reports how many were removed.
func (s *Service) RemoveTripEntries(ctx context.Context, sessionID string, tripID int64) (int, error) {
	count := 0
	_, err := s.mutate(ctx, sessionID, "remove_trip", func(c *Cart) error {
		removed := c.removeEntries(func(e Entry) bool {
			id, ok := EntryTripID(e)
			return ok && id == tripID
		})
		c.removeSelections(removed...)
		count = len(removed)
		return nil
	})
	return count, err
}

// Clear removes the session's cart entirely.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	if obs.CartMutationsTotal != nil {
		obs.CartMutationsTotal.WithLabelValues("clear").Inc()
	}
	return nil
}

// ApplyRewardSelection stores a selection without validating it. A selection
// that does not resolve simply never produces a calculation.
func (s *Service) ApplyRewardSelection(ctx context.Context, sessionID, entryID string, phaseID, tripID int64) (Cart, error) {
	if strings.TrimSpace(entryID) == "" || phaseID <= 0 || tripID <= 0 {
		return Cart{}, fmt.Errorf("%w: entry, phase and trip are required", ErrInvalidInput)
	}
	return s.mutate(ctx, sessionID, "apply_reward", func(c *Cart) error {
		c.Rewards[entryID] = RewardChoice{PhaseID: phaseID, TripID: tripID}
		return nil
	})
}

// RemoveRewardSelection deletes the selection for an entry, if any.
func (s *Service) RemoveRewardSelection(ctx context.Context, sessionID, entryID string) (Cart, error) {
	return s.mutate(ctx, sessionID, "remove_reward", func(c *Cart) error {
		c.removeSelections(entryID)
		return nil
	})
}

// ContactInput carries a partial contact update; nil fields are left unchanged.
type ContactInput struct {
	Name  *string `json:"name" validate:"omitempty,max=200"`
	Email *string `json:"email" validate:"omitempty,email,max=320"`
	Phone *string `json:"phone" validate:"omitempty,max=50"`
	Notes *string `json:"notes" validate:"omitempty,max=2000"`
}

// UpdateContact applies a partial contact update.
func (s *Service) UpdateContact(ctx context.Context, sessionID string, in ContactInput) (Contact, error) {
	c, err := s.mutate(ctx, sessionID, "update_contact", func(c *Cart) error {
		c.Contact = in.Apply(c.Contact)
		return nil
	})
	if err != nil {
		return Contact{}, err
	}
	return c.Contact, nil
}

// Apply returns c with the non-nil fields of in, trimmed, written over it.
func (in ContactInput) Apply(c Contact) Contact {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&c.Name, in.Name)
	set(&c.Email, in.Email)
	set(&c.Phone, in.Phone)
	set(&c.Notes, in.Notes)
	return c
}

// GetContact returns the stored contact.
func (s *Service) GetContact(ctx context.Context, sessionID string) (Contact, error) {
	c, err := s.Get(ctx, sessionID)
	if err != nil {
		return Contact{}, err
	}
	return c.Contact, nil
}

// ComputeRewards derives reward state for a cart against the active phases.
func (s *Service) ComputeRewards(ctx context.Context, c Cart) (Computation, error) {
	phases, err := s.phases.Phases(ctx, true)
	if err != nil {
		return Computation{}, fmt.Errorf("load reward phases: %w", err)
	}
	comp := ComputeRewards(c, phases)
	if skipped := len(c.Entries) - len(comp.Snapshots); skipped > 0 {
		s.logger.Debug().Int("skipped_entries", skipped).Msg("cart entries skipped from reward computation")
	}
	return comp, nil
}

// ValidateRewardSelection checks that a selection would materialise against
// the session's current cart. Rejections are ComputationErrors.
func (s *Service) ValidateRewardSelection(ctx context.Context, sessionID, entryID string, phaseID, tripID int64) (rewards.Calculation, error) {
	c, err := s.Get(ctx, sessionID)
	if err != nil {
		return rewards.Calculation{}, err
	}
	comp, err := s.ComputeRewards(ctx, c)
	if err != nil {
		return rewards.Calculation{}, err
	}
	return comp.resolve(rewards.Selection{EntryID: entryID, PhaseID: phaseID, TripID: tripID})
}

// Summarize renders the session's cart. Selections that no longer resolve are
// pruned from the stored cart and the cart is recomputed once.
func (s *Service) Summarize(ctx context.Context, sessionID string) (Summary, error) {
	c, err := s.Get(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	comp, err := s.ComputeRewards(ctx, c)
	if err != nil {
		return Summary{}, err
	}
	if len(comp.InvalidEntryIDs) > 0 && c.removeSelections(comp.InvalidEntryIDs...) {
		s.logger.Info().Int("pruned_selections", len(comp.InvalidEntryIDs)).Msg("stale reward selections pruned")
		if err := s.store.Save(ctx, sessionID, c); err != nil {
			return Summary{}, fmt.Errorf("save cart: %w", err)
		}
		comp, err = s.ComputeRewards(ctx, c)
		if err != nil {
			return Summary{}, err
		}
	}
	return Project(c, comp), nil
}

func mergeContact(dst *Contact, src Contact) {
	if v := strings.TrimSpace(src.Name); v != "" {
		dst.Name = v
	}
	if v := strings.TrimSpace(src.Email); v != "" {
		dst.Email = v
	}
	if v := strings.TrimSpace(src.Phone); v != "" {
		dst.Phone = v
	}
}
