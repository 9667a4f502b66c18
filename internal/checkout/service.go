// Package checkout turns a session cart into persisted bookings.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/trip-rewards/internal/cart"
	"github.com/noah-isme/trip-rewards/internal/notify"
	"github.com/noah-isme/trip-rewards/internal/obs"
	"github.com/noah-isme/trip-rewards/internal/pricing"
	"github.com/noah-isme/trip-rewards/internal/repo"
	"github.com/noah-isme/trip-rewards/internal/rewards"
)

var (
	// ErrEmptyCart is returned when checkout is attempted on a cart without entries.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidBooking is returned when an entry cannot become a booking.
	ErrInvalidBooking = errors.New("invalid booking")
	// ErrInvalidContact is returned when the merged contact fails validation.
	ErrInvalidContact = errors.New("invalid contact")
	// ErrBookingNotFound hides every confirmation lookup failure.
	ErrBookingNotFound = errors.New("booking not found")
)

// BookingStore persists bookings.
type BookingStore interface {
	InTx(ctx context.Context, fn func(repo.BookingWriter) error) error
	ListByGroupReference(ctx context.Context, reference string) ([]repo.Booking, error)
}

// Locker serialises checkouts of one session.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Notifier announces completed checkouts.
type Notifier interface {
	BookingConfirmed(ctx context.Context, p notify.BookingConfirmed) error
}

// Input is the checkout request. Non-empty values replace the stored contact.
type Input struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Notes string `json:"notes"`
}

type contactRules struct {
	Name  string `validate:"required,max=200"`
	Email string `validate:"required,email,max=320"`
	Phone string `validate:"required,max=50"`
}

// Result is returned by a completed checkout.
type Result struct {
	GroupReference string    `json:"group_reference"`
	References     []string  `json:"references"`
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
	Currency       string    `json:"currency"`
	GrandTotal     string    `json:"grand_total"`
	DiscountTotal  string    `json:"discount_total"`
}

// Confirmation lists the bookings of one checkout.
type Confirmation struct {
	GroupReference string         `json:"group_reference"`
	Bookings       []repo.Booking `json:"bookings"`
}

// Config wires the checkout service.
type Config struct {
	Carts           *cart.Service
	Bookings        BookingStore
	Lock            Locker
	Notifier        Notifier
	Tokens          TokenSigner
	LockTTL         time.Duration
	ReferencePrefix string
	Logger          *zerolog.Logger
	Now             func() time.Time
}

// Service finalises carts into bookings.
type Service struct {
	carts    *cart.Service
	bookings BookingStore
	lock     Locker
	notifier Notifier
	tokens   TokenSigner
	lockTTL  time.Duration
	prefix   string
	validate *validator.Validate
	logger   zerolog.Logger
	nowFn    func() time.Time
}

// NewService constructs a checkout service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Carts == nil {
		return nil, errors.New("cart service is required")
	}
	if cfg.Bookings == nil {
		return nil, errors.New("booking store is required")
	}
	if cfg.Lock == nil {
		return nil, errors.New("checkout lock is required")
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	prefix := cfg.ReferencePrefix
	if prefix == "" {
		prefix = "SKY"
	}
	return &Service{
		carts:    cfg.Carts,
		bookings: cfg.Bookings,
		lock:     cfg.Lock,
		notifier: cfg.Notifier,
		tokens:   cfg.Tokens,
		lockTTL:  cfg.LockTTL,
		prefix:   prefix,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		nowFn:    cfg.Now,
	}, nil
}

func (s *Service) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

// Finalize books every cart entry of the session in one transaction using the
// same reward computation as the cart summary. The confirmation token is signed
// before the transaction commits and the cart is cleared only after it does.
// A contact that fails validation is not stored.
func (s *Service) Finalize(ctx context.Context, sessionID string, in Input) (Result, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Service.Finalize")
	defer span.End()

	var res Result
	err := s.lock.WithLock(ctx, "checkout:"+sessionID, s.lockTTL, func(ctx context.Context) error {
		var err error
		res, err = s.finalize(ctx, sessionID, in)
		return err
	})
	if err != nil {
		span.RecordError(err)
		countCheckout(resultLabel(err))
		return Result{}, err
	}
	span.SetAttributes(attribute.String("booking.group_reference", res.GroupReference))
	countCheckout("completed")
	return res, nil
}

func (s *Service) finalize(ctx context.Context, sessionID string, in Input) (Result, error) {
	c, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	update := contactUpdate(in)
	contact := update.Apply(c.Contact)
	if err := s.validate.Struct(contactRules{Name: contact.Name, Email: contact.Email, Phone: contact.Phone}); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidContact, err)
	}
	if contact != c.Contact {
		if _, err := s.carts.UpdateContact(ctx, sessionID, update); err != nil {
			return Result{}, err
		}
	}
	if len(c.Entries) == 0 {
		return Result{}, ErrEmptyCart
	}
	comp, err := s.carts.ComputeRewards(ctx, c)
	if err != nil {
		return Result{}, err
	}

	drafts := make([]draft, 0, len(c.Entries))
	for _, e := range c.Entries {
		d, err := newDraft(e, comp, contact)
		if err != nil {
			s.logger.Info().Str("entry_id", cart.EntryID(e)).Err(err).Msg("checkout aborted")
			return Result{}, err
		}
		drafts = append(drafts, d)
	}

	var (
		refs      []string
		group     string
		token     string
		expiresAt time.Time
	)
	err = s.bookings.InTx(ctx, func(w repo.BookingWriter) error {
		ids := make([]int64, 0, len(drafts))
		for _, d := range drafts {
			id, createdAt, err := w.CreateBooking(ctx, d.booking)
			if err != nil {
				return err
			}
			for _, ex := range d.extras {
				if err := w.AddExtra(ctx, id, ex); err != nil {
					return err
				}
			}
			if d.reward != nil {
				if err := w.AddReward(ctx, id, *d.reward); err != nil {
					return err
				}
			}
			ref := Reference(s.prefix, createdAt, id)
			if err := w.SetReference(ctx, id, ref); err != nil {
				return err
			}
			ids = append(ids, id)
			refs = append(refs, ref)
		}
		group = refs[0]
		if err := w.SetGroupReference(ctx, ids, group); err != nil {
			return err
		}
		var err error
		token, expiresAt, err = s.tokens.Sign(group, s.now())
		if err != nil {
			return fmt.Errorf("sign confirmation token: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("create bookings: %w", err)
	}

	if err := s.carts.Clear(ctx, sessionID); err != nil {
		s.logger.Warn().Err(err).Str("group_reference", group).Msg("cart not cleared after checkout")
	}

	discount := comp.DiscountTotalCents()
	var grand pricing.Money
	for _, d := range drafts {
		grand += d.grandCents
	}
	currency := drafts[0].booking.Currency
	if obs.CheckoutDiscountCents != nil {
		obs.CheckoutDiscountCents.Observe(float64(discount))
	}

	s.announce(ctx, group, refs, drafts, contact, currency, grand, discount)

	return Result{
		GroupReference: group,
		References:     refs,
		Token:          token,
		ExpiresAt:      expiresAt,
		Currency:       currency,
		GrandTotal:     pricing.FormatCentsOrZero(grand),
		DiscountTotal:  pricing.FormatCentsOrZero(discount),
	}, nil
}

func (s *Service) announce(ctx context.Context, group string, refs []string, drafts []draft, contact cart.Contact, currency string, grand, discount pricing.Money) {
	if s.notifier == nil {
		return
	}
	lines := make([]notify.BookingLine, 0, len(drafts))
	for i, d := range drafts {
		line := notify.BookingLine{
			Reference:  refs[i],
			TripID:     d.booking.TripID,
			TripTitle:  d.title,
			TravelDate: d.booking.TravelDate.Format(time.DateOnly),
			Travelers:  d.booking.Adults + d.booking.Children,
			GrandTotal: pricing.FormatCentsOrZero(d.grandCents),
		}
		if d.reward != nil {
			line.Discount = d.reward.DiscountAmount.StringFixed(2)
		}
		lines = append(lines, line)
	}
	payload := notify.BookingConfirmed{
		GroupReference: group,
		FullName:       contact.Name,
		Email:          contact.Email,
		Phone:          contact.Phone,
		Currency:       currency,
		GrandTotal:     pricing.FormatCentsOrZero(grand),
		DiscountTotal:  pricing.FormatCentsOrZero(discount),
		Bookings:       lines,
		ConfirmedAt:    s.now().UTC(),
	}
	if err := s.notifier.BookingConfirmed(context.WithoutCancel(ctx), payload); err != nil {
		s.logger.Error().Err(err).Str("group_reference", group).Msg("booking notification not enqueued")
	}
}

// Confirmation resolves a confirmation token to its bookings. Every failure is
// reported as ErrBookingNotFound.
func (s *Service) Confirmation(ctx context.Context, token string) (Confirmation, error) {
	ref, err := s.tokens.Verify(token, s.now())
	if err != nil {
		s.logger.Debug().Err(err).Msg("confirmation token rejected")
		return Confirmation{}, ErrBookingNotFound
	}
	bookings, err := s.bookings.ListByGroupReference(ctx, ref)
	if err != nil {
		s.logger.Warn().Err(err).Msg("confirmation lookup failed")
		return Confirmation{}, ErrBookingNotFound
	}
	if len(bookings) == 0 {
		return Confirmation{}, ErrBookingNotFound
	}
	return Confirmation{GroupReference: ref, Bookings: bookings}, nil
}

// Reference formats a booking reference as PREFIXyymmdd-000123.
func Reference(prefix string, createdAt time.Time, id int64) string {
	return fmt.Sprintf("%s%s-%06d", prefix, createdAt.UTC().Format("060102"), id)
}

type draft struct {
	booking    repo.NewBooking
	extras     []repo.BookingExtra
	reward     *repo.BookingReward
	title      string
	grandCents pricing.Money
}

func newDraft(e cart.Entry, comp cart.Computation, contact cart.Contact) (draft, error) {
	id := cart.EntryID(e)
	tripID, ok := cart.EntryTripID(e)
	if !ok || tripID <= 0 {
		return draft{}, fmt.Errorf("%w: entry %q has no trip", ErrInvalidBooking, id)
	}
	rawDate, _ := e["travel_date"].(string)
	date, err := time.Parse(time.DateOnly, strings.TrimSpace(rawDate))
	if err != nil {
		return draft{}, fmt.Errorf("%w: entry %q has an invalid travel date", ErrInvalidBooking, id)
	}
	adults := int(pricing.SafeInt(e["adults"]))
	children := int(pricing.SafeInt(e["children"]))
	infants := int(pricing.SafeInt(e["infants"]))
	if adults < 0 || children < 0 || adults+children <= 0 {
		return draft{}, fmt.Errorf("%w: entry %q has no travelers", ErrInvalidBooking, id)
	}
	snap, ok := comp.Snapshots[id]
	if !ok {
		return draft{}, fmt.Errorf("%w: entry %q has no usable pricing", ErrInvalidBooking, id)
	}

	grand, _ := comp.GrandTotalCents(id)
	message, _ := e["message"].(string)
	title, _ := e["trip_title"].(string)
	d := draft{
		booking: repo.NewBooking{
			TripID:          tripID,
			TravelDate:      date,
			Adults:          adults,
			Children:        children,
			Infants:         max(infants, 0),
			FullName:        contact.Name,
			Email:           contact.Email,
			Phone:           contact.Phone,
			SpecialRequests: strings.TrimSpace(strings.Join(nonEmpty(message, contact.Notes), "\n")),
			BaseSubtotal:    pricing.CentsToDecimal(snap.BaseTotalCents),
			ExtrasSubtotal:  pricing.CentsToDecimal(snap.ExtrasTotalCents),
			GrandTotal:      pricing.CentsToDecimal(grand),
			Currency:        snap.Currency,
		},
		title:      title,
		grandCents: grand,
	}
	if extras, ok := e["extras"].([]any); ok {
		for _, raw := range extras {
			ex, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			exID, ok := pricing.StrictInt(ex["id"])
			if !ok || exID <= 0 {
				continue
			}
			d.extras = append(d.extras, repo.BookingExtra{
				ExtraID: exID,
				Price:   pricing.CoerceCentsToDecimal(ex["price_cents"]),
			})
		}
	}
	if calc, ok := comp.Calculations[id]; ok {
		d.reward = rewardRecord(calc)
	}
	return d, nil
}

func rewardRecord(calc rewards.Calculation) *repo.BookingReward {
	return &repo.BookingReward{
		PhaseID:         calc.PhaseID,
		TripID:          calc.TripID,
		TravelerCount:   calc.TravelerCount,
		DiscountPercent: calc.DiscountPercent,
		DiscountAmount:  calc.DiscountAmount(),
		Currency:        calc.Currency,
	}
}

func contactUpdate(in Input) cart.ContactInput {
	var out cart.ContactInput
	set := func(dst **string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = &v
		}
	}
	set(&out.Name, in.Name)
	set(&out.Email, in.Email)
	set(&out.Phone, in.Phone)
	set(&out.Notes, in.Notes)
	return out
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInvalidContact):
		return "invalid_contact"
	case errors.Is(err, ErrInvalidBooking):
		return "invalid_booking"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "lock_timeout"
	default:
		return "error"
	}
}

func countCheckout(result string) {
	if obs.CheckoutTotal != nil {
		obs.CheckoutTotal.WithLabelValues(result).Inc()
	}
}
