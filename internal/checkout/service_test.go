package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trip-rewards/internal/cart"
	"github.com/noah-isme/trip-rewards/internal/catalog"
	"github.com/noah-isme/trip-rewards/internal/checkout"
	"github.com/noah-isme/trip-rewards/internal/lock"
	"github.com/noah-isme/trip-rewards/internal/notify"
	"github.com/noah-isme/trip-rewards/internal/repo"
	"github.com/noah-isme/trip-rewards/internal/rewards"
)

const (
	sessionID       = "sess-checkout"
	tripA     int64 = 11
	tripB     int64 = 12
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type staticPhases []rewards.Phase

func (s staticPhases) Phases(_ context.Context, _ bool) ([]rewards.Phase, error) {
	return []rewards.Phase(s), nil
}

type tripMap map[int64]catalog.Trip

func (m tripMap) Trip(_ context.Context, id int64) (catalog.Trip, error) {
	trip, ok := m[id]
	if !ok {
		return catalog.Trip{}, catalog.ErrTripNotFound
	}
	return trip, nil
}

func trip(id int64, title string) catalog.Trip {
	return catalog.Trip{
		ID:        id,
		Slug:      "trip",
		Title:     title,
		Currency:  "USD",
		BasePrice: decimal.RequireFromString("200"),
		Extras:    []catalog.Extra{{ID: 5, Name: "Lunch", Price: decimal.RequireFromString("50")}},
	}
}

func halfOffPhase() rewards.Phase {
	return rewards.Phase{
		ID:              1,
		Name:            "Explorer",
		Position:        1,
		Threshold:       decimal.RequireFromString("500"),
		DiscountPercent: decimal.RequireFromString("50"),
		Currency:        "USD",
		Active:          true,
		Trips: []rewards.PhaseTrip{
			{ID: 1, TripID: tripB, Title: "Trip B", BasePriceCents: 20000, ChildPriceCents: 20000},
		},
	}
}

// memBookings stages writes per transaction and keeps them only on commit.
type memBookings struct {
	mu        sync.Mutex
	nextID    int64
	failAfter int
	bookings  map[int64]*repo.Booking
	extras    map[int64][]repo.BookingExtra
	rewards   map[int64]repo.BookingReward
}

func newMemBookings() *memBookings {
	return &memBookings{
		bookings: map[int64]*repo.Booking{},
		extras:   map[int64][]repo.BookingExtra{},
		rewards:  map[int64]repo.BookingReward{},
	}
}

type memTx struct {
	store    *memBookings
	created  int
	bookings map[int64]*repo.Booking
	extras   map[int64][]repo.BookingExtra
	rewards  map[int64]repo.BookingReward
}

func (m *memBookings) InTx(_ context.Context, fn func(repo.BookingWriter) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{store: m, bookings: map[int64]*repo.Booking{}, extras: map[int64][]repo.BookingExtra{}, rewards: map[int64]repo.BookingReward{}}
	saved := m.nextID
	if err := fn(tx); err != nil {
		m.nextID = saved
		return err
	}
	for id, b := range tx.bookings {
		m.bookings[id] = b
	}
	for id, e := range tx.extras {
		m.extras[id] = e
	}
	for id, r := range tx.rewards {
		m.rewards[id] = r
	}
	return nil
}

func (m *memBookings) ListByGroupReference(_ context.Context, ref string) ([]repo.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repo.Booking
	for id := int64(1); id <= m.nextID; id++ {
		if b, ok := m.bookings[id]; ok && b.GroupReference == ref {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (tx *memTx) CreateBooking(_ context.Context, b repo.NewBooking) (int64, time.Time, error) {
	tx.created++
	if tx.store.failAfter > 0 && tx.created > tx.store.failAfter {
		return 0, time.Time{}, errors.New("insert failed")
	}
	tx.store.nextID++
	id := tx.store.nextID
	tx.bookings[id] = &repo.Booking{
		ID: id, TripID: b.TripID, TravelDate: b.TravelDate, Adults: b.Adults, Children: b.Children,
		FullName: b.FullName, Email: b.Email, BaseSubtotal: b.BaseSubtotal, ExtrasSubtotal: b.ExtrasSubtotal,
		GrandTotal: b.GrandTotal, Currency: b.Currency, Status: "confirmed", CreatedAt: fixedNow,
	}
	return id, fixedNow, nil
}

func (tx *memTx) AddExtra(_ context.Context, id int64, e repo.BookingExtra) error {
	tx.extras[id] = append(tx.extras[id], e)
	return nil
}

func (tx *memTx) AddReward(_ context.Context, id int64, r repo.BookingReward) error {
	tx.rewards[id] = r
	tx.bookings[id].Discount = r.DiscountAmount
	return nil
}

func (tx *memTx) SetReference(_ context.Context, id int64, ref string) error {
	tx.bookings[id].Reference = ref
	return nil
}

func (tx *memTx) SetGroupReference(_ context.Context, ids []int64, ref string) error {
	for _, id := range ids {
		tx.bookings[id].GroupReference = ref
	}
	return nil
}

type recordingNotifier struct {
	sent []notify.BookingConfirmed
	err  error
}

func (n *recordingNotifier) BookingConfirmed(_ context.Context, p notify.BookingConfirmed) error {
	n.sent = append(n.sent, p)
	return n.err
}

type fixture struct {
	carts    *cart.Service
	checkout *checkout.Service
	bookings *memBookings
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, adjust func(*checkout.Config)) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{bookings: newMemBookings(), notifier: &recordingNotifier{}, now: fixedNow}
	carts, err := cart.NewService(cart.ServiceConfig{
		Store:  cart.NewRedisStore(client, time.Hour),
		Phases: staticPhases{halfOffPhase()},
		Trips:  tripMap{tripA: trip(tripA, "Trip A"), tripB: trip(tripB, "Trip B")},
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	f.carts = carts

	cfg := checkout.Config{
		Carts:    carts,
		Bookings: f.bookings,
		Lock:     lock.Locker{R: client, RetryBackoff: time.Millisecond},
		Notifier: f.notifier,
		Tokens:   checkout.TokenSigner{Secret: []byte("test-secret"), TTL: time.Hour},
		LockTTL:  time.Second,
		Now:      func() time.Time { return f.now },
	}
	if adjust != nil {
		adjust(&cfg)
	}
	svc, err := checkout.NewService(cfg)
	require.NoError(t, err)
	f.checkout = svc
	return f
}

func (f *fixture) add(t *testing.T, tripID int64, adults int, extras ...int64) string {
	t.Helper()
	entry, err := f.carts.AddTrip(context.Background(), sessionID, cart.EntryInput{
		TripID:     tripID,
		TravelDate: "2026-05-04",
		Adults:     adults,
		ExtraIDs:   extras,
	})
	require.NoError(t, err)
	return cart.EntryID(entry)
}

var contact = checkout.Input{Name: "Ada Lovelace", Email: "ada@example.com", Phone: "+20 100 000 0000"}

func TestFinalizeBooksEveryEntryWithSharedReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, tripA, 2, 5)
	entryB := f.add(t, tripB, 1)
	_, err := f.carts.ApplyRewardSelection(ctx, sessionID, entryB, 1, tripB)
	require.NoError(t, err)

	res, err := f.checkout.Finalize(ctx, sessionID, contact)
	require.NoError(t, err)
	require.Equal(t, "SKY260301-000001", res.GroupReference)
	require.Equal(t, []string{"SKY260301-000001", "SKY260301-000002"}, res.References)
	require.Equal(t, "550.00", res.GrandTotal)
	require.Equal(t, "100.00", res.DiscountTotal)
	require.NotEmpty(t, res.Token)

	require.Len(t, f.bookings.bookings, 2)
	for _, b := range f.bookings.bookings {
		require.Equal(t, res.GroupReference, b.GroupReference)
		require.Equal(t, "Ada Lovelace", b.FullName)
	}
	require.Equal(t, "450", f.bookings.bookings[1].GrandTotal.String())
	require.Len(t, f.bookings.extras[1], 1)
	require.Equal(t, "50", f.bookings.extras[1][0].Price.String())

	reward, ok := f.bookings.rewards[2]
	require.True(t, ok)
	require.Equal(t, int64(1), reward.PhaseID)
	require.Equal(t, "100", reward.DiscountAmount.String())
	require.Equal(t, "100", f.bookings.bookings[2].GrandTotal.String())

	c, err := f.carts.Get(ctx, sessionID)
	require.NoError(t, err)
	require.Empty(t, c.Entries)

	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, res.GroupReference, f.notifier.sent[0].GroupReference)
	require.Len(t, f.notifier.sent[0].Bookings, 2)
	require.Equal(t, "Trip A", f.notifier.sent[0].Bookings[0].TripTitle)
}

func TestFinalizeRejectsEmptyCart(t *testing.T) {
	f := newFixture(t)
	_, err := f.checkout.Finalize(context.Background(), sessionID, contact)
	require.ErrorIs(t, err, checkout.ErrEmptyCart)
}

func TestFinalizeRequiresCompleteContact(t *testing.T) {
	f := newFixture(t)
	f.add(t, tripA, 1)
	_, err := f.checkout.Finalize(context.Background(), sessionID, checkout.Input{Name: "Ada"})
	require.ErrorIs(t, err, checkout.ErrInvalidContact)
	require.Empty(t, f.bookings.bookings)

	stored, err := f.carts.GetContact(context.Background(), sessionID)
	require.NoError(t, err)
	require.Empty(t, stored.Name)
}

func TestFinalizeKeepsStoredContactWhenRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, tripA, 1)
	name, email, phone := "Grace", "grace@example.com", "555"
	_, err := f.carts.UpdateContact(ctx, sessionID, cart.ContactInput{Name: &name, Email: &email, Phone: &phone})
	require.NoError(t, err)

	_, err = f.checkout.Finalize(ctx, sessionID, checkout.Input{Name: "Ada", Email: "not-an-email"})
	require.ErrorIs(t, err, checkout.ErrInvalidContact)

	stored, err := f.carts.GetContact(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, cart.Contact{Name: "Grace", Email: "grace@example.com", Phone: "555"}, stored)
}

func TestFinalizeStoresMergedContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, tripA, 1)

	_, err := f.checkout.Finalize(ctx, sessionID, checkout.Input{Name: " Ada ", Email: "ada@example.com", Phone: "1", Notes: "window seat"})
	require.NoError(t, err)

	stored, err := f.carts.GetContact(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, "Ada", stored.Name)
	require.Equal(t, "window seat", stored.Notes)
}

func TestFinalizeUsesStoredContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, tripA, 1)
	name, email, phone := "Grace", "grace@example.com", "555"
	_, err := f.carts.UpdateContact(ctx, sessionID, cart.ContactInput{Name: &name, Email: &email, Phone: &phone})
	require.NoError(t, err)

	_, err = f.checkout.Finalize(ctx, sessionID, checkout.Input{})
	require.NoError(t, err)
	require.Equal(t, "grace@example.com", f.bookings.bookings[1].Email)
}

func TestFinalizeAbortsOnInvalidTravelDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, tripA, 1)
	bad := cart.BuildEntry(trip(tripB, "Trip B"), cart.EntryInput{TripID: tripB, TravelDate: "soon", Adults: 1}, fixedNow)
	_, err := f.carts.AddEntry(ctx, sessionID, bad, nil)
	require.NoError(t, err)

	_, err = f.checkout.Finalize(ctx, sessionID, contact)
	require.ErrorIs(t, err, checkout.ErrInvalidBooking)
	require.Empty(t, f.bookings.bookings)

	c, err := f.carts.Get(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, c.Entries, 2)
}

func TestFinalizeAbortsOnUnbookableEntries(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cart.Entry)
	}{
		{"zero travelers", func(e cart.Entry) { e["adults"] = 0; e["children"] = 0 }},
		{"negative adults", func(e cart.Entry) { e["adults"] = -2; e["children"] = 1 }},
		{"missing trip id", func(e cart.Entry) { delete(e, "trip_id") }},
		{"zero trip id", func(e cart.Entry) { e["trip_id"] = 0 }},
		{"negative trip id", func(e cart.Entry) { e["trip_id"] = -3 }},
		{"non-numeric trip id", func(e cart.Entry) { e["trip_id"] = "eleven" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.add(t, tripA, 1)
			bad := cart.BuildEntry(trip(tripB, "Trip B"), cart.EntryInput{TripID: tripB, TravelDate: "2026-05-04", Adults: 1}, fixedNow)
			tc.mutate(bad)
			_, err := f.carts.AddEntry(ctx, sessionID, bad, nil)
			require.NoError(t, err)

			_, err = f.checkout.Finalize(ctx, sessionID, contact)
			require.ErrorIs(t, err, checkout.ErrInvalidBooking)
			require.Empty(t, f.bookings.bookings)
			require.Empty(t, f.bookings.extras)
			require.Empty(t, f.bookings.rewards)
			require.Empty(t, f.notifier.sent)

			c, err := f.carts.Get(ctx, sessionID)
			require.NoError(t, err)
			require.Len(t, c.Entries, 2)
		})
	}
}

func TestFinalizeRollsBackWhenTokenCannotBeSigned(t *testing.T) {
	f := newFixtureWith(t, func(cfg *checkout.Config) {
		cfg.Tokens = checkout.TokenSigner{}
	})
	ctx := context.Background()
	f.add(t, tripA, 1)

	_, err := f.checkout.Finalize(ctx, sessionID, contact)
	require.Error(t, err)
	require.Empty(t, f.bookings.bookings)
	require.Empty(t, f.notifier.sent)

	c, err := f.carts.Get(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, c.Entries, 1)
}

func TestFinalizeRollsBackWhenInsertFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, tripA, 1)
	f.add(t, tripB, 1)
	f.bookings.failAfter = 1

	_, err := f.checkout.Finalize(ctx, sessionID, contact)
	require.Error(t, err)
	require.Empty(t, f.bookings.bookings)
	require.Empty(t, f.notifier.sent)

	c, err := f.carts.Get(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, c.Entries, 2)
}

func TestFinalizeSucceedsWhenNotificationFails(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("queue down")
	f.add(t, tripA, 1)

	res, err := f.checkout.Finalize(context.Background(), sessionID, contact)
	require.NoError(t, err)
	require.NotEmpty(t, res.GroupReference)
}

func TestConfirmationResolvesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, tripA, 1)
	f.add(t, tripB, 2)
	res, err := f.checkout.Finalize(ctx, sessionID, contact)
	require.NoError(t, err)

	conf, err := f.checkout.Confirmation(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, res.GroupReference, conf.GroupReference)
	require.Len(t, conf.Bookings, 2)
}

func TestConfirmationHidesTokenFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, tripA, 1)
	res, err := f.checkout.Finalize(ctx, sessionID, contact)
	require.NoError(t, err)

	_, err = f.checkout.Confirmation(ctx, res.Token+"x")
	require.ErrorIs(t, err, checkout.ErrBookingNotFound)

	_, err = f.checkout.Confirmation(ctx, "")
	require.ErrorIs(t, err, checkout.ErrBookingNotFound)

	f.now = fixedNow.Add(2 * time.Hour)
	_, err = f.checkout.Confirmation(ctx, res.Token)
	require.ErrorIs(t, err, checkout.ErrBookingNotFound)
}

func TestConfirmationUnknownReference(t *testing.T) {
	f := newFixture(t)
	token, _, err := checkout.TokenSigner{Secret: []byte("test-secret")}.Sign("SKY000000-000009", fixedNow)
	require.NoError(t, err)
	_, err = f.checkout.Confirmation(context.Background(), token)
	require.ErrorIs(t, err, checkout.ErrBookingNotFound)
}

func TestTokenSignerRejectsOtherSecrets(t *testing.T) {
	token, exp, err := checkout.TokenSigner{Secret: []byte("a"), TTL: time.Minute}.Sign("REF", fixedNow)
	require.NoError(t, err)
	require.Equal(t, fixedNow.Add(time.Minute), exp)

	ref, err := checkout.TokenSigner{Secret: []byte("a")}.Verify(token, fixedNow)
	require.NoError(t, err)
	require.Equal(t, "REF", ref)

	_, err = checkout.TokenSigner{Secret: []byte("b")}.Verify(token, fixedNow)
	require.Error(t, err)
}

func TestReferenceFormat(t *testing.T) {
	require.Equal(t, "SKY261231-000042", checkout.Reference("SKY", time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC), 42))
}
