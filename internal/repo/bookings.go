package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// NewBooking is one booking row to insert at checkout.
type NewBooking struct {
	TripID          int64
	TravelDate      time.Time
	Adults          int
	Children        int
	Infants         int
	FullName        string
	Email           string
	Phone           string
	SpecialRequests string
	BaseSubtotal    decimal.Decimal
	ExtrasSubtotal  decimal.Decimal
	GrandTotal      decimal.Decimal
	Currency        string
}

// BookingExtra records an extra at the price it was booked for.
type BookingExtra struct {
	ExtraID int64
	Price   decimal.Decimal
}

// BookingReward records the reward discount materialised on a booking.
type BookingReward struct {
	PhaseID         int64
	TripID          int64
	TravelerCount   int
	DiscountPercent decimal.Decimal
	DiscountAmount  decimal.Decimal
	Currency        string
}

// Booking is a persisted booking as shown on the confirmation page.
type Booking struct {
	ID             int64           `json:"id"`
	TripID         int64           `json:"trip_id"`
	TripTitle      string          `json:"trip_title"`
	TravelDate     time.Time       `json:"travel_date"`
	Adults         int             `json:"adults"`
	Children       int             `json:"children"`
	Infants        int             `json:"infants"`
	FullName       string          `json:"full_name"`
	Email          string          `json:"email"`
	Reference      string          `json:"reference"`
	GroupReference string          `json:"group_reference"`
	BaseSubtotal   decimal.Decimal `json:"base_subtotal"`
	ExtrasSubtotal decimal.Decimal `json:"extras_subtotal"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
	Discount       decimal.Decimal `json:"discount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// BookingWriter inserts the rows of one checkout inside a transaction.
type BookingWriter interface {
	CreateBooking(ctx context.Context, b NewBooking) (id int64, createdAt time.Time, err error)
	AddExtra(ctx context.Context, bookingID int64, e BookingExtra) error
	AddReward(ctx context.Context, bookingID int64, r BookingReward) error
	SetReference(ctx context.Context, bookingID int64, reference string) error
	SetGroupReference(ctx context.Context, bookingIDs []int64, reference string) error
}

// TxBeginner starts transactions; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BookingRepo persists checkout bookings.
type BookingRepo struct {
	DB TxBeginner
}

// InTx runs fn inside one transaction, committing only when fn succeeds.
func (r BookingRepo) InTx(ctx context.Context, fn func(BookingWriter) error) error {
	return pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		return fn(BookingTx{DB: tx})
	})
}

const listBookingsByGroup = `
SELECT b.id, b.trip_id, t.title, b.travel_date, b.adults, b.children, b.infants,
       b.full_name, b.email, b.reference, b.group_reference, b.base_subtotal::text,
       b.extras_subtotal::text, b.grand_total::text,
       COALESCE((SELECT SUM(r.discount_amount) FROM booking_rewards r WHERE r.booking_id = b.id), 0)::text,
       b.currency, b.status, b.created_at
FROM bookings b
JOIN trips t ON t.id = b.trip_id
WHERE b.group_reference = $1
ORDER BY b.id`

// ListByGroupReference returns the bookings created by one checkout.
func (r BookingRepo) ListByGroupReference(ctx context.Context, reference string) ([]Booking, error) {
	rows, err := r.DB.Query(ctx, listBookingsByGroup, reference)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()
	var out []Booking
	for rows.Next() {
		var (
			b                             Booking
			base, extras, grand, discount string
		)
		if err := rows.Scan(&b.ID, &b.TripID, &b.TripTitle, &b.TravelDate, &b.Adults, &b.Children, &b.Infants,
			&b.FullName, &b.Email, &b.Reference, &b.GroupReference, &base, &extras, &grand, &discount,
			&b.Currency, &b.Status, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		for _, f := range []struct {
			dst *decimal.Decimal
			raw string
		}{{&b.BaseSubtotal, base}, {&b.ExtrasSubtotal, extras}, {&b.GrandTotal, grand}, {&b.Discount, discount}} {
			if *f.dst, err = parseDecimal(f.raw); err != nil {
				return nil, err
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BookingTx implements BookingWriter on a transaction.
type BookingTx struct {
	DB DBTX
}

const insertBooking = `
INSERT INTO bookings (trip_id, travel_date, adults, children, infants, full_name, email, phone,
                      special_requests, base_subtotal, extras_subtotal, grand_total, currency)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11::numeric, $12::numeric, $13)
RETURNING id, created_at`

// CreateBooking inserts a booking and returns its id and creation time.
func (t BookingTx) CreateBooking(ctx context.Context, b NewBooking) (int64, time.Time, error) {
	var (
		id        int64
		createdAt time.Time
	)
	err := t.DB.QueryRow(ctx, insertBooking, b.TripID, b.TravelDate, b.Adults, b.Children, b.Infants,
		b.FullName, b.Email, b.Phone, b.SpecialRequests, b.BaseSubtotal.StringFixed(2),
		b.ExtrasSubtotal.StringFixed(2), b.GrandTotal.StringFixed(2), b.Currency).Scan(&id, &createdAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("insert booking: %w", err)
	}
	return id, createdAt, nil
}

// AddExtra records a booked extra.
func (t BookingTx) AddExtra(ctx context.Context, bookingID int64, e BookingExtra) error {
	_, err := t.DB.Exec(ctx,
		`INSERT INTO booking_extras (booking_id, extra_id, price_at_booking) VALUES ($1, $2, $3::numeric)
		 ON CONFLICT (booking_id, extra_id) DO NOTHING`,
		bookingID, e.ExtraID, e.Price.StringFixed(2))
	if err != nil {
		return fmt.Errorf("insert booking extra: %w", err)
	}
	return nil
}

// AddReward records the reward applied to a booking.
func (t BookingTx) AddReward(ctx context.Context, bookingID int64, r BookingReward) error {
	_, err := t.DB.Exec(ctx,
		`INSERT INTO booking_rewards (booking_id, reward_phase_id, trip_id, traveler_count, discount_percent, discount_amount, currency)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)`,
		bookingID, r.PhaseID, r.TripID, r.TravelerCount, r.DiscountPercent.StringFixed(2), r.DiscountAmount.StringFixed(2), r.Currency)
	if err != nil {
		return fmt.Errorf("insert booking reward: %w", err)
	}
	return nil
}

// SetReference stores a booking's own reference code.
func (t BookingTx) SetReference(ctx context.Context, bookingID int64, reference string) error {
	if _, err := t.DB.Exec(ctx, `UPDATE bookings SET reference = $2 WHERE id = $1`, bookingID, reference); err != nil {
		return fmt.Errorf("set booking reference: %w", err)
	}
	return nil
}

// SetGroupReference stamps the shared checkout reference on every booking.
func (t BookingTx) SetGroupReference(ctx context.Context, bookingIDs []int64, reference string) error {
	if _, err := t.DB.Exec(ctx, `UPDATE bookings SET group_reference = $2 WHERE id = ANY($1::bigint[])`, bookingIDs, reference); err != nil {
		return fmt.Errorf("set group reference: %w", err)
	}
	return nil
}
