package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/trip-rewards/internal/catalog"
)

const getTrip = `
SELECT id, slug, title, currency, base_price::text, child_price::text,
       allow_children, allow_infants, card_image_url
FROM trips
WHERE id = $1`

const listTripExtras = `
SELECT id, name, price::text, position
FROM trip_extras
WHERE trip_id = $1
ORDER BY position, id`

const listTripOptions = `
SELECT id, name, price::text, child_price::text, position
FROM trip_booking_options
WHERE trip_id = $1
ORDER BY position, id`

// TripRepo loads trips for pricing cart entries.
type TripRepo struct {
	DB DBTX
}

// GetTrip returns the trip with its extras and booking options, or
// catalog.ErrTripNotFound.
func (r TripRepo) GetTrip(ctx context.Context, id int64) (catalog.Trip, error) {
	var (
		t          catalog.Trip
		base       string
		childPrice *string
	)
	err := r.DB.QueryRow(ctx, getTrip, id).Scan(&t.ID, &t.Slug, &t.Title, &t.Currency, &base, &childPrice,
		&t.AllowChildren, &t.AllowInfants, &t.CardImageURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Trip{}, catalog.ErrTripNotFound
		}
		return catalog.Trip{}, fmt.Errorf("get trip: %w", err)
	}
	if t.BasePrice, err = parseDecimal(base); err != nil {
		return catalog.Trip{}, err
	}
	if t.ChildPrice, err = parseNullableDecimal(childPrice); err != nil {
		return catalog.Trip{}, err
	}
	if t.Extras, err = r.extras(ctx, id); err != nil {
		return catalog.Trip{}, err
	}
	if t.Options, err = r.options(ctx, id); err != nil {
		return catalog.Trip{}, err
	}
	return t, nil
}

func (r TripRepo) extras(ctx context.Context, tripID int64) ([]catalog.Extra, error) {
	rows, err := r.DB.Query(ctx, listTripExtras, tripID)
	if err != nil {
		return nil, fmt.Errorf("query trip extras: %w", err)
	}
	defer rows.Close()
	out := []catalog.Extra{}
	for rows.Next() {
		var (
			e     catalog.Extra
			price string
		)
		if err := rows.Scan(&e.ID, &e.Name, &price, &e.Position); err != nil {
			return nil, fmt.Errorf("scan trip extra: %w", err)
		}
		if e.Price, err = parseDecimal(price); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r TripRepo) options(ctx context.Context, tripID int64) ([]catalog.BookingOption, error) {
	rows, err := r.DB.Query(ctx, listTripOptions, tripID)
	if err != nil {
		return nil, fmt.Errorf("query booking options: %w", err)
	}
	defer rows.Close()
	out := []catalog.BookingOption{}
	for rows.Next() {
		var (
			o     catalog.BookingOption
			price string
			child *string
		)
		if err := rows.Scan(&o.ID, &o.Name, &price, &child, &o.Position); err != nil {
			return nil, fmt.Errorf("scan booking option: %w", err)
		}
		if o.Price, err = parseDecimal(price); err != nil {
			return nil, err
		}
		if o.ChildPrice, err = parseNullableDecimal(child); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
