// Command seeder loads a small trip catalog and reward phase ladder for local
// development. It is idempotent: rows are upserted by slug.
package main

import (
	"context"
	"os"
	"time"

	"github.com/gosimple/slug"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/trip-rewards/internal/db"
	"github.com/noah-isme/trip-rewards/internal/obs"
)

type seedExtra struct {
	Name  string
	Price string
}

type seedOption struct {
	Name       string
	Price      string
	ChildPrice string
}

type seedTrip struct {
	Title         string
	BasePrice     string
	ChildPrice    string
	AllowChildren bool
	AllowInfants  bool
	Extras        []seedExtra
	Options       []seedOption
}

type seedPhase struct {
	Name      string
	Threshold string
	Percent   string
	Headline  string
	Trips     []string
}

var trips = []seedTrip{
	{
		Title: "Nile Pharaoh Dinner Cruise on the Nile", BasePrice: "50.00",
		AllowChildren: true, AllowInfants: true,
		Extras: []seedExtra{{Name: "Soft drinks package", Price: "8.00"}, {Name: "Private table", Price: "15.00"}},
	},
	{
		Title: "Giza Pyramids and Sphinx Day Tour", BasePrice: "120.00", ChildPrice: "90.00",
		AllowChildren: true, AllowInfants: true,
		Extras:  []seedExtra{{Name: "Camel ride", Price: "25.00"}, {Name: "Inside the Great Pyramid", Price: "40.00"}},
		Options: []seedOption{{Name: "Small group", Price: "120.00", ChildPrice: "90.00"}, {Name: "Private tour", Price: "180.00"}},
	},
	{
		Title: "Bahariya Oasis and White Desert Overnight Safari", BasePrice: "260.00",
		AllowChildren: false, AllowInfants: false,
		Extras: []seedExtra{{Name: "Sandboarding", Price: "20.00"}},
	},
	{
		Title: "Luxor East and West Bank Full Day", BasePrice: "140.00", ChildPrice: "100.00",
		AllowChildren: true, AllowInfants: true,
	},
}

var phases = []seedPhase{
	{Name: "Explorer", Threshold: "150.00", Percent: "10", Headline: "Spend $150, save 10% on a cruise",
		Trips: []string{"Nile Pharaoh Dinner Cruise on the Nile"}},
	{Name: "Adventurer", Threshold: "400.00", Percent: "15", Headline: "Spend $400, save 15% on Luxor",
		Trips: []string{"Luxor East and West Bank Full Day", "Nile Pharaoh Dinner Cruise on the Nile"}},
	{Name: "Pharaoh", Threshold: "800.00", Percent: "25", Headline: "Spend $800, save 25% on the desert safari",
		Trips: []string{"Bahariya Oasis and White Desert Overnight Safari"}},
}

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := db.Migrate(pool); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		ids := make(map[string]int64, len(trips))
		for i, t := range trips {
			id, err := upsertTrip(ctx, tx, i, t)
			if err != nil {
				return err
			}
			ids[t.Title] = id
			logger.Info().Str("slug", slug.Make(t.Title)).Int64("id", id).Msg("trip seeded")
		}
		for i, p := range phases {
			if err := upsertPhase(ctx, tx, i, p, ids); err != nil {
				return err
			}
			logger.Info().Str("slug", slug.Make(p.Name)).Msg("reward phase seeded")
		}
		return nil
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("seed catalog")
	}
	logger.Info().Int("trips", len(trips)).Int("phases", len(phases)).Msg("seeding completed")
}

func upsertTrip(ctx context.Context, tx pgx.Tx, position int, t seedTrip) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO trips (slug, title, base_price, child_price, allow_children, allow_infants, position)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			base_price = EXCLUDED.base_price,
			child_price = EXCLUDED.child_price,
			allow_children = EXCLUDED.allow_children,
			allow_infants = EXCLUDED.allow_infants,
			position = EXCLUDED.position
		RETURNING id`,
		slug.Make(t.Title), t.Title, money(t.BasePrice), nullableMoney(t.ChildPrice),
		t.AllowChildren, t.AllowInfants, position,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM trip_extras WHERE trip_id = $1`, id); err != nil {
		return 0, err
	}
	for i, e := range t.Extras {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trip_extras (trip_id, name, price, position) VALUES ($1, $2, $3::numeric, $4)`,
			id, e.Name, money(e.Price), i,
		); err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM trip_booking_options WHERE trip_id = $1`, id); err != nil {
		return 0, err
	}
	for i, o := range t.Options {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trip_booking_options (trip_id, name, price, child_price, position) VALUES ($1, $2, $3::numeric, $4::numeric, $5)`,
			id, o.Name, money(o.Price), nullableMoney(o.ChildPrice), i,
		); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func upsertPhase(ctx context.Context, tx pgx.Tx, position int, p seedPhase, tripIDs map[string]int64) error {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO reward_phases (name, slug, position, status, threshold_amount, discount_percent, headline)
		VALUES ($1, $2, $3, 'active', $4::numeric, $5::numeric, $6)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			position = EXCLUDED.position,
			threshold_amount = EXCLUDED.threshold_amount,
			discount_percent = EXCLUDED.discount_percent,
			headline = EXCLUDED.headline,
			updated_at = now()
		RETURNING id`,
		p.Name, slug.Make(p.Name), position, money(p.Threshold), money(p.Percent), p.Headline,
	).Scan(&id)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM reward_phase_trips WHERE phase_id = $1`, id); err != nil {
		return err
	}
	for i, title := range p.Trips {
		tripID, ok := tripIDs[title]
		if !ok {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO reward_phase_trips (phase_id, trip_id, position) VALUES ($1, $2, $3)`,
			id, tripID, i,
		); err != nil {
			return err
		}
	}
	return nil
}

func money(raw string) string {
	return decimal.RequireFromString(raw).StringFixed(2)
}

func nullableMoney(raw string) *string {
	if raw == "" {
		return nil
	}
	v := money(raw)
	return &v
}
