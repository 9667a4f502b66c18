package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trip-rewards/internal/catalog"
	"github.com/noah-isme/trip-rewards/internal/repo"
)

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type recordingDB struct {
	sql  []string
	args [][]any
	err  error
	row  pgx.Row
}

func (d *recordingDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.sql = append(d.sql, sql)
	d.args = append(d.args, args)
	return pgconn.NewCommandTag("UPDATE 1"), d.err
}

func (d *recordingDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.sql = append(d.sql, sql)
	d.args = append(d.args, args)
	return nil, d.err
}

func (d *recordingDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	d.sql = append(d.sql, sql)
	d.args = append(d.args, args)
	return d.row
}

func TestGetTripMapsNoRowsToNotFound(t *testing.T) {
	db := &recordingDB{row: errRow{err: pgx.ErrNoRows}}
	_, err := repo.TripRepo{DB: db}.GetTrip(context.Background(), 42)
	require.ErrorIs(t, err, catalog.ErrTripNotFound)
	require.Equal(t, []any{int64(42)}, db.args[0])
}

func TestGetTripWrapsOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := repo.TripRepo{DB: &recordingDB{row: errRow{err: boom}}}.GetTrip(context.Background(), 1)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, catalog.ErrTripNotFound)
}

func TestLoadRewardPhasesPassesActiveFlag(t *testing.T) {
	boom := errors.New("down")
	db := &recordingDB{err: boom}
	_, err := repo.RewardPhaseRepo{DB: db}.LoadRewardPhases(context.Background(), true)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []any{true}, db.args[0])
	require.Contains(t, db.sql[0], "ORDER BY position, id")
}

func TestBookingTxWritesFixedScaleAmounts(t *testing.T) {
	db := &recordingDB{}
	tx := repo.BookingTx{DB: db}
	ctx := context.Background()

	require.NoError(t, tx.AddExtra(ctx, 7, repo.BookingExtra{ExtraID: 3, Price: decimal.RequireFromString("12.5")}))
	require.Equal(t, []any{int64(7), int64(3), "12.50"}, db.args[0])

	require.NoError(t, tx.AddReward(ctx, 7, repo.BookingReward{
		PhaseID:         1,
		TripID:          9,
		TravelerCount:   3,
		DiscountPercent: decimal.RequireFromString("50"),
		DiscountAmount:  decimal.RequireFromString("300"),
		Currency:        "USD",
	}))
	require.Equal(t, []any{int64(7), int64(1), int64(9), 3, "50.00", "300.00", "USD"}, db.args[1])

	require.NoError(t, tx.SetGroupReference(ctx, []int64{7, 8}, "SKY260101-000007"))
	require.Equal(t, []any{[]int64{7, 8}, "SKY260101-000007"}, db.args[2])
}

func TestCreateBookingWrapsErrors(t *testing.T) {
	boom := errors.New("fk violation")
	tx := repo.BookingTx{DB: &recordingDB{row: errRow{err: boom}}}
	_, _, err := tx.CreateBooking(context.Background(), repo.NewBooking{TripID: 1, TravelDate: time.Now()})
	require.ErrorIs(t, err, boom)
}
