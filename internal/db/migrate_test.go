package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	names, err := Files()
	require.NoError(t, err)
	require.NotEmpty(t, names)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, name := range names {
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %q", name)
		}
	}
	require.Equal(t, ups, downs)
}

func TestInitialMigrationCreatesBookingTables(t *testing.T) {
	data, err := migrations.ReadFile("migrations/0001_init.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"reward_phases", "reward_phase_trips", "bookings", "booking_extras", "booking_rewards"} {
		require.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
}

func TestMigrateRequiresPool(t *testing.T) {
	require.Error(t, Migrate(nil))
}
