package backend_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-portal/backend"
	"github.com/warp/leave-portal/store/sqlite"
)

const seedYAML = `
holidays:
  - date: 2025-12-25
    name: Christmas Day
    recurring: true
  - date: 2025-07-04
    location_id: nyc
    name: Independence Day
  - id: fixed-id
    date: 2025-05-26
    location_id: nyc
    name: Memorial Day
`

func TestParseHolidaySeed(t *testing.T) {
	holidays, err := backend.ParseHolidaySeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.Len(t, holidays, 3)

	assert.Equal(t, "2025-12-25", holidays[0].Date.String())
	assert.True(t, holidays[0].Recurring)
	assert.Empty(t, holidays[0].LocationID)
	assert.Equal(t, "nyc", holidays[1].LocationID)
	assert.Equal(t, "fixed-id", holidays[2].ID)

	again, err := backend.ParseHolidaySeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	assert.Equal(t, holidays[0].ID, again[0].ID, "derived ids are stable")

	empty, err := backend.ParseHolidaySeed(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseHolidaySeed_Errors(t *testing.T) {
	tests := map[string]string{
		"bad date":      "holidays:\n  - date: 25/12/2025\n    name: X\n",
		"missing name":  "holidays:\n  - date: 2025-12-25\n",
		"unknown field": "holidays:\n  - date: 2025-12-25\n    name: X\n    country: US\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := backend.ParseHolidaySeed(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestSeedHolidays_Idempotent(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	holidays, err := backend.ParseHolidaySeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.NoError(t, backend.SeedHolidays(ctx, store, holidays))
	require.NoError(t, backend.SeedHolidays(ctx, store, holidays))

	nyc, err := store.ListHolidays(ctx, "nyc")
	require.NoError(t, err)
	assert.Len(t, nyc, 3)
}
