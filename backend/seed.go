package backend

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/warp/leave-portal/calendar"
	"github.com/warp/leave-portal/store/sqlite"
)

// HolidaySeed is the YAML shape of a holiday catalog:
//
//	holidays:
//	  - date: 2025-12-25
//	    name: Christmas Day
//	    recurring: true
//	  - date: 2025-07-04
//	    location_id: nyc
//	    name: Independence Day
type HolidaySeed struct {
	Holidays []struct {
		ID         string `yaml:"id"`
		Date       string `yaml:"date"`
		LocationID string `yaml:"location_id"`
		Name       string `yaml:"name"`
		Recurring  bool   `yaml:"recurring"`
	} `yaml:"holidays"`
}

// ParseHolidaySeed reads a holiday catalog. Entries without an id get a
// stable one derived from location, date and name, so re-seeding is
// idempotent.
func ParseHolidaySeed(r io.Reader) ([]calendar.Holiday, error) {
	var seed HolidaySeed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse holiday seed: %w", err)
	}

	out := make([]calendar.Holiday, 0, len(seed.Holidays))
	for i, h := range seed.Holidays {
		date, err := calendar.ParseDate(h.Date)
		if err != nil {
			return nil, fmt.Errorf("holiday %d: %w", i, err)
		}
		name := strings.TrimSpace(h.Name)
		if name == "" {
			return nil, fmt.Errorf("holiday %d (%s): name is required", i, h.Date)
		}
		id := h.ID
		if id == "" {
			id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(h.LocationID+"|"+date.String()+"|"+name)).String()
		}
		out = append(out, calendar.Holiday{
			ID:         id,
			LocationID: h.LocationID,
			Date:       date,
			Name:       name,
			Recurring:  h.Recurring,
		})
	}
	return out, nil
}

// SeedHolidays upserts every holiday into the store.
func SeedHolidays(ctx context.Context, store *sqlite.Store, holidays []calendar.Holiday) error {
	for _, h := range holidays {
		if err := store.SaveHoliday(ctx, h); err != nil {
			return fmt.Errorf("seed holiday %s %s: %w", h.Date, h.Name, err)
		}
	}
	return nil
}
