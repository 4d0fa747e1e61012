package calendar

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// =============================================================================
// HOLIDAY CATALOG - Location-scoped published holidays (read-only here)
// =============================================================================

// Holiday is a published non-working day for every employee at a location.
type Holiday struct {
	ID         string
	LocationID string // empty = applies to every location
	Date       Date
	Name       string
	Recurring  bool // same month/day every year
}

// AppliesTo reports whether the holiday blocks employees at locationID.
func (h Holiday) AppliesTo(locationID string) bool {
	return h.LocationID == "" || h.LocationID == locationID
}

// OccurrenceIn returns the date the holiday falls on in the given year.
// Non-recurring holidays only occur in their own year.
func (h Holiday) OccurrenceIn(year int) (Date, bool) {
	if !h.Recurring {
		return h.Date, h.Date.Year() == year
	}
	d := NewDate(year, h.Date.Month(), h.Date.Day())
	// Feb 29 does not roll into Mar 1 on non-leap years.
	if d.Month() != h.Date.Month() {
		return Date{}, false
	}
	return d, true
}

// HolidaySource lists holidays for a location.
type HolidaySource interface {
	ListHolidays(ctx context.Context, locationID string) ([]Holiday, error)
}

// BlockedFromHolidays builds the blocked set for a location over the given window.
// Recurring holidays are expanded into every year the window touches.
func BlockedFromHolidays(holidays []Holiday, locationID string, window Range) BlockedDateSet {
	set := NewBlockedDateSet()
	if !window.Valid() {
		return set
	}
	for _, h := range holidays {
		if !h.AppliesTo(locationID) {
			continue
		}
		for year := window.Start.Year(); year <= window.End.Year(); year++ {
			d, ok := h.OccurrenceIn(year)
			if ok && window.Contains(d) {
				set.Add(d)
			}
		}
	}
	return set
}

// =============================================================================
// CACHED SOURCE - Coalesces concurrent loads per location
// =============================================================================

// CachedHolidaySource wraps a HolidaySource with a per-location TTL cache.
// Concurrent misses for the same location share one upstream call.
type CachedHolidaySource struct {
	Source HolidaySource
	TTL    time.Duration

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cachedHolidays
	now   func() time.Time
}

type cachedHolidays struct {
	holidays []Holiday
	loadedAt time.Time
}

func NewCachedHolidaySource(src HolidaySource, ttl time.Duration) *CachedHolidaySource {
	return &CachedHolidaySource{
		Source: src,
		TTL:    ttl,
		cache:  make(map[string]cachedHolidays),
		now:    time.Now,
	}
}

func (c *CachedHolidaySource) ListHolidays(ctx context.Context, locationID string) ([]Holiday, error) {
	c.mu.RLock()
	entry, ok := c.cache[locationID]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.loadedAt) < c.TTL {
		return entry.holidays, nil
	}

	v, err, _ := c.group.Do(locationID, func() (any, error) {
		holidays, err := c.Source.ListHolidays(ctx, locationID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[locationID] = cachedHolidays{holidays: holidays, loadedAt: c.now()}
		c.mu.Unlock()
		return holidays, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Holiday), nil
}

// Invalidate drops the cached entry for a location.
func (c *CachedHolidaySource) Invalidate(locationID string) {
	c.mu.Lock()
	delete(c.cache, locationID)
	c.mu.Unlock()
}
