package selection

import (
	"context"
	"fmt"

	"github.com/warp/leave-portal/calendar"
	"github.com/warp/leave-portal/leave"
)

// BlockedDates merges location holidays with the caller's own booked ranges.
// Approved and pending requests block their days; rejected ones do not.
func BlockedDates(holidays calendar.BlockedDateSet, own []leave.LeaveRequest) calendar.BlockedDateSet {
	var booked calendar.BlockedDateSet
	for _, r := range own {
		if r.Status == leave.StatusRejected {
			continue
		}
		booked.AddRange(r.Range())
	}
	return holidays.Union(booked)
}

// LoadBlockedDates fetches the caller's location holidays for window and
// merges in their own requests.
func LoadBlockedDates(ctx context.Context, src calendar.HolidaySource, locationID string, window calendar.Range, own []leave.LeaveRequest) (calendar.BlockedDateSet, error) {
	holidays, err := src.ListHolidays(ctx, locationID)
	if err != nil {
		return calendar.BlockedDateSet{}, fmt.Errorf("loading holidays for location %q: %w", locationID, err)
	}
	return BlockedDates(calendar.BlockedFromHolidays(holidays, locationID, window), own), nil
}
