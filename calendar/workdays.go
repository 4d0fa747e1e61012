package calendar

// =============================================================================
// BLOCKED DATE SET
// =============================================================================

// BlockedDateSet holds dates excluded from leave selection. Weekends are not
// stored here; IsWorkingDay applies that rule on its own.
// The zero value is an empty, usable set for reads.
type BlockedDateSet struct {
	dates map[Date]struct{}
}

func NewBlockedDateSet(dates ...Date) BlockedDateSet {
	s := BlockedDateSet{dates: make(map[Date]struct{}, len(dates))}
	for _, d := range dates {
		s.dates[d] = struct{}{}
	}
	return s
}

func (s *BlockedDateSet) Add(d Date) {
	if s.dates == nil {
		s.dates = make(map[Date]struct{})
	}
	s.dates[d] = struct{}{}
}

// AddRange blocks every date of r.
func (s *BlockedDateSet) AddRange(r Range) {
	for _, d := range r.Days() {
		s.Add(d)
	}
}

func (s BlockedDateSet) Contains(d Date) bool {
	_, ok := s.dates[d]
	return ok
}

func (s BlockedDateSet) Len() int { return len(s.dates) }

// Union returns a new set with the dates of both sets.
func (s BlockedDateSet) Union(other BlockedDateSet) BlockedDateSet {
	out := BlockedDateSet{dates: make(map[Date]struct{}, len(s.dates)+len(other.dates))}
	for d := range s.dates {
		out.dates[d] = struct{}{}
	}
	for d := range other.dates {
		out.dates[d] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same dates.
func (s BlockedDateSet) Equal(other BlockedDateSet) bool {
	if len(s.dates) != len(other.dates) {
		return false
	}
	for d := range s.dates {
		if _, ok := other.dates[d]; !ok {
			return false
		}
	}
	return true
}

// In returns the blocked dates inside r, ordered.
func (s BlockedDateSet) In(r Range) []Date {
	var out []Date
	for _, d := range r.Days() {
		if s.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

// =============================================================================
// BUSINESS-DAY CALCULATION
// =============================================================================

// IsWorkingDay reports whether d is Monday-Friday and not blocked.
func IsWorkingDay(d Date, blocked BlockedDateSet) bool {
	return !d.IsWeekend() && !blocked.Contains(d)
}

// CountWorkingDays counts working days in [start, end]. Returns 0 when start is
// after end.
func CountWorkingDays(start, end Date, blocked BlockedDateSet) int {
	if start.After(end) {
		return 0
	}
	n := 0
	for d := start; !d.After(end); d = d.AddDays(1) {
		if IsWorkingDay(d, blocked) {
			n++
		}
	}
	return n
}

// IsRangeSelectable reports whether every day in [start, end] is a working day.
// A single weekend or blocked day anywhere invalidates the whole range.
func IsRangeSelectable(start, end Date, blocked BlockedDateSet) bool {
	if start.IsZero() || end.IsZero() || start.After(end) {
		return false
	}
	for d := start; !d.After(end); d = d.AddDays(1) {
		if !IsWorkingDay(d, blocked) {
			return false
		}
	}
	return true
}

// FirstBlocked returns the first non-working day in [start, end], if any.
func FirstBlocked(start, end Date, blocked BlockedDateSet) (Date, bool) {
	for d := start; !d.After(end); d = d.AddDays(1) {
		if !IsWorkingDay(d, blocked) {
			return d, true
		}
	}
	return Date{}, false
}
