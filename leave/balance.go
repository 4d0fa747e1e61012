package leave

// DefaultAnnualAllotment is used when no allotment is known for the caller.
const DefaultAnnualAllotment = 22

// Balance is derived from the caller's own requests. It is never persisted.
//
//	UsedDays + AvailableDays == TotalDays
//
// PendingDays is informational: pending requests do not reduce AvailableDays
// until they are approved.
type Balance struct {
	TotalDays     int
	AvailableDays int
	UsedDays      int
	PendingDays   int
}

// ComputeBalance aggregates requests against an annual allotment.
// totalDays <= 0 means the allotment is unknown and the default applies.
// Pure, idempotent, and independent of request order.
func ComputeBalance(requests []LeaveRequest, totalDays int) Balance {
	if totalDays <= 0 {
		totalDays = DefaultAnnualAllotment
	}
	b := Balance{TotalDays: totalDays}
	for _, r := range requests {
		switch r.Status {
		case StatusApproved:
			b.UsedDays += r.RequestedDays
		case StatusPending:
			b.PendingDays += r.RequestedDays
		}
	}
	b.AvailableDays = b.TotalDays - b.UsedDays
	return b
}

// CanRequest reports whether n more days fit the available balance.
func (b Balance) CanRequest(n int) bool {
	return n <= b.AvailableDays
}
