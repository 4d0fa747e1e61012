/*
Package leave implements the leave-request lifecycle engine.

PURPOSE:
  Turns a calendar selection into a validated, balance-checked request,
  tracks each request through pending -> approved | rejected, derives the
  caller's balance from their own requests, and scopes the "all requests"
  view to what the caller's role may see.

KEY CONCEPTS IN THIS FILE (types.go):
  - LeaveRequest: A request for a contiguous range of working days
  - Status: pending, approved, rejected (the last two are terminal)
  - Role: Closed set of portal roles used for visibility decisions
  - Selection: A validated calendar range awaiting submission

LIFECYCLE:
  ┌─────────┐  approve   ┌──────────┐
  │ pending │──────────▶│ approved │
  └─────────┘            └──────────┘
       │       reject    ┌──────────┐
       └───────────────▶│ rejected │
                         └──────────┘
  Requests are created pending, resolved exactly once, never deleted.

SEE ALSO:
  - balance.go: Balance aggregation
  - visibility.go: Role-scoped filter
  - repository.go: Caches and mutations
  - errors.go: Error taxonomy
*/
package leave

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/leave-portal/calendar"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ParseStatus is case-insensitive.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown request status %q", s)
	}
	return st, nil
}

// =============================================================================
// ROLE
// =============================================================================

type Role string

const (
	RoleUnknown  Role = ""
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a role name onto the closed set. Anything unrecognized is
// RoleUnknown, which is never elevated.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleEmployee:
		return RoleEmployee
	case RoleManager:
		return RoleManager
	case RoleAdmin:
		return RoleAdmin
	}
	return RoleUnknown
}

// Elevated reports whether the role can see or resolve other people's requests.
func (r Role) Elevated() bool {
	return r == RoleManager || r == RoleAdmin
}

func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}

// =============================================================================
// LEAVE REQUEST
// =============================================================================

type LeaveRequest struct {
	ID            string
	RequesterID   string
	RequesterName string
	DepartmentID  string

	StartDate calendar.Date
	EndDate   calendar.Date

	// Business days at submission time. Never recomputed.
	RequestedDays int

	Status   Status
	Reason   string // requester's note
	Comments string // approver's note

	ApprovedBy string
	ApprovedAt *time.Time
	RejectedBy string
	RejectedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r LeaveRequest) Range() calendar.Range {
	return calendar.NewRange(r.StartDate, r.EndDate)
}

// ResolvedBy returns whoever moved the request out of pending.
func (r LeaveRequest) ResolvedBy() string {
	switch r.Status {
	case StatusApproved:
		return r.ApprovedBy
	case StatusRejected:
		return r.RejectedBy
	}
	return ""
}

// ResolvedAt returns when the request left pending, nil while pending.
func (r LeaveRequest) ResolvedAt() *time.Time {
	switch r.Status {
	case StatusApproved:
		return r.ApprovedAt
	case StatusRejected:
		return r.RejectedAt
	}
	return nil
}

// Validate checks the structural invariants of a request.
func (r LeaveRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("request has no id")
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return fmt.Errorf("request %s: missing start or end date", r.ID)
	}
	if r.EndDate.Before(r.StartDate) {
		return fmt.Errorf("request %s: end date %s before start date %s", r.ID, r.EndDate, r.StartDate)
	}
	if r.RequestedDays < 1 {
		return fmt.Errorf("request %s: requested days must be at least 1, got %d", r.ID, r.RequestedDays)
	}
	if r.RequestedDays > r.Range().Len() {
		return fmt.Errorf("request %s: %d requested days exceed the %d-day range", r.ID, r.RequestedDays, r.Range().Len())
	}
	if !r.Status.Valid() {
		return fmt.Errorf("request %s: unknown status %q", r.ID, r.Status)
	}

	approved := r.ApprovedBy != "" || r.ApprovedAt != nil
	rejected := r.RejectedBy != "" || r.RejectedAt != nil
	switch r.Status {
	case StatusPending:
		if approved || rejected {
			return fmt.Errorf("request %s: pending request carries a resolution", r.ID)
		}
	case StatusApproved:
		if rejected || r.ApprovedBy == "" || r.ApprovedAt == nil {
			return fmt.Errorf("request %s: approved request must carry only approver and approval time", r.ID)
		}
	case StatusRejected:
		if approved || r.RejectedBy == "" || r.RejectedAt == nil {
			return fmt.Errorf("request %s: rejected request must carry only rejecter and rejection time", r.ID)
		}
	}
	return nil
}

// =============================================================================
// SELECTION - Validated calendar range awaiting submission
// =============================================================================

type Selection struct {
	Start       calendar.Date
	End         calendar.Date
	WorkingDays int
}

func (s Selection) Range() calendar.Range {
	return calendar.NewRange(s.Start, s.End)
}

// NewRequest is what the repository sends to the backend on create.
type NewRequest struct {
	StartDate     calendar.Date
	EndDate       calendar.Date
	RequestedDays int
	Reason        string
}
