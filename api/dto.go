/*
dto.go - Data Transfer Objects for the portal API

PURPOSE:
  JSON shapes exchanged with the browser. They are deliberately separate from
  the backend wire format in transport/wire.go: the portal speaks in the
  vocabulary of the UI (reason, comments, resolved_by) rather than the
  backend's column names.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients

VALIDATION:
  Request types carry validator/v10 tags, checked in handlers before any
  domain call.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"time"

	"github.com/warp/leave-portal/calendar"
	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/selection"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

type RequestDTO struct {
	ID            string  `json:"id"`
	RequesterID   string  `json:"requester_id"`
	RequesterName string  `json:"requester_name,omitempty"`
	DepartmentID  string  `json:"department_id"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	RequestedDays int     `json:"requested_days"`
	Status        string  `json:"status"`
	Reason        string  `json:"reason,omitempty"`
	Comments      string  `json:"comments,omitempty"`
	ResolvedBy    string  `json:"resolved_by,omitempty"`
	ResolvedAt    *string `json:"resolved_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type BalanceDTO struct {
	TotalDays     int `json:"total_days"`
	AvailableDays int `json:"available_days"`
	UsedDays      int `json:"used_days"`
	PendingDays   int `json:"pending_days"`
}

// MineDTO is the employee dashboard: own requests plus the balance derived
// from them.
type MineDTO struct {
	Requests []RequestDTO `json:"requests"`
	Balance  BalanceDTO   `json:"balance"`
}

type SelectionDTO struct {
	State       string `json:"state"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	WorkingDays int    `json:"working_days"`
}

type BlockedDTO struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Dates []string `json:"dates"`
}

// SelectRequest holds a calendar range picked in the UI.
type SelectRequest struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type SubmitRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// ResolveRequest is used for both approve and reject; reject requires a
// non-blank comment, which the repository enforces.
type ResolveRequest struct {
	Comments string `json:"comments" validate:"max=1000"`
}

// ErrorResponse is the body of every non-2xx portal response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   string `json:"details,omitempty"`
	Field     string `json:"field,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toRequestDTO(r leave.LeaveRequest) RequestDTO {
	dto := RequestDTO{
		ID:            r.ID,
		RequesterID:   r.RequesterID,
		RequesterName: r.RequesterName,
		DepartmentID:  r.DepartmentID,
		StartDate:     r.StartDate.String(),
		EndDate:       r.EndDate.String(),
		RequestedDays: r.RequestedDays,
		Status:        string(r.Status),
		Reason:        r.Reason,
		Comments:      r.Comments,
		ResolvedBy:    r.ResolvedBy(),
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if at := r.ResolvedAt(); at != nil {
		s := at.UTC().Format(time.RFC3339)
		dto.ResolvedAt = &s
	}
	return dto
}

func toRequestDTOs(rs []leave.LeaveRequest) []RequestDTO {
	out := make([]RequestDTO, len(rs))
	for i, r := range rs {
		out[i] = toRequestDTO(r)
	}
	return out
}

func toBalanceDTO(b leave.Balance) BalanceDTO {
	return BalanceDTO{
		TotalDays:     b.TotalDays,
		AvailableDays: b.AvailableDays,
		UsedDays:      b.UsedDays,
		PendingDays:   b.PendingDays,
	}
}

func toSelectionDTO(state selection.State, sel leave.Selection) SelectionDTO {
	dto := SelectionDTO{State: state.String()}
	if state == selection.Selected {
		dto.StartDate = sel.Start.String()
		dto.EndDate = sel.End.String()
		dto.WorkingDays = sel.WorkingDays
	}
	return dto
}

func toBlockedDTO(window calendar.Range, dates []calendar.Date) BlockedDTO {
	dto := BlockedDTO{From: window.Start.String(), To: window.End.String(), Dates: make([]string, len(dates))}
	for i, d := range dates {
		dto.Dates[i] = d.String()
	}
	return dto
}
