/*
wire.go - Backend wire format and its mapping onto the leave model

PURPOSE:
  The backend speaks snake_case JSON. Every field of a request object maps
  onto exactly one model field or is dropped on purpose:

    id                 -> ID                 required
    user_id            -> RequesterID        required
    user_name          -> RequesterName
    department_id      -> DepartmentID       required
    start_date         -> StartDate          required
    end_date           -> EndDate            required
    requested_days     -> RequestedDays      required, integral
    request_status     -> Status             required
    comments           -> Reason
    approver_comments  -> Comments
    approved_by/_at    -> ApprovedBy/At
    rejected_by/_at    -> RejectedBy/At
    created_at         -> CreatedAt          required
    updated_at         -> UpdatedAt          defaults to created_at
    user, department   -> dropped (nested display objects)

  Unknown fields and missing required fields are decode errors.

  requested_days is decoded through shopspring/decimal because NUMERIC
  columns commonly arrive as strings ("5", "5.00"); anything with a
  fractional part is rejected.
*/
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-portal/calendar"
	"github.com/warp/leave-portal/leave"
)

// WireRequest is the JSON shape of one leave request.
type WireRequest struct {
	ID               *string          `json:"id"`
	UserID           *string          `json:"user_id"`
	UserName         *string          `json:"user_name,omitempty"`
	DepartmentID     *string          `json:"department_id"`
	StartDate        *string          `json:"start_date"`
	EndDate          *string          `json:"end_date"`
	RequestedDays    *decimal.Decimal `json:"requested_days"`
	RequestStatus    *string          `json:"request_status"`
	Comments         *string          `json:"comments,omitempty"`
	ApproverComments *string          `json:"approver_comments,omitempty"`
	ApprovedBy       *string          `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time       `json:"approved_at,omitempty"`
	RejectedBy       *string          `json:"rejected_by,omitempty"`
	RejectedAt       *time.Time       `json:"rejected_at,omitempty"`
	CreatedAt        *time.Time       `json:"created_at"`
	UpdatedAt        *time.Time       `json:"updated_at,omitempty"`

	// Accepted and ignored.
	User       json.RawMessage `json:"user,omitempty"`
	Department json.RawMessage `json:"department,omitempty"`
}

// ToModel validates presence and shape, then converts.
func (w WireRequest) ToModel() (leave.LeaveRequest, error) {
	missing := []string{}
	for name, present := range map[string]bool{
		"id":             w.ID != nil,
		"user_id":        w.UserID != nil,
		"department_id":  w.DepartmentID != nil,
		"start_date":     w.StartDate != nil,
		"end_date":       w.EndDate != nil,
		"requested_days": w.RequestedDays != nil,
		"request_status": w.RequestStatus != nil,
		"created_at":     w.CreatedAt != nil,
	} {
		if !present {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return leave.LeaveRequest{}, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	start, err := parseWireDate(*w.StartDate)
	if err != nil {
		return leave.LeaveRequest{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := parseWireDate(*w.EndDate)
	if err != nil {
		return leave.LeaveRequest{}, fmt.Errorf("end_date: %w", err)
	}
	if !w.RequestedDays.IsInteger() {
		return leave.LeaveRequest{}, fmt.Errorf("requested_days: %s is not a whole number of days", w.RequestedDays.String())
	}
	status, err := leave.ParseStatus(*w.RequestStatus)
	if err != nil {
		return leave.LeaveRequest{}, fmt.Errorf("request_status: %w", err)
	}

	r := leave.LeaveRequest{
		ID:            *w.ID,
		RequesterID:   *w.UserID,
		RequesterName: deref(w.UserName),
		DepartmentID:  *w.DepartmentID,
		StartDate:     start,
		EndDate:       end,
		RequestedDays: int(w.RequestedDays.IntPart()),
		Status:        status,
		Reason:        deref(w.Comments),
		Comments:      deref(w.ApproverComments),
		ApprovedBy:    deref(w.ApprovedBy),
		ApprovedAt:    utc(w.ApprovedAt),
		RejectedBy:    deref(w.RejectedBy),
		RejectedAt:    utc(w.RejectedAt),
		CreatedAt:     w.CreatedAt.UTC(),
	}
	r.UpdatedAt = r.CreatedAt
	if w.UpdatedAt != nil {
		r.UpdatedAt = w.UpdatedAt.UTC()
	}
	return r, nil
}

// FromModel is the inverse mapping, used by the reference backend.
func FromModel(r leave.LeaveRequest) WireRequest {
	days := decimal.NewFromInt(int64(r.RequestedDays))
	status := string(r.Status)
	start, end := r.StartDate.String(), r.EndDate.String()
	created, updated := r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	return WireRequest{
		ID:               &r.ID,
		UserID:           &r.RequesterID,
		UserName:         optional(r.RequesterName),
		DepartmentID:     &r.DepartmentID,
		StartDate:        &start,
		EndDate:          &end,
		RequestedDays:    &days,
		RequestStatus:    &status,
		Comments:         optional(r.Reason),
		ApproverComments: optional(r.Comments),
		ApprovedBy:       optional(r.ApprovedBy),
		ApprovedAt:       utc(r.ApprovedAt),
		RejectedBy:       optional(r.RejectedBy),
		RejectedAt:       utc(r.RejectedAt),
		CreatedAt:        &created,
		UpdatedAt:        &updated,
	}
}

// CreateBody is the POST /vacation-requests payload.
type CreateBody struct {
	StartDate     string `json:"start_date" validate:"required"`
	EndDate       string `json:"end_date" validate:"required"`
	RequestedDays int    `json:"requested_days" validate:"gte=1"`
	Comments      string `json:"comments,omitempty"`
}

// ApproveBody is the PUT /vacation-requests/:id/approve payload.
type ApproveBody struct {
	Comments string `json:"comments,omitempty"`
}

// RejectBody is the PUT /vacation-requests/:id/reject payload.
type RejectBody struct {
	Reason string `json:"reason"`
}

// =============================================================================
// HOLIDAYS
// =============================================================================

type WireHoliday struct {
	ID         string `json:"id"`
	Date       string `json:"date"`
	LocationID string `json:"location_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Recurring  bool   `json:"recurring,omitempty"`
}

func (w WireHoliday) ToModel() (calendar.Holiday, error) {
	if w.Date == "" {
		return calendar.Holiday{}, fmt.Errorf("holiday %q: missing date", w.ID)
	}
	date, err := parseWireDate(w.Date)
	if err != nil {
		return calendar.Holiday{}, fmt.Errorf("holiday %q: %w", w.ID, err)
	}
	return calendar.Holiday{
		ID:         w.ID,
		LocationID: w.LocationID,
		Date:       date,
		Name:       w.Name,
		Recurring:  w.Recurring,
	}, nil
}

func HolidayFromModel(h calendar.Holiday) WireHoliday {
	return WireHoliday{
		ID:         h.ID,
		Date:       h.Date.String(),
		LocationID: h.LocationID,
		Name:       h.Name,
		Recurring:  h.Recurring,
	}
}

// =============================================================================
// DECODING
// =============================================================================

// decodeStrict decodes exactly one JSON value, rejecting unknown fields and
// trailing data.
func decodeStrict(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// DecodeRequest decodes a single request object.
func DecodeRequest(body []byte) (leave.LeaveRequest, error) {
	var w WireRequest
	if err := decodeStrict(body, &w); err != nil {
		return leave.LeaveRequest{}, err
	}
	return w.ToModel()
}

// DecodeRequests decodes a list of request objects. A null body is an
// empty list.
func DecodeRequests(body []byte) ([]leave.LeaveRequest, error) {
	var ws []WireRequest
	if err := decodeStrict(body, &ws); err != nil {
		return nil, err
	}
	out := make([]leave.LeaveRequest, 0, len(ws))
	for i, w := range ws {
		r, err := w.ToModel()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Dates arrive either as "2006-01-02" or as a full timestamp at midnight.
func parseWireDate(s string) (calendar.Date, error) {
	if d, err := calendar.ParseDate(s); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return calendar.Date{}, fmt.Errorf("invalid date %q", s)
	}
	return calendar.DateOf(t), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
