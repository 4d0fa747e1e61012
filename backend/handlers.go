package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-portal/calendar"
	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/session"
	"github.com/warp/leave-portal/store/sqlite"
	"github.com/warp/leave-portal/transport"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

type Handler struct {
	store           *sqlite.Store
	logger          *zap.Logger
	validate        *validator.Validate
	annualAllotment int
	now             func() time.Time
}

type Option func(*Handler)

// WithClock overrides time.Now for resolution and creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithAnnualAllotment sets the allotment used for sessions that carry none.
func WithAnnualAllotment(days int) Option {
	return func(h *Handler) { h.annualAllotment = days }
}

func NewHandler(store *sqlite.Store, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		store:           store,
		logger:          logger.Named("backend"),
		validate:        validator.New(),
		annualAllotment: leave.DefaultAnnualAllotment,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// LISTING
// =============================================================================

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)
	requests, err := h.store.ListRequestsByUser(r.Context(), s.UserID)
	if err != nil {
		h.internal(w, "list own requests", err)
		return
	}
	writeJSON(w, http.StatusOK, toWire(requests))
}

// ListRequests scopes by role: admin sees everything, a manager their
// department, anyone else only their own requests.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)
	var (
		requests []leave.LeaveRequest
		err      error
	)
	switch s.Role {
	case leave.RoleAdmin:
		requests, err = h.store.ListRequests(r.Context())
	case leave.RoleManager:
		if s.DepartmentID == "" {
			requests = []leave.LeaveRequest{}
			break
		}
		requests, err = h.store.ListRequestsByDepartment(r.Context(), s.DepartmentID)
	default:
		requests, err = h.store.ListRequestsByUser(r.Context(), s.UserID)
	}
	if err != nil {
		h.internal(w, "list requests", err)
		return
	}
	writeJSON(w, http.StatusOK, toWire(requests))
}

// =============================================================================
// CREATE
// =============================================================================

// CreateRequest recomputes the working-day count against the caller's
// holidays and refuses mismatches, overlaps and overdrafts.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := mustSession(r)

	var body transport.CreateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, validationMessage(err))
		return
	}

	start, err := calendar.ParseDate(body.StartDate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "start_date: "+err.Error())
		return
	}
	end, err := calendar.ParseDate(body.EndDate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "end_date: "+err.Error())
		return
	}
	span := calendar.NewRange(start, end)
	if !span.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "end_date must not be before start_date")
		return
	}

	holidays, err := h.store.ListHolidays(ctx, s.LocationID)
	if err != nil {
		h.internal(w, "list holidays", err)
		return
	}
	blocked := calendar.BlockedFromHolidays(holidays, s.LocationID, span)
	workingDays := calendar.CountWorkingDays(start, end, blocked)
	if workingDays == 0 {
		writeError(w, http.StatusUnprocessableEntity, "the selected range contains no working days")
		return
	}
	if body.RequestedDays != workingDays {
		writeError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("requested_days is %d but the range has %d working days", body.RequestedDays, workingDays))
		return
	}

	allotment := s.AnnualAllotment
	if allotment <= 0 {
		allotment = h.annualAllotment
	}

	now := h.now().UTC()
	req := leave.LeaveRequest{
		ID:            uuid.NewString(),
		RequesterID:   s.UserID,
		RequesterName: s.Name,
		DepartmentID:  s.DepartmentID,
		StartDate:     start,
		EndDate:       end,
		RequestedDays: workingDays,
		Status:        leave.StatusPending,
		Reason:        strings.TrimSpace(body.Comments),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = h.store.CreateRequestChecked(ctx, req, func(overlapping, own []leave.LeaveRequest) error {
		if len(overlapping) > 0 {
			return &createRefused{fmt.Sprintf("range overlaps request %s (%s)", overlapping[0].ID, overlapping[0].Range())}
		}
		if bal := leave.ComputeBalance(own, allotment); !bal.CanRequest(workingDays) {
			return &createRefused{fmt.Sprintf("insufficient balance: requested %d, available %d", workingDays, bal.AvailableDays)}
		}
		return nil
	})
	var refused *createRefused
	switch {
	case errors.As(err, &refused):
		writeError(w, http.StatusUnprocessableEntity, refused.message)
		return
	case err != nil:
		h.internal(w, "create request", err)
		return
	}

	h.logger.Info("request created",
		zap.String("id", req.ID),
		zap.String("user_id", req.RequesterID),
		zap.Stringer("range", req.Range()),
		zap.Int("days", req.RequestedDays),
	)
	writeJSON(w, http.StatusCreated, transport.FromModel(req))
}

// createRefused is a business-rule refusal raised inside the create
// transaction.
type createRefused struct{ message string }

func (e *createRefused) Error() string { return e.message }

// =============================================================================
// RESOLUTION
// =============================================================================

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var body transport.ApproveBody
	if err := decodeOptionalBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.resolve(w, r, leave.StatusApproved, strings.TrimSpace(body.Comments))
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body transport.RejectBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		writeError(w, http.StatusUnprocessableEntity, "a reason is required to reject a request")
		return
	}
	h.resolve(w, r, leave.StatusRejected, reason)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, to leave.Status, comment string) {
	ctx := r.Context()
	s := mustSession(r)
	id := chi.URLParam(r, "id")

	current, err := h.store.GetRequest(ctx, id)
	if errors.Is(err, sqlite.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		h.internal(w, "get request", err)
		return
	}
	if !leave.CanResolve(current, s.UserID, s.Role, s.DepartmentID) {
		writeError(w, http.StatusForbidden, "not allowed to resolve this request")
		return
	}

	updated, err := h.store.Resolve(ctx, id, to, s.UserID, comment, h.now())
	var notPending *sqlite.NotPendingError
	switch {
	case errors.As(err, &notPending):
		writeError(w, http.StatusConflict, fmt.Sprintf("request is already %s", notPending.Status))
		return
	case errors.Is(err, sqlite.ErrNotFound):
		writeError(w, http.StatusNotFound, "request not found")
		return
	case err != nil:
		h.internal(w, "resolve request", err)
		return
	}

	h.logger.Info("request resolved",
		zap.String("id", id),
		zap.String("status", string(to)),
		zap.String("by", s.UserID),
	)
	writeJSON(w, http.StatusOK, transport.FromModel(updated))
}

// =============================================================================
// HOLIDAYS
// =============================================================================

// ListHolidays defaults to the caller's own location.
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	loc := r.URL.Query().Get("location_id")
	if loc == "" {
		loc = mustSession(r).LocationID
	}
	holidays, err := h.store.ListHolidays(r.Context(), loc)
	if err != nil {
		h.internal(w, "list holidays", err)
		return
	}
	out := make([]transport.WireHoliday, len(holidays))
	for i, hol := range holidays {
		out[i] = transport.HolidayFromModel(hol)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var body transport.WireHoliday
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	hol, err := body.ToModel()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if strings.TrimSpace(hol.Name) == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	if err := h.store.SaveHoliday(r.Context(), hol); err != nil {
		h.internal(w, "save holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, transport.HolidayFromModel(hol))
}

func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteHoliday(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, sqlite.ErrNotFound) {
		writeError(w, http.StatusNotFound, "holiday not found")
		return
	}
	if err != nil {
		h.internal(w, "delete holiday", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

// mustSession is only called behind session.Middleware.
func mustSession(r *http.Request) session.Session {
	s, _ := session.FromContext(r.Context())
	return s
}

func (h *Handler) internal(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, out any) error {
	err := decodeBody(r, out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func toWire(requests []leave.LeaveRequest) []transport.WireRequest {
	out := make([]transport.WireRequest, len(requests))
	for i, r := range requests {
		out[i] = transport.FromModel(r)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
