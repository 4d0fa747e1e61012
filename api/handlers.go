/*
handlers.go - HTTP handlers for the leave portal

PURPOSE:
  Exposes the leave-request lifecycle engine to the browser. Each signed-in
  user gets a workspace (request repository + selection controller) that
  lives across requests; handlers translate HTTP into calls on it.

ENDPOINTS:
  Self-service:
    GET    /api/leave/mine                    own requests + balance
    GET    /api/leave/balance                 balance only
    GET    /api/leave/calendar/blocked        blocked dates for the picker

  Selection:
    GET    /api/leave/selection               current state
    POST   /api/leave/selection               select a range
    DELETE /api/leave/selection               cancel
    POST   /api/leave/selection/submit        create a request from it

  Review (manager, admin):
    GET    /api/leave/requests                role-scoped list
    PUT    /api/leave/requests/{id}/approve
    PUT    /api/leave/requests/{id}/reject

ERROR HANDLING:
  Engine errors map onto status codes in writeLeaveError:
  - 422: validation, empty selection, insufficient balance
  - 409: request no longer pending
  - 404: unknown request
  - 502: backend unreachable or unusable (retryable flag set on network errors)
  Backend 401/403/404 pass through with the same status.

SEE ALSO:
  - workspace.go: per-session state
  - dto.go: request/response shapes
  - server.go: router and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/leave-portal/calendar"
	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/selection"
	"github.com/warp/leave-portal/session"
)

const maxBodyBytes = 64 << 10

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

type Config struct {
	// Used for sessions that carry no allotment.
	AnnualAllotment int
	// Workspaces unused for longer than this are dropped. 0 keeps them.
	SessionIdleTTL time.Duration
}

// Handler holds all dependencies for the portal handlers.
type Handler struct {
	transport leave.Transport
	holidays  calendar.HolidaySource
	cfg       Config
	spaces    *workspaces
	validate  *validator.Validate
	logger    *zap.Logger

	now    func() time.Time
	window func(time.Time) calendar.Range
}

type Option func(*Handler)

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithWindow overrides the date window holidays are loaded for.
func WithWindow(window func(time.Time) calendar.Range) Option {
	return func(h *Handler) { h.window = window }
}

// NewHandler builds the portal handler. transport is shared by every session;
// it must pick the caller's credentials from the request context.
func NewHandler(transport leave.Transport, holidays calendar.HolidaySource, cfg Config, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AnnualAllotment <= 0 {
		cfg.AnnualAllotment = leave.DefaultAnnualAllotment
	}
	h := &Handler{
		transport: transport,
		holidays:  holidays,
		cfg:       cfg,
		spaces:    newWorkspaces(),
		validate:  newValidator(),
		logger:    logger.Named("api"),
		now:       time.Now,
		window:    defaultWindow,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// caller resolves the session and its workspace, writing the error response
// itself when that fails.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (session.Session, *workspace, bool) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session", nil)
		return session.Session{}, nil, false
	}
	ws, err := h.workspace(r.Context(), s)
	if err != nil {
		h.writeLeaveError(w, err)
		return session.Session{}, nil, false
	}
	return s, ws, true
}

// =============================================================================
// SELF-SERVICE
// =============================================================================

// Mine returns the caller's own requests, refetching when a resolution has
// marked them stale or ?refresh=true is given.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	_, ws, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.refreshOwn(r.Context(), ws, r.URL.Query().Get("refresh") == "true"); err != nil {
		h.writeLeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MineDTO{
		Requests: toRequestDTOs(ws.repo.Own()),
		Balance:  toBalanceDTO(ws.repo.Balance()),
	})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	_, ws, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.refreshOwn(r.Context(), ws, false); err != nil {
		h.writeLeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(ws.repo.Balance()))
}

func (h *Handler) refreshOwn(ctx context.Context, ws *workspace, force bool) error {
	if !ws.takeStale() && !force {
		return nil
	}
	if _, err := ws.repo.FetchOwn(ctx); err != nil {
		ws.markStale()
		return err
	}
	return nil
}

// Blocked lists holidays and already-booked days in [from, to]. Weekends are
// not listed.
func (h *Handler) Blocked(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.caller(w, r)
	if !ok {
		return
	}
	window := ws.window
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		d, err := calendar.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "from must be YYYY-MM-DD", err)
			return
		}
		window.Start = d
	}
	if v := q.Get("to"); v != "" {
		d, err := calendar.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "to must be YYYY-MM-DD", err)
			return
		}
		window.End = d
	}
	if !window.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_query", "from must not be after to", nil)
		return
	}
	if window.Len() > 3*366 {
		writeError(w, http.StatusBadRequest, "invalid_query", "window too large", nil)
		return
	}
	if ws.window.Contains(window.Start) && ws.window.Contains(window.End) {
		writeJSON(w, http.StatusOK, toBlockedDTO(window, ws.ctrl.Blocked().In(window)))
		return
	}

	// Outside the preloaded holidays: load them for the asked window.
	blocked, err := selection.LoadBlockedDates(r.Context(), h.holidays, s.LocationID, window, ws.repo.Own())
	if err != nil {
		h.writeLeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBlockedDTO(window, blocked.In(window)))
}

// =============================================================================
// SELECTION
// =============================================================================

func (h *Handler) GetSelection(w http.ResponseWriter, r *http.Request) {
	_, ws, ok := h.caller(w, r)
	if !ok {
		return
	}
	sel, _ := ws.ctrl.Current()
	writeJSON(w, http.StatusOK, toSelectionDTO(ws.ctrl.State(), sel))
}

func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	_, ws, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req SelectRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	start, _ := calendar.ParseDate(req.StartDate)
	end, _ := calendar.ParseDate(req.EndDate)

	sel, err := ws.ctrl.Select(start, end)
	if err != nil {
		h.writeLeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSelectionDTO(ws.ctrl.State(), sel))
}

func (h *Handler) CancelSelection(w http.ResponseWriter, r *http.Request) {
	_, ws, ok := h.caller(w, r)
	if !ok {
		return
	}
	ws.ctrl.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SubmitSelection(w http.ResponseWriter, r *http.Request) {
	_, ws, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req SubmitRequest
	if !h.decodeAndValidate(w, r, &req, true) {
		return
	}
	created, err := ws.ctrl.Submit(r.Context(), req.Reason)
	if err != nil {
		h.writeLeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(created))
}

// =============================================================================
// REVIEW
// =============================================================================

// ListRequests returns the role-scoped view. Employees get their own
// requests; the role filter itself would give them nothing.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	s, ws, ok := h.caller(w, r)
	if !ok {
		return
	}
	if !s.Role.Elevated() {
		if err := h.refreshOwn(r.Context(), ws, true); err != nil {
			h.writeLeaveError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestDTOs(ws.repo.Own()))
		return
	}
	visible, err := ws.repo.FetchVisible(r.Context(), s.Role, s.DepartmentID)
	if err != nil {
		h.writeLeaveError(w, err)
		return
	}
	ws.setVisibleLoaded()
	writeJSON(w, http.StatusOK, toRequestDTOs(visible))
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, func(ctx context.Context, repo *leave.Repository, id, comment string) (leave.LeaveRequest, error) {
		return repo.Approve(ctx, id, comment)
	})
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, func(ctx context.Context, repo *leave.Repository, id, comment string) (leave.LeaveRequest, error) {
		return repo.Reject(ctx, id, comment)
	})
}

type resolveFunc func(ctx context.Context, repo *leave.Repository, id, comment string) (leave.LeaveRequest, error)

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, do resolveFunc) {
	s, ws, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if !h.decodeAndValidate(w, r, &req, true) {
		return
	}

	// Resolution checks the visible cache; load it if this session never has.
	if !ws.hasVisible() {
		if _, err := ws.repo.FetchVisible(r.Context(), s.Role, s.DepartmentID); err != nil {
			h.writeLeaveError(w, err)
			return
		}
		ws.setVisibleLoaded()
	}

	resolved, err := do(r.Context(), ws.repo, chi.URLParam(r, "id"), req.Comments)
	if err != nil {
		h.writeLeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(resolved))
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func (h *Handler) writeLeaveError(w http.ResponseWriter, err error) {
	var (
		empty        *leave.EmptySelectionError
		insufficient *leave.InsufficientBalanceError
		validation   *leave.ValidationError
		conflict     *leave.StateConflictError
		network      *leave.NetworkError
		server       *leave.ServerError
	)
	switch {
	case errors.As(err, &empty):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "nothing to submit", Code: "empty_selection", Details: err.Error(),
		})
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:     fmt.Sprintf("requested %d days but only %d are available", insufficient.Requested, insufficient.Available),
			Code:      "insufficient_balance",
			Requested: &insufficient.Requested,
			Available: &insufficient.Available,
		})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: validation.Message, Code: "validation", Field: validation.Field,
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "request is no longer pending", Code: "state_conflict", Details: conflict.Error(),
		})
	case errors.Is(err, leave.ErrRequestNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: "request not found", Code: "not_found",
		})
	case errors.As(err, &network):
		h.logger.Warn("backend unreachable", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error: "the leave service could not be reached", Code: "network", Details: network.Op, Retryable: true,
		})
	case errors.As(err, &server):
		status, code := http.StatusBadGateway, "server"
		switch server.StatusCode {
		case http.StatusUnauthorized:
			status, code = http.StatusUnauthorized, "unauthorized"
		case http.StatusForbidden:
			status, code = http.StatusForbidden, "forbidden"
		case http.StatusNotFound:
			status, code = http.StatusNotFound, "not_found"
		default:
			h.logger.Error("backend error", zap.Error(err))
		}
		writeJSON(w, status, ErrorResponse{Error: leave.Message(err), Code: code, Details: server.Op})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "cancelled", "request cancelled", err)
	default:
		h.logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// With allowEmpty an absent body leaves dst zero.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			first := verrs[0]
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error:   fmt.Sprintf("%s is invalid", first.Field()),
				Code:    "validation",
				Field:   first.Field(),
				Details: fmt.Sprintf("failed %q", first.Tag()),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", err)
		return false
	}
	return true
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
