/*
repository.go - Client-side request repository

PURPOSE:
  Holds the two views of request data a session works with and keeps them,
  plus the derived balance, consistent across mutations:

    own      the caller's own requests, newest first; feeds the balance
    visible  everything the caller's role may see (managers, admins)

  One Repository is constructed per session. Nothing here is process-wide.

CACHE RULES:
  - FetchOwn replaces own wholesale and recomputes the balance.
  - FetchVisible replaces visible after the role filter; own is untouched.
  - Create prepends to own and recomputes the balance; visible is untouched.
  - Approve/Reject patch the matching visible entry in place; own is
    untouched. The requester's view is refreshed by a later FetchOwn.
  - No operation writes both caches.
  - Any failure leaves both caches exactly as they were.

ORDERING:
  There is no optimistic state. Each cache write happens when its response
  arrives, under the repository lock, so the later-arriving response wins.
  The backend is the source of truth for the resulting status: if an approve
  call comes back with a different status (someone else resolved it first),
  that is what gets cached.

CHANGE NOTIFICATIONS:
  Subscribe registers a callback invoked after every successful cache write.
  Hosts use it to invalidate derived state (blocked dates, stale own views).
*/
package leave

import (
	"context"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Transport is the backend contract the repository consumes. Implementations
// must return errors from the package taxonomy (NetworkError, ServerError,
// ValidationError, StateConflictError).
type Transport interface {
	FetchOwn(ctx context.Context) ([]LeaveRequest, error)
	FetchAll(ctx context.Context) ([]LeaveRequest, error)
	Create(ctx context.Context, req NewRequest) (LeaveRequest, error)
	Approve(ctx context.Context, id, comment string) (LeaveRequest, error)
	Reject(ctx context.Context, id, comment string) (LeaveRequest, error)
}

// =============================================================================
// CHANGE EVENTS
// =============================================================================

type CacheName string

const (
	CacheOwn     CacheName = "own"
	CacheVisible CacheName = "visible"
)

type ChangeKind string

const (
	ChangeReplaced  ChangeKind = "replaced"
	ChangePrepended ChangeKind = "prepended"
	ChangePatched   ChangeKind = "patched"
)

type ChangeEvent struct {
	Cache   CacheName
	Kind    ChangeKind
	Request *LeaveRequest // set for prepend and patch
}

// =============================================================================
// REPOSITORY
// =============================================================================

type Repository struct {
	transport Transport
	logger    *zap.Logger

	mu        sync.RWMutex
	own       []LeaveRequest
	visible   []LeaveRequest
	totalDays int
	balance   Balance

	subMu sync.Mutex
	subs  []func(ChangeEvent)
}

// NewRepository builds an empty repository. annualAllotment <= 0 falls back
// to DefaultAnnualAllotment.
func NewRepository(transport Transport, annualAllotment int, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		transport: transport,
		logger:    logger.Named("leave.repository"),
		totalDays: annualAllotment,
		balance:   ComputeBalance(nil, annualAllotment),
	}
}

// Own returns a copy of the caller's own requests, newest first.
func (r *Repository) Own() []LeaveRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]LeaveRequest(nil), r.own...)
}

// Visible returns a copy of the role-filtered view.
func (r *Repository) Visible() []LeaveRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]LeaveRequest(nil), r.visible...)
}

func (r *Repository) Balance() Balance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balance
}

// SetAnnualAllotment changes the allotment and recomputes the balance.
func (r *Repository) SetAnnualAllotment(totalDays int) {
	r.mu.Lock()
	r.totalDays = totalDays
	r.balance = ComputeBalance(r.own, r.totalDays)
	r.mu.Unlock()
}

// Subscribe registers fn for change events and returns a function that
// removes it.
func (r *Repository) Subscribe(fn func(ChangeEvent)) (unsubscribe func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subs = append(r.subs, fn)
	idx := len(r.subs) - 1
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if idx < len(r.subs) {
			r.subs[idx] = nil
		}
	}
}

func (r *Repository) notify(ev ChangeEvent) {
	r.subMu.Lock()
	subs := slices.Clone(r.subs)
	r.subMu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(ev)
		}
	}
}

// =============================================================================
// FETCH
// =============================================================================

// FetchOwn replaces the own cache with the backend's view and recomputes the
// balance. On failure the cache is left untouched.
func (r *Repository) FetchOwn(ctx context.Context) ([]LeaveRequest, error) {
	requests, err := r.transport.FetchOwn(ctx)
	if err != nil {
		r.logger.Warn("fetch own requests failed", zap.Error(err))
		return nil, err
	}
	if err := validateAll("fetch own requests", requests); err != nil {
		r.logger.Error("fetch own requests returned malformed data", zap.Error(err))
		return nil, err
	}

	r.mu.Lock()
	r.own = append([]LeaveRequest(nil), requests...)
	r.balance = ComputeBalance(r.own, r.totalDays)
	balance := r.balance
	r.mu.Unlock()

	r.logger.Debug("own requests refreshed",
		zap.Int("count", len(requests)),
		zap.Int("available_days", balance.AvailableDays),
		zap.Int("pending_days", balance.PendingDays),
	)
	r.notify(ChangeEvent{Cache: CacheOwn, Kind: ChangeReplaced})
	return append([]LeaveRequest(nil), requests...), nil
}

// FetchVisible loads the full set from the backend, applies the role filter,
// and caches the result. The own cache is never touched.
func (r *Repository) FetchVisible(ctx context.Context, role Role, departmentID string) ([]LeaveRequest, error) {
	all, err := r.transport.FetchAll(ctx)
	if err != nil {
		r.logger.Warn("fetch visible requests failed", zap.Error(err), zap.Stringer("role", role))
		return nil, err
	}
	if err := validateAll("fetch visible requests", all); err != nil {
		r.logger.Error("fetch visible requests returned malformed data", zap.Error(err))
		return nil, err
	}

	visible := FilterVisible(all, role, departmentID)

	r.mu.Lock()
	r.visible = visible
	r.mu.Unlock()

	r.logger.Debug("visible requests refreshed",
		zap.Stringer("role", role),
		zap.String("department_id", departmentID),
		zap.Int("fetched", len(all)),
		zap.Int("visible", len(visible)),
	)
	r.notify(ChangeEvent{Cache: CacheVisible, Kind: ChangeReplaced})
	return append([]LeaveRequest(nil), visible...), nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Create submits a selection. Empty selections and selections larger than the
// available balance fail locally without a network call.
func (r *Repository) Create(ctx context.Context, sel Selection, reason string) (LeaveRequest, error) {
	if sel.Start.IsZero() || sel.End.IsZero() || sel.End.Before(sel.Start) || sel.WorkingDays < 1 {
		return LeaveRequest{}, &EmptySelectionError{WorkingDays: sel.WorkingDays}
	}
	if sel.WorkingDays > sel.Range().Len() {
		return LeaveRequest{}, &ValidationError{Field: "requested_days", Message: "more working days than calendar days in range"}
	}

	balance := r.Balance()
	if !balance.CanRequest(sel.WorkingDays) {
		return LeaveRequest{}, &InsufficientBalanceError{Requested: sel.WorkingDays, Available: balance.AvailableDays}
	}

	created, err := r.transport.Create(ctx, NewRequest{
		StartDate:     sel.Start,
		EndDate:       sel.End,
		RequestedDays: sel.WorkingDays,
		Reason:        strings.TrimSpace(reason),
	})
	if err != nil {
		r.logger.Warn("create request failed",
			zap.Stringer("start_date", sel.Start),
			zap.Stringer("end_date", sel.End),
			zap.Int("working_days", sel.WorkingDays),
			zap.Error(err),
		)
		return LeaveRequest{}, err
	}
	if err := created.Validate(); err != nil {
		return LeaveRequest{}, &ServerError{Op: "create request", Message: err.Error()}
	}

	r.mu.Lock()
	r.own = append([]LeaveRequest{created}, r.own...)
	r.balance = ComputeBalance(r.own, r.totalDays)
	r.mu.Unlock()

	r.logger.Info("request created",
		zap.String("request_id", created.ID),
		zap.Int("requested_days", created.RequestedDays),
	)
	r.notify(ChangeEvent{Cache: CacheOwn, Kind: ChangePrepended, Request: &created})
	return created, nil
}

// Approve resolves a pending request. The comment is optional.
func (r *Repository) Approve(ctx context.Context, id, comment string) (LeaveRequest, error) {
	if err := r.checkPending(id); err != nil {
		return LeaveRequest{}, err
	}
	resolved, err := r.transport.Approve(ctx, id, strings.TrimSpace(comment))
	if err != nil {
		r.logger.Warn("approve request failed", zap.String("request_id", id), zap.Error(err))
		return LeaveRequest{}, err
	}
	return r.applyResolution("approve request", id, resolved)
}

// Reject resolves a pending request. The comment is mandatory.
func (r *Repository) Reject(ctx context.Context, id, comment string) (LeaveRequest, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return LeaveRequest{}, &ValidationError{Field: "comments", Message: "a comment is required to reject a request"}
	}
	if err := r.checkPending(id); err != nil {
		return LeaveRequest{}, err
	}
	resolved, err := r.transport.Reject(ctx, id, comment)
	if err != nil {
		r.logger.Warn("reject request failed", zap.String("request_id", id), zap.Error(err))
		return LeaveRequest{}, err
	}
	return r.applyResolution("reject request", id, resolved)
}

func (r *Repository) checkPending(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, req := range r.visible {
		if req.ID != id {
			continue
		}
		if req.Status != StatusPending {
			return &StateConflictError{RequestID: id, Status: req.Status}
		}
		return nil
	}
	return ErrRequestNotFound
}

// applyResolution patches the visible cache with whatever the backend returned.
// If the entry has disappeared (the cache was replaced meanwhile) the write is
// skipped; the response is still returned.
func (r *Repository) applyResolution(op, id string, resolved LeaveRequest) (LeaveRequest, error) {
	if err := resolved.Validate(); err != nil {
		return LeaveRequest{}, &ServerError{Op: op, Message: err.Error()}
	}
	if resolved.ID != id {
		return LeaveRequest{}, &ServerError{Op: op, Message: "response is for request " + resolved.ID + ", expected " + id}
	}

	patched := false
	r.mu.Lock()
	for i := range r.visible {
		if r.visible[i].ID == id {
			r.visible[i] = resolved
			patched = true
			break
		}
	}
	r.mu.Unlock()

	r.logger.Info("request resolved",
		zap.String("op", op),
		zap.String("request_id", id),
		zap.String("status", string(resolved.Status)),
		zap.String("resolved_by", resolved.ResolvedBy()),
		zap.Bool("cache_patched", patched),
	)
	if patched {
		r.notify(ChangeEvent{Cache: CacheVisible, Kind: ChangePatched, Request: &resolved})
	}
	return resolved, nil
}

func validateAll(op string, requests []LeaveRequest) error {
	for _, req := range requests {
		if err := req.Validate(); err != nil {
			return &ServerError{Op: op, Message: err.Error()}
		}
	}
	return nil
}
