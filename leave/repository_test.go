package leave_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-portal/calendar"
	"github.com/warp/leave-portal/leave"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeBackend is an in-memory stand-in for the REST backend. Several
// fakeTransports (one per caller identity) share it.
type fakeBackend struct {
	mu       sync.Mutex
	requests []leave.LeaveRequest // newest first
	nextID   int
	now      time.Time

	calls map[string]int
	fail  map[string]error

	// override, when set, rewrites the record returned by approve/reject.
	override func(op string, r leave.LeaveRequest) leave.LeaveRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		now:   time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC),
		calls: map[string]int{},
		fail:  map[string]error{},
	}
}

func (b *fakeBackend) seed(r leave.LeaveRequest) leave.LeaveRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.ID == "" {
		b.nextID++
		r.ID = fmt.Sprintf("req-%d", b.nextID)
	}
	if r.Status == "" {
		r.Status = leave.StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = b.now
		r.UpdatedAt = b.now
	}
	b.requests = append([]leave.LeaveRequest{r}, b.requests...)
	return r
}

func (b *fakeBackend) callCount(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *fakeBackend) failNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[op] = err
}

func (b *fakeBackend) enter(op string) error {
	b.calls[op]++
	if err, ok := b.fail[op]; ok {
		delete(b.fail, op)
		return err
	}
	return nil
}

type fakeTransport struct {
	backend      *fakeBackend
	userID       string
	name         string
	departmentID string
}

func (t *fakeTransport) FetchOwn(ctx context.Context) ([]leave.LeaveRequest, error) {
	b := t.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("fetch_own"); err != nil {
		return nil, err
	}
	var out []leave.LeaveRequest
	for _, r := range b.requests {
		if r.RequesterID == t.userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *fakeTransport) FetchAll(ctx context.Context) ([]leave.LeaveRequest, error) {
	b := t.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("fetch_all"); err != nil {
		return nil, err
	}
	return append([]leave.LeaveRequest(nil), b.requests...), nil
}

func (t *fakeTransport) Create(ctx context.Context, req leave.NewRequest) (leave.LeaveRequest, error) {
	b := t.backend
	b.mu.Lock()
	if err := b.enter("create"); err != nil {
		b.mu.Unlock()
		return leave.LeaveRequest{}, err
	}
	b.mu.Unlock()
	return b.seed(leave.LeaveRequest{
		RequesterID:   t.userID,
		RequesterName: t.name,
		DepartmentID:  t.departmentID,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		RequestedDays: req.RequestedDays,
		Reason:        req.Reason,
	}), nil
}

func (t *fakeTransport) Approve(ctx context.Context, id, comment string) (leave.LeaveRequest, error) {
	return t.resolve("approve", id, comment)
}

func (t *fakeTransport) Reject(ctx context.Context, id, comment string) (leave.LeaveRequest, error) {
	return t.resolve("reject", id, comment)
}

func (t *fakeTransport) resolve(op, id, comment string) (leave.LeaveRequest, error) {
	b := t.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(op); err != nil {
		return leave.LeaveRequest{}, err
	}
	for i, r := range b.requests {
		if r.ID != id {
			continue
		}
		if r.Status != leave.StatusPending {
			return leave.LeaveRequest{}, &leave.StateConflictError{RequestID: id, Message: "request already " + string(r.Status)}
		}
		at := b.now
		r.Comments = comment
		r.UpdatedAt = at
		if op == "approve" {
			r.Status = leave.StatusApproved
			r.ApprovedBy = t.userID
			r.ApprovedAt = &at
		} else {
			r.Status = leave.StatusRejected
			r.RejectedBy = t.userID
			r.RejectedAt = &at
		}
		if b.override != nil {
			r = b.override(op, r)
		}
		b.requests[i] = r
		return r, nil
	}
	return leave.LeaveRequest{}, &leave.ServerError{Op: op, StatusCode: 404, Message: "not found"}
}

func d(s string) calendar.Date { return calendar.MustParseDate(s) }

func newRepo(b *fakeBackend, userID, departmentID string, total int) *leave.Repository {
	tr := &fakeTransport{backend: b, userID: userID, name: "User " + userID, departmentID: departmentID}
	return leave.NewRepository(tr, total, nil)
}

func pendingRequest(userID, dept, start, end string, days int) leave.LeaveRequest {
	return leave.LeaveRequest{
		RequesterID:   userID,
		DepartmentID:  dept,
		StartDate:     d(start),
		EndDate:       d(end),
		RequestedDays: days,
		Status:        leave.StatusPending,
	}
}

func approvedRequest(userID, dept, start, end string, days int) leave.LeaveRequest {
	at := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	r := pendingRequest(userID, dept, start, end, days)
	r.Status = leave.StatusApproved
	r.ApprovedBy = "mgr-2"
	r.ApprovedAt = &at
	return r
}

func assertBalanceInvariant(t *testing.T, b leave.Balance) {
	t.Helper()
	assert.Equal(t, b.TotalDays, b.UsedDays+b.AvailableDays, "used + available must equal total")
}

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func TestRepository_ScenarioA_CreateLeavesAvailableUnchanged(t *testing.T) {
	// GIVEN: A requester with 22 days and no prior requests
	// WHEN: They submit Mon-Fri (5 working days)
	// THEN: Pending goes to 5 and available stays at 22

	backend := newFakeBackend()
	repo := newRepo(backend, "emp-1", "dept-2", 22)
	ctx := context.Background()

	_, err := repo.FetchOwn(ctx)
	require.NoError(t, err)

	created, err := repo.Create(ctx, leave.Selection{
		Start:       d("2025-03-10"),
		End:         d("2025-03-14"),
		WorkingDays: 5,
	}, "  family trip ")
	require.NoError(t, err)

	assert.Equal(t, leave.StatusPending, created.Status)
	assert.Equal(t, 5, created.RequestedDays)
	assert.Equal(t, "family trip", created.Reason)
	assert.Equal(t, leave.Balance{TotalDays: 22, AvailableDays: 22, UsedDays: 0, PendingDays: 5}, repo.Balance())
	require.Len(t, repo.Own(), 1)
	assert.Equal(t, created.ID, repo.Own()[0].ID)
	assert.Empty(t, repo.Visible(), "create must not touch the visible cache")
}

func TestRepository_ScenarioB_ApprovalVisibleAfterFetchOwn(t *testing.T) {
	// GIVEN: The scenario A request
	// WHEN: A department-2 manager approves it and the requester refetches
	// THEN: Balance becomes 22 total, 17 available, 5 used, 0 pending

	backend := newFakeBackend()
	requester := newRepo(backend, "emp-1", "dept-2", 22)
	manager := newRepo(backend, "mgr-2", "dept-2", 22)
	ctx := context.Background()

	created, err := requester.Create(ctx, leave.Selection{Start: d("2025-03-10"), End: d("2025-03-14"), WorkingDays: 5}, "")
	require.NoError(t, err)

	_, err = manager.FetchVisible(ctx, leave.RoleManager, "dept-2")
	require.NoError(t, err)
	approved, err := manager.Approve(ctx, created.ID, "enjoy")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, approved.Status)
	assert.Equal(t, "mgr-2", approved.ResolvedBy())
	assert.Equal(t, "enjoy", approved.Comments)

	// Requester's cache is stale until they refetch.
	assert.Equal(t, leave.StatusPending, requester.Own()[0].Status)
	assert.Equal(t, 5, requester.Balance().PendingDays)

	_, err = requester.FetchOwn(ctx)
	require.NoError(t, err)
	assert.Equal(t, leave.Balance{TotalDays: 22, AvailableDays: 17, UsedDays: 5, PendingDays: 0}, requester.Balance())
}

func TestRepository_ScenarioC_InsufficientBalance(t *testing.T) {
	// GIVEN: A requester with 8 days available (14 of 22 already used)
	// WHEN: They try to book 10 working days
	// THEN: InsufficientBalanceError{10, 8}, nothing sent, nothing cached

	backend := newFakeBackend()
	backend.seed(approvedRequest("emp-1", "dept-2", "2025-01-06", "2025-01-23", 14))
	repo := newRepo(backend, "emp-1", "dept-2", 22)
	ctx := context.Background()

	_, err := repo.FetchOwn(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, repo.Balance().AvailableDays)

	_, err = repo.Create(ctx, leave.Selection{Start: d("2025-03-10"), End: d("2025-03-21"), WorkingDays: 10}, "")

	var insufficient *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 10, insufficient.Requested)
	assert.Equal(t, 8, insufficient.Available)
	assert.ErrorIs(t, err, leave.ErrInsufficientBalance)
	assert.Equal(t, 0, backend.callCount("create"), "no network call on local failure")
	assert.Len(t, repo.Own(), 1)
}

func TestRepository_ScenarioD_VisibilityByRole(t *testing.T) {
	// GIVEN: Two requests in department 2 and one in department 1
	// WHEN: A department-2 manager and an admin fetch the visible set
	// THEN: The manager sees exactly the two department-2 requests, the admin all three

	backend := newFakeBackend()
	a := backend.seed(pendingRequest("emp-1", "dept-2", "2025-03-10", "2025-03-10", 1))
	b := backend.seed(pendingRequest("emp-2", "dept-2", "2025-03-11", "2025-03-11", 1))
	backend.seed(pendingRequest("emp-3", "dept-1", "2025-03-12", "2025-03-12", 1))
	ctx := context.Background()

	manager := newRepo(backend, "mgr-2", "dept-2", 22)
	visible, err := manager.FetchVisible(ctx, leave.RoleManager, "dept-2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids(visible))

	admin := newRepo(backend, "adm-1", "dept-9", 22)
	visible, err = admin.FetchVisible(ctx, leave.RoleAdmin, "dept-9")
	require.NoError(t, err)
	assert.Len(t, visible, 3)

	employee := newRepo(backend, "emp-1", "dept-2", 22)
	visible, err = employee.FetchVisible(ctx, leave.RoleEmployee, "dept-2")
	require.NoError(t, err)
	assert.Empty(t, visible)
	assert.Empty(t, employee.Own(), "fetching visible must not touch own")
}

func ids(rs []leave.LeaveRequest) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

// =============================================================================
// LOCAL VALIDATION (no network call)
// =============================================================================

func TestRepository_Create_EmptySelection(t *testing.T) {
	backend := newFakeBackend()
	repo := newRepo(backend, "emp-1", "dept-2", 22)
	ctx := context.Background()

	cases := map[string]leave.Selection{
		"zero value":       {},
		"zero days":        {Start: d("2025-03-15"), End: d("2025-03-16"), WorkingDays: 0},
		"inverted range":   {Start: d("2025-03-14"), End: d("2025-03-10"), WorkingDays: 3},
		"negative days":    {Start: d("2025-03-10"), End: d("2025-03-10"), WorkingDays: -1},
		"missing end date": {Start: d("2025-03-10"), WorkingDays: 1},
	}
	for name, sel := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Create(ctx, sel, "")
			var empty *leave.EmptySelectionError
			assert.ErrorAs(t, err, &empty)
			assert.ErrorIs(t, err, leave.ErrValidation)
		})
	}
	assert.Equal(t, 0, backend.callCount("create"))
}

func TestRepository_Create_MoreDaysThanRange(t *testing.T) {
	backend := newFakeBackend()
	repo := newRepo(backend, "emp-1", "dept-2", 22)

	_, err := repo.Create(context.Background(), leave.Selection{Start: d("2025-03-10"), End: d("2025-03-11"), WorkingDays: 5}, "")

	assert.ErrorIs(t, err, leave.ErrValidation)
	assert.Equal(t, 0, backend.callCount("create"))
}

func TestRepository_Reject_BlankCommentNoNetworkCall(t *testing.T) {
	// GIVEN: A manager with a pending request in view
	// WHEN: Rejecting with an empty or whitespace-only comment
	// THEN: ValidationError before any network call; cache untouched

	backend := newFakeBackend()
	req := backend.seed(pendingRequest("emp-1", "dept-2", "2025-03-10", "2025-03-10", 1))
	manager := newRepo(backend, "mgr-2", "dept-2", 22)
	ctx := context.Background()
	_, err := manager.FetchVisible(ctx, leave.RoleManager, "dept-2")
	require.NoError(t, err)

	for _, comment := range []string{"", "   ", "\t\n"} {
		_, err := manager.Reject(ctx, req.ID, comment)
		var validation *leave.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.False(t, validation.Remote)
		assert.Equal(t, "comments", validation.Field)
	}
	assert.Equal(t, 0, backend.callCount("reject"))
	assert.Equal(t, leave.StatusPending, manager.Visible()[0].Status)
}

func TestRepository_Reject_TrimsComment(t *testing.T) {
	backend := newFakeBackend()
	req := backend.seed(pendingRequest("emp-1", "dept-2", "2025-03-10", "2025-03-10", 1))
	manager := newRepo(backend, "mgr-2", "dept-2", 22)
	ctx := context.Background()
	_, err := manager.FetchVisible(ctx, leave.RoleManager, "dept-2")
	require.NoError(t, err)

	rejected, err := manager.Reject(ctx, req.ID, "  team offsite that week  ")
	require.NoError(t, err)

	assert.Equal(t, leave.StatusRejected, rejected.Status)
	assert.Equal(t, "team offsite that week", rejected.Comments)
	assert.Equal(t, "mgr-2", rejected.RejectedBy)
	assert.Equal(t, leave.StatusRejected, manager.Visible()[0].Status)
}

func TestRepository_Approve_TerminalInCacheIsConflict(t *testing.T) {
	backend := newFakeBackend()
	req := backend.seed(approvedRequest("emp-1", "dept-2", "2025-03-10", "2025-03-10", 1))
	manager := newRepo(backend, "mgr-2", "dept-2", 22)
	ctx := context.Background()
	_, err := manager.FetchVisible(ctx, leave.RoleManager, "dept-2")
	require.NoError(t, err)

	_, err = manager.Approve(ctx, req.ID, "")

	var conflict *leave.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, leave.StatusApproved, conflict.Status)
	assert.Equal(t, 0, backend.callCount("approve"))

	_, err = manager.Reject(ctx, req.ID, "too late")
	assert.ErrorIs(t, err, leave.ErrStateConflict)
	assert.Equal(t, 0, backend.callCount("reject"))
}

func TestRepository_Approve_UnknownID(t *testing.T) {
	backend := newFakeBackend()
	manager := newRepo(backend, "mgr-2", "dept-2", 22)

	_, err := manager.Approve(context.Background(), "does-not-exist", "")

	assert.ErrorIs(t, err, leave.ErrRequestNotFound)
	assert.Equal(t, 0, backend.callCount("approve"))
}

// =============================================================================
// REMOTE FAILURES LEAVE CACHES INTACT
// =============================================================================

func TestRepository_FetchOwn_FailureKeepsCache(t *testing.T) {
	// GIVEN: A populated own cache
	// WHEN: The next refresh fails with a network error
	// THEN: The error is returned and cache plus balance are unchanged

	backend := newFakeBackend()
	backend.seed(approvedRequest("emp-1", "dept-2", "2025-01-06", "2025-01-10", 5))
	repo := newRepo(backend, "emp-1", "dept-2", 22)
	ctx := context.Background()

	_, err := repo.FetchOwn(ctx)
	require.NoError(t, err)
	before, beforeBalance := repo.Own(), repo.Balance()

	backend.seed(approvedRequest("emp-1", "dept-2", "2025-02-03", "2025-02-07", 5))
	backend.failNext("fetch_own", &leave.NetworkError{Op: "fetch own requests", Err: context.DeadlineExceeded})

	_, err = repo.FetchOwn(ctx)

	assert.ErrorIs(t, err, leave.ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, leave.IsRetryable(err))
	assert.Equal(t, before, repo.Own())
	assert.Equal(t, beforeBalance, repo.Balance())
}

func TestRepository_FetchVisible_MalformedResponseIsServerError(t *testing.T) {
	backend := newFakeBackend()
	good := backend.seed(pendingRequest("emp-1", "dept-2", "2025-03-10", "2025-03-10", 1))
	manager := newRepo(backend, "mgr-2", "dept-2", 22)
	ctx := context.Background()
	_, err := manager.FetchVisible(ctx, leave.RoleManager, "dept-2")
	require.NoError(t, err)

	// A pending request that claims an approver is structurally invalid.
	bad := pendingRequest("emp-2", "dept-2", "2025-03-11", "2025-03-11", 1)
	bad.ApprovedBy = "mgr-2"
	backend.seed(bad)

	_, err = manager.FetchVisible(ctx, leave.RoleManager, "dept-2")

	assert.ErrorIs(t, err, leave.ErrServer)
	assert.Equal(t, []string{good.ID}, ids(manager.Visible()))
}

func TestRepository_Create_RemoteFailureKeepsCache(t *testing.T) {
	backend := newFakeBackend()
	repo := newRepo(backend, "emp-1", "dept-2", 22)
	backend.failNext("create", &leave.ValidationError{Field: "start_date", Message: "start date in the past", Remote: true})

	_, err := repo.Create(context.Background(), leave.Selection{Start: d("2025-03-10"), End: d("2025-03-10"), WorkingDays: 1}, "")

	var validation *leave.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.True(t, validation.Remote)
	assert.Empty(t, repo.Own())
	assert.Equal(t, 0, repo.Balance().PendingDays)
}

func TestRepository_Approve_RemoteConflictKeepsCache(t *testing.T) {
	// GIVEN: Two managers looking at the same pending request
	// WHEN: One rejects it, then the other tries to approve from a stale view
	// THEN: The second gets StateConflictError and its cached entry is unchanged

	backend := newFakeBackend()
	req := backend.seed(pendingRequest("emp-1", "dept-2", "2025-03-10", "2025-03-10", 1))
	first := newRepo(backend, "mgr-2", "dept-2", 22)
	second := newRepo(backend, "adm-1", "dept-9", 22)
	ctx := context.Background()
	_, err := first.FetchVisible(ctx, leave.RoleManager, "dept-2")
	require.NoError(t, err)
	_, err = second.FetchVisible(ctx, leave.RoleAdmin, "dept-9")
	require.NoError(t, err)

	_, err = first.Reject(ctx, req.ID, "conflicts with release")
	require.NoError(t, err)

	_, err = second.Approve(ctx, req.ID, "")

	assert.ErrorIs(t, err, leave.ErrStateConflict)
	assert.True(t, leave.IsClientError(err))
	assert.Equal(t, leave.StatusPending, second.Visible()[0].Status, "stale view is only fixed by a refetch")
}

func TestRepository_Approve_AppliesBackendStatus(t *testing.T) {
	// GIVEN: A backend that resolves the request differently than asked
	// WHEN: Approve returns a rejected record
	// THEN: The cache holds what the backend said, not what was asked for

	backend := newFakeBackend()
	req := backend.seed(pendingRequest("emp-1", "dept-2", "2025-03-10", "2025-03-10", 1))
	backend.override = func(op string, r leave.LeaveRequest) leave.LeaveRequest {
		at := *r.ApprovedAt
		r.Status = leave.StatusRejected
		r.ApprovedBy, r.ApprovedAt = "", nil
		r.RejectedBy, r.RejectedAt = "mgr-other", &at
		return r
	}
	manager := newRepo(backend, "mgr-2", "dept-2", 22)
	ctx := context.Background()
	_, err := manager.FetchVisible(ctx, leave.RoleManager, "dept-2")
	require.NoError(t, err)

	got, err := manager.Approve(ctx, req.ID, "")
	require.NoError(t, err)

	assert.Equal(t, leave.StatusRejected, got.Status)
	assert.Equal(t, leave.StatusRejected, manager.Visible()[0].Status)
	assert.Equal(t, "mgr-other", manager.Visible()[0].ResolvedBy())
}

func TestRepository_Approve_MalformedResponseKeepsCache(t *testing.T) {
	backend := newFakeBackend()
	req := backend.seed(pendingRequest("emp-1", "dept-2", "2025-03-10", "2025-03-10", 1))
	backend.override = func(op string, r leave.LeaveRequest) leave.LeaveRequest {
		r.ApprovedAt = nil
		return r
	}
	manager := newRepo(backend, "mgr-2", "dept-2", 22)
	ctx := context.Background()
	_, err := manager.FetchVisible(ctx, leave.RoleManager, "dept-2")
	require.NoError(t, err)

	_, err = manager.Approve(ctx, req.ID, "")

	assert.ErrorIs(t, err, leave.ErrServer)
	assert.Equal(t, leave.StatusPending, manager.Visible()[0].Status)
}

// =============================================================================
// CACHE SHAPE
// =============================================================================

func TestRepository_Approve_PatchesInPlace(t *testing.T) {
	backend := newFakeBackend()
	backend.seed(pendingRequest("emp-1", "dept-2", "2025-03-10", "2025-03-10", 1))
	middle := backend.seed(pendingRequest("emp-2", "dept-2", "2025-03-11", "2025-03-11", 1))
	backend.seed(pendingRequest("emp-3", "dept-2", "2025-03-12", "2025-03-12", 1))
	manager := newRepo(backend, "mgr-2", "dept-2", 22)
	ctx := context.Background()
	before, err := manager.FetchVisible(ctx, leave.RoleManager, "dept-2")
	require.NoError(t, err)

	_, err = manager.Approve(ctx, middle.ID, "")
	require.NoError(t, err)

	after := manager.Visible()
	assert.Equal(t, ids(before), ids(after), "order is stable")
	assert.Equal(t, leave.StatusApproved, after[1].Status)
	assert.Equal(t, leave.StatusPending, after[0].Status)
	assert.Equal(t, leave.StatusPending, after[2].Status)
}

func TestRepository_Create_PrependsNewestFirst(t *testing.T) {
	backend := newFakeBackend()
	repo := newRepo(backend, "emp-1", "dept-2", 22)
	ctx := context.Background()

	first, err := repo.Create(ctx, leave.Selection{Start: d("2025-03-10"), End: d("2025-03-10"), WorkingDays: 1}, "")
	require.NoError(t, err)
	second, err := repo.Create(ctx, leave.Selection{Start: d("2025-04-07"), End: d("2025-04-08"), WorkingDays: 2}, "")
	require.NoError(t, err)

	assert.Equal(t, []string{second.ID, first.ID}, ids(repo.Own()))
	assert.Equal(t, 3, repo.Balance().PendingDays)
}

func TestRepository_AccessorsReturnCopies(t *testing.T) {
	backend := newFakeBackend()
	backend.seed(pendingRequest("emp-1", "dept-2", "2025-03-10", "2025-03-10", 1))
	repo := newRepo(backend, "emp-1", "dept-2", 22)
	_, err := repo.FetchOwn(context.Background())
	require.NoError(t, err)

	own := repo.Own()
	own[0].Status = leave.StatusApproved

	assert.Equal(t, leave.StatusPending, repo.Own()[0].Status)
}

func TestRepository_BalanceInvariantAcrossOperations(t *testing.T) {
	// GIVEN: A requester and a manager sharing one backend
	// WHEN: Running a mixed sequence of create, approve, reject and refetch
	// THEN: used + available == total after every step

	backend := newFakeBackend()
	requester := newRepo(backend, "emp-1", "dept-2", 22)
	manager := newRepo(backend, "mgr-2", "dept-2", 22)
	ctx := context.Background()

	step := func() {
		assertBalanceInvariant(t, requester.Balance())
	}
	step()

	r1, err := requester.Create(ctx, leave.Selection{Start: d("2025-03-10"), End: d("2025-03-14"), WorkingDays: 5}, "")
	require.NoError(t, err)
	step()
	r2, err := requester.Create(ctx, leave.Selection{Start: d("2025-04-07"), End: d("2025-04-09"), WorkingDays: 3}, "")
	require.NoError(t, err)
	step()

	_, err = manager.FetchVisible(ctx, leave.RoleManager, "dept-2")
	require.NoError(t, err)
	_, err = manager.Approve(ctx, r1.ID, "")
	require.NoError(t, err)
	_, err = manager.Reject(ctx, r2.ID, "release week")
	require.NoError(t, err)

	_, err = requester.FetchOwn(ctx)
	require.NoError(t, err)
	step()
	assert.Equal(t, leave.Balance{TotalDays: 22, AvailableDays: 17, UsedDays: 5, PendingDays: 0}, requester.Balance())

	requester.SetAnnualAllotment(25)
	step()
	assert.Equal(t, 20, requester.Balance().AvailableDays)
}

func TestRepository_DefaultAllotment(t *testing.T) {
	repo := newRepo(newFakeBackend(), "emp-1", "dept-2", 0)
	assert.Equal(t, leave.DefaultAnnualAllotment, repo.Balance().TotalDays)
	assert.Equal(t, leave.DefaultAnnualAllotment, repo.Balance().AvailableDays)
}

// =============================================================================
// CHANGE NOTIFICATIONS
// =============================================================================

func TestRepository_Subscribe(t *testing.T) {
	backend := newFakeBackend()
	req := backend.seed(pendingRequest("emp-1", "dept-2", "2025-03-10", "2025-03-10", 1))
	manager := newRepo(backend, "mgr-2", "dept-2", 22)
	ctx := context.Background()

	var events []leave.ChangeEvent
	unsubscribe := manager.Subscribe(func(ev leave.ChangeEvent) { events = append(events, ev) })

	_, err := manager.FetchVisible(ctx, leave.RoleManager, "dept-2")
	require.NoError(t, err)
	_, err = manager.Approve(ctx, req.ID, "")
	require.NoError(t, err)
	_, err = manager.Create(ctx, leave.Selection{Start: d("2025-03-17"), End: d("2025-03-17"), WorkingDays: 1}, "")
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, leave.ChangeEvent{Cache: leave.CacheVisible, Kind: leave.ChangeReplaced}, events[0])
	assert.Equal(t, leave.CacheVisible, events[1].Cache)
	assert.Equal(t, leave.ChangePatched, events[1].Kind)
	assert.Equal(t, req.ID, events[1].Request.ID)
	assert.Equal(t, leave.CacheOwn, events[2].Cache)
	assert.Equal(t, leave.ChangePrepended, events[2].Kind)

	unsubscribe()
	_, err = manager.FetchOwn(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRepository_UnsubscribeDuringDelivery(t *testing.T) {
	// GIVEN a subscriber that removes itself on its first event, and a second one
	backend := newFakeBackend()
	repo := newRepo(backend, "emp-1", "dept-2", 22)
	ctx := context.Background()

	var selfCalls, otherCalls int
	var unsubscribe func()
	unsubscribe = repo.Subscribe(func(leave.ChangeEvent) {
		selfCalls++
		unsubscribe()
	})
	repo.Subscribe(func(leave.ChangeEvent) { otherCalls++ })

	// WHEN two fetches fire two events
	_, err := repo.FetchOwn(ctx)
	require.NoError(t, err)
	_, err = repo.FetchOwn(ctx)
	require.NoError(t, err)

	// THEN delivery did not deadlock and only the remaining subscriber saw both
	assert.Equal(t, 1, selfCalls)
	assert.Equal(t, 2, otherCalls)
}

func TestRepository_NoEventOnFailure(t *testing.T) {
	backend := newFakeBackend()
	repo := newRepo(backend, "emp-1", "dept-2", 22)
	backend.failNext("fetch_own", &leave.ServerError{Op: "fetch own requests", StatusCode: 503, Message: "maintenance"})

	fired := false
	repo.Subscribe(func(leave.ChangeEvent) { fired = true })

	_, err := repo.FetchOwn(context.Background())

	require.Error(t, err)
	assert.Equal(t, "maintenance", leave.Message(err))
	assert.False(t, fired)
	assert.False(t, errors.Is(err, leave.ErrNetwork))
}
