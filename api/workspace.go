package api

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/warp/leave-portal/calendar"
	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/selection"
	"github.com/warp/leave-portal/session"
)

// workspace is the per-session state behind the portal: one repository, one
// selection controller over it, and the holiday set they were built with.
// It is bound to the session claims it was built from.
type workspace struct {
	repo *leave.Repository
	ctrl *selection.Controller

	session  session.Session
	window   calendar.Range
	holidays calendar.BlockedDateSet
	stop     []func()

	mu            sync.Mutex
	ownStale      bool
	visibleLoaded bool
	lastUsed      time.Time
}

func (ws *workspace) touch(now time.Time) {
	ws.mu.Lock()
	ws.lastUsed = now
	ws.mu.Unlock()
}

func (ws *workspace) idleSince() time.Time {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.lastUsed
}

// takeStale reports whether the own cache needs a refetch and clears the flag.
func (ws *workspace) takeStale() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	stale := ws.ownStale
	ws.ownStale = false
	return stale
}

func (ws *workspace) markStale() {
	ws.mu.Lock()
	ws.ownStale = true
	ws.mu.Unlock()
}

func (ws *workspace) setVisibleLoaded() {
	ws.mu.Lock()
	ws.visibleLoaded = true
	ws.mu.Unlock()
}

func (ws *workspace) hasVisible() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.visibleLoaded
}

func (ws *workspace) close() {
	for _, stop := range ws.stop {
		stop()
	}
}

// =============================================================================
// WORKSPACE REGISTRY
// =============================================================================

type workspaces struct {
	mu    sync.Mutex
	byKey map[string]*workspace
	loads singleflight.Group
}

func newWorkspaces() *workspaces {
	return &workspaces{byKey: make(map[string]*workspace)}
}

func (reg *workspaces) lookup(key string) (*workspace, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ws, ok := reg.byKey[key]
	return ws, ok
}

// put stores ws under key and closes any workspace it replaces.
func (reg *workspaces) put(key string, ws *workspace) {
	reg.mu.Lock()
	old := reg.byKey[key]
	reg.byKey[key] = ws
	reg.mu.Unlock()
	if old != nil && old != ws {
		old.close()
	}
}

// drop removes ws if it is still the one stored under key.
func (reg *workspaces) drop(key string, ws *workspace) {
	reg.mu.Lock()
	current := reg.byKey[key]
	if current == ws {
		delete(reg.byKey, key)
	}
	reg.mu.Unlock()
	if current == ws {
		ws.close()
	}
}

// markOwnStale flags the own cache of userID's workspace, if one exists.
func (reg *workspaces) markOwnStale(userID string) {
	if ws, ok := reg.lookup(userID); ok {
		ws.markStale()
	}
}

// flightKey separates concurrent builds for the same user with different
// claims.
func flightKey(s session.Session) string {
	return strings.Join([]string{
		s.Key(), s.Name, string(s.Role), s.DepartmentID, s.LocationID, strconv.Itoa(s.AnnualAllotment),
	}, "|")
}

// workspace returns the session's workspace, building it on first use.
// Concurrent first requests for one session share a single build; a failed
// build is not kept. A token with different claims for the same user
// replaces the workspace.
func (h *Handler) workspace(ctx context.Context, s session.Session) (*workspace, error) {
	now := h.now()
	h.evictIdle(now)

	reg := h.spaces
	key := s.Key()
	if ws, ok := reg.lookup(key); ok {
		if ws.session == s {
			ws.touch(now)
			return ws, nil
		}
		h.logger.Debug("session claims changed, rebuilding workspace", zap.String("user_id", s.UserID))
		reg.drop(key, ws)
	}

	v, err, _ := reg.loads.Do(flightKey(s), func() (any, error) {
		if ws, ok := reg.lookup(key); ok && ws.session == s {
			return ws, nil
		}
		ws, err := h.buildWorkspace(ctx, s)
		if err != nil {
			return nil, err
		}
		reg.put(key, ws)
		return ws, nil
	})
	if err != nil {
		return nil, err
	}
	ws := v.(*workspace)
	ws.touch(now)
	return ws, nil
}

func (h *Handler) buildWorkspace(ctx context.Context, s session.Session) (*workspace, error) {
	allotment := s.AnnualAllotment
	if allotment <= 0 {
		allotment = h.cfg.AnnualAllotment
	}
	logger := h.logger.With(zap.String("user_id", s.UserID))
	repo := leave.NewRepository(h.transport, allotment, logger)

	own, err := repo.FetchOwn(ctx)
	if err != nil {
		return nil, err
	}
	window := h.window(h.now())
	holidays, err := selection.LoadBlockedDates(ctx, h.holidays, s.LocationID, window, nil)
	if err != nil {
		return nil, err
	}

	ws := &workspace{repo: repo, session: s, window: window, holidays: holidays, lastUsed: h.now()}
	ws.ctrl = selection.New(repo, nil, selection.BlockedDates(holidays, own), logger)

	ws.stop = append(ws.stop,
		ws.ctrl.Watch(repo, func() calendar.BlockedDateSet {
			return selection.BlockedDates(ws.holidays, repo.Own())
		}),
		// A resolution changes the requester's balance, not the resolver's.
		repo.Subscribe(func(ev leave.ChangeEvent) {
			if ev.Kind == leave.ChangePatched && ev.Request != nil {
				h.spaces.markOwnStale(ev.Request.RequesterID)
			}
		}),
	)

	logger.Debug("workspace created",
		zap.Int("own_requests", len(own)),
		zap.Int("holidays", holidays.Len()),
	)
	return ws, nil
}

// evictIdle drops workspaces unused for longer than the idle TTL.
func (h *Handler) evictIdle(now time.Time) {
	if h.cfg.SessionIdleTTL <= 0 {
		return
	}
	reg := h.spaces
	var dropped []*workspace

	reg.mu.Lock()
	for key, ws := range reg.byKey {
		if now.Sub(ws.idleSince()) > h.cfg.SessionIdleTTL {
			delete(reg.byKey, key)
			dropped = append(dropped, ws)
		}
	}
	reg.mu.Unlock()

	for _, ws := range dropped {
		ws.close()
	}
	if len(dropped) > 0 {
		h.logger.Debug("evicted idle workspaces", zap.Int("count", len(dropped)))
	}
}

// defaultWindow covers the current and the following calendar year.
func defaultWindow(now time.Time) calendar.Range {
	y := now.Year()
	return calendar.NewRange(calendar.NewDate(y, time.January, 1), calendar.NewDate(y+1, time.December, 31))
}
