/*
Package selection holds the calendar selection state for one session.

STATES:
  Idle      no range held
  Selected  a fully selectable range is held with its working-day count

TRANSITIONS:
  Idle     --Select(ok)------------------> Selected
  Idle     --Select(not selectable)------> Idle      (widget cleared, error returned)
  Selected --Select(ok)------------------> Selected  (range replaced)
  Selected --Select(not selectable)------> Idle      (widget cleared, error returned)
  Selected --Cancel----------------------> Idle
  Selected --Submit(ok)------------------> Idle
  Selected --Submit(error)---------------> Selected  (error returned)
  Selected --UpdateBlocked(now blocked)--> Idle      (widget cleared)

WorkingDays on a held selection always equals calendar.CountWorkingDays over
the same range and blocked set. It is never set by the caller.
*/
package selection

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/warp/leave-portal/calendar"
	"github.com/warp/leave-portal/leave"
)

type State int

const (
	Idle State = iota
	Selected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selected:
		return "selected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Widget is the visual calendar the controller drives.
type Widget interface {
	ClearSelection()
}

// Submitter turns a held selection into a request. *leave.Repository
// satisfies it.
type Submitter interface {
	Create(ctx context.Context, sel leave.Selection, reason string) (leave.LeaveRequest, error)
}

// Notifier delivers repository change events. *leave.Repository satisfies it.
type Notifier interface {
	Subscribe(fn func(leave.ChangeEvent)) (unsubscribe func())
}

type noopWidget struct{}

func (noopWidget) ClearSelection() {}

// =============================================================================
// CONTROLLER
// =============================================================================

type Controller struct {
	submitter Submitter
	widget    Widget
	logger    *zap.Logger

	mu      sync.Mutex
	state   State
	current leave.Selection
	blocked calendar.BlockedDateSet
}

// New returns an Idle controller. widget may be nil.
func New(submitter Submitter, widget Widget, blocked calendar.BlockedDateSet, logger *zap.Logger) *Controller {
	if widget == nil {
		widget = noopWidget{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		submitter: submitter,
		widget:    widget,
		logger:    logger.Named("selection"),
		blocked:   blocked,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the held selection; ok is false while Idle.
func (c *Controller) Current() (sel leave.Selection, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Selected {
		return leave.Selection{}, false
	}
	return c.current, true
}

// Blocked returns the blocked-date set the controller validates against.
func (c *Controller) Blocked() calendar.BlockedDateSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked
}

// Select validates [start, end] and holds it if every day is a working day.
// A range touching a weekend or blocked date is rejected whole.
func (c *Controller) Select(start, end calendar.Date) (leave.Selection, error) {
	c.mu.Lock()
	if err := validateRange(start, end, c.blocked); err != nil {
		wasSelected := c.state == Selected
		c.toIdleLocked()
		c.mu.Unlock()

		c.logger.Debug("selection rejected",
			zap.Stringer("start", start),
			zap.Stringer("end", end),
			zap.Bool("dropped_previous", wasSelected),
			zap.Error(err),
		)
		c.widget.ClearSelection()
		return leave.Selection{}, err
	}

	sel := leave.Selection{
		Start:       start,
		End:         end,
		WorkingDays: calendar.CountWorkingDays(start, end, c.blocked),
	}
	c.state = Selected
	c.current = sel
	c.mu.Unlock()

	c.logger.Debug("selection held",
		zap.Stringer("start", start),
		zap.Stringer("end", end),
		zap.Int("working_days", sel.WorkingDays),
	)
	return sel, nil
}

// Cancel drops any held selection.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.toIdleLocked()
	c.mu.Unlock()
}

// Submit hands the held selection to the submitter. Success returns to Idle;
// failure keeps the selection so the user can retry or cancel.
func (c *Controller) Submit(ctx context.Context, reason string) (leave.LeaveRequest, error) {
	sel, ok := c.Current()
	if !ok {
		return leave.LeaveRequest{}, &leave.EmptySelectionError{}
	}

	created, err := c.submitter.Create(ctx, sel, reason)
	if err != nil {
		return leave.LeaveRequest{}, err
	}

	// The submitter may already have pushed us to Idle through a change
	// event; only clear if we still hold the same range.
	c.mu.Lock()
	cleared := c.state == Selected && c.current == sel
	if cleared {
		c.toIdleLocked()
	}
	c.mu.Unlock()
	if cleared {
		c.widget.ClearSelection()
	}

	c.logger.Info("selection submitted",
		zap.String("request_id", created.ID),
		zap.Int("working_days", sel.WorkingDays),
	)
	return created, nil
}

// UpdateBlocked replaces the blocked set. A held selection that is no longer
// selectable is dropped; the return value reports whether that happened.
func (c *Controller) UpdateBlocked(blocked calendar.BlockedDateSet) (dropped bool) {
	c.mu.Lock()
	c.blocked = blocked
	if c.state == Selected && !calendar.IsRangeSelectable(c.current.Start, c.current.End, blocked) {
		c.toIdleLocked()
		dropped = true
	}
	c.mu.Unlock()

	if dropped {
		c.logger.Debug("held selection invalidated by blocked dates")
		c.widget.ClearSelection()
	}
	return dropped
}

// Watch recomputes the blocked set on every repository change. rebuild is
// called outside the controller lock. The returned function stops watching.
func (c *Controller) Watch(n Notifier, rebuild func() calendar.BlockedDateSet) (stop func()) {
	return n.Subscribe(func(leave.ChangeEvent) {
		c.UpdateBlocked(rebuild())
	})
}

func (c *Controller) toIdleLocked() {
	c.state = Idle
	c.current = leave.Selection{}
}

func validateRange(start, end calendar.Date, blocked calendar.BlockedDateSet) error {
	if start.IsZero() || end.IsZero() {
		return &leave.ValidationError{Field: "range", Message: "start and end dates are required"}
	}
	if end.Before(start) {
		return &leave.ValidationError{Field: "range", Message: fmt.Sprintf("end date %s is before start date %s", end, start)}
	}
	if day, found := calendar.FirstBlocked(start, end, blocked); found {
		what := "a holiday or existing leave"
		if day.IsWeekend() {
			what = "a weekend"
		}
		return &leave.ValidationError{Field: "range", Message: fmt.Sprintf("%s is %s; the whole range must be working days", day, what)}
	}
	return nil
}
