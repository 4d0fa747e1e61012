/*
errors.go - Error taxonomy for the leave engine

PURPOSE:
  Every failure the engine reports is one of a small, closed set so the host
  can render a precise message without inspecting transport details.

ERROR CATEGORIES:
  Local (no network call was made):
    - ValidationError:          bad input (blank rejection comment, bad range)
    - EmptySelectionError:      nothing selected or zero working days
    - InsufficientBalanceError: more working days than available
  Remote (a round trip failed):
    - NetworkError:       dial, timeout, connection reset, unreadable body
    - ServerError:        non-2xx without a more specific mapping, or a
                          response that fails to decode
    - StateConflictError: the backend says the request is no longer pending
    - ValidationError:    the backend rejected the input (Remote = true)

USAGE:
  var insufficient *leave.InsufficientBalanceError
  if errors.As(err, &insufficient) {
      fmt.Printf("need %d, have %d\n", insufficient.Requested, insufficient.Available)
  }
  if errors.Is(err, leave.ErrNetwork) { ... }
*/
package leave

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrEmptySelection      = errors.New("empty selection")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNetwork             = errors.New("network error")
	ErrServer              = errors.New("server error")
	ErrStateConflict       = errors.New("request is no longer pending")
	ErrRequestNotFound     = errors.New("request not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError is raised locally before any network call, or mapped from a
// 400/422 response (Remote = true).
type ValidationError struct {
	Field   string
	Message string
	Remote  bool
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// EmptySelectionError means nothing bookable was selected. It is also a
// validation failure.
type EmptySelectionError struct {
	WorkingDays int
}

func (e *EmptySelectionError) Error() string {
	return fmt.Sprintf("empty selection: %d working days selected", e.WorkingDays)
}

func (e *EmptySelectionError) Unwrap() []error { return []error{ErrEmptySelection, ErrValidation} }

// InsufficientBalanceError carries both counts so the caller can render them.
type InsufficientBalanceError struct {
	Requested int
	Available int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %d days, available %d", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// NetworkError wraps a failed round trip. Timeouts land here too.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// ServerError is a response the client could not use.
type ServerError struct {
	Op         string
	StatusCode int // 0 when the response body failed to decode
	Message    string
}

func (e *ServerError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: server error: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: server error (%d): %s", e.Op, e.StatusCode, e.Message)
}

func (e *ServerError) Unwrap() error { return ErrServer }

// StateConflictError means the request was already resolved, locally known or
// reported by the backend. Callers should refresh.
type StateConflictError struct {
	RequestID string
	Status    Status // last known status, empty if unknown
	Message   string
}

func (e *StateConflictError) Error() string {
	msg := fmt.Sprintf("request %s is no longer pending", e.RequestID)
	if e.Status != "" {
		msg += fmt.Sprintf(" (status %s)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports failures caused by the caller's input or stale view.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrRequestNotFound)
}

// IsRetryable reports failures that might succeed if the user tries again.
// The engine itself never retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Message returns the server-supplied or local message for display.
func Message(err error) string {
	var (
		validation *ValidationError
		server     *ServerError
		conflict   *StateConflictError
	)
	switch {
	case errors.As(err, &validation):
		return validation.Message
	case errors.As(err, &server) && server.Message != "":
		return server.Message
	case errors.As(err, &conflict) && conflict.Message != "":
		return conflict.Message
	case err != nil:
		return err.Error()
	}
	return ""
}
