/*
client.go - HTTP client for the leave backend

PURPOSE:
  Implements leave.Transport and calendar.HolidaySource over the backend's
  REST API. Every call carries the caller's bearer token and a fresh
  X-Request-ID.

ERROR MAPPING:
  dial / timeout / cancelled / body read  -> *leave.NetworkError
  400, 422                                -> *leave.ValidationError (Remote)
  409                                     -> *leave.StateConflictError
  any other non-2xx                       -> *leave.ServerError
  2xx with an undecodable body            -> *leave.ServerError (StatusCode 0)

  The server message is taken from a JSON body {"error": ...} or
  {"message": ...} when present.

  The client never retries.
*/
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-portal/calendar"
	"github.com/warp/leave-portal/leave"
)

const (
	HeaderRequestID = "X-Request-ID"

	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

// TokenSource supplies the bearer token for a call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Config struct {
	BaseURL string
	Timeout time.Duration // 0 = 15s
	// HTTPClient overrides the default client; Timeout is then ignored.
	HTTPClient *http.Client
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

var (
	_ leave.Transport        = (*Client)(nil)
	_ calendar.HolidaySource = (*Client)(nil)
)

func New(cfg Config, tokens TokenSource, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", cfg.BaseURL)
	}
	if tokens == nil {
		return nil, errors.New("token source is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: base,
		http:    hc,
		tokens:  tokens,
		logger:  logger.Named("transport.client"),
	}, nil
}

// =============================================================================
// leave.Transport
// =============================================================================

func (c *Client) FetchOwn(ctx context.Context) ([]leave.LeaveRequest, error) {
	const op = "fetch own requests"
	body, err := c.do(ctx, op, http.MethodGet, "/vacation-requests/my-requests", nil, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeList(op, body)
}

func (c *Client) FetchAll(ctx context.Context) ([]leave.LeaveRequest, error) {
	const op = "fetch all requests"
	body, err := c.do(ctx, op, http.MethodGet, "/vacation-requests", nil, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeList(op, body)
}

func (c *Client) Create(ctx context.Context, req leave.NewRequest) (leave.LeaveRequest, error) {
	const op = "create request"
	body, err := c.do(ctx, op, http.MethodPost, "/vacation-requests", nil, CreateBody{
		StartDate:     req.StartDate.String(),
		EndDate:       req.EndDate.String(),
		RequestedDays: req.RequestedDays,
		Comments:      req.Reason,
	})
	if err != nil {
		return leave.LeaveRequest{}, err
	}
	return c.decodeOne(op, body)
}

func (c *Client) Approve(ctx context.Context, id, comment string) (leave.LeaveRequest, error) {
	const op = "approve request"
	body, err := c.do(ctx, op, http.MethodPut, "/vacation-requests/"+url.PathEscape(id)+"/approve", nil, ApproveBody{Comments: comment})
	if err != nil {
		return leave.LeaveRequest{}, withRequestID(err, id)
	}
	return c.decodeOne(op, body)
}

func (c *Client) Reject(ctx context.Context, id, comment string) (leave.LeaveRequest, error) {
	const op = "reject request"
	body, err := c.do(ctx, op, http.MethodPut, "/vacation-requests/"+url.PathEscape(id)+"/reject", nil, RejectBody{Reason: comment})
	if err != nil {
		return leave.LeaveRequest{}, withRequestID(err, id)
	}
	return c.decodeOne(op, body)
}

// =============================================================================
// calendar.HolidaySource
// =============================================================================

func (c *Client) ListHolidays(ctx context.Context, locationID string) ([]calendar.Holiday, error) {
	const op = "list holidays"
	q := url.Values{}
	if locationID != "" {
		q.Set("location_id", locationID)
	}
	body, err := c.do(ctx, op, http.MethodGet, "/holidays", q, nil)
	if err != nil {
		return nil, err
	}
	var ws []WireHoliday
	if err := decodeStrict(body, &ws); err != nil {
		return nil, c.decodeError(op, err)
	}
	out := make([]calendar.Holiday, 0, len(ws))
	for _, w := range ws {
		h, err := w.ToModel()
		if err != nil {
			return nil, c.decodeError(op, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// =============================================================================
// ROUND TRIP
// =============================================================================

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload any) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &leave.ServerError{Op: op, StatusCode: http.StatusUnauthorized, Message: "no session token: " + err.Error()}
	}

	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding body: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(HeaderRequestID, requestID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend call failed",
			zap.String("op", op),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, &leave.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &leave.NetworkError{Op: op, Err: fmt.Errorf("reading response body: %w", err)}
	}

	c.logger.Debug("backend call",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(op, resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) decodeList(op string, body []byte) ([]leave.LeaveRequest, error) {
	requests, err := DecodeRequests(body)
	if err != nil {
		return nil, c.decodeError(op, err)
	}
	return requests, nil
}

func (c *Client) decodeOne(op string, body []byte) (leave.LeaveRequest, error) {
	r, err := DecodeRequest(body)
	if err != nil {
		return leave.LeaveRequest{}, c.decodeError(op, err)
	}
	return r, nil
}

func (c *Client) decodeError(op string, err error) error {
	c.logger.Error("undecodable backend response", zap.String("op", op), zap.Error(err))
	return &leave.ServerError{Op: op, Message: "decoding response: " + err.Error()}
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(op string, status int, body []byte) error {
	msg := serverMessage(body)
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &leave.ValidationError{Message: msg, Remote: true}
	case http.StatusConflict:
		return &leave.StateConflictError{Message: msg}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &leave.ServerError{Op: op, StatusCode: status, Message: msg}
}

func serverMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}

func withRequestID(err error, id string) error {
	var conflict *leave.StateConflictError
	if errors.As(err, &conflict) && conflict.RequestID == "" {
		conflict.RequestID = id
	}
	return err
}
