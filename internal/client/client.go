// Package client is the consumer side of the notifications API: a typed HTTP
// client, an SSE reader and a reactive notification cache.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-notifications-nosql/internal/domain"
)

// APIError is a non-2xx response. It unwraps to the matching domain sentinel
// so callers can use errors.Is(err, domain.ErrNotFound).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notifications api: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return domain.ErrBadRequest
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrConflict
	case http.StatusServiceUnavailable:
		return domain.ErrUnavailable
	}
	return nil
}

// Client calls the /v1/notifications surface as one authenticated user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient. The stream needs a client
// without an overall Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: http.DefaultClient}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Create(ctx context.Context, req domain.CreateNotificationRequest) (*domain.Notification, error) {
	var env struct {
		Data domain.Notification `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/notifications", req, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *Client) List(ctx context.Context, q domain.ListQuery) (*domain.NotificationPage, error) {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Type != "" {
		v.Set("type", string(q.Type))
	}
	path := "/v1/notifications"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var page domain.NotificationPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) UnreadCount(ctx context.Context) (*domain.UnreadCount, error) {
	var out domain.UnreadCount
	if err := c.do(ctx, http.MethodGet, "/v1/notifications/unread-count", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkRead(ctx context.Context, notificationID string) (*domain.ReadReceipt, error) {
	var env struct {
		Data domain.ReadReceipt `json:"data"`
	}
	body := domain.MarkReadRequest{NotificationID: notificationID}
	if err := c.do(ctx, http.MethodPatch, "/v1/notifications/mark-read", body, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// MarkAllRead returns the number of receipts the server wrote.
func (c *Client) MarkAllRead(ctx context.Context) (int, error) {
	var env struct {
		Marked int `json:"marked"`
	}
	if err := c.do(ctx, http.MethodPatch, "/v1/notifications/mark-all-read", nil, &env); err != nil {
		return 0, err
	}
	return env.Marked, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	var env struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env)
	if env.Error == "" {
		env.Error = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: env.Error}
}
