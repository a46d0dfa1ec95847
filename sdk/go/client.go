package adjudicatorsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal client for the read-only Adjudicator dashboard API.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Session is the per-task verdict summary.
type Session struct {
	TaskID        string `json:"task_id"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Profile       string `json:"profile"`
	GateType      string `json:"gate_type,omitempty"`
	UnitsClaimed  int    `json:"units_claimed"`
	UnitsVerified int    `json:"units_verified"`
	ChecksTotal   int    `json:"checks_total"`
	ChecksFailed  int    `json:"checks_failed"`
	UpdatedAt     string `json:"updated_at"`
}

// Unit is one normalized unit record.
type Unit struct {
	TaskID    string `json:"task_id"`
	UnitID    string `json:"unit_id"`
	UnitType  string `json:"unit_type"`
	Claimed   bool   `json:"claimed"`
	Verified  bool   `json:"verified"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Units wraps the unit listing with its counters.
type Units struct {
	TaskID   string `json:"task_id"`
	Items    []Unit `json:"items"`
	Claimed  int    `json:"claimed"`
	Verified int    `json:"verified"`
}

type Metric struct {
	TaskID    string  `json:"task_id"`
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	CreatedAt string  `json:"created_at"`
}

// Event represents an audit log entry.
type Event struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts"`
	Type     string         `json:"type"`
	TaskID   string         `json:"task_id"`
	EntityID string         `json:"entity_id"`
	ActorID  string         `json:"actor_id"`
	Payload  map[string]any `json:"payload"`
}

// Summary counts sessions per verdict status.
type Summary struct {
	Sessions map[string]int `json:"sessions"`
	Total    int            `json:"total"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedSessions wraps session listings with cursors.
type PaginatedSessions struct {
	Items      []Session `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// SessionQuery filters a session listing.
type SessionQuery struct {
	Status string
	Type   string
	Limit  int
	Cursor string
}

// Sessions returns one page of sessions, most recently updated first.
func (c *Client) Sessions(ctx context.Context, q SessionQuery) (PaginatedSessions, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	var resp PaginatedSessions
	err := c.do(ctx, withQuery("v0/sessions", params), &resp)
	return resp, err
}

// Session fetches the verdict summary for a task.
func (c *Client) Session(ctx context.Context, taskID string) (Session, error) {
	var resp Session
	err := c.do(ctx, taskPath(taskID, "session"), &resp)
	return resp, err
}

// Units lists the unit records stored for a task.
func (c *Client) Units(ctx context.Context, taskID string) (Units, error) {
	var resp Units
	err := c.do(ctx, taskPath(taskID, "units"), &resp)
	return resp, err
}

// Metrics returns the latest value of each metric, or the history of key when set.
func (c *Client) Metrics(ctx context.Context, taskID, key string) ([]Metric, error) {
	params := url.Values{}
	if key != "" {
		params.Set("key", key)
	}
	var resp struct {
		Items []Metric `json:"items"`
	}
	err := c.do(ctx, withQuery(taskPath(taskID, "metrics"), params), &resp)
	return resp.Items, err
}

// EventsPage returns a paginated event listing for a task.
func (c *Client) EventsPage(ctx context.Context, taskID, eventType string, limit int, cursor string) (PaginatedEvents, error) {
	params := url.Values{}
	if eventType != "" {
		params.Set("type", eventType)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, withQuery(taskPath(taskID, "events"), params), &resp)
	return resp, err
}

// Summary returns session counts by status.
func (c *Client) Summary(ctx context.Context) (Summary, error) {
	var resp Summary
	err := c.do(ctx, "v0/summary", &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func taskPath(taskID, p string) string {
	return fmt.Sprintf("v0/tasks/%s/%s", url.PathEscape(taskID), p)
}

func withQuery(endpoint string, params url.Values) string {
	if len(params) == 0 {
		return endpoint
	}
	return endpoint + "?" + params.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
