package ctl

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
	"time"

	"github.com/failsafe-go/failsafe-go"

	"aggronation/internal/events"
	"aggronation/internal/models"
	"aggronation/internal/scheduler"
	"aggronation/internal/trigger"
	"aggronation/pkg/clients"
)

// APIError is a non-2xx answer from the ingestor.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ingestor returned %d", e.StatusCode)
	}
	return fmt.Sprintf("ingestor returned %d: %s", e.StatusCode, e.Message)
}

// SchedulerState is the admin view of armed timers.
type SchedulerState struct {
	Running     bool                `json:"running"`
	Started     bool                `json:"started,omitempty"`
	Sources     []scheduler.State   `json:"sources"`
	SourceTypes []models.SourceType `json:"source_types,omitempty"`
}

// Client talks to the ingestor HTTP API. Reads are retried; the trigger and
// admin mutations are sent once.
type Client struct {
	baseURL  string
	http     *http.Client
	executor failsafe.Executor[*http.Response]
}

func NewClient(baseURL string, timeout time.Duration, retry clients.HTTPRetryConfig) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		executor: clients.NewHTTPExecutor(retry),
	}
}

func (c *Client) Trigger(ctx context.Context, token, sourceID string) (trigger.Response, error) {
	path := "/api/ingest/trigger"
	if sourceID != "" {
		path += "?source=" + url.QueryEscape(sourceID)
	}
	var out trigger.Response
	err := c.do(ctx, http.MethodPost, path, map[string]string{"X-Ingest-Token": token}, false, &out)
	return out, err
}

func (c *Client) RecentEvents(ctx context.Context, limit int) ([]events.Event, error) {
	var out struct {
		Events []events.Event `json:"events"`
	}
	path := "/api/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, true, &out)
	return out.Events, err
}

func (c *Client) Sources(ctx context.Context) ([]models.Source, error) {
	var out struct {
		Sources []models.Source `json:"sources"`
	}
	err := c.do(ctx, http.MethodGet, "/api/sources/health", nil, true, &out)
	return out.Sources, err
}

func (c *Client) SchedulerState(ctx context.Context, adminToken string) (SchedulerState, error) {
	var out SchedulerState
	err := c.do(ctx, http.MethodGet, "/api/admin/scheduler", bearer(adminToken), true, &out)
	return out, err
}

func (c *Client) Reschedule(ctx context.Context, adminToken string) (SchedulerState, error) {
	var out SchedulerState
	err := c.do(ctx, http.MethodPost, "/api/admin/scheduler/reschedule", bearer(adminToken), false, &out)
	return out, err
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, retry bool, out interface{}) error {
	send := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	}

	var (
		resp *http.Response
		err  error
	)
	if retry {
		resp, err = clients.ExecuteHTTP(ctx, c.executor, send)
	} else {
		resp, err = send()
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
