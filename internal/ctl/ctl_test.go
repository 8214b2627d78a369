package ctl

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"aggronation/internal/events"
	"aggronation/internal/models"
	"aggronation/internal/orchestrator"
	"aggronation/internal/scheduler"
	"aggronation/internal/trigger"
	"aggronation/pkg/clients"
)

type fakeIngestor struct {
	eventCalls atomic.Int32
	failEvents int32
	lastToken  string
	lastSource string
}

func (f *fakeIngestor) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ingest/trigger", func(w http.ResponseWriter, r *http.Request) {
		f.lastToken = r.Header.Get("X-Ingest-Token")
		f.lastSource = r.URL.Query().Get("source")
		if f.lastToken != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		_ = json.NewEncoder(w).Encode(trigger.Response{
			Results: []trigger.Result{
				{SourceID: "s1", SourceName: "alpha", Success: true, Status: orchestrator.StatusSuccess, Items: 3},
				{SourceID: "s2", SourceName: "beta", Status: orchestrator.StatusFetchError, Error: "timeout"},
			},
			Summary: trigger.Summary{TotalSources: 2, Succeeded: 1, Failed: 1, TotalItems: 3, DurationMs: 12},
		})
	})
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		if f.eventCalls.Add(1) <= f.failEvents {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"events": []events.Event{{ID: "e1", Type: events.TypeIngestion, Action: events.ActionCompleted, SourceID: "s1", Timestamp: time.Unix(0, 0).UTC()}},
		})
	})
	mux.HandleFunc("/api/sources/health", func(w http.ResponseWriter, r *http.Request) {
		msg := "boom"
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"sources": []models.Source{{ID: "s2", Name: "beta", Type: models.SourceTypeFeed, FetchIntervalMinutes: 30,
				Health: models.SourceHealth{LastError: &msg, ConsecutiveErrors: 4}}},
		})
	})
	mux.HandleFunc("/api/admin/scheduler/reschedule", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer adm" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(SchedulerState{
			Running:     true,
			Started:     true,
			Sources:     []scheduler.State{{SourceID: "s1", SourceName: "alpha", Interval: 5 * time.Minute}},
			SourceTypes: []models.SourceType{models.SourceTypeFeed},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(clients.HTTPRetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTriggerCommand(t *testing.T) {
	f := &fakeIngestor{}
	srv := f.server(t)

	out, err := run(t, "trigger", "--url", srv.URL, "--token", "good", "--source", "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.lastSource != "s1" {
		t.Fatalf("expected source s1, got %q", f.lastSource)
	}
	for _, want := range []string{"alpha", "fetch_error", "timeout", "2 sources: 1 ok, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTriggerCommandUnauthorized(t *testing.T) {
	f := &fakeIngestor{}
	srv := f.server(t)

	_, err := run(t, "trigger", "--url", srv.URL, "--token", "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "unauthorized" {
		t.Fatalf("expected 401 APIError, got %v", err)
	}

	if _, err := run(t, "trigger", "--url", srv.URL, "--token", ""); err == nil {
		t.Fatal("expected error without a token")
	}
}

func TestEventsCommandRetriesUnavailable(t *testing.T) {
	f := &fakeIngestor{failEvents: 2}
	srv := f.server(t)

	out, err := run(t, "events", "--url", srv.URL, "--output", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.eventCalls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.eventCalls.Load())
	}
	var list []events.Event
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(list) != 1 || list[0].ID != "e1" {
		t.Fatalf("unexpected events %+v", list)
	}
}

func TestSourcesCommand(t *testing.T) {
	f := &fakeIngestor{}
	srv := f.server(t)

	out, err := run(t, "sources", "--url", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"beta", "30m", "boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRescheduleCommand(t *testing.T) {
	f := &fakeIngestor{}
	srv := f.server(t)

	out, err := run(t, "reschedule", "--url", srv.URL, "--admin-token", "adm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "alpha (s1) every 5m0s") || !strings.Contains(out, "has been started") || !strings.Contains(out, "Adapters: feed") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	if _, err := run(t, "reschedule", "--url", srv.URL, "--admin-token", "nope"); err == nil {
		t.Fatal("expected error with wrong admin token")
	}
}

func TestInvalidOutputFlag(t *testing.T) {
	if _, err := run(t, "version", "--output", "yaml"); err == nil {
		t.Fatal("expected error for unknown output format")
	}
	out, err := run(t, "version")
	if err != nil || !strings.HasPrefix(out, "aggroctl ") {
		t.Fatalf("unexpected version output %q (%v)", out, err)
	}
}
