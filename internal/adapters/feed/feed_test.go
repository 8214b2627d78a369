package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aggronation/internal/models"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example</title>
  <link>https://example.com</link>
  <description>fixture</description>
  <item>
    <title>First</title>
    <link>https://example.com/1</link>
    <guid>urn:item:1</guid>
    <description>First item body</description>
    <category>go</category>
    <pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Second</title>
    <link>https://example.com/2</link>
    <description>Second item body</description>
  </item>
  <item>
    <title>No identity</title>
    <description>dropped</description>
  </item>
  <item>
    <title>Third</title>
    <guid>urn:item:3</guid>
  </item>
</channel>
</rss>`

func newFeedServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("expected a user agent")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchConvertsItems(t *testing.T) {
	srv := newFeedServer(t, http.StatusOK, rssFixture)
	a := New(Config{Client: srv.Client()})

	items, err := a.Fetch(context.Background(), models.Source{URL: srv.URL, MaxItemsPerCycle: 10})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items (one without identity skipped), got %d", len(items))
	}

	first := items[0]
	if first.ExternalID != "urn:item:1" || first.Title != "First" || first.Excerpt != "First item body" {
		t.Fatalf("unexpected first item %+v", first)
	}
	if len(first.Tags) != 1 || first.Tags[0] != "go" {
		t.Fatalf("expected categories as tags, got %v", first.Tags)
	}
	if first.PublishedAt.Year() != 2026 || first.PublishedAt.Month() != time.March || first.PublishedAt.Day() != 2 {
		t.Fatalf("unexpected published time %v", first.PublishedAt)
	}

	if items[1].ExternalID != "https://example.com/2" {
		t.Fatalf("expected link fallback for external id, got %q", items[1].ExternalID)
	}
	if !items[1].PublishedAt.IsZero() {
		t.Fatalf("expected zero published time when the entry has no date, got %v", items[1].PublishedAt)
	}
	if items[2].ExternalID != "urn:item:3" {
		t.Fatalf("unexpected third item %+v", items[2])
	}
}

func TestFetchUndatedEntryIsStableAcrossFetches(t *testing.T) {
	srv := newFeedServer(t, http.StatusOK, rssFixture)
	a := New(Config{Client: srv.Client()})

	first, err := a.Fetch(context.Background(), models.Source{URL: srv.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := a.Fetch(context.Background(), models.Source{URL: srv.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !first[1].PublishedAt.Equal(second[1].PublishedAt) {
		t.Fatalf("undated entry moved between fetches: %v then %v", first[1].PublishedAt, second[1].PublishedAt)
	}
}

func TestFetchHonoursMaxItems(t *testing.T) {
	srv := newFeedServer(t, http.StatusOK, rssFixture)
	a := New(Config{Client: srv.Client()})

	items, err := a.Fetch(context.Background(), models.Source{URL: srv.URL, MaxItemsPerCycle: 1})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := newFeedServer(t, http.StatusBadGateway, "")
	a := New(Config{Client: srv.Client()})

	_, err := a.Fetch(context.Background(), models.Source{URL: srv.URL, MaxItemsPerCycle: 5})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected HTTP error, got %v", err)
	}
}

func TestFetchParseError(t *testing.T) {
	srv := newFeedServer(t, http.StatusOK, "definitely not a feed")
	a := New(Config{Client: srv.Client()})

	if _, err := a.Fetch(context.Background(), models.Source{URL: srv.URL, MaxItemsPerCycle: 5}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo world", 8); got != "héllo..." {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncation %q", got)
	}
}
