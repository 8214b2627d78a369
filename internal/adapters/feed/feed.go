// Package feed fetches RSS and Atom sources with gofeed.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"aggronation/internal/models"
)

const (
	defaultUserAgent  = "aggronation-ingestor/1.0"
	defaultExcerptLen = 500
)

type Config struct {
	Client     *http.Client
	UserAgent  string
	ExcerptLen int
}

// Adapter implements adapters.Adapter for feed sources.
type Adapter struct {
	client     *http.Client
	userAgent  string
	excerptLen int
}

func New(cfg Config) *Adapter {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.ExcerptLen <= 0 {
		cfg.ExcerptLen = defaultExcerptLen
	}
	return &Adapter{client: cfg.Client, userAgent: cfg.UserAgent, excerptLen: cfg.ExcerptLen}
}

// Fetch downloads and parses the feed, returning at most
// src.MaxItemsPerCycle items. Entries without a GUID or link are skipped.
func (a *Adapter) Fetch(ctx context.Context, src models.Source) ([]models.CanonicalItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	limit := src.MaxItemsPerCycle
	if limit <= 0 || limit > models.MaxItemsPerCycle {
		limit = models.MaxItemsPerCycle
	}

	items := make([]models.CanonicalItem, 0, min(limit, len(parsed.Items)))
	for _, entry := range parsed.Items {
		if len(items) >= limit {
			break
		}
		item, ok := a.convert(entry)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// convert maps one entry. An entry without a published or updated date keeps
// a zero PublishedAt so repeated fetches do not move it.
func (a *Adapter) convert(entry *gofeed.Item) (models.CanonicalItem, bool) {
	externalID := strings.TrimSpace(entry.GUID)
	if externalID == "" {
		externalID = strings.TrimSpace(entry.Link)
	}
	if externalID == "" {
		return models.CanonicalItem{}, false
	}

	var published time.Time
	if entry.PublishedParsed != nil {
		published = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		published = *entry.UpdatedParsed
	}

	author := ""
	if entry.Author != nil {
		author = entry.Author.Name
	} else if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		author = entry.Authors[0].Name
	}

	excerpt := entry.Description
	if excerpt == "" {
		excerpt = entry.Content
	}

	return models.CanonicalItem{
		ExternalID:  externalID,
		Title:       strings.TrimSpace(entry.Title),
		Excerpt:     truncate(strings.TrimSpace(excerpt), a.excerptLen),
		URL:         entry.Link,
		Author:      author,
		PublishedAt: published.UTC(),
		Tags:        append([]string{}, entry.Categories...),
	}, true
}

// truncate shortens s to maxLen runes, adding "..." when cut.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
