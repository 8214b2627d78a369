package models

import "time"

const (
	DefaultRating      = 0.5
	DefaultBaseScore   = 0.0
	DefaultDecayFactor = 1.0
)

// Engagement holds raw counts as reported by the origin.
type Engagement struct {
	Upvotes  int64 `json:"upvotes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
	Views    int64 `json:"views"`
}

// CanonicalItem is what an adapter returns for one piece of content.
type CanonicalItem struct {
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Excerpt     string     `json:"excerpt"`
	URL         string     `json:"url"`
	Author      string     `json:"author"`
	PublishedAt time.Time  `json:"published_at"`
	Tags        []string   `json:"tags"`
	Engagement  Engagement `json:"engagement"`
}

// ContentFields are the ingestion-owned fields replaced on every upsert.
type ContentFields struct {
	SourceType  SourceType `json:"source_type"`
	Title       string     `json:"title"`
	Excerpt     string     `json:"excerpt"`
	URL         string     `json:"url"`
	Author      string     `json:"author"`
	PublishedAt time.Time  `json:"published_at"`
	Tags        []string   `json:"tags"`
	Engagement  Engagement `json:"engagement"`
}

// FieldsFor builds upsert fields from an adapter item. Source tags are
// appended to the item's own tags without duplicates.
func FieldsFor(src *Source, item CanonicalItem) ContentFields {
	return ContentFields{
		SourceType:  src.Type,
		Title:       item.Title,
		Excerpt:     item.Excerpt,
		URL:         item.URL,
		Author:      item.Author,
		PublishedAt: item.PublishedAt,
		Tags:        MergeTags(item.Tags, src.Tags),
		Engagement:  item.Engagement,
	}
}

// MergeTags returns a followed by the entries of b not already present.
func MergeTags(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, tag := range list {
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}

// ContentMetrics is the engagement snapshot plus the computed rating in [0,1].
type ContentMetrics struct {
	Engagement
	Rating float64 `json:"rating"`
}

// RatingData is consumed by the rating batch job; ingestion only initialises it.
type RatingData struct {
	BaseScore      float64   `json:"base_score"`
	DecayFactor    float64   `json:"decay_factor"`
	LastCalculated time.Time `json:"last_calculated"`
}

// ContentItem is one stored, deduplicated piece of content.
type ContentItem struct {
	ID          string         `json:"id"`
	SourceID    string         `json:"source_id"`
	SourceType  SourceType     `json:"source_type"`
	ExternalID  string         `json:"external_id"`
	Title       string         `json:"title"`
	Excerpt     string         `json:"excerpt"`
	URL         string         `json:"url"`
	Author      string         `json:"author"`
	PublishedAt time.Time      `json:"published_at"`
	Tags        []string       `json:"tags"`
	Metrics     ContentMetrics `json:"metrics"`
	RatingData  RatingData     `json:"rating_data"`
	Featured    bool           `json:"featured"`
	Archived    bool           `json:"archived"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewContentItem builds a fresh record with creation defaults.
func NewContentItem(id, sourceID, externalID string, f ContentFields, now time.Time) ContentItem {
	item := ContentItem{
		ID:         id,
		SourceID:   sourceID,
		ExternalID: externalID,
		Metrics:    ContentMetrics{Rating: DefaultRating},
		RatingData: RatingData{
			BaseScore:      DefaultBaseScore,
			DecayFactor:    DefaultDecayFactor,
			LastCalculated: now,
		},
		CreatedAt: now,
	}
	item.Replace(f, now)
	return item
}

// Replace overwrites the ingestion-owned fields. Identity, featured, archived,
// rating and rating data are left alone.
func (c *ContentItem) Replace(f ContentFields, now time.Time) {
	c.SourceType = f.SourceType
	c.Title = f.Title
	c.Excerpt = f.Excerpt
	c.URL = f.URL
	c.Author = f.Author
	c.PublishedAt = f.PublishedAt
	c.Tags = append([]string{}, f.Tags...)
	c.Metrics.Engagement = f.Engagement
	c.UpdatedAt = now
}

// Fields returns the ingestion-owned part of the item.
func (c *ContentItem) Fields() ContentFields {
	return ContentFields{
		SourceType:  c.SourceType,
		Title:       c.Title,
		Excerpt:     c.Excerpt,
		URL:         c.URL,
		Author:      c.Author,
		PublishedAt: c.PublishedAt,
		Tags:        append([]string{}, c.Tags...),
		Engagement:  c.Metrics.Engagement,
	}
}
