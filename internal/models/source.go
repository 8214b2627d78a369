package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SourceType is the closed set of origin kinds an adapter can be registered for.
type SourceType string

const (
	SourceTypeFeed    SourceType = "feed"
	SourceTypeForum   SourceType = "forum"
	SourceTypeChannel SourceType = "channel"
	SourceTypeSocial  SourceType = "social"
)

// SourceTypes lists every known type tag.
var SourceTypes = []SourceType{SourceTypeFeed, SourceTypeForum, SourceTypeChannel, SourceTypeSocial}

func (t SourceType) Valid() bool {
	for _, known := range SourceTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Priority is advisory only; it never preempts another source's schedule.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

const (
	MinFetchIntervalMinutes = 5
	MaxFetchIntervalMinutes = 1440
	MinItemsPerCycle        = 1
	MaxItemsPerCycle        = 200

	DefaultFetchIntervalMinutes = 60
	DefaultMaxItemsPerCycle     = 50
)

// ErrInvalidSource wraps every validation failure.
var ErrInvalidSource = errors.New("invalid source")

// SourceHealth is the mutable fetch bookkeeping attached to a Source.
type SourceHealth struct {
	LastFetched       *time.Time `json:"last_fetched,omitempty"`
	LastError         *string    `json:"last_error,omitempty"`
	TotalFetched      int64      `json:"total_fetched"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
}

// Source is a configured origin of content.
type Source struct {
	ID                   string       `json:"id"`
	Type                 SourceType   `json:"type"`
	Name                 string       `json:"name"`
	URL                  string       `json:"url"`
	Enabled              bool         `json:"enabled"`
	FetchIntervalMinutes int          `json:"fetch_interval_minutes"`
	Priority             Priority     `json:"priority"`
	MaxItemsPerCycle     int          `json:"max_items_per_cycle"`
	Tags                 []string     `json:"tags"`
	Health               SourceHealth `json:"health"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Interval returns the fetch interval as a duration.
func (s *Source) Interval() time.Duration {
	return time.Duration(s.FetchIntervalMinutes) * time.Minute
}

// ApplyDefaults fills zero-valued optional fields.
func (s *Source) ApplyDefaults() {
	if s.FetchIntervalMinutes == 0 {
		s.FetchIntervalMinutes = DefaultFetchIntervalMinutes
	}
	if s.MaxItemsPerCycle == 0 {
		s.MaxItemsPerCycle = DefaultMaxItemsPerCycle
	}
	if s.Priority == "" {
		s.Priority = PriorityMedium
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
}

// Validate checks the type tag, URL and numeric bounds.
func (s *Source) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSource)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSource, s.Type)
	}
	u, err := url.Parse(s.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: url must be absolute", ErrInvalidSource)
	}
	if s.FetchIntervalMinutes < MinFetchIntervalMinutes || s.FetchIntervalMinutes > MaxFetchIntervalMinutes {
		return fmt.Errorf("%w: fetch_interval_minutes must be within [%d,%d]",
			ErrInvalidSource, MinFetchIntervalMinutes, MaxFetchIntervalMinutes)
	}
	if s.MaxItemsPerCycle < MinItemsPerCycle || s.MaxItemsPerCycle > MaxItemsPerCycle {
		return fmt.Errorf("%w: max_items_per_cycle must be within [%d,%d]",
			ErrInvalidSource, MinItemsPerCycle, MaxItemsPerCycle)
	}
	if !s.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidSource, s.Priority)
	}
	return nil
}

// SourcePatch carries the admin-mutable fields of a Source; nil means unchanged.
type SourcePatch struct {
	Name                 *string   `json:"name,omitempty"`
	URL                  *string   `json:"url,omitempty"`
	Enabled              *bool     `json:"enabled,omitempty"`
	FetchIntervalMinutes *int      `json:"fetch_interval_minutes,omitempty"`
	Priority             *Priority `json:"priority,omitempty"`
	MaxItemsPerCycle     *int      `json:"max_items_per_cycle,omitempty"`
	Tags                 *[]string `json:"tags,omitempty"`
}

// Apply copies the set fields onto src. The caller re-validates afterwards.
func (p SourcePatch) Apply(src *Source) {
	if p.Name != nil {
		src.Name = *p.Name
	}
	if p.URL != nil {
		src.URL = *p.URL
	}
	if p.Enabled != nil {
		src.Enabled = *p.Enabled
	}
	if p.FetchIntervalMinutes != nil {
		src.FetchIntervalMinutes = *p.FetchIntervalMinutes
	}
	if p.Priority != nil {
		src.Priority = *p.Priority
	}
	if p.MaxItemsPerCycle != nil {
		src.MaxItemsPerCycle = *p.MaxItemsPerCycle
	}
	if p.Tags != nil {
		src.Tags = append([]string{}, (*p.Tags)...)
	}
}

// Empty reports whether the patch changes nothing.
func (p SourcePatch) Empty() bool {
	return p.Name == nil && p.URL == nil && p.Enabled == nil && p.FetchIntervalMinutes == nil &&
		p.Priority == nil && p.MaxItemsPerCycle == nil && p.Tags == nil
}
