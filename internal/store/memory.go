package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"aggronation/internal/models"
)

// Memory is an in-process Store used for development and tests.
type Memory struct {
	mu      sync.RWMutex
	sources map[string]models.Source
	content map[string]models.ContentItem
	byKey   map[contentKey]string
	now     func() time.Time
}

type contentKey struct {
	sourceID   string
	externalID string
}

func NewMemory() *Memory {
	return &Memory{
		sources: make(map[string]models.Source),
		content: make(map[string]models.ContentItem),
		byKey:   make(map[contentKey]string),
		now:     time.Now,
	}
}

func (m *Memory) UpsertContent(_ context.Context, candidate models.ContentItem) (models.ContentItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := contentKey{candidate.SourceID, candidate.ExternalID}
	if id, ok := m.byKey[key]; ok {
		existing := m.content[id]
		existing.Replace(candidate.Fields(), candidate.UpdatedAt)
		m.content[id] = existing
		return cloneItem(existing), false, nil
	}

	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	stored := cloneItem(candidate)
	m.content[stored.ID] = stored
	m.byKey[key] = stored.ID
	return cloneItem(stored), true, nil
}

func (m *Memory) UpdateSourceHealth(_ context.Context, sourceID string, upd HealthUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[sourceID]
	if !ok {
		return ErrNotFound
	}
	upd.Apply(&src.Health)
	src.UpdatedAt = m.now()
	m.sources[sourceID] = src
	return nil
}

func (m *Memory) LoadEnabledSources(_ context.Context) ([]models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Source, 0, len(m.sources))
	for _, src := range m.sources {
		if src.Enabled {
			out = append(out, cloneSource(src))
		}
	}
	sortSources(out)
	return out, nil
}

func (m *Memory) LoadSource(_ context.Context, id string) (models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	if !ok {
		return models.Source{}, ErrNotFound
	}
	return cloneSource(src), nil
}

func (m *Memory) ListSources(_ context.Context) ([]models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Source, 0, len(m.sources))
	for _, src := range m.sources {
		out = append(out, cloneSource(src))
	}
	sortSources(out)
	return out, nil
}

func (m *Memory) ListContent(_ context.Context, q ContentQuery) ([]models.ContentItem, error) {
	m.mu.RLock()
	out := make([]models.ContentItem, 0)
	for _, item := range m.content {
		if q.SourceID != "" && item.SourceID != q.SourceID {
			continue
		}
		if item.Archived && !q.IncludeArchived {
			continue
		}
		out = append(out, cloneItem(item))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := q.NormalizedLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateSource(_ context.Context, src models.Source) (models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if _, exists := m.sources[src.ID]; exists {
		return models.Source{}, ErrDuplicate
	}
	now := m.now()
	src.CreatedAt, src.UpdatedAt = now, now
	m.sources[src.ID] = cloneSource(src)
	return cloneSource(src), nil
}

// UpdateSource replaces the configuration fields; health is kept as stored.
func (m *Memory) UpdateSource(_ context.Context, src models.Source) (models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sources[src.ID]
	if !ok {
		return models.Source{}, ErrNotFound
	}
	src.Health = existing.Health
	src.CreatedAt = existing.CreatedAt
	src.UpdatedAt = m.now()
	m.sources[src.ID] = cloneSource(src)
	return cloneSource(src), nil
}

// DeleteSource removes the source and cascades to its content.
func (m *Memory) DeleteSource(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return ErrNotFound
	}
	delete(m.sources, id)
	for key, itemID := range m.byKey {
		if key.sourceID == id {
			delete(m.byKey, key)
			delete(m.content, itemID)
		}
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// SetContentFlags toggles the externally owned flags. Stands in for the
// curation tooling that owns them.
func (m *Memory) SetContentFlags(id string, featured, archived bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.content[id]
	if !ok {
		return ErrNotFound
	}
	item.Featured, item.Archived = featured, archived
	m.content[id] = item
	return nil
}

// ContentCount returns the number of stored items.
func (m *Memory) ContentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

func sortSources(list []models.Source) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
}

func cloneSource(src models.Source) models.Source {
	src.Tags = append([]string{}, src.Tags...)
	if src.Health.LastFetched != nil {
		t := *src.Health.LastFetched
		src.Health.LastFetched = &t
	}
	if src.Health.LastError != nil {
		msg := *src.Health.LastError
		src.Health.LastError = &msg
	}
	return src
}

func cloneItem(item models.ContentItem) models.ContentItem {
	item.Tags = append([]string{}, item.Tags...)
	return item
}
