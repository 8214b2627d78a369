package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"aggronation/internal/models"
	"aggronation/pkg/database"
	"aggronation/pkg/logging"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Postgres implements Store on lib/pq.
type Postgres struct {
	db     *sql.DB
	logger logging.Logger
}

func NewPostgres(db *sql.DB, logger logging.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// Migrate applies the embedded schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	return database.ApplySchema(ctx, p.db, schemaFS, "schema", p.logger)
}

const upsertContentSQL = `
INSERT INTO content_items (
    id, source_id, source_type, external_id, title, excerpt, url, author, published_at, tags,
    upvotes, comments, shares, views, rating, base_score, decay_factor, rating_last_calculated,
    featured, archived, created_at, updated_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
    $11, $12, $13, $14, $15, $16, $17, $18,
    FALSE, FALSE, $19, $19
)
ON CONFLICT (source_id, external_id) DO UPDATE SET
    source_type = EXCLUDED.source_type,
    title = EXCLUDED.title,
    excerpt = EXCLUDED.excerpt,
    url = EXCLUDED.url,
    author = EXCLUDED.author,
    published_at = EXCLUDED.published_at,
    tags = EXCLUDED.tags,
    upvotes = EXCLUDED.upvotes,
    comments = EXCLUDED.comments,
    shares = EXCLUDED.shares,
    views = EXCLUDED.views,
    updated_at = EXCLUDED.updated_at
RETURNING id, rating, base_score, decay_factor, rating_last_calculated, featured, archived, created_at, (xmax = 0) AS inserted`

func (p *Postgres) UpsertContent(ctx context.Context, candidate models.ContentItem) (models.ContentItem, bool, error) {
	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	stored := candidate
	stored.Tags = append([]string{}, candidate.Tags...)

	var inserted bool
	err := p.db.QueryRowContext(ctx, upsertContentSQL,
		candidate.ID, candidate.SourceID, string(candidate.SourceType), candidate.ExternalID,
		candidate.Title, candidate.Excerpt, candidate.URL, candidate.Author,
		nullTime(candidate.PublishedAt), pq.Array(stored.Tags),
		candidate.Metrics.Upvotes, candidate.Metrics.Comments, candidate.Metrics.Shares, candidate.Metrics.Views,
		candidate.Metrics.Rating, candidate.RatingData.BaseScore, candidate.RatingData.DecayFactor,
		candidate.RatingData.LastCalculated, candidate.UpdatedAt,
	).Scan(
		&stored.ID, &stored.Metrics.Rating, &stored.RatingData.BaseScore, &stored.RatingData.DecayFactor,
		&stored.RatingData.LastCalculated, &stored.Featured, &stored.Archived, &stored.CreatedAt, &inserted,
	)
	if err != nil {
		return models.ContentItem{}, false, fmt.Errorf("upsert content %s/%s: %w", candidate.SourceID, candidate.ExternalID, err)
	}
	return stored, inserted, nil
}

const updateHealthSQL = `
UPDATE sources SET
    last_fetched = COALESCE($2::timestamptz, last_fetched),
    last_error = CASE WHEN $3::boolean THEN NULL ELSE COALESCE($4::text, last_error) END,
    consecutive_errors = CASE WHEN $5::boolean THEN 0 ELSE consecutive_errors + $6 END,
    total_fetched = total_fetched + $7,
    updated_at = NOW()
WHERE id = $1`

// UpdateSourceHealth applies upd in a single statement so readers never see a
// partial health change.
func (p *Postgres) UpdateSourceHealth(ctx context.Context, sourceID string, upd HealthUpdate) error {
	var lastFetched sql.NullTime
	if upd.LastFetched != nil {
		lastFetched = sql.NullTime{Time: *upd.LastFetched, Valid: true}
	}
	var lastError sql.NullString
	if upd.LastError != nil {
		lastError = sql.NullString{String: *upd.LastError, Valid: true}
	}

	res, err := p.db.ExecContext(ctx, updateHealthSQL,
		sourceID, lastFetched, upd.ClearLastError, lastError,
		upd.ResetConsecutiveErrors, upd.ConsecutiveErrorsDelta, upd.TotalFetchedDelta,
	)
	if err != nil {
		return fmt.Errorf("update health for %s: %w", sourceID, err)
	}
	return requireRow(res)
}

const sourceColumns = `id, type, name, url, enabled, fetch_interval_minutes, priority, max_items_per_cycle, tags,
    last_fetched, last_error, total_fetched, consecutive_errors, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (models.Source, error) {
	var (
		src         models.Source
		srcType     string
		priority    string
		tags        pq.StringArray
		lastFetched sql.NullTime
		lastError   sql.NullString
	)
	if err := row.Scan(
		&src.ID, &srcType, &src.Name, &src.URL, &src.Enabled, &src.FetchIntervalMinutes, &priority,
		&src.MaxItemsPerCycle, &tags, &lastFetched, &lastError, &src.Health.TotalFetched,
		&src.Health.ConsecutiveErrors, &src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return models.Source{}, err
	}
	src.Type = models.SourceType(srcType)
	src.Priority = models.Priority(priority)
	src.Tags = []string(tags)
	if src.Tags == nil {
		src.Tags = []string{}
	}
	if lastFetched.Valid {
		t := lastFetched.Time
		src.Health.LastFetched = &t
	}
	if lastError.Valid {
		msg := lastError.String
		src.Health.LastError = &msg
	}
	return src, nil
}

func (p *Postgres) querySources(ctx context.Context, query string, args ...interface{}) ([]models.Source, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sources := make([]models.Source, 0)
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (p *Postgres) LoadEnabledSources(ctx context.Context) ([]models.Source, error) {
	sources, err := p.querySources(ctx, `SELECT `+sourceColumns+` FROM sources WHERE enabled = TRUE ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("load enabled sources: %w", err)
	}
	return sources, nil
}

func (p *Postgres) ListSources(ctx context.Context) ([]models.Source, error) {
	sources, err := p.querySources(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

func (p *Postgres) LoadSource(ctx context.Context, id string) (models.Source, error) {
	src, err := scanSource(p.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Source{}, ErrNotFound
	}
	if err != nil {
		return models.Source{}, fmt.Errorf("load source %s: %w", id, err)
	}
	return src, nil
}

const contentColumns = `id, source_id, source_type, external_id, title, excerpt, url, author, published_at, tags,
    upvotes, comments, shares, views, rating, base_score, decay_factor, rating_last_calculated,
    featured, archived, created_at, updated_at`

func (p *Postgres) ListContent(ctx context.Context, q ContentQuery) ([]models.ContentItem, error) {
	query := `SELECT ` + contentColumns + ` FROM content_items
WHERE ($1 = '' OR source_id = $1) AND ($2 OR archived = FALSE)
ORDER BY published_at DESC NULLS LAST, created_at DESC
LIMIT $3`

	rows, err := p.db.QueryContext(ctx, query, q.SourceID, q.IncludeArchived, q.NormalizedLimit())
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	items := make([]models.ContentItem, 0)
	for rows.Next() {
		var (
			item       models.ContentItem
			sourceType string
			published  sql.NullTime
			tags       pq.StringArray
		)
		if err := rows.Scan(
			&item.ID, &item.SourceID, &sourceType, &item.ExternalID, &item.Title, &item.Excerpt, &item.URL,
			&item.Author, &published, &tags,
			&item.Metrics.Upvotes, &item.Metrics.Comments, &item.Metrics.Shares, &item.Metrics.Views,
			&item.Metrics.Rating, &item.RatingData.BaseScore, &item.RatingData.DecayFactor,
			&item.RatingData.LastCalculated, &item.Featured, &item.Archived, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		item.SourceType = models.SourceType(sourceType)
		if published.Valid {
			item.PublishedAt = published.Time
		}
		item.Tags = []string(tags)
		if item.Tags == nil {
			item.Tags = []string{}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (p *Postgres) CreateSource(ctx context.Context, src models.Source) (models.Source, error) {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.Tags == nil {
		src.Tags = []string{}
	}
	now := time.Now().UTC()
	src.CreatedAt, src.UpdatedAt = now, now

	_, err := p.db.ExecContext(ctx, `
INSERT INTO sources (id, type, name, url, enabled, fetch_interval_minutes, priority, max_items_per_cycle, tags, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		src.ID, string(src.Type), src.Name, src.URL, src.Enabled, src.FetchIntervalMinutes,
		string(src.Priority), src.MaxItemsPerCycle, pq.Array(src.Tags), now,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.Source{}, ErrDuplicate
		}
		return models.Source{}, fmt.Errorf("create source: %w", err)
	}
	return src, nil
}

// UpdateSource replaces configuration columns and returns the stored row,
// health included.
func (p *Postgres) UpdateSource(ctx context.Context, src models.Source) (models.Source, error) {
	if src.Tags == nil {
		src.Tags = []string{}
	}
	row := p.db.QueryRowContext(ctx, `
UPDATE sources SET
    type = $2, name = $3, url = $4, enabled = $5, fetch_interval_minutes = $6,
    priority = $7, max_items_per_cycle = $8, tags = $9, updated_at = NOW()
WHERE id = $1
RETURNING `+sourceColumns,
		src.ID, string(src.Type), src.Name, src.URL, src.Enabled, src.FetchIntervalMinutes,
		string(src.Priority), src.MaxItemsPerCycle, pq.Array(src.Tags),
	)
	updated, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Source{}, ErrNotFound
	}
	if err != nil {
		return models.Source{}, fmt.Errorf("update source %s: %w", src.ID, err)
	}
	return updated, nil
}

// DeleteSource removes the source; content rows go with it via ON DELETE CASCADE.
func (p *Postgres) DeleteSource(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete source %s: %w", id, err)
	}
	return requireRow(res)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
