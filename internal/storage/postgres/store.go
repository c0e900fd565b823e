// Package postgres provides Postgres-backed persistence implementations.
//
// Expected schema:
//
//	CREATE TABLE channels (
//		id UUID PRIMARY KEY,
//		name VARCHAR(255) NOT NULL,
//		owner_id TEXT,
//		created_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE articles (
//		id UUID PRIMARY KEY,
//		url VARCHAR(2048) NOT NULL,
//		channel_id UUID NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
//		owner_id TEXT,
//		enrichment_state TEXT NOT NULL DEFAULT 'pending',
//		title TEXT,
//		word_count INT,
//		content TEXT,
//		archive_uri TEXT,
//		created_at TIMESTAMPTZ NOT NULL
//	);
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipstream/clipstream/internal/news"
)

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements news.Store on a pgx connection pool.
type Store struct {
	pool dbPool
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// NewStore connects a pool using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateChannel inserts a channel row.
func (s *Store) CreateChannel(ctx context.Context, ch news.Channel) error {
	const query = `
INSERT INTO channels (id, name, owner_id, created_at)
VALUES ($1, $2, $3, $4)`
	owner := nullableString(ch.OwnerID)
	if _, err := s.pool.Exec(ctx, query, ch.ID, ch.Name, owner, ch.CreatedAt); err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

// GetChannel fetches a channel by ID.
func (s *Store) GetChannel(ctx context.Context, id string) (news.Channel, error) {
	const query = `
SELECT id, name, owner_id, created_at
FROM channels
WHERE id = $1`
	var (
		ch    news.Channel
		owner *string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(&ch.ID, &ch.Name, &owner, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return news.Channel{}, news.ErrNotFound
		}
		return news.Channel{}, fmt.Errorf("select channel: %w", err)
	}
	if owner != nil {
		ch.OwnerID = *owner
	}
	return ch, nil
}

// ListChannels returns channels ordered by ID ascending.
func (s *Store) ListChannels(ctx context.Context, page news.Page) ([]news.Channel, error) {
	q := psql.Select("id", "name", "owner_id", "created_at").
		From("channels").
		OrderBy("id ASC")
	if page.Limit > 0 {
		q = q.Limit(uint64(page.Limit))
	}
	if page.Offset > 0 {
		q = q.Offset(uint64(page.Offset))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build channel list query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select channels: %w", err)
	}
	defer rows.Close()

	out := make([]news.Channel, 0)
	for rows.Next() {
		var (
			ch    news.Channel
			owner *string
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &owner, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		if owner != nil {
			ch.OwnerID = *owner
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return out, nil
}

// DeleteChannel removes a channel; articles cascade via the FK.
func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return news.ErrNotFound
	}
	return nil
}

// CreateArticle inserts an article row in its initial state.
func (s *Store) CreateArticle(ctx context.Context, a news.Article) error {
	const query = `
INSERT INTO articles (id, url, channel_id, owner_id, enrichment_state, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	owner := nullableString(a.OwnerID)
	if _, err := s.pool.Exec(ctx, query, a.ID, a.URL, a.ChannelID, owner, a.State, a.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		// 23503 foreign_key_violation: the channel vanished before the insert.
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return news.ErrNotFound
		}
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

const articleColumns = "id, url, channel_id, owner_id, enrichment_state, title, word_count, content, archive_uri, created_at"

// GetArticle fetches an article by ID.
func (s *Store) GetArticle(ctx context.Context, id string) (news.Article, error) {
	query := fmt.Sprintf(`SELECT %s FROM articles WHERE id = $1`, articleColumns)
	row := s.pool.QueryRow(ctx, query, id)
	a, err := scanArticle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return news.Article{}, news.ErrNotFound
		}
		return news.Article{}, fmt.Errorf("select article: %w", err)
	}
	return a, nil
}

// ListArticles applies the filter and returns articles ordered by ID
// ascending. NULL word counts never match the inclusive bounds, so
// unenriched rows drop out of word-count-filtered listings.
func (s *Store) ListArticles(ctx context.Context, filter news.ArticleFilter, page news.Page) ([]news.Article, error) {
	q := psql.Select(articleColumns).
		From("articles").
		OrderBy("id ASC")
	if filter.ChannelID != "" {
		q = q.Where(sq.Eq{"channel_id": filter.ChannelID})
	}
	if filter.MinWordCount != nil {
		q = q.Where(sq.GtOrEq{"word_count": *filter.MinWordCount})
	}
	if filter.MaxWordCount != nil {
		q = q.Where(sq.LtOrEq{"word_count": *filter.MaxWordCount})
	}
	if page.Limit > 0 {
		q = q.Limit(uint64(page.Limit))
	}
	if page.Offset > 0 {
		q = q.Offset(uint64(page.Offset))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article list query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select articles: %w", err)
	}
	defer rows.Close()

	out := make([]news.Article, 0)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return out, nil
}

// DeleteArticle removes an article by ID.
func (s *Store) DeleteArticle(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return news.ErrNotFound
	}
	return nil
}

// UpdateEnrichment writes the enrichment fields and the enriched state in a
// single conditional update. The WHERE clause on the current state gives
// compare-and-set semantics under concurrent job delivery.
func (s *Store) UpdateEnrichment(ctx context.Context, id string, expected news.EnrichmentState, enr news.Enrichment) (bool, error) {
	const query = `
UPDATE articles
SET enrichment_state = $1, title = $2, word_count = $3, content = $4, archive_uri = $5
WHERE id = $6 AND enrichment_state = $7`
	tag, err := s.pool.Exec(ctx, query,
		news.StateEnriched,
		enr.Title,
		enr.WordCount,
		enr.Content,
		nullableString(enr.ArchiveURI),
		id,
		expected,
	)
	if err != nil {
		return false, fmt.Errorf("update enrichment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed conditionally flips the article to the failed state.
func (s *Store) MarkFailed(ctx context.Context, id string, expected news.EnrichmentState) (bool, error) {
	const query = `
UPDATE articles
SET enrichment_state = $1
WHERE id = $2 AND enrichment_state = $3`
	tag, err := s.pool.Exec(ctx, query, news.StateFailed, id, expected)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanArticle(row pgx.Row) (news.Article, error) {
	var (
		a          news.Article
		owner      *string
		title      *string
		content    *string
		archiveURI *string
	)
	err := row.Scan(
		&a.ID,
		&a.URL,
		&a.ChannelID,
		&owner,
		&a.State,
		&title,
		&a.WordCount,
		&content,
		&archiveURI,
		&a.CreatedAt,
	)
	if err != nil {
		return news.Article{}, err
	}
	if owner != nil {
		a.OwnerID = *owner
	}
	if title != nil {
		a.Title = *title
	}
	if content != nil {
		a.Content = *content
	}
	if archiveURI != nil {
		a.ArchiveURI = *archiveURI
	}
	return a, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
