// Package postgres provides the Postgres-backed storage collaborator.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fishingmap/forum-crawler/internal/geocode"
	"github.com/fishingmap/forum-crawler/internal/ingest"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements ingest.Store against Postgres. Upserts key on the
// forum-assigned external id so re-crawls are idempotent; the soft-delete
// columns are never written here.
type Store struct {
	pool querier
}

// New creates a Store connected via a pgx pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Store, error) {
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

// UpsertTopic inserts or refreshes a topic row. Geocode columns are left
// untouched on conflict; they are owned by UpdateTopicCoordinates.
func (s *Store) UpsertTopic(ctx context.Context, topic ingest.Topic) error {
	const query = `
INSERT INTO topics (external_id, title, place_name, url, last_seen_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (external_id) DO UPDATE SET
	title = EXCLUDED.title,
	place_name = EXCLUDED.place_name,
	url = EXCLUDED.url,
	last_seen_at = EXCLUDED.last_seen_at`
	if _, err := s.pool.Exec(ctx, query,
		topic.ExternalID,
		topic.Title,
		topic.PlaceName,
		topic.URL,
		topic.LastSeenAt,
	); err != nil {
		return fmt.Errorf("upsert topic %s: %w", topic.ExternalID, err)
	}
	return nil
}

// UpsertPost inserts or refreshes a post row. The deleted flag and
// deleted_at are owned by the admin collaborator and never written.
func (s *Store) UpsertPost(ctx context.Context, post ingest.Post) error {
	const query = `
INSERT INTO posts (external_id, topic_external_id, author, body, url, posted_at, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (external_id) DO UPDATE SET
	author = EXCLUDED.author,
	body = EXCLUDED.body,
	url = EXCLUDED.url,
	posted_at = EXCLUDED.posted_at,
	fetched_at = EXCLUDED.fetched_at`
	if _, err := s.pool.Exec(ctx, query,
		post.ExternalID,
		post.TopicExternalID,
		post.Author,
		post.Body,
		post.URL,
		post.PostedAt,
		post.FetchedAt,
	); err != nil {
		return fmt.Errorf("upsert post %s: %w", post.ExternalID, err)
	}
	return nil
}

// GetPost fetches the stored version of a post by external id.
func (s *Store) GetPost(ctx context.Context, externalID string) (ingest.Post, bool, error) {
	const query = `
SELECT external_id, topic_external_id, author, body, url, posted_at, fetched_at, deleted, deleted_at
FROM posts WHERE external_id = $1`
	var post ingest.Post
	err := s.pool.QueryRow(ctx, query, externalID).Scan(
		&post.ExternalID,
		&post.TopicExternalID,
		&post.Author,
		&post.Body,
		&post.URL,
		&post.PostedAt,
		&post.FetchedAt,
		&post.Deleted,
		&post.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.Post{}, false, nil
	}
	if err != nil {
		return ingest.Post{}, false, fmt.Errorf("get post %s: %w", externalID, err)
	}
	return post, true, nil
}

// TopicsNeedingGeocode lists topics whose coordinates are absent or older
// than the staleness window.
func (s *Store) TopicsNeedingGeocode(ctx context.Context, staleness time.Duration) ([]ingest.Topic, error) {
	const query = `
SELECT external_id, title, place_name, url, lat, lon, geocode_provider, geocode_confidence, geocoded_at, last_seen_at
FROM topics
WHERE lat IS NULL OR lon IS NULL OR geocoded_at IS NULL OR geocoded_at < $1
ORDER BY last_seen_at DESC`
	cutoff := time.Now().UTC().Add(-staleness)
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list topics needing geocode: %w", err)
	}
	defer rows.Close()

	var topics []ingest.Topic
	for rows.Next() {
		var (
			topic    ingest.Topic
			provider *string
		)
		if err := rows.Scan(
			&topic.ExternalID,
			&topic.Title,
			&topic.PlaceName,
			&topic.URL,
			&topic.Lat,
			&topic.Lon,
			&provider,
			&topic.GeocodeConfidence,
			&topic.GeocodedAt,
			&topic.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("scan topic row: %w", err)
		}
		if provider != nil {
			topic.GeocodeProvider = *provider
		}
		topics = append(topics, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic rows: %w", err)
	}
	return topics, nil
}

// UpdateTopicCoordinates applies a confidence-gated geocode result.
func (s *Store) UpdateTopicCoordinates(ctx context.Context, externalID string, result geocode.Result, at time.Time) error {
	const query = `
UPDATE topics
SET lat = $2, lon = $3, geocode_provider = $4, geocode_confidence = $5, geocoded_at = $6
WHERE external_id = $1`
	tag, err := s.pool.Exec(ctx, query,
		externalID,
		result.Lat,
		result.Lon,
		result.Provider,
		result.Confidence,
		at,
	)
	if err != nil {
		return fmt.Errorf("update topic coordinates %s: %w", externalID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update topic coordinates %s: topic not found", externalID)
	}
	return nil
}
