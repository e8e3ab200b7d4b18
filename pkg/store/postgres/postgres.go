// Package postgres provides a store.Store backed by PostgreSQL.
//
// When an embeddings provider is configured every appended event is embedded
// and stored in a pgvector column, and Search ranks events by cosine distance
// to the query. Without one, Search falls back to ILIKE matching.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/gameweaver/pkg/provider/embeddings"
	"github.com/MrWong99/gameweaver/pkg/store"
)

var _ store.Store = (*Store)(nil)

// DefaultDimensions is the vector width used when no embeddings provider
// dictates one.
const DefaultDimensions = 1536

// Option configures a Store.
type Option func(*Store)

// WithEmbedder enables semantic search through p. The vector column width is
// taken from p.Dimensions().
func WithEmbedder(p embeddings.Provider) Option {
	return func(s *Store) { s.embedder = p }
}

// Store is a PostgreSQL-backed store.Store. All methods are safe for
// concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// Open connects to dsn, registers pgvector types on every connection and
// runs [Migrate].
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, o := range opts {
		o(s)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	dims := DefaultDimensions
	if s.embedder != nil && s.embedder.Dimensions() > 0 {
		dims = s.embedder.Dimensions()
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	s.pool = pool
	return s, nil
}

// Migrate creates the tables and the vector extension. It is idempotent.
// Changing dims after the first run requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS game_events (
    seq          BIGSERIAL    PRIMARY KEY,
    type         TEXT         NOT NULL,
    description  TEXT         NOT NULL,
    embedding    vector(%d),
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
)`, dims),
		`CREATE INDEX IF NOT EXISTS idx_game_events_type ON game_events (type, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_game_events_embedding
    ON game_events USING hnsw (embedding vector_cosine_ops)`,
		`
CREATE TABLE IF NOT EXISTS game_state (
    key         TEXT         PRIMARY KEY,
    value       BYTEA        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// Append implements store.Store. An embedding failure is logged and the event
// is stored without a vector.
func (s *Store) Append(ctx context.Context, eventType, description string) (string, error) {
	if err := store.ValidateEvent(eventType, description); err != nil {
		return "", err
	}

	var vec *pgvector.Vector
	if s.embedder != nil {
		emb, err := s.embedder.Embed(ctx, description)
		if err != nil {
			slog.Warn("postgres store: embed event failed", "type", eventType, "err", err)
		} else {
			v := pgvector.NewVector(emb)
			vec = &v
		}
	}

	var seq int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO game_events (type, description, embedding) VALUES ($1, $2, $3) RETURNING seq`,
		eventType, description, vec,
	).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("postgres store: append: %w", err)
	}
	return store.EventID(seq), nil
}

// Query implements store.Store.
func (s *Store) Query(ctx context.Context, limit int, eventType string) ([]store.Event, error) {
	args := []any{}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := ""
	if eventType != "" {
		where = "WHERE type = " + next(eventType)
	}
	limitClause := ""
	if limit > 0 {
		limitClause = "LIMIT " + next(limit)
	}

	q := fmt.Sprintf(`
		SELECT seq, type, description, created_at FROM (
		    SELECT seq, type, description, created_at
		    FROM   game_events
		    %s
		    ORDER  BY seq DESC
		    %s
		) recent
		ORDER BY seq ASC`, where, limitClause)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}
	return collectEvents(rows)
}

// Search implements store.Store.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]store.Event, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	if s.embedder != nil {
		emb, err := s.embedder.Embed(ctx, query)
		if err == nil {
			return s.searchVector(ctx, emb, limit)
		}
		slog.Warn("postgres store: embed query failed, using text search", "err", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT seq, type, description, created_at
		FROM   game_events
		WHERE  description ILIKE '%' || $1 || '%'
		ORDER  BY seq DESC
		LIMIT  $2`,
		escapeLike(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	return collectEvents(rows)
}

func (s *Store) searchVector(ctx context.Context, emb []float32, limit int) ([]store.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, type, description, created_at
		FROM   game_events
		WHERE  embedding IS NOT NULL
		ORDER  BY embedding <=> $1
		LIMIT  $2`,
		pgvector.NewVector(emb), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: vector search: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]store.Event, error) {
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Event, error) {
		var (
			ev  store.Event
			seq int64
		)
		if err := row.Scan(&seq, &ev.Type, &ev.Description, &ev.Timestamp); err != nil {
			return store.Event{}, err
		}
		ev.ID = store.EventID(seq)
		ev.Timestamp = ev.Timestamp.UTC()
		return ev, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: collect events: %w", err)
	}
	return events, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO game_state (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET
		    value      = EXCLUDED.value,
		    updated_at = EXCLUDED.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("postgres store: put %q: %w", key, err)
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, false, err
	}
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM game_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres store: get %q: %w", key, err)
	}
	return value, true, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close implements store.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
