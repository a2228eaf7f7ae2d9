// Package postgres looks up pipeline publish records for depot files in
// the studio's PostgreSQL database.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/metrics"
	"github.com/fruitsalade/depotsync/internal/pipeline"
	"github.com/fruitsalade/depotsync/internal/retry"
)

// BatchSize bounds the number of paths sent in one query.
const BatchSize = 500

// Schema creates the publish table when it does not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS published_files (
	id           BIGSERIAL PRIMARY KEY,
	depot_path   TEXT NOT NULL,
	step         TEXT NOT NULL DEFAULT '',
	publish_type TEXT NOT NULL DEFAULT '',
	version      INTEGER NOT NULL DEFAULT 1,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_published_files_path ON published_files (depot_path);
`

// lookupQuery returns the newest publish of each path.
const lookupQuery = `SELECT DISTINCT ON (depot_path) depot_path, step, publish_type
	FROM published_files
	WHERE depot_path = ANY($1)
	ORDER BY depot_path, version DESC, created_at DESC`

// Store is a PostgreSQL pipeline.MetadataStore.
type Store struct {
	db     *sql.DB
	policy retry.Policy
}

var _ pipeline.MetadataStore = (*Store)(nil)

// New opens the database and checks it is reachable.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, policy: retry.DefaultPolicy()}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// RecordPublish stores a publish. Used by seeding and tests.
func (s *Store) RecordPublish(ctx context.Context, p pipeline.Publish, version int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO published_files (depot_path, step, publish_type, version) VALUES ($1, $2, $3, $4)`,
		p.DepotPath, p.Step, p.Type, version)
	if err != nil {
		return fmt.Errorf("record publish %s: %w", p.DepotPath, err)
	}
	return nil
}

// LookupPublishes implements pipeline.MetadataStore. Paths are queried in
// batches; connection failures are retried.
func (s *Store) LookupPublishes(ctx context.Context, depotPaths []string) (map[string]pipeline.Publish, error) {
	out := make(map[string]pipeline.Publish, len(depotPaths))
	for _, batch := range Batches(depotPaths, BatchSize) {
		start := time.Now()
		err := retry.Do(ctx, s.retryPolicy(), func(ctx context.Context) error {
			return s.lookup(ctx, batch, out)
		})
		metrics.RecordMetadataQuery("published_files", time.Since(start))
		if err != nil {
			return out, fmt.Errorf("lookup publishes: %w", err)
		}
	}
	return out, nil
}

func (s *Store) retryPolicy() retry.Policy {
	p := s.policy
	p.OnRetry = func(attempt int, wait time.Duration, err error) {
		logging.Warn("publish lookup failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return p
}

func (s *Store) lookup(ctx context.Context, paths []string, out map[string]pipeline.Publish) error {
	rows, err := s.db.QueryContext(ctx, lookupQuery, pq.Array(paths))
	if err != nil {
		return classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var p pipeline.Publish
		if err := rows.Scan(&p.DepotPath, &p.Step, &p.Type); err != nil {
			return fmt.Errorf("scan publish: %w", err)
		}
		out[p.DepotPath] = p
	}
	return classify(rows.Err())
}

// Batches splits paths into consecutive slices of at most size entries.
func Batches(paths []string, size int) [][]string {
	if size <= 0 {
		size = BatchSize
	}
	var out [][]string
	for len(paths) > size {
		out = append(out, paths[:size:size])
		paths = paths[size:]
	}
	if len(paths) > 0 {
		out = append(out, paths)
	}
	return out
}

// classify marks connection-level failures as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) {
		return retry.Transient(err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "57", "53": // connection exception, operator intervention, insufficient resources
			return retry.Transient(err)
		}
	}
	return err
}
