// Package journal persists run and stage records to PostgreSQL for audit.
// Recording is strictly best-effort: a journal outage must never fail a
// provisioning run, so every write error is logged and swallowed.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/workflow"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Journal records workflow lifecycle events into the runs and run_stages
// tables.
type Journal struct {
	pool DBPool
	log  *zap.Logger
}

var _ workflow.Recorder = (*Journal)(nil)

// New wraps an existing pool and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Journal, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}
	return &Journal{
		pool: pool,
		log:  logger.Named("journal"),
	}, nil
}

// Open connects to dsn and returns a ready journal.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	j, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return j, nil
}

// Close releases the underlying pool.
func (j *Journal) Close() {
	j.pool.Close()
}

// Migrate creates the journal schema if it does not exist.
func (j *Journal) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    brand_name TEXT NOT NULL,
    store_domain TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    succeeded BOOLEAN,
    app_name TEXT,
    distribution_link TEXT,
    error TEXT
);
CREATE TABLE IF NOT EXISTS run_stages (
    run_id TEXT NOT NULL REFERENCES runs(id),
    stage TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TIMESTAMPTZ,
    ended_at TIMESTAMPTZ,
    error TEXT,
    PRIMARY KEY (run_id, stage)
);`
	if _, err := j.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

func (j *Journal) RunStarted(ctx context.Context, runID string, req workflow.Request) {
	const query = `
        INSERT INTO runs (id, brand_name, store_domain, started_at)
        VALUES ($1, $2, $3, $4);`
	if _, err := j.pool.Exec(ctx, query, runID, req.BrandName, req.StoreDomain, time.Now().UTC()); err != nil {
		j.log.Error("Failed to record run start", zap.String("run_id", runID), zap.Error(err))
	}
}

func (j *Journal) StageChanged(ctx context.Context, runID string, rec workflow.StageRecord) {
	const query = `
        INSERT INTO run_stages (run_id, stage, status, started_at, ended_at, error)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (run_id, stage) DO UPDATE
        SET status = EXCLUDED.status, ended_at = EXCLUDED.ended_at, error = EXCLUDED.error;`
	if _, err := j.pool.Exec(ctx, query,
		runID, rec.Name, rec.Status.String(),
		nullTime(rec.StartedAt), nullTime(rec.EndedAt), nullString(rec.Err)); err != nil {
		j.log.Error("Failed to record stage transition",
			zap.String("run_id", runID), zap.String("stage", rec.Name), zap.Error(err))
	}
}

func (j *Journal) RunFinished(ctx context.Context, runID string, res *workflow.Result, runErr error) {
	const query = `
        UPDATE runs
        SET finished_at = $2, succeeded = $3, app_name = $4, distribution_link = $5, error = $6
        WHERE id = $1;`
	var appName, link, errText any
	if res != nil {
		appName, link = res.AppName, res.DistributionLink
	}
	if runErr != nil {
		errText = runErr.Error()
	}
	if _, err := j.pool.Exec(ctx, query,
		runID, time.Now().UTC(), runErr == nil, appName, link, errText); err != nil {
		j.log.Error("Failed to record run finish", zap.String("run_id", runID), zap.Error(err))
	}
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
