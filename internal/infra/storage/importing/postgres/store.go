// Package postgres implements the import data client directly against the
// STATBUS database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/internal/infra/storage"
)

// Rows are rendered with to_jsonb so columns without a Go field survive
// decoding, exactly as with the HTTP API.
const (
	selectJobBySlug = `SELECT to_jsonb(j) FROM import_job j WHERE j.slug = $1`
	selectJobByID   = `SELECT to_jsonb(j) FROM import_job j WHERE j.id = $1`

	insertJob = `
INSERT INTO import_job AS j
    (definition_id, slug, description, time_context_ident, default_valid_from, default_valid_to)
VALUES ($1, $2, COALESCE($3::text, ''), $4::text, $5::text::date, $6::text::date)
RETURNING to_jsonb(j)`

	selectPendingJobs = `
SELECT to_jsonb(j) || jsonb_build_object('import_definition', to_jsonb(d))
FROM import_job j
JOIN import_definition d ON d.id = j.definition_id
WHERE j.state = $1 AND d.mode = $2
ORDER BY j.created_at DESC, j.id DESC`

	selectDefinitionBySlug = `SELECT to_jsonb(d) FROM import_definition d WHERE d.slug = $1`
	selectDefinitionByID   = `SELECT to_jsonb(d) FROM import_definition d WHERE d.id = $1`
	selectDefinitions      = `
SELECT to_jsonb(d) FROM import_definition d
WHERE d.mode = $1 AND NOT d.custom
ORDER BY d.id`

	selectTimeContexts = `SELECT to_jsonb(tc) FROM time_context tc ORDER BY tc.valid_from DESC, tc.ident`
)

func dbAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	return append([]attribute.KeyValue{attribute.String("db.system", "postgresql")}, attrs...)
}

var _ domain.DataClient = (*Store)(nil)

// Store is a domain.DataClient over a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewStore creates a Store using pool.
func NewStore(pool *pgxpool.Pool, tracer trace.Tracer) *Store {
	return &Store{pool: pool, tracer: tracer}
}

// GetJobBySlug retrieves an import job by its slug.
func (s *Store) GetJobBySlug(ctx context.Context, slug string) (*domain.ImportJob, error) {
	var job *domain.ImportJob
	attrs := dbAttributes(attribute.String("slug", slug))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.importing.get_job_by_slug", attrs, func(ctx context.Context) error {
		var err error
		job, err = queryJob(ctx, s.pool, selectJobBySlug, slug)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get import job (slug: %s): %w", slug, err)
	}
	return job, nil
}

// GetJobByID retrieves an import job by its id.
func (s *Store) GetJobByID(ctx context.Context, id int64) (*domain.ImportJob, error) {
	var job *domain.ImportJob
	attrs := dbAttributes(attribute.Int64("job_id", id))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.importing.get_job_by_id", attrs, func(ctx context.Context) error {
		var err error
		job, err = queryJob(ctx, s.pool, selectJobByID, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get import job (id: %d): %w", id, err)
	}
	return job, nil
}

// InsertJob creates an import job and returns the stored row.
func (s *Store) InsertJob(ctx context.Context, req domain.NewJobRequest) (*domain.ImportJob, error) {
	var job *domain.ImportJob
	attrs := dbAttributes(
		attribute.String("slug", req.Slug),
		attribute.Int64("definition_id", req.DefinitionID),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.importing.insert_job", attrs, func(ctx context.Context) error {
		var err error
		job, err = queryJob(ctx, s.pool, insertJob,
			req.DefinitionID, req.Slug, req.Description, req.TimeContextIdent, req.DefaultValidFrom, req.DefaultValidTo)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert import job (slug: %s): %w", req.Slug, err)
	}
	return job, nil
}

// ListPendingJobs lists jobs waiting for upload whose definition has mode,
// newest first.
func (s *Store) ListPendingJobs(ctx context.Context, mode domain.ImportMode) ([]domain.PendingJob, error) {
	var jobs []domain.PendingJob
	attrs := dbAttributes(attribute.String("mode", string(mode)))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.importing.list_pending_jobs", attrs, func(ctx context.Context) error {
		var err error
		jobs, err = queryList[domain.PendingJob](ctx, s.pool, selectPendingJobs, string(domain.JobStateWaitingForUpload), string(mode))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending import jobs (mode: %s): %w", mode, err)
	}
	return jobs, nil
}

// GetDefinitionBySlug retrieves an import definition by its slug.
func (s *Store) GetDefinitionBySlug(ctx context.Context, slug string) (*domain.ImportDefinition, error) {
	var def *domain.ImportDefinition
	attrs := dbAttributes(attribute.String("slug", slug))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.importing.get_definition_by_slug", attrs, func(ctx context.Context) error {
		var err error
		def, err = queryDefinition(ctx, s.pool, selectDefinitionBySlug, slug)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get import definition (slug: %s): %w", slug, err)
	}
	return def, nil
}

// GetDefinitionByID retrieves an import definition by its id.
func (s *Store) GetDefinitionByID(ctx context.Context, id int64) (*domain.ImportDefinition, error) {
	var def *domain.ImportDefinition
	attrs := dbAttributes(attribute.Int64("definition_id", id))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.importing.get_definition_by_id", attrs, func(ctx context.Context) error {
		var err error
		def, err = queryDefinition(ctx, s.pool, selectDefinitionByID, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get import definition (id: %d): %w", id, err)
	}
	return def, nil
}

// ListDefinitions lists the non-custom definitions for mode.
func (s *Store) ListDefinitions(ctx context.Context, mode domain.ImportMode) ([]domain.ImportDefinition, error) {
	var defs []domain.ImportDefinition
	attrs := dbAttributes(attribute.String("mode", string(mode)))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.importing.list_definitions", attrs, func(ctx context.Context) error {
		var err error
		defs, err = queryList[domain.ImportDefinition](ctx, s.pool, selectDefinitions, string(mode))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list import definitions (mode: %s): %w", mode, err)
	}
	return defs, nil
}

// ListTimeContexts returns every time context, latest period first.
func (s *Store) ListTimeContexts(ctx context.Context) ([]domain.TimeContext, error) {
	var tcs []domain.TimeContext
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.importing.list_time_contexts", dbAttributes(), func(ctx context.Context) error {
		var err error
		tcs, err = queryList[domain.TimeContext](ctx, s.pool, selectTimeContexts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list time contexts: %w", err)
	}
	return tcs, nil
}

// CountUnits counts the rows matching q. The database always reports a
// count, so the result is never nil on success.
func (s *Store) CountUnits(ctx context.Context, q domain.CountQuery) (*int64, error) {
	var n int64
	attrs := dbAttributes(
		attribute.String("table", q.Table),
		attribute.String("filter", q.Filter.String()),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.importing.count_units", attrs, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, countSQL(q)).Scan(&n)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count rows (table: %s, filter: %s): %w", q.Table, q.Filter, err)
	}
	return &n, nil
}

func countSQL(q domain.CountQuery) string {
	sql := "SELECT count(*) FROM " + pgx.Identifier{q.Table}.Sanitize()
	if q.Column == "" {
		return sql
	}
	col := pgx.Identifier{q.Column}.Sanitize()
	switch q.Filter {
	case domain.NullFilterIsNull:
		sql += " WHERE " + col + " IS NULL"
	case domain.NullFilterNotNull:
		sql += " WHERE " + col + " IS NOT NULL"
	}
	return sql
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryJob(ctx context.Context, q querier, sql string, args ...any) (*domain.ImportJob, error) {
	var raw []byte
	if err := q.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	var job domain.ImportJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("failed to decode import job: %w", err)
	}
	return &job, nil
}

func queryDefinition(ctx context.Context, q querier, sql string, args ...any) (*domain.ImportDefinition, error) {
	var raw []byte
	if err := q.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDefinitionNotFound
		}
		return nil, err
	}
	var def domain.ImportDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("failed to decode import definition: %w", err)
	}
	return &def, nil
}

func queryList[T any](ctx context.Context, q querier, sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		var (
			raw []byte
			v   T
		)
		if err := row.Scan(&raw); err != nil {
			return v, err
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return v, fmt.Errorf("failed to decode row: %w", err)
		}
		return v, nil
	})
}
