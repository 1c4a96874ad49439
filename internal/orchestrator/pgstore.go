package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/database"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// PGJobStore is the Postgres-backed JobStore over the jobs and job_logs
// tables.
type PGJobStore struct {
	db database.Queryer
}

// NewPGJobStore creates a store over the given connection pool.
func NewPGJobStore(db database.Queryer) *PGJobStore {
	return &PGJobStore{db: db}
}

const jobColumns = `id, tenant_id, model_type, model_name, config, priority, status, progress,
	metrics, model_id, error_message, tags, schedule, estimated_duration_seconds,
	created_at, started_at, completed_at, updated_at`

func (s *PGJobStore) InsertJob(ctx context.Context, job *Job) error {
	const op = "orchestrator.InsertJob"
	const q = `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	tags := job.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	_, err := s.db.Exec(ctx, q,
		job.ID, job.TenantID, job.ModelKind, job.ModelName, job.Config,
		job.Priority, string(job.Status), job.Progress,
		jsonOrNull(job.Metrics), nullIfEmpty(job.ModelID), nullIfEmpty(job.Error),
		tags, nullIfEmpty(job.Schedule), job.EstimatedSeconds,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errs.Conflict(op, "job %q already exists", job.ID)
		}
		return errs.Unavailable(op, err)
	}
	return nil
}

func (s *PGJobStore) GetJob(ctx context.Context, id string) (*Job, error) {
	const op = "orchestrator.GetJob"
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound(op, "job %q", id)
	}
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}
	return job, nil
}

func (s *PGJobStore) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, int, error) {
	const op = "orchestrator.ListJobs"

	var where []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.TenantID != "" {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.ModelKind != "" {
		add("model_type = $%d", filter.ModelKind)
	}
	if filter.ModelName != "" {
		add("model_name = $%d", filter.ModelName)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		add("created_at > $%d", filter.CreatedAfter)
	}
	if !filter.CreatedBefore.IsZero() {
		add("created_at < $%d", filter.CreatedBefore)
	}
	if filter.ScheduledOnly {
		where = append(where, "schedule IS NOT NULL AND schedule <> ''")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, errs.Unavailable(op, err)
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	pageArgs := append(args, size, (page-1)*size)
	q := fmt.Sprintf(
		`SELECT `+jobColumns+` FROM jobs`+clause+` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)

	rows, err := s.db.Query(ctx, q, pageArgs...)
	if err != nil {
		return nil, 0, errs.Unavailable(op, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, errs.Unavailable(op, err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errs.Unavailable(op, err)
	}
	return jobs, total, nil
}

func (s *PGJobStore) ClaimNextQueued(ctx context.Context, now time.Time) (*Job, error) {
	const op = "orchestrator.ClaimNextQueued"
	// SKIP LOCKED keeps concurrent dispatchers from claiming the same row;
	// the outer status guard makes the claim idempotent either way.
	const q = `
		UPDATE jobs SET status = 'running', started_at = $1, updated_at = $1
		WHERE status = 'queued' AND id = (
			SELECT id FROM jobs WHERE status = 'queued'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRow(ctx, q, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}
	return job, nil
}

func (s *PGJobStore) UpdateProgress(ctx context.Context, id string, progress float64, metrics map[string]float64) error {
	const op = "orchestrator.UpdateProgress"
	const q = `
		UPDATE jobs SET progress = $2,
			metrics = COALESCE($3, metrics),
			updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, q, id, progress, jsonOrNull(metrics))
	if err != nil {
		return errs.Unavailable(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound(op, "job %q", id)
	}
	return nil
}

func (s *PGJobStore) CompleteJob(ctx context.Context, id, modelID string, metrics map[string]float64, now time.Time) (bool, error) {
	const op = "orchestrator.CompleteJob"
	const q = `
		UPDATE jobs SET status = 'completed', progress = 1.0,
			model_id = $2, metrics = COALESCE($3, metrics),
			completed_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'running'`

	tag, err := s.db.Exec(ctx, q, id, nullIfEmpty(modelID), jsonOrNull(metrics), now)
	if err != nil {
		return false, errs.Unavailable(op, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGJobStore) FailJob(ctx context.Context, id, errMsg string, now time.Time) (bool, error) {
	const op = "orchestrator.FailJob"
	const q = `
		UPDATE jobs SET status = 'failed', error_message = $2,
			completed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'running'`

	tag, err := s.db.Exec(ctx, q, id, errMsg, now)
	if err != nil {
		return false, errs.Unavailable(op, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGJobStore) CancelJob(ctx context.Context, id string, now time.Time) (bool, error) {
	const op = "orchestrator.CancelJob"
	const q = `
		UPDATE jobs SET status = 'cancelled', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('queued', 'running')`

	tag, err := s.db.Exec(ctx, q, id, now)
	if err != nil {
		return false, errs.Unavailable(op, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGJobStore) RequeueRunning(ctx context.Context) (int, error) {
	const op = "orchestrator.RequeueRunning"
	const q = `
		UPDATE jobs SET status = 'queued', progress = 0,
			started_at = NULL, updated_at = now()
		WHERE status = 'running'`

	tag, err := s.db.Exec(ctx, q)
	if err != nil {
		return 0, errs.Unavailable(op, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGJobStore) AppendLog(ctx context.Context, id string, entry LogEntry) error {
	const op = "orchestrator.AppendLog"
	const q = `INSERT INTO job_logs (job_id, ts, level, message) VALUES ($1, $2, $3, $4)`

	_, err := s.db.Exec(ctx, q, id, entry.Ts, entry.Level, entry.Message)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return errs.NotFound(op, "job %q", id)
		}
		return errs.Unavailable(op, err)
	}
	return nil
}

func (s *PGJobStore) TailLogs(ctx context.Context, id string, tail int, level string) ([]LogEntry, error) {
	const op = "orchestrator.TailLogs"

	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM jobs WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound(op, "job %q", id)
	}
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}

	args := []any{id}
	inner := `SELECT id, ts, level, message FROM job_logs WHERE job_id = $1`
	if level != "" {
		args = append(args, level)
		inner += fmt.Sprintf(` AND level = $%d`, len(args))
	}
	inner += ` ORDER BY id DESC`
	if tail > 0 {
		args = append(args, tail)
		inner += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	q := `SELECT ts, level, message FROM (` + inner + `) t ORDER BY id ASC`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Ts, &e.Level, &e.Message); err != nil {
			return nil, errs.Unavailable(op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Unavailable(op, err)
	}
	return entries, nil
}

func (s *PGJobStore) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	const op = "orchestrator.CountByStatus"

	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}
	defer rows.Close()

	counts := map[JobStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errs.Unavailable(op, err)
		}
		counts[JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Unavailable(op, err)
	}
	return counts, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var job Job
	var status string
	var modelID, errMsg, schedule *string
	var est *int
	err := row.Scan(&job.ID, &job.TenantID, &job.ModelKind, &job.ModelName, &job.Config,
		&job.Priority, &status, &job.Progress,
		&job.Metrics, &modelID, &errMsg, &job.Tags, &schedule, &est,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	if modelID != nil {
		job.ModelID = *modelID
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	if schedule != nil {
		job.Schedule = *schedule
	}
	if est != nil {
		job.EstimatedSeconds = *est
	}
	return &job, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// jsonOrNull keeps a nil map out of jsonb columns as SQL NULL rather than a
// JSON null literal.
func jsonOrNull(m map[string]float64) any {
	if m == nil {
		return nil
	}
	return m
}
