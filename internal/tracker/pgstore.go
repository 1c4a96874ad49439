package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/database"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// PGStore is the Postgres-backed Store over the experiments, runs,
// run_params and run_metrics tables.
type PGStore struct {
	db database.Queryer
}

// NewPGStore creates a store over the given connection pool.
func NewPGStore(db database.Queryer) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) GetOrCreateExperiment(ctx context.Context, exp *Experiment) (*Experiment, error) {
	const op = "tracker.GetOrCreateExperiment"
	// DO UPDATE on the name makes RETURNING yield the existing row when the
	// experiment already exists.
	const q = `
		INSERT INTO experiments (name, tenant_id, model_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, tenant_id, model_type, created_at`

	var out Experiment
	err := s.db.QueryRow(ctx, q, exp.Name, exp.TenantID, exp.ModelKind).
		Scan(&out.ID, &out.Name, &out.TenantID, &out.ModelKind, &out.CreatedAt)
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}
	return &out, nil
}

func (s *PGStore) GetExperiment(ctx context.Context, name string) (*Experiment, error) {
	const op = "tracker.GetExperiment"
	const q = `SELECT id, name, tenant_id, model_type, created_at FROM experiments WHERE name = $1`

	var out Experiment
	err := s.db.QueryRow(ctx, q, name).
		Scan(&out.ID, &out.Name, &out.TenantID, &out.ModelKind, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound(op, "experiment %q", name)
	}
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}
	return &out, nil
}

func (s *PGStore) InsertRun(ctx context.Context, run *Run) error {
	const op = "tracker.InsertRun"
	const q = `
		INSERT INTO runs (id, experiment_id, name, status, tags, artifact_uri, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, q,
		run.ID, run.ExperimentID, run.Name, string(run.Status),
		run.Tags, nullIfEmpty(run.ArtifactURI), run.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Conflict(op, "run %q already exists", run.ID)
		}
		return errs.Unavailable(op, err)
	}
	return nil
}

func (s *PGStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	const op = "tracker.GetRun"
	const q = `
		SELECT id, experiment_id, name, status, tags, artifact_uri, started_at, ended_at
		FROM runs WHERE id = $1`

	run, err := scanRun(s.db.QueryRow(ctx, q, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound(op, "run %q", runID)
	}
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}
	if err := s.hydrate(ctx, map[string]*Run{run.ID: run}); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *PGStore) EndRun(ctx context.Context, runID string, status RunStatus, endedAt time.Time) (bool, error) {
	const op = "tracker.EndRun"
	const q = `UPDATE runs SET status = $2, ended_at = $3 WHERE id = $1 AND status = 'running'`

	tag, err := s.db.Exec(ctx, q, runID, string(status), endedAt)
	if err != nil {
		return false, errs.Unavailable(op, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var one int
	err = s.db.QueryRow(ctx, `SELECT 1 FROM runs WHERE id = $1`, runID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, errs.NotFound(op, "run %q", runID)
	}
	if err != nil {
		return false, errs.Unavailable(op, err)
	}
	return false, nil
}

func (s *PGStore) UpsertParam(ctx context.Context, runID, key, value string) error {
	const op = "tracker.UpsertParam"
	const q = `
		INSERT INTO run_params (run_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value`

	if _, err := s.db.Exec(ctx, q, runID, key, value); err != nil {
		if isForeignKeyViolation(err) {
			return errs.NotFound(op, "run %q", runID)
		}
		return errs.Unavailable(op, err)
	}
	return nil
}

func (s *PGStore) AppendMetric(ctx context.Context, runID, key string, point MetricPoint) error {
	const op = "tracker.AppendMetric"
	const q = `INSERT INTO run_metrics (run_id, key, value, step, ts) VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.db.Exec(ctx, q, runID, key, point.Value, point.Step, point.Timestamp); err != nil {
		if isForeignKeyViolation(err) {
			return errs.NotFound(op, "run %q", runID)
		}
		return errs.Unavailable(op, err)
	}
	return nil
}

func (s *PGStore) SetTag(ctx context.Context, runID, key, value string) error {
	const op = "tracker.SetTag"
	const q = `UPDATE runs SET tags = tags || jsonb_build_object($2::text, $3::text) WHERE id = $1`

	tag, err := s.db.Exec(ctx, q, runID, key, value)
	if err != nil {
		return errs.Unavailable(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound(op, "run %q", runID)
	}
	return nil
}

func (s *PGStore) ListRuns(ctx context.Context, experimentIDs []int64) ([]*Run, error) {
	const op = "tracker.ListRuns"
	const q = `
		SELECT id, experiment_id, name, status, tags, artifact_uri, started_at, ended_at
		FROM runs WHERE experiment_id = ANY($1::bigint[]) ORDER BY started_at ASC`

	rows, err := s.db.Query(ctx, q, experimentIDs)
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}
	defer rows.Close()

	byID := map[string]*Run{}
	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errs.Unavailable(op, err)
		}
		byID[run.ID] = run
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Unavailable(op, err)
	}
	if err := s.hydrate(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

// hydrate fills params and metric sequences for the given runs in two
// batched queries. Metric order follows the run_metrics serial id, which is
// insertion order.
func (s *PGStore) hydrate(ctx context.Context, runs map[string]*Run) error {
	const op = "tracker.hydrate"
	if len(runs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(runs))
	for id := range runs {
		ids = append(ids, id)
	}

	paramRows, err := s.db.Query(ctx,
		`SELECT run_id, key, value FROM run_params WHERE run_id = ANY($1::uuid[])`, ids)
	if err != nil {
		return errs.Unavailable(op, err)
	}
	defer paramRows.Close()
	for paramRows.Next() {
		var runID, key, value string
		if err := paramRows.Scan(&runID, &key, &value); err != nil {
			return errs.Unavailable(op, err)
		}
		runs[runID].Params[key] = value
	}
	if err := paramRows.Err(); err != nil {
		return errs.Unavailable(op, err)
	}

	metricRows, err := s.db.Query(ctx,
		`SELECT run_id, key, value, step, ts FROM run_metrics WHERE run_id = ANY($1::uuid[]) ORDER BY id ASC`, ids)
	if err != nil {
		return errs.Unavailable(op, err)
	}
	defer metricRows.Close()
	for metricRows.Next() {
		var runID, key string
		var point MetricPoint
		if err := metricRows.Scan(&runID, &key, &point.Value, &point.Step, &point.Timestamp); err != nil {
			return errs.Unavailable(op, err)
		}
		run := runs[runID]
		run.Metrics[key] = append(run.Metrics[key], point)
	}
	if err := metricRows.Err(); err != nil {
		return errs.Unavailable(op, err)
	}
	return nil
}

func scanRun(row pgx.Row) (*Run, error) {
	run := &Run{
		Params:  map[string]string{},
		Metrics: map[string][]MetricPoint{},
		Tags:    map[string]string{},
	}
	var status string
	var artifactURI *string
	err := row.Scan(&run.ID, &run.ExperimentID, &run.Name, &status,
		&run.Tags, &artifactURI, &run.StartedAt, &run.EndedAt)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if artifactURI != nil {
		run.ArtifactURI = *artifactURI
	}
	return run, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
