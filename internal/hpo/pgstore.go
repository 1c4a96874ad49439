package hpo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/database"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// PGStudyStore is the Postgres-backed StudyStore over the studies and trials
// tables. Studies created here survive restarts and support resume.
type PGStudyStore struct {
	db database.Queryer
}

// NewPGStudyStore creates a store over the given connection pool.
func NewPGStudyStore(db database.Queryer) *PGStudyStore {
	return &PGStudyStore{db: db}
}

func (s *PGStudyStore) CreateStudy(ctx context.Context, study *Study) error {
	const op = "hpo.CreateStudy"
	const q = `
		INSERT INTO studies (name, tenant_id, model_type, direction, sampler, pruner, n_trials, timeout_seconds, user_attrs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var timeoutSeconds *int
	if study.Timeout > 0 {
		secs := int(study.Timeout / time.Second)
		timeoutSeconds = &secs
	}
	attrs := study.UserAttrs
	if attrs == nil {
		attrs = map[string]string{}
	}

	_, err := s.db.Exec(ctx, q,
		study.Name, study.TenantID, study.ModelKind, string(study.Direction),
		study.Sampler, study.Pruner, study.NTrials, timeoutSeconds, attrs, study.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errs.Conflict(op, "study %q already exists", study.Name)
		}
		return errs.Unavailable(op, err)
	}
	return nil
}

func (s *PGStudyStore) GetStudy(ctx context.Context, name string) (*Study, error) {
	const op = "hpo.GetStudy"
	const q = `
		SELECT name, tenant_id, model_type, direction, sampler, pruner, n_trials, timeout_seconds, user_attrs, created_at
		FROM studies WHERE name = $1`

	var study Study
	var direction string
	var timeoutSeconds *int
	err := s.db.QueryRow(ctx, q, name).Scan(
		&study.Name, &study.TenantID, &study.ModelKind, &direction,
		&study.Sampler, &study.Pruner, &study.NTrials, &timeoutSeconds,
		&study.UserAttrs, &study.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound(op, "study %q", name)
	}
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}
	study.Direction = Direction(direction)
	if timeoutSeconds != nil {
		study.Timeout = time.Duration(*timeoutSeconds) * time.Second
	}
	return &study, nil
}

func (s *PGStudyStore) DeleteStudy(ctx context.Context, name string) error {
	const op = "hpo.DeleteStudy"

	tag, err := s.db.Exec(ctx, `DELETE FROM studies WHERE name = $1`, name)
	if err != nil {
		return errs.Unavailable(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound(op, "study %q", name)
	}
	return nil
}

func (s *PGStudyStore) InsertTrial(ctx context.Context, studyName string, trial *Trial) (int, error) {
	const op = "hpo.InsertTrial"
	// The subquery allocates the next monotone number; the unique constraint
	// on (study_name, number) backstops concurrent inserts.
	const q = `
		INSERT INTO trials (study_name, number, state, params, value, reports, started_at)
		VALUES ($1, (SELECT COALESCE(MAX(number), -1) + 1 FROM trials WHERE study_name = $1), $2, $3, $4, $5, $6)
		RETURNING number`

	reports := trial.Reports
	if reports == nil {
		reports = []Report{}
	}

	var number int
	err := s.db.QueryRow(ctx, q,
		studyName, string(trial.State), trial.Params, trial.Value, reports, trial.StartedAt).
		Scan(&number)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return 0, errs.NotFound(op, "study %q", studyName)
		}
		return 0, errs.Unavailable(op, err)
	}
	return number, nil
}

func (s *PGStudyStore) UpdateTrial(ctx context.Context, studyName string, trial *Trial) error {
	const op = "hpo.UpdateTrial"
	const q = `
		UPDATE trials SET state = $3, params = $4, value = $5, reports = $6, completed_at = $7
		WHERE study_name = $1 AND number = $2`

	reports := trial.Reports
	if reports == nil {
		reports = []Report{}
	}

	tag, err := s.db.Exec(ctx, q,
		studyName, trial.Number, string(trial.State), trial.Params, trial.Value, reports, trial.CompletedAt)
	if err != nil {
		return errs.Unavailable(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound(op, "trial %d of study %q", trial.Number, studyName)
	}
	return nil
}

func (s *PGStudyStore) ListTrials(ctx context.Context, studyName string) ([]*Trial, error) {
	const op = "hpo.ListTrials"

	// Missing studies are an error, an empty trial list is not.
	if _, err := s.GetStudy(ctx, studyName); err != nil {
		return nil, err
	}

	const q = `
		SELECT number, state, params, value, reports, started_at, completed_at
		FROM trials WHERE study_name = $1 ORDER BY number ASC`

	rows, err := s.db.Query(ctx, q, studyName)
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}
	defer rows.Close()

	var out []*Trial
	for rows.Next() {
		trial := &Trial{}
		var state string
		err := rows.Scan(&trial.Number, &state, &trial.Params, &trial.Value,
			&trial.Reports, &trial.StartedAt, &trial.CompletedAt)
		if err != nil {
			return nil, errs.Unavailable(op, err)
		}
		trial.State = TrialState(state)
		out = append(out, trial)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Unavailable(op, err)
	}
	return out, nil
}

func (s *PGStudyStore) Persistent() bool { return true }
