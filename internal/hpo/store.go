package hpo

import "context"

// StudyStore persists studies and their trials. ResumeStudy is only
// available on stores that report Persistent.
type StudyStore interface {
	// CreateStudy inserts a study; an existing name is a conflict.
	CreateStudy(ctx context.Context, study *Study) error

	// GetStudy fetches a study by name.
	GetStudy(ctx context.Context, name string) (*Study, error)

	// DeleteStudy removes the study and all its trials.
	DeleteStudy(ctx context.Context, name string) error

	// InsertTrial stores a new trial and assigns it the study's next
	// monotone number.
	InsertTrial(ctx context.Context, studyName string, trial *Trial) (int, error)

	// UpdateTrial rewrites the trial identified by its study and number.
	UpdateTrial(ctx context.Context, studyName string, trial *Trial) error

	// ListTrials returns the study's trials ordered by number.
	ListTrials(ctx context.Context, studyName string) ([]*Trial, error)

	// Persistent reports whether studies survive process restarts.
	Persistent() bool
}
