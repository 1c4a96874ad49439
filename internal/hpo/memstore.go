package hpo

import (
	"context"
	"sync"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// MemStudyStore is the in-memory StudyStore used for embedded optimize runs
// and tests. It does not support resume.
type MemStudyStore struct {
	mu      sync.Mutex
	studies map[string]*memStudy
}

type memStudy struct {
	study      Study
	nextNumber int
	trials     []*Trial
}

// NewMemStudyStore creates an empty in-memory store.
func NewMemStudyStore() *MemStudyStore {
	return &MemStudyStore{studies: map[string]*memStudy{}}
}

func (s *MemStudyStore) CreateStudy(_ context.Context, study *Study) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.studies[study.Name]; ok {
		return errs.Conflict("hpo.CreateStudy", "study %q already exists", study.Name)
	}
	s.studies[study.Name] = &memStudy{study: *study}
	return nil
}

func (s *MemStudyStore) GetStudy(_ context.Context, name string) (*Study, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.studies[name]
	if !ok {
		return nil, errs.NotFound("hpo.GetStudy", "study %q", name)
	}
	cp := rec.study
	return &cp, nil
}

func (s *MemStudyStore) DeleteStudy(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.studies[name]; !ok {
		return errs.NotFound("hpo.DeleteStudy", "study %q", name)
	}
	delete(s.studies, name)
	return nil
}

func (s *MemStudyStore) InsertTrial(_ context.Context, studyName string, trial *Trial) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.studies[studyName]
	if !ok {
		return 0, errs.NotFound("hpo.InsertTrial", "study %q", studyName)
	}
	number := rec.nextNumber
	rec.nextNumber++
	stored := trial.Clone()
	stored.Number = number
	rec.trials = append(rec.trials, stored)
	return number, nil
}

func (s *MemStudyStore) UpdateTrial(_ context.Context, studyName string, trial *Trial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.studies[studyName]
	if !ok {
		return errs.NotFound("hpo.UpdateTrial", "study %q", studyName)
	}
	for i, t := range rec.trials {
		if t.Number == trial.Number {
			rec.trials[i] = trial.Clone()
			return nil
		}
	}
	return errs.NotFound("hpo.UpdateTrial", "trial %d of study %q", trial.Number, studyName)
}

func (s *MemStudyStore) ListTrials(_ context.Context, studyName string) ([]*Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.studies[studyName]
	if !ok {
		return nil, errs.NotFound("hpo.ListTrials", "study %q", studyName)
	}
	out := make([]*Trial, 0, len(rec.trials))
	for _, t := range rec.trials {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (s *MemStudyStore) Persistent() bool { return false }
