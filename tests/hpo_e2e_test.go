package integration_tests

import (
	"context"
	"errors"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/hpo"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/model"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

var _ = Describe("Hyper-parameter optimization study", Ordered, func() {
	const studyName = "gbm-learning-rate-sweep"
	const nTrials = 10

	var (
		ctx    context.Context
		engine *hpo.Engine
		result *hpo.OptimizeResult
	)

	BeforeAll(func() {
		ctx = context.Background()
		engine = hpo.New(hpo.Params{Store: hpo.NewMemStudyStore()})
	})

	It("creates the study with TPE sampling and median pruning", func() {
		study, err := engine.CreateStudy(ctx, hpo.CreateStudyRequest{
			Name:      studyName,
			TenantID:  "tenant-a",
			ModelKind: model.Forecast,
			Direction: hpo.Minimize,
			Sampler:   "tpe",
			Pruner:    "median",
			NTrials:   nTrials,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(study.Sampler).To(Equal("tpe"))
		Expect(study.Pruner).To(Equal("median"))
		Expect(study.NTrials).To(Equal(nTrials))
	})

	It("rejects a duplicate study name", func() {
		_, err := engine.CreateStudy(ctx, hpo.CreateStudyRequest{Name: studyName})
		Expect(errs.KindOf(err)).To(Equal(errs.KindConflict))
	})

	It("runs the optimize loop to the trial budget", func() {
		var invocations int32
		objective := func(ctx context.Context, trial *hpo.TrialHandle) (float64, error) {
			if atomic.AddInt32(&invocations, 1) == 3 {
				return 0, errors.New("synthetic trainer crash")
			}
			lr := trial.Float("learning_rate")
			trees := trial.Int("n_estimators")
			value := lr*10 + float64(trees)*0.001
			for step := 1; step <= 3; step++ {
				trial.Report(ctx, step, value*float64(4-step))
				if trial.ShouldPrune(ctx) {
					return 0, hpo.ErrTrialPruned
				}
			}
			return value, nil
		}

		var err error
		result, err = engine.Optimize(ctx, hpo.OptimizeRequest{
			StudyName: studyName,
			Objective: objective,
			SearchSpace: hpo.SearchSpace{
				"learning_rate": {Kind: hpo.ParamFloat, Low: 0.001, High: 0.3},
				"n_estimators":  {Kind: hpo.ParamInt, Low: 50, High: 300},
			},
			Seed: 7,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Completed + result.Pruned + result.Failed).To(Equal(nTrials))
		Expect(result.Failed).To(Equal(1))
		Expect(result.Completed).To(BeNumerically(">", 0))
		Expect(result.BestTrial).NotTo(BeNil())

		trials, err := engine.ListTrials(ctx, studyName)
		Expect(err).NotTo(HaveOccurred())
		Expect(trials).To(HaveLen(nTrials))
	})

	It("returns the best trial under minimize", func() {
		best, err := engine.BestTrial(ctx, studyName)
		Expect(err).NotTo(HaveOccurred())
		Expect(best).NotTo(BeNil())
		Expect(best.Value).NotTo(BeNil())

		trials, err := engine.ListTrials(ctx, studyName)
		Expect(err).NotTo(HaveOccurred())
		for _, trial := range trials {
			if trial.State != hpo.TrialComplete {
				continue
			}
			Expect(*best.Value).To(BeNumerically("<=", *trial.Value))
		}
	})

	It("reports a monotone best-so-far history", func() {
		history, err := engine.GetOptimizationHistory(ctx, studyName)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(result.Completed))
		for i := 1; i < len(history); i++ {
			Expect(history[i].BestValue).To(BeNumerically("<=", history[i-1].BestValue))
		}
	})

	It("attributes importance across both dimensions", func() {
		importance, err := engine.Importance(ctx, studyName)
		Expect(err).NotTo(HaveOccurred())
		if result.Completed >= 2 {
			Expect(importance).To(HaveKey("learning_rate"))
			Expect(importance).To(HaveKey("n_estimators"))
		} else {
			Expect(importance).To(BeEmpty())
		}
	})

	It("deletes the study and its trials", func() {
		Expect(engine.DeleteStudy(ctx, studyName)).To(Succeed())
		_, err := engine.GetStudy(ctx, studyName)
		Expect(errs.KindOf(err)).To(Equal(errs.KindNotFound))
	})
})
