package integration_tests

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/hpo"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/model"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/orchestrator"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/pipeline"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/registry"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/tracker"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/validator"
)

var _ = Describe("Training job lifecycle", Ordered, func() {
	var (
		ctx   context.Context
		orch  *orchestrator.Orchestrator
		reg   *registry.Registry
		trk   *tracker.Tracker
		rec   *recordingRunner
		start time.Time
		end   time.Time
		job   *orchestrator.Job
	)

	BeforeAll(func() {
		ctx = context.Background()
		start = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		end = start.Add(21 * 24 * time.Hour)
		rows := syntheticLoadRows("tenant-a", "meter-001", start, end)

		reg = registry.New(newMemGateway(), nil)
		trk = tracker.New(tracker.Params{
			Store:        tracker.NewMemStore(),
			Files:        afero.NewMemMapFs(),
			ArtifactRoot: "/artifacts",
		})
		pipe := pipeline.New(pipeline.Params{
			Rows:      windowSource(rows),
			Registry:  reg,
			Tracker:   trk,
			HPO:       hpo.New(hpo.Params{Store: hpo.NewMemStudyStore()}),
			Validator: validator.New(nil),
		})
		rec = &recordingRunner{inner: pipe}

		config, err := orchestrator.NewConfig()
		Expect(err).NotTo(HaveOccurred())
		config.MaxConcurrentJobs = 2
		config.PollInterval = 20 * time.Millisecond

		orch = orchestrator.New(orchestrator.Params{
			Store:  orchestrator.NewMemJobStore(),
			Runner: rec,
			Config: config,
		})
		Expect(orch.Start(ctx)).To(Succeed())
	})

	AfterAll(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(orch.Stop(stopCtx)).To(Succeed())
	})

	It("accepts a forecast job into the queue", func() {
		var err error
		job, err = orch.Submit(ctx, orchestrator.SubmitRequest{
			TenantID:  "tenant-a",
			ModelKind: model.Forecast,
			ModelName: "load-forecast",
			Config: pipeline.TrainingConfig{
				Target:    "load_kw",
				StartTime: start,
				EndTime:   end,
				Seed:      42,
				Hyperparameters: map[string]any{
					"n_estimators":  30,
					"learning_rate": 0.1,
					"max_depth":     3,
				},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Status).To(Equal(orchestrator.JobQueued))
		Expect(job.EstimatedSeconds).To(BeNumerically(">=", 0))
	})

	It("runs the job to completion", func() {
		Eventually(func() orchestrator.JobStatus {
			current, err := orch.Get(ctx, job.ID)
			if err != nil {
				return ""
			}
			return current.Status
		}, "30s", "50ms").Should(Equal(orchestrator.JobCompleted))

		final, err := orch.Get(ctx, job.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(final.Progress).To(Equal(1.0))
		Expect(final.ModelID).NotTo(BeEmpty())
		Expect(final.Metrics["mae"]).To(BeNumerically(">", 0))
		Expect(final.Metrics["rmse"]).To(BeNumerically(">", 0))
		Expect(final.Metrics["mape"]).To(BeNumerically(">", 0))
		Expect(final.Metrics["training_time_seconds"]).To(BeNumerically(">", 0))
		Expect(final.CompletedAt).NotTo(BeNil())
		job = final
	})

	It("reports progress at the stage milestones in order", func() {
		Expect(rec.Fractions()).To(Equal([]float64{
			pipeline.ProgressLoad,
			pipeline.ProgressPreprocess,
			pipeline.ProgressFit,
			pipeline.ProgressEvaluate,
			pipeline.ProgressRegister,
		}))
	})

	It("registers the trained model in staging", func() {
		tenant, name, version, err := registry.ParseModelID(job.ModelID)
		Expect(err).NotTo(HaveOccurred())
		Expect(tenant).To(Equal("tenant-a"))
		Expect(name).To(Equal("load-forecast"))

		mv, err := reg.Get(ctx, tenant, name, version)
		Expect(err).NotTo(HaveOccurred())
		Expect(mv.Metadata.Stage).To(Equal(registry.StageStaging))
		Expect(mv.Metrics["mae"]).To(Equal(job.Metrics["mae"]))

		artifact, err := reg.GetArtifact(ctx, tenant, name, version)
		Expect(err).NotTo(HaveOccurred())
		Expect(artifact).NotTo(BeEmpty())
	})

	It("records the experiment run as finished", func() {
		best, err := trk.GetBestRun(ctx, "load-forecast", "mae", false)
		Expect(err).NotTo(HaveOccurred())
		Expect(best.Status).To(Equal(tracker.RunFinished))
		Expect(best.Tags).To(HaveKeyWithValue("job_id", job.ID))

		mae, ok := best.LatestMetric("mae")
		Expect(ok).To(BeTrue())
		Expect(mae).To(Equal(job.Metrics["mae"]))
	})

	It("keeps the job log trail", func() {
		logs, err := orch.Logs(ctx, job.ID, 0, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).NotTo(BeEmpty())

		messages := make([]string, len(logs))
		for i, entry := range logs {
			messages[i] = entry.Message
		}
		Expect(messages[0]).To(ContainSubstring("job queued"))
		Expect(messages).To(ContainElement(ContainSubstring("job started")))
		Expect(messages[len(messages)-1]).To(ContainSubstring("job completed"))
	})
})

var _ = Describe("Queue capacity and cancellation", Ordered, func() {
	var (
		ctx    context.Context
		orch   *orchestrator.Orchestrator
		runner *blockingRunner
		jobA   *orchestrator.Job
		jobB   *orchestrator.Job
	)

	submit := func(name string) *orchestrator.Job {
		job, err := orch.Submit(ctx, orchestrator.SubmitRequest{
			TenantID:  "tenant-a",
			ModelKind: model.Forecast,
			ModelName: name,
			Config: pipeline.TrainingConfig{
				Target:    "load_kw",
				StartTime: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
				EndTime:   time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC),
			},
		})
		Expect(err).NotTo(HaveOccurred())
		return job
	}

	BeforeAll(func() {
		ctx = context.Background()
		runner = newBlockingRunner()

		config, err := orchestrator.NewConfig()
		Expect(err).NotTo(HaveOccurred())
		config.MaxConcurrentJobs = 1
		config.PollInterval = 10 * time.Millisecond

		orch = orchestrator.New(orchestrator.Params{
			Store:  orchestrator.NewMemJobStore(),
			Runner: runner,
			Config: config,
		})
		Expect(orch.Start(ctx)).To(Succeed())
	})

	AfterAll(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(orch.Stop(stopCtx)).To(Succeed())
	})

	It("runs one job at a time and queues the rest", func() {
		jobA = submit("capacity-a")

		var startedID string
		Eventually(runner.started, "5s").Should(Receive(&startedID))
		Expect(startedID).To(Equal(jobA.ID))

		jobB = submit("capacity-b")
		Consistently(func() orchestrator.JobStatus {
			current, err := orch.Get(ctx, jobB.ID)
			Expect(err).NotTo(HaveOccurred())
			return current.Status
		}, "300ms", "50ms").Should(Equal(orchestrator.JobQueued))
	})

	It("cancels a queued job without ever running it", func() {
		cancelled, err := orch.Cancel(ctx, jobB.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(cancelled.Status).To(Equal(orchestrator.JobCancelled))
		Expect(runner.Runs()).To(Equal(1))
	})

	It("completes the first job once released", func() {
		runner.Release()
		Eventually(func() orchestrator.JobStatus {
			current, err := orch.Get(ctx, jobA.ID)
			if err != nil {
				return ""
			}
			return current.Status
		}, "5s", "50ms").Should(Equal(orchestrator.JobCompleted))

		// The cancelled job never reached the runner.
		Expect(runner.Runs()).To(Equal(1))
	})

	It("cancels a running job and frees its slot", func() {
		jobC := submit("capacity-c")
		var startedID string
		Eventually(runner.started, "5s").Should(Receive(&startedID))
		Expect(startedID).To(Equal(jobC.ID))

		cancelled, err := orch.Cancel(ctx, jobC.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(cancelled.Status).To(Equal(orchestrator.JobCancelled))

		jobD := submit("capacity-d")
		Eventually(runner.started, "5s").Should(Receive(&startedID))
		Expect(startedID).To(Equal(jobD.ID))

		runner.Release()
		Eventually(func() orchestrator.JobStatus {
			current, err := orch.Get(ctx, jobD.ID)
			if err != nil {
				return ""
			}
			return current.Status
		}, "5s", "50ms").Should(Equal(orchestrator.JobCompleted))
	})
})
