// Package httpapi is the thin HTTP boundary of the hub: request parsing,
// error-kind to status mapping and JSON rendering. All behavior lives in the
// components it fronts.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/featurestore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/hpo"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/orchestrator"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/registry"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/tracker"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging/ginlog"
)

// ReadyCheck probes one dependency for the readiness endpoint.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Params collects the server's collaborators. Gatherer and ZapLogger are
// optional; without them /metrics serves nothing registered and request
// logging is skipped.
type Params struct {
	Config       *Config
	Orchestrator *orchestrator.Orchestrator
	HPO          *hpo.Engine
	Registry     *registry.Registry
	Features     *featurestore.Store
	Tracker      *tracker.Tracker
	Logger       logging.Interface
	ZapLogger    *zap.Logger
	Gatherer     prometheus.Gatherer
	Readiness    []ReadyCheck
}

// Server hosts the REST API over the core components.
type Server struct {
	config       *Config
	orchestrator *orchestrator.Orchestrator
	hpo          *hpo.Engine
	registry     *registry.Registry
	features     *featurestore.Store
	tracker      *tracker.Tracker
	logger       logging.Interface
	zapLogger    *zap.Logger
	gatherer     prometheus.Gatherer
	readiness    []ReadyCheck

	httpServer *http.Server
}

// NewServer assembles the server. Call Router to obtain the handler or
// Start/Stop to run it.
func NewServer(p Params) *Server {
	logger := p.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	config := p.Config
	if config == nil {
		config, _ = NewConfig()
	}
	return &Server{
		config:       config,
		orchestrator: p.Orchestrator,
		hpo:          p.HPO,
		registry:     p.Registry,
		features:     p.Features,
		tracker:      p.Tracker,
		logger:       logger,
		zapLogger:    p.ZapLogger,
		gatherer:     p.Gatherer,
		readiness:    p.Readiness,
	}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	if !s.config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if s.zapLogger != nil {
		router.Use(ginlog.RequestLogger(s.zapLogger))
	}
	if len(s.config.AllowOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = s.config.AllowOrigins
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		router.Use(cors.New(corsConfig))
	}

	router.GET("/health", s.health)
	router.GET("/ready", s.ready)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	training := router.Group("/training")
	{
		training.POST("/jobs/start", s.startTrainingJob)
		training.GET("/jobs", s.listTrainingJobs)
		training.GET("/jobs/:id", s.getTrainingJob)
		training.DELETE("/jobs/:id", s.cancelTrainingJob)
		training.POST("/jobs/:id/retry", s.retryTrainingJob)
		training.GET("/jobs/:id/logs", s.trainingJobLogs)
		training.GET("/stats", s.trainingStats)
	}

	studies := router.Group("/hpo/studies")
	{
		studies.POST("", s.createStudy)
		studies.GET("/:name", s.getStudy)
		studies.GET("/:name/trials", s.listTrials)
		studies.GET("/:name/importances", s.studyImportances)
		studies.GET("/:name/history", s.studyHistory)
		studies.DELETE("/:name", s.deleteStudy)
	}

	models := router.Group("/models")
	{
		models.POST("", s.registerModel)
		models.GET("", s.listModels)
		models.GET("/:id", s.getModel)
		models.GET("/:id/download", s.downloadModel)
		models.PUT("/:id/promote", s.promoteModel)
		models.DELETE("/:id", s.deleteModel)
	}

	features := router.Group("/features")
	{
		features.POST("/get", s.getFeatures)
		features.POST("/export", s.exportFeatures)
		features.GET("/exports", s.listFeatureExports)
		features.GET("/sets", s.listFeatureSets)
		features.DELETE("/cache", s.invalidateFeatureCache)
	}

	experiments := router.Group("/experiments")
	{
		experiments.POST("/runs", s.createRun)
		experiments.GET("/runs/:id", s.getRun)
		experiments.POST("/runs/:id/params", s.logRunParams)
		experiments.POST("/runs/:id/metrics", s.logRunMetrics)
		experiments.POST("/runs/:id/end", s.endRun)
		experiments.POST("/search", s.searchRuns)
		experiments.POST("/compare", s.compareRuns)
		experiments.GET("/:name/best", s.bestRun)
		experiments.GET("/:name/stats", s.experimentStats)
	}

	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ready probes every registered dependency; any failure degrades the whole
// endpoint to 503 with per-check detail.
func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.readiness))
	for _, rc := range s.readiness {
		if err := rc.Check(ctx); err != nil {
			checks[rc.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[rc.Name] = "ok"
	}
	c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
}

// Start binds the listener and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("http server failed")
		}
	}()
	s.logger.WithField("port", s.config.Port).Info("http server listening")
	return nil
}

// Stop drains in-flight requests within the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
