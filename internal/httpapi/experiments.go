package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/tracker"
)

type createRunBody struct {
	Experiment string            `json:"experiment" binding:"required"`
	TenantID   string            `json:"tenant_id"`
	ModelKind  string            `json:"model_kind"`
	Name       string            `json:"run_name"`
	Tags       map[string]string `json:"tags"`
}

func (s *Server) createRun(c *gin.Context) {
	var body createRunBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortValidation(c, err)
		return
	}
	run, err := s.tracker.CreateRun(c.Request.Context(), tracker.CreateRunRequest{
		Experiment: body.Experiment,
		TenantID:   body.TenantID,
		ModelKind:  body.ModelKind,
		Name:       body.Name,
		Tags:       body.Tags,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.tracker.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) logRunParams(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		abortValidation(c, err)
		return
	}
	if err := s.tracker.LogParams(c.Request.Context(), c.Param("id"), body); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "logged": len(body)})
}

type logMetricBody struct {
	Key       string     `json:"key" binding:"required"`
	Value     float64    `json:"value"`
	Step      int64      `json:"step"`
	Timestamp *time.Time `json:"timestamp"`
}

func (s *Server) logRunMetrics(c *gin.Context) {
	var entries []logMetricBody
	if err := c.ShouldBindJSON(&entries); err != nil {
		abortValidation(c, err)
		return
	}
	for _, entry := range entries {
		ts := time.Now().UTC()
		if entry.Timestamp != nil {
			ts = *entry.Timestamp
		}
		if err := s.tracker.LogMetric(c.Request.Context(), c.Param("id"), entry.Key, entry.Value, entry.Step, ts); err != nil {
			s.abortWithError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "logged": len(entries)})
}

type endRunBody struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) endRun(c *gin.Context) {
	var body endRunBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortValidation(c, err)
		return
	}
	if err := s.tracker.EndRun(c.Request.Context(), c.Param("id"), tracker.RunStatus(body.Status)); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "status": body.Status})
}

type searchRunsBody struct {
	Experiments []string          `json:"experiments" binding:"required"`
	Status      string            `json:"status"`
	Tags        map[string]string `json:"tags"`
	OrderBy     []string          `json:"order_by"`
	Max         int               `json:"max"`
}

func (s *Server) searchRuns(c *gin.Context) {
	var body searchRunsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortValidation(c, err)
		return
	}
	runs, err := s.tracker.SearchRuns(c.Request.Context(), tracker.SearchRequest{
		Experiments: body.Experiments,
		Status:      tracker.RunStatus(body.Status),
		Tags:        body.Tags,
		OrderBy:     body.OrderBy,
		Max:         body.Max,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": runs, "total": len(runs)})
}

type compareRunsBody struct {
	RunIDs     []string `json:"run_ids" binding:"required"`
	MetricKeys []string `json:"metric_keys"`
}

func (s *Server) compareRuns(c *gin.Context) {
	var body compareRunsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortValidation(c, err)
		return
	}
	comparisons, err := s.tracker.CompareRuns(c.Request.Context(), body.RunIDs, body.MetricKeys)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": comparisons})
}

func (s *Server) bestRun(c *gin.Context) {
	metric := c.Query("metric")
	if metric == "" {
		metric = "mae"
	}
	maximize := c.Query("maximize") == "true"
	run, err := s.tracker.GetBestRun(c.Request.Context(), c.Param("name"), metric, maximize)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiment": c.Param("name"), "metric": metric, "best_run": run})
}

func (s *Server) experimentStats(c *gin.Context) {
	stats, err := s.tracker.GetExperimentStats(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
