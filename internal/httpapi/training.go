package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/orchestrator"
)

func (s *Server) startTrainingJob(c *gin.Context) {
	var req orchestrator.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortValidation(c, err)
		return
	}
	job, err := s.orchestrator.Submit(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"job_id":                     job.ID,
		"status":                     job.Status,
		"created_at":                 job.CreatedAt,
		"estimated_duration_seconds": job.EstimatedSeconds,
		"message":                    "training job queued",
	})
}

func (s *Server) getTrainingJob(c *gin.Context) {
	job, err := s.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) listTrainingJobs(c *gin.Context) {
	filter := orchestrator.JobFilter{
		TenantID:  c.Query("tenant_id"),
		ModelKind: c.Query("model_type"),
		ModelName: c.Query("model_name"),
		Status:    orchestrator.JobStatus(c.Query("status")),
		Page:      intQuery(c, "page", 1),
		PageSize:  intQuery(c, "page_size", 20),
	}
	if after, ok := timeQuery(c, "created_after"); ok {
		filter.CreatedAfter = after
	}
	if before, ok := timeQuery(c, "created_before"); ok {
		filter.CreatedBefore = before
	}
	page, err := s.orchestrator.List(c.Request.Context(), filter)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) cancelTrainingJob(c *gin.Context) {
	job, err := s.orchestrator.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "training job cancelled",
	})
}

func (s *Server) retryTrainingJob(c *gin.Context) {
	job, err := s.orchestrator.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (s *Server) trainingJobLogs(c *gin.Context) {
	tail := intQuery(c, "tail", 100)
	entries, err := s.orchestrator.Logs(c.Request.Context(), c.Param("id"), tail, c.Query("level"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": c.Param("id"), "entries": entries})
}

func (s *Server) trainingStats(c *gin.Context) {
	stats, err := s.orchestrator.Stats(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func timeQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
