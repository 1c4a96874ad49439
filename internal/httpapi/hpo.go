package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/hpo"
)

type createStudyBody struct {
	Name           string            `json:"name" binding:"required"`
	TenantID       string            `json:"tenant_id"`
	ModelKind      string            `json:"model_kind"`
	Direction      string            `json:"direction"`
	Sampler        string            `json:"sampler"`
	Pruner         string            `json:"pruner"`
	NTrials        int               `json:"n_trials"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	UserAttrs      map[string]string `json:"user_attrs"`
}

func (s *Server) createStudy(c *gin.Context) {
	var body createStudyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortValidation(c, err)
		return
	}
	study, err := s.hpo.CreateStudy(c.Request.Context(), hpo.CreateStudyRequest{
		Name:      body.Name,
		TenantID:  body.TenantID,
		ModelKind: body.ModelKind,
		Direction: hpo.Direction(body.Direction),
		Sampler:   body.Sampler,
		Pruner:    body.Pruner,
		NTrials:   body.NTrials,
		Timeout:   time.Duration(body.TimeoutSeconds) * time.Second,
		UserAttrs: body.UserAttrs,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, study)
}

func (s *Server) getStudy(c *gin.Context) {
	name := c.Param("name")
	study, err := s.hpo.GetStudy(c.Request.Context(), name)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	best, err := s.hpo.BestTrial(c.Request.Context(), name)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"study": study, "best_trial": best})
}

func (s *Server) listTrials(c *gin.Context) {
	trials, err := s.hpo.ListTrials(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"study": c.Param("name"), "trials": trials})
}

func (s *Server) studyImportances(c *gin.Context) {
	importances, err := s.hpo.Importance(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"study": c.Param("name"), "importances": importances})
}

func (s *Server) studyHistory(c *gin.Context) {
	history, err := s.hpo.GetOptimizationHistory(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"study": c.Param("name"), "history": history})
}

func (s *Server) deleteStudy(c *gin.Context) {
	if err := s.hpo.DeleteStudy(c.Request.Context(), c.Param("name")); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"study": c.Param("name"), "message": "study deleted"})
}
