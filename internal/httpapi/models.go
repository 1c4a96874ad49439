package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/registry"
)

type registerModelBody struct {
	TenantID  string `json:"tenant_id" binding:"required"`
	ModelName string `json:"model_name" binding:"required"`
	Version   string `json:"version" binding:"required"`

	// Artifact is the base64-encoded model envelope.
	Artifact []byte `json:"artifact" binding:"required"`

	Metrics       map[string]float64 `json:"metrics"`
	ModelTypeHint string             `json:"model_type_hint"`
	Stage         string             `json:"stage"`
	Extra         map[string]string  `json:"extra"`
}

func (s *Server) registerModel(c *gin.Context) {
	var body registerModelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortValidation(c, err)
		return
	}
	version, err := s.registry.Register(c.Request.Context(), registry.RegisterRequest{
		Tenant:        body.TenantID,
		Name:          body.ModelName,
		Version:       body.Version,
		Artifact:      body.Artifact,
		Metrics:       body.Metrics,
		ModelTypeHint: body.ModelTypeHint,
		Stage:         body.Stage,
		Extra:         body.Extra,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, version)
}

func (s *Server) getModel(c *gin.Context) {
	tenant, name, version, err := registry.ParseModelID(c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	mv, err := s.registry.Get(c.Request.Context(), tenant, name, version)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, mv)
}

func (s *Server) listModels(c *gin.Context) {
	versions, err := s.registry.List(c.Request.Context(),
		c.Query("tenant_id"), c.Query("model_name"), c.Query("stage"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": versions, "total": len(versions)})
}

func (s *Server) downloadModel(c *gin.Context) {
	tenant, name, version, err := registry.ParseModelID(c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	artifact, err := s.registry.GetArtifact(c.Request.Context(), tenant, name, version)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s-%s-%s.bin", tenant, name, version))
	c.Data(http.StatusOK, "application/octet-stream", artifact)
}

type promoteModelBody struct {
	Stage  string `json:"stage" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) promoteModel(c *gin.Context) {
	tenant, name, version, err := registry.ParseModelID(c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	var body promoteModelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortValidation(c, err)
		return
	}
	meta, err := s.registry.Promote(c.Request.Context(), tenant, name, version, body.Stage, body.Reason)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (s *Server) deleteModel(c *gin.Context) {
	tenant, name, version, err := registry.ParseModelID(c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	force := c.Query("force") == "true"
	deleted, err := s.registry.Delete(c.Request.Context(), tenant, name, version, force)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"model_id": c.Param("id"), "deleted_keys": deleted})
}
