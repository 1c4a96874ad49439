package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/featurestore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

func (s *Server) getFeatures(c *gin.Context) {
	var req featurestore.GetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortValidation(c, err)
		return
	}
	features, err := s.features.GetFeatures(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_id": req.TenantID,
		"asset_id":  req.AssetID,
		"timestamp": req.Timestamp,
		"features":  features,
	})
}

// exportFeatures runs the export synchronously but answers 202: the record is
// durable and the caller polls /features/exports for the outcome.
func (s *Server) exportFeatures(c *gin.Context) {
	var req featurestore.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortValidation(c, err)
		return
	}
	export, err := s.features.ExportToParquet(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, export)
}

func (s *Server) listFeatureExports(c *gin.Context) {
	exports, err := s.features.ListExports(c.Request.Context(),
		c.Query("tenant_id"), c.Query("feature_set"), c.Query("status"),
		intQuery(c, "limit", 50))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": exports, "total": len(exports)})
}

func (s *Server) listFeatureSets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"feature_sets": s.features.ListFeatureSets()})
}

func (s *Server) invalidateFeatureCache(c *gin.Context) {
	tenant := c.Query("tenant_id")
	asset := c.Query("asset_id")
	if tenant == "" || asset == "" {
		s.abortWithError(c, errs.Validation("httpapi.invalidateFeatureCache",
			"tenant_id and asset_id are required"))
		return
	}
	n, err := s.features.InvalidateAsset(c.Request.Context(), tenant, asset)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": n})
}
