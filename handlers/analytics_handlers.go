// api/handlers/analytics_handlers.go
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"revsend/api/analytics"
	"revsend/api/logging"
	"revsend/api/models"
	"revsend/api/pipeline"
	"revsend/api/provider"
	"revsend/api/store"
)

// PipelineRunner triggers recomputation of the published analytics.
type PipelineRunner interface {
	TriggerRun(ctx context.Context, credential string) (*models.Snapshot, error)
}

type AnalyticsHandlers struct {
	AnalyticsStore *store.AnalyticsStore
	Runner         PipelineRunner
	RunTimeout     time.Duration
}

func NewAnalyticsHandlers(s *store.AnalyticsStore, runner PipelineRunner, runTimeout time.Duration) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		AnalyticsStore: s,
		Runner:         runner,
		RunTimeout:     runTimeout,
	}
}

// FetchDataRequest is the optional body of POST /api/fetch_data.
type FetchDataRequest struct {
	APIKey string `json:"api_key"`
}

// FetchData runs the pipeline and replaces the published results.
func (h *AnalyticsHandlers) FetchData(c *gin.Context) {
	var req FetchDataRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx := c.Request.Context()
	if h.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RunTimeout)
		defer cancel()
	}

	snap, err := h.Runner.TriggerRun(ctx, req.APIKey)
	if err != nil {
		status, msg := runErrorStatus(err)
		logging.Warn().Err(err).Int("status", status).Msg("fetch_data failed")
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Data fetched and processed successfully",
		"run_id":  snap.RunID,
		"source":  snap.Source,
	})
}

func runErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, analytics.ErrInvalidDataset):
		return http.StatusUnprocessableEntity, "Dataset is not usable for analysis"
	case errors.Is(err, provider.ErrProviderFailure):
		return http.StatusBadGateway, "Failed to fetch data from source"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Pipeline run timed out"
	default:
		return http.StatusInternalServerError, "Failed to compute analytics"
	}
}

func (h *AnalyticsHandlers) GetFeatureImportance(c *gin.Context) {
	c.JSON(http.StatusOK, h.AnalyticsStore.GetFeatureImportance())
}

func (h *AnalyticsHandlers) GetUserSegments(c *gin.Context) {
	c.JSON(http.StatusOK, h.AnalyticsStore.GetUserSegments())
}

func (h *AnalyticsHandlers) GetRetentionRates(c *gin.Context) {
	c.JSON(http.StatusOK, h.AnalyticsStore.GetRetentionRates())
}

func (h *AnalyticsHandlers) GetTopFeatures(c *gin.Context) {
	c.JSON(http.StatusOK, h.AnalyticsStore.GetTopFeaturesAndSuggestion())
}

// Status reports whether results are published and which run produced them.
func (h *AnalyticsHandlers) Status(c *gin.Context) {
	snap := h.AnalyticsStore.Snapshot()
	if snap == nil {
		c.JSON(http.StatusOK, gin.H{"state": pipeline.StateStale})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":       pipeline.StateReady,
		"run_id":      snap.RunID,
		"source":      snap.Source,
		"computed_at": snap.ComputedAt,
		"rows":        snap.Rows,
	})
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterRoutes mounts the analytics API on r.
func (h *AnalyticsHandlers) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", HealthCheck)

	api := r.Group("/api")
	{
		api.POST("/fetch_data", h.FetchData)
		api.GET("/feature_importance", h.GetFeatureImportance)
		api.GET("/user_segments", h.GetUserSegments)
		api.GET("/retention_rates", h.GetRetentionRates)
		api.GET("/top_features", h.GetTopFeatures)
		api.GET("/status", h.Status)
	}
}
