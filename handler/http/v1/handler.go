package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docrag/src/core/rag"
	"docrag/src/core/trigger"
	"docrag/src/infrastructure/job"
)

// Trigger accepts work and reports on it.
type Trigger interface {
	SubmitIngestion(ctx context.Context, req trigger.IngestionRequest) (*job.Job, error)
	SubmitQuery(ctx context.Context, req rag.QueryRequest) (*job.Job, error)
	GetJob(ctx context.Context, id int64) (*job.Job, error)
	DeleteSource(ctx context.Context, sourceID string) (int, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	trigger Trigger
	checks  map[string]HealthCheck
}

func NewHandler(t Trigger, checks map[string]HealthCheck) *Handler {
	return &Handler{
		trigger: t,
		checks:  checks,
	}
}

// RegisterRoutes registers all v1 API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")

	// Job submission
	v1.POST("/ingestions", h.SubmitIngestion)
	v1.POST("/queries", h.SubmitQuery)

	// Job status
	v1.GET("/jobs/:id", h.GetJob)

	// Sources
	v1.DELETE("/sources/:id", h.DeleteSource)

	// System routes
	v1.GET("/health", h.CheckHealth)
}

// Common error response structure
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func sendError(c *gin.Context, status int, err error) {
	code := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, trigger.ErrJobNotFound):
		code, status = "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, rag.ErrUnsupportedFileType):
		code, status = "UNSUPPORTED_FILE_TYPE", http.StatusBadRequest
	case errors.Is(err, rag.ErrInvalidFormat):
		code, status = "INVALID_FORMAT", http.StatusBadRequest
	case errors.Is(err, rag.ErrRateLimited):
		code, status = "RATE_LIMITED", http.StatusConflict
	case errors.Is(err, rag.ErrThrottled):
		code, status = "THROTTLED", http.StatusTooManyRequests
	case status == http.StatusBadRequest:
		code = "BAD_REQUEST"
	default:
		status = http.StatusInternalServerError
	}

	resp := ErrorResponse{Code: code, Message: err.Error()}
	if kind := rag.KindOf(err); kind != "internal_error" {
		resp.Message = rag.ReasonOf(err)
		resp.Details = gin.H{"kind": kind}
	}
	c.JSON(status, resp)
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
