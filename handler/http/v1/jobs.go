package v1

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docrag/src/core/rag"
	"docrag/src/core/trigger"
)

// SubmitIngestion godoc
// @Summary Queue a file for ingestion
// @Tags jobs
// @Accept json
// @Produce json
// @Param body body trigger.IngestionRequest true "File to ingest"
// @Success 202 {object} job.Job
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /ingestions [post]
func (h *Handler) SubmitIngestion(c *gin.Context) {
	var req trigger.IngestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	accepted, err := h.trigger.SubmitIngestion(c.Request.Context(), req)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusAccepted, accepted)
}

type submitQueryRequest struct {
	Question     string `json:"question" binding:"required"`
	TopK         *int   `json:"top_k"`
	OutputFormat string `json:"output_format"`
}

// SubmitQuery godoc
// @Summary Queue a question
// @Tags jobs
// @Accept json
// @Produce json
// @Param body body submitQueryRequest true "Question"
// @Success 202 {object} job.Job
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /queries [post]
func (h *Handler) SubmitQuery(c *gin.Context) {
	var req submitQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	topK := rag.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	format := rag.DefaultOutputFormat
	if req.OutputFormat != "" {
		parsed, err := rag.ParseOutputFormat(req.OutputFormat)
		if err != nil {
			sendError(c, http.StatusBadRequest, err)
			return
		}
		format = parsed
	}

	accepted, err := h.trigger.SubmitQuery(c.Request.Context(), rag.QueryRequest{
		Question:     req.Question,
		TopK:         topK,
		OutputFormat: format,
	})
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusAccepted, accepted)
}

// GetJob godoc
// @Summary Get a job's status and result
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} job.Job
// @Failure 404 {object} ErrorResponse
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		sendError(c, http.StatusBadRequest, fmt.Errorf("invalid job id %q", c.Param("id")))
		return
	}

	j, err := h.trigger.GetJob(c.Request.Context(), id)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusOK, j)
}

// DeleteSource godoc
// @Summary Delete every indexed chunk of a source
// @Tags sources
// @Produce json
// @Param id path string true "Source ID"
// @Success 200 {object} map[string]interface{}
// @Router /sources/{id} [delete]
func (h *Handler) DeleteSource(c *gin.Context) {
	sourceID := c.Param("id")
	n, err := h.trigger.DeleteSource(c.Request.Context(), sourceID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusOK, gin.H{"source_id": sourceID, "deleted": n})
}
