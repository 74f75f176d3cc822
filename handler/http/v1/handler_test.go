package v1_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "docrag/handler/http/v1"
	"docrag/src/core/rag"
	"docrag/src/core/trigger"
	"docrag/src/infrastructure/job"
)

type fakeTrigger struct {
	err       error
	ingestion trigger.IngestionRequest
	query     rag.QueryRequest
	jobs      map[int64]*job.Job
}

func (f *fakeTrigger) SubmitIngestion(_ context.Context, req trigger.IngestionRequest) (*job.Job, error) {
	f.ingestion = req
	if f.err != nil {
		return nil, f.err
	}
	return &job.Job{ID: 1, TaskType: job.TaskTypeIngestFile, Key: req.SourceID, Status: job.JobStatusPending}, nil
}

func (f *fakeTrigger) SubmitQuery(_ context.Context, req rag.QueryRequest) (*job.Job, error) {
	f.query = req
	if f.err != nil {
		return nil, f.err
	}
	return &job.Job{ID: 2, TaskType: job.TaskTypeQueryDocuments, Status: job.JobStatusPending}, nil
}

func (f *fakeTrigger) GetJob(_ context.Context, id int64) (*job.Job, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, trigger.ErrJobNotFound
}

func (f *fakeTrigger) DeleteSource(_ context.Context, _ string) (int, error) {
	return 3, f.err
}

func newRouter(t *fakeTrigger, checks map[string]v1.HealthCheck) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1.NewHandler(t, checks).RegisterRoutes(r)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitErrorsMapToStatus(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "accepted", status: http.StatusAccepted},
		{
			name:   "unsupported type",
			err:    rag.NewError(rag.ErrDecode, false, rag.ErrUnsupportedFileType, "extension \".pptx\""),
			status: http.StatusBadRequest,
			code:   "UNSUPPORTED_FILE_TYPE",
		},
		{
			name:   "rate limited",
			err:    rag.NewError(rag.ErrRateLimited, false, nil, "source was ingested recently"),
			status: http.StatusConflict,
			code:   "RATE_LIMITED",
		},
		{
			name:   "throttled",
			err:    rag.NewError(rag.ErrThrottled, false, nil, "queue full"),
			status: http.StatusTooManyRequests,
			code:   "THROTTLED",
		},
		{name: "broker down", err: errors.New("failed to publish job message"), status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(&fakeTrigger{err: tc.err}, nil)

			w := do(r, http.MethodPost, "/api/v1/ingestions", `{"file_path":"/data/a.pdf"}`)
			assert.Equal(t, tc.status, w.Code)
			if tc.code != "" {
				var resp v1.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tc.code, resp.Code)
			}
		})
	}
}

func TestSubmitQueryDefaults(t *testing.T) {
	ft := &fakeTrigger{}
	r := newRouter(ft, nil)

	w := do(r, http.MethodPost, "/api/v1/queries", `{"question":"what is docrag?"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, rag.QueryRequest{Question: "what is docrag?", TopK: 5, OutputFormat: rag.FormatShort}, ft.query)

	w = do(r, http.MethodPost, "/api/v1/queries", `{"question":"q","top_k":3,"output_format":"Bullet_Points"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 3, ft.query.TopK)
	assert.Equal(t, rag.FormatBulletPoints, ft.query.OutputFormat)
}

func TestSubmitQueryRejectsBadInput(t *testing.T) {
	r := newRouter(&fakeTrigger{}, nil)

	testCases := []struct {
		name string
		body string
		code string
	}{
		{name: "unknown format", body: `{"question":"q","output_format":"poem"}`, code: "INVALID_FORMAT"},
		{name: "missing question", body: `{"top_k":3}`, code: "BAD_REQUEST"},
		{name: "malformed json", body: `{"question":`, code: "BAD_REQUEST"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/v1/queries", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp v1.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.code, resp.Code)
		})
	}
}

func TestGetJob(t *testing.T) {
	kind, reason := "decode_error", "no extractable text"
	r := newRouter(&fakeTrigger{jobs: map[int64]*job.Job{
		42: {ID: 42, Status: job.JobStatusFailed, Stage: "failed", ErrorKind: &kind, Error: &reason},
	}}, nil)

	w := do(r, http.MethodGet, "/api/v1/jobs/42", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "42", got["id"])
	assert.Equal(t, "failed", got["status"])
	assert.Equal(t, "decode_error", got["error_kind"])

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/jobs/7", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/jobs/abc", "").Code)
}

func TestDeleteSource(t *testing.T) {
	r := newRouter(&fakeTrigger{}, nil)

	w := do(r, http.MethodDelete, "/api/v1/sources/report.pdf", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"source_id":"report.pdf","deleted":3}`, w.Body.String())
}

func TestCheckHealth(t *testing.T) {
	r := newRouter(&fakeTrigger{}, map[string]v1.HealthCheck{
		"index": func(context.Context) error { return nil },
		"jobs":  func(context.Context) error { return errors.New("connection refused") },
	})

	w := do(r, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var status v1.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Components["index"])
	assert.Contains(t, status.Components["jobs"], "connection refused")
}
