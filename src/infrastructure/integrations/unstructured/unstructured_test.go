package unstructured_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/src/core/decoder"
	"docrag/src/core/rag"
	"docrag/src/infrastructure/integrations/unstructured"
)

func TestExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/general/v0/general", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("files")
		require.NoError(t, err)
		f.Close()
		assert.Equal(t, "report.pdf", hdr.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"type":"Title","text":"Quarterly","metadata":{"page_number":1}},
			{"type":"NarrativeText","text":"  ","metadata":{"page_number":1}},
			{"type":"NarrativeText","text":"Revenue grew.","metadata":{"page_number":2}}
		]`))
	}))
	defer srv.Close()

	svc := unstructured.NewUnstructuredService(srv.URL+"/", srv.Client())
	ext, err := svc.Extract(context.Background(), decoder.File{Name: "report.pdf", Data: []byte("%PDF")})
	require.NoError(t, err)

	assert.Equal(t, "Quarterly\n\nRevenue grew.", ext.Text)
	assert.Equal(t, []decoder.PageStart{{Page: 1, Offset: 0}, {Page: 2, Offset: 11}}, ext.Pages)
	assert.Equal(t, 2, ext.PageAt(11))
}

func TestExtractErrors(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		permanent bool
	}{
		{name: "bad request", status: http.StatusBadRequest, permanent: true},
		{name: "rate limited", status: http.StatusTooManyRequests, permanent: false},
		{name: "server error", status: http.StatusBadGateway, permanent: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			svc := unstructured.NewUnstructuredService(srv.URL, srv.Client())
			_, err := svc.Extract(context.Background(), decoder.File{Name: "a.pdf", Data: []byte("x")})
			require.Error(t, err)
			assert.Equal(t, tc.permanent, rag.IsPermanent(err))
		})
	}
}
