package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/config"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/pipeline"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/store"
)

type noopQueue struct{}

func (noopQueue) Submit(string) error { return nil }

func newTestRouter(t *testing.T) (http.Handler, *store.SQLiteStore) {
	t.Helper()
	cfg = &config.Config{
		Server: config.ServerConfig{MaxUploadBytes: 1 << 20},
	}
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	svc := pipeline.NewService(st, noopQueue{}, t.TempDir())
	return newRouter(svc), st
}

func multipartUpload(t *testing.T, filename, mode string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	if mode != "" {
		require.NoError(t, w.WriteField("mode", mode))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitAndPoll(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartUpload(t, "boxnox_jan.xlsx", "replace", []byte("xlsx bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	req.Header.Set("X-Uploader-ID", "uploader-1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var job model.UploadJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatePending, job.State)
	assert.Equal(t, model.ModeReplace, job.Mode)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched model.UploadJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, job.ID, fetched.ID)
	assert.Equal(t, "boxnox_jan.xlsx", fetched.Filename)
}

func TestSubmitRejectsMissingTenant(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartUpload(t, "boxnox_jan.xlsx", "", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitRejectsNonMultipart(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsFiltersByState(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()

	for _, id := range []string{"job-a", "job-b"} {
		require.NoError(t, st.CreateJob(ctx, &model.UploadJob{
			ID: id, TenantID: "tenant-a", UploaderID: "u", Filename: "f.xlsx",
			FileRef: "/spool/" + id, Mode: model.ModeAppend, State: model.JobStatePending,
		}))
	}
	require.NoError(t, st.SetJobState(ctx, "job-b", model.JobStateCompleted, model.Counts{}))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?state=completed", nil)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []model.UploadJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-b", jobs[0].ID)
}
