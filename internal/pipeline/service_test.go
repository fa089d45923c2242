package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/store"
)

type fakeQueue struct {
	submitted []string
	full      bool
}

func (q *fakeQueue) Submit(jobID string) error {
	if q.full {
		return eris.New("queue full")
	}
	q.submitted = append(q.submitted, jobID)
	return nil
}

func newTestService(t *testing.T, queue *fakeQueue) (*Service, *store.SQLiteStore, string) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	spool := t.TempDir()
	return NewService(st, queue, spool), st, spool
}

func TestSubmitJob_SpoolsFileAndEnqueues(t *testing.T) {
	queue := &fakeQueue{}
	svc, st, spool := newTestService(t, queue)

	job, err := svc.SubmitJob(context.Background(), SubmitRequest{
		TenantID:   "tenant-a",
		UploaderID: "uploader-1",
		Filename:   "reports/boxnox_jan.xlsx",
		Mode:       model.ModeReplace,
		Data:       []byte("fake xlsx bytes"),
	})
	require.NoError(t, err)

	assert.Equal(t, model.JobStatePending, job.State)
	assert.Equal(t, model.ModeReplace, job.Mode)
	// Only the base name is kept; client paths are untrusted.
	assert.Equal(t, "boxnox_jan.xlsx", job.Filename)
	assert.Equal(t, filepath.Join(spool, job.ID+".xlsx"), job.FileRef)

	data, err := os.ReadFile(job.FileRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake xlsx bytes"), data)

	stored, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePending, stored.State)
	assert.Equal(t, []string{job.ID}, queue.submitted)
}

func TestSubmitJob_DefaultsToAppend(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeQueue{})

	job, err := svc.SubmitJob(context.Background(), SubmitRequest{
		TenantID: "tenant-a",
		Filename: "boxnox.xlsx",
		Data:     []byte("x"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ModeAppend, job.Mode)
}

func TestSubmitJob_RejectsBadRequests(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeQueue{})

	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"missing tenant", SubmitRequest{Filename: "a.xlsx", Data: []byte("x")}},
		{"missing filename", SubmitRequest{TenantID: "t", Data: []byte("x")}},
		{"wrong extension", SubmitRequest{TenantID: "t", Filename: "a.csv", Data: []byte("x")}},
		{"empty file", SubmitRequest{TenantID: "t", Filename: "a.xlsx"}},
		{"bad mode", SubmitRequest{TenantID: "t", Filename: "a.xlsx", Data: []byte("x"), Mode: "merge"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitJob(context.Background(), tc.req)
			assert.Error(t, err)
		})
	}
}

func TestSubmitJob_FullQueueLeavesJobPending(t *testing.T) {
	svc, st, _ := newTestService(t, &fakeQueue{full: true})

	job, err := svc.SubmitJob(context.Background(), SubmitRequest{
		TenantID: "tenant-a",
		Filename: "boxnox.xlsx",
		Data:     []byte("x"),
	})
	require.NoError(t, err)

	stored, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePending, stored.State)
}

func TestRequeuePending(t *testing.T) {
	queue := &fakeQueue{full: true}
	svc, _, _ := newTestService(t, queue)

	for i := 0; i < 3; i++ {
		_, err := svc.SubmitJob(context.Background(), SubmitRequest{
			TenantID: "tenant-a",
			Filename: "boxnox.xlsx",
			Data:     []byte("x"),
		})
		require.NoError(t, err)
	}

	queue.full = false
	n, err := svc.RequeuePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, queue.submitted, 3)
}
