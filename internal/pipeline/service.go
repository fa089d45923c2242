package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/store"
)

// Enqueuer hands accepted jobs to the worker pool.
type Enqueuer interface {
	Submit(jobID string) error
}

// SubmitRequest is one uploaded spreadsheet.
type SubmitRequest struct {
	TenantID   string
	UploaderID string
	Filename   string
	Mode       model.UploadMode
	Data       []byte
}

// Service is the external surface: submit a file, poll its status. File
// bytes are spooled to disk first so a submitted job survives a restart.
type Service struct {
	store    store.Store
	queue    Enqueuer
	spoolDir string
	log      *zap.Logger
}

func NewService(st store.Store, queue Enqueuer, spoolDir string) *Service {
	return &Service{store: st, queue: queue, spoolDir: spoolDir, log: zap.L()}
}

// SubmitJob accepts a file and returns the pending job. Acceptance means
// the file is durably spooled and the job row exists; processing is
// asynchronous.
func (s *Service) SubmitJob(ctx context.Context, req SubmitRequest) (*model.UploadJob, error) {
	if req.TenantID == "" {
		return nil, eris.New("submit: tenant_id is required")
	}
	if req.Filename == "" {
		return nil, eris.New("submit: filename is required")
	}
	if !strings.HasSuffix(strings.ToLower(req.Filename), ".xlsx") {
		return nil, eris.Errorf("submit: unsupported file type %q, expected .xlsx", filepath.Ext(req.Filename))
	}
	if len(req.Data) == 0 {
		return nil, eris.New("submit: empty file")
	}
	if req.Mode == "" {
		req.Mode = model.ModeAppend
	}
	if _, ok := model.ParseMode(string(req.Mode)); !ok {
		return nil, eris.Errorf("submit: unknown mode %q", req.Mode)
	}

	jobID := uuid.NewString()
	fileRef := filepath.Join(s.spoolDir, jobID+".xlsx")
	if err := os.MkdirAll(s.spoolDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "submit: create spool dir")
	}
	if err := os.WriteFile(fileRef, req.Data, 0o644); err != nil {
		return nil, eris.Wrap(err, "submit: spool file")
	}

	job := &model.UploadJob{
		ID:          jobID,
		TenantID:    req.TenantID,
		UploaderID:  req.UploaderID,
		Filename:    filepath.Base(req.Filename),
		FileRef:     fileRef,
		Mode:        req.Mode,
		State:       model.JobStatePending,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		_ = os.Remove(fileRef)
		return nil, eris.Wrap(err, "submit: create job")
	}

	if err := s.queue.Submit(job.ID); err != nil {
		// The job row stays pending; a requeue sweep or restart picks it up.
		s.log.Warn("enqueue failed, job left pending",
			zap.String("job_id", job.ID), zap.Error(err))
	}

	s.log.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.TenantID),
		zap.String("filename", job.Filename),
		zap.String("mode", string(job.Mode)),
		zap.Int("bytes", len(req.Data)))
	return job, nil
}

// GetJobStatus returns the job row as-is; counters are live mid-flight.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (*model.UploadJob, error) {
	return s.store.GetJob(ctx, jobID)
}

func (s *Service) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.UploadJob, error) {
	return s.store.ListJobs(ctx, filter)
}

// RequeuePending re-enqueues non-terminal jobs, called at worker startup so
// jobs stranded by a crash resume.
func (s *Service) RequeuePending(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx, model.JobFilter{State: model.JobStatePending, Limit: 1000})
	if err != nil {
		return 0, eris.Wrap(err, "requeue: list pending")
	}
	n := 0
	for _, job := range jobs {
		if err := s.queue.Submit(job.ID); err != nil {
			break
		}
		n++
	}
	if n > 0 {
		s.log.Info("requeued pending jobs", zap.Int("count", n))
	}
	return n, nil
}
