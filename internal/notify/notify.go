// Package notify delivers terminal job events. The pipeline fires exactly
// one event per finished job; delivery is best effort and never blocks or
// fails the job itself.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/resilience"
)

// Event describes one job reaching a terminal state.
type Event struct {
	JobID      string          `json:"job_id"`
	TenantID   string          `json:"tenant_id"`
	Filename   string          `json:"filename"`
	State      model.JobState  `json:"state"`
	FormatID   string          `json:"format_id,omitempty"`
	Counts     model.Counts    `json:"counts"`
	LastError  string          `json:"last_error,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the log. It is the default sink when no
// webhook is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: zap.L()}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.log.Info("job finished",
		zap.String("job_id", ev.JobID),
		zap.String("tenant_id", ev.TenantID),
		zap.String("filename", ev.Filename),
		zap.String("state", string(ev.State)),
		zap.Int("inserted", ev.Counts.Inserted),
		zap.Int("rejected", ev.Counts.Rejected),
		zap.Int("duplicate", ev.Counts.Duplicate),
		zap.String("last_error", ev.LastError))
	return nil
}

// Webhook POSTs events as JSON to a configured endpoint, rate limited
// across jobs and retried on transient failures.
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	log     *zap.Logger
}

func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.ShouldRetry = resilience.IsTransient
	return &Webhook{
		url:     url,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		retry:   cfg,
		log:     zap.L(),
	}
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "notify: rate limit wait")
	}

	err = resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.post(ctx, body)
	})
	if err != nil {
		return eris.Wrapf(err, "notify: deliver event for job %s", ev.JobID)
	}
	w.log.Debug("webhook delivered", zap.String("job_id", ev.JobID), zap.String("state", string(ev.State)))
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(err, 0)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = eris.Errorf("webhook returned %s", resp.Status)
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(err, resp.StatusCode)
	}
	return err
}
