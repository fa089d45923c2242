// Package pipeline orchestrates one upload job through detection,
// extraction, normalization, validation, deduplication and insertion. The
// job row in storage is the single source of truth: every state transition
// and counter update is persisted before the next stage starts, so a
// polling caller and a crashed worker both see consistent progress.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/dedup"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/extract"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/normalize"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/notify"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/resilience"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/sniff"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/store"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/validate"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/vendorspec"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/worker"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/writer"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/xlsxio"
)

// maxErrorSummary caps persisted per-row errors; totals stay exact in the
// counters either way.
const maxErrorSummary = 200

// appendRowErrors appends row errors up to the persisted cap. Every producer
// of summary entries goes through here so the bound holds no matter which
// stage rejected the rows.
func appendRowErrors(summary []model.RowError, errs ...model.RowError) []model.RowError {
	for _, e := range errs {
		if len(summary) >= maxErrorSummary {
			break
		}
		summary = append(summary, e)
	}
	return summary
}

// Config tunes one runner.
type Config struct {
	MinConfidence     float64
	BatchSize         int
	MaxInsertAttempts int
	JobTimeout        time.Duration
	ReportingCurrency string
	MinYear           int
	MaxYear           int
}

func (c Config) withDefaults(now time.Time) Config {
	if c.MinConfidence <= 0 {
		c.MinConfidence = sniff.DefaultMinConfidence
	}
	if c.BatchSize <= 0 {
		c.BatchSize = writer.DefaultBatchSize
	}
	if c.MaxInsertAttempts <= 0 {
		c.MaxInsertAttempts = 3
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.ReportingCurrency == "" {
		c.ReportingCurrency = "EUR"
	}
	vc := validate.DefaultConfig(now)
	if c.MinYear == 0 {
		c.MinYear = vc.MinYear
	}
	if c.MaxYear == 0 {
		c.MaxYear = vc.MaxYear
	}
	return c
}

// Runner processes jobs one at a time. It is safe for concurrent use; all
// mutable state lives in the job row.
type Runner struct {
	store    store.Store
	catalog  *vendorspec.Catalog
	notifier notify.Notifier
	cfg      Config

	// Seams for tests.
	open func(path string) (*xlsxio.Workbook, error)
	now  func() time.Time
}

func NewRunner(st store.Store, catalog *vendorspec.Catalog, notifier notify.Notifier, cfg Config) *Runner {
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	now := time.Now
	return &Runner{
		store:    st,
		catalog:  catalog,
		notifier: notifier,
		cfg:      cfg.withDefaults(now()),
		open:     xlsxio.Open,
		now:      now,
	}
}

var _ worker.RunFunc = (*Runner)(nil).Run

// Run drives one job to a terminal state. Re-running a terminal job is a
// no-op; re-running an interrupted one starts a fresh attempt from the file.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load job %s", jobID)
	}
	if job.State.Terminal() {
		return nil
	}

	log := zap.L().With(zap.String("job_id", job.ID), zap.String("tenant_id", job.TenantID),
		zap.String("filename", job.Filename))

	attempt, err := r.store.StartAttempt(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "pipeline: start attempt")
	}
	log.Info("job started", zap.Int("attempt", attempt), zap.String("mode", string(job.Mode)))

	ctx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	err = r.process(ctx, job, log)
	if err == nil {
		return nil
	}

	// Timeout is a terminal failure; a plain cancel (shutdown) leaves the
	// job non-terminal for the next worker.
	if errors.Is(err, context.DeadlineExceeded) {
		return r.fail(context.WithoutCancel(ctx), job, model.ReasonTimeout,
			"processing exceeded the job time limit", log)
	}
	if errors.Is(err, context.Canceled) {
		log.Warn("job interrupted, will be retried")
		return err
	}

	var jf *jobFailure
	if errors.As(err, &jf) {
		return r.fail(ctx, job, jf.reason, jf.detail, log)
	}

	// Infrastructure error after retries: terminal failure with the cause
	// recorded for the operator.
	return r.fail(ctx, job, "", eris.ToString(err, false), log)
}

// jobFailure is an input-level failure: the whole job fails with a reason
// code and no partial processing.
type jobFailure struct {
	reason model.ReasonCode
	detail string
}

func (f *jobFailure) Error() string {
	return string(f.reason) + ": " + f.detail
}

func failJob(reason model.ReasonCode, detail string) error {
	return &jobFailure{reason: reason, detail: detail}
}

func (r *Runner) process(ctx context.Context, job *model.UploadJob, log *zap.Logger) error {
	var counts model.Counts

	// detecting
	if err := r.setState(ctx, job, model.JobStateDetecting, counts); err != nil {
		return err
	}
	f, confidence, wb, err := r.detect(job)
	if err != nil {
		return err
	}
	if err := r.store.SetJobFormat(ctx, job.ID, f.ID, f.Version, confidence); err != nil {
		return eris.Wrap(err, "pipeline: record format")
	}
	job.FormatID = f.ID
	log.Info("format detected", zap.String("format_id", f.ID), zap.Float64("confidence", confidence))

	// extracting
	if err := r.setState(ctx, job, model.JobStateExtracting, counts); err != nil {
		return err
	}
	raw, err := extract.Extract(wb, f)
	if err != nil {
		reason := model.ReasonSpecInvalid
		if errors.Is(err, extract.ErrNoData) {
			reason = model.ReasonEmptyFile
		}
		return failJob(reason, eris.ToString(err, false))
	}
	if len(raw) == 0 {
		return failJob(model.ReasonEmptyFile, "no data rows after header")
	}
	normalize.InjectFilename(raw, job.Filename)
	counts.Total = len(raw)

	// normalizing_validating
	if err := r.setState(ctx, job, model.JobStateNormalizing, counts); err != nil {
		return err
	}
	accepted, summary, err := r.normalizeAll(ctx, raw, f, job.SubmittedAt)
	if err != nil {
		return err
	}
	counts.Accepted = len(accepted)
	counts.Rejected = counts.Total - counts.Accepted

	// deduplicating
	if err := r.setState(ctx, job, model.JobStateDeduplicating, counts); err != nil {
		return err
	}
	plan, err := dedup.New(r.store).Build(ctx, job.TenantID, job.ID, job.Mode, accepted)
	if err != nil {
		return err
	}
	counts.Duplicate = plan.Duplicates

	// inserting
	if err := r.setState(ctx, job, model.JobStateInserting, counts); err != nil {
		return err
	}
	res, err := r.insert(ctx, job, f, plan)
	if err != nil {
		return err
	}
	counts.Inserted = res.Inserted
	counts.Duplicate += res.Duplicates
	summary = appendRowErrors(summary, res.Failed...)

	state := model.JobStateCompleted
	if len(summary) > 0 {
		state = model.JobStatePartial
	}
	return r.finish(ctx, job, state, counts, summary, "", log)
}

// detect opens the workbook and resolves the format. Both must succeed
// before any row is touched.
func (r *Runner) detect(job *model.UploadJob) (*vendorspec.Format, float64, *xlsxio.Workbook, error) {
	wb, err := r.open(job.FileRef)
	if err != nil {
		return nil, 0, nil, failJob(model.ReasonUnreadableFile, eris.ToString(err, false))
	}

	meta := sniff.MetaFromWorkbook(wb)
	meta.Filename = job.Filename
	candidates := sniff.Sniff(meta, r.catalog, r.cfg.MinConfidence)
	if len(candidates) == 0 {
		return nil, 0, nil, failJob(model.ReasonUnknownFormat,
			"no format matched above the confidence threshold")
	}

	best := candidates[0]
	f, ok := r.catalog.Get(best.FormatID)
	if !ok {
		return nil, 0, nil, failJob(model.ReasonSpecInvalid, "detected format missing from catalog: "+best.FormatID)
	}
	return f, best.Confidence, wb, nil
}

func (r *Runner) normalizeAll(ctx context.Context, raw []model.RawRecord, f *vendorspec.Format, uploadTime time.Time) ([]model.NormalizedRecord, []model.RowError, error) {
	norm := normalize.New(
		normalize.Config{ReportingCurrency: r.cfg.ReportingCurrency},
		storeResolver{r.store},
		normalize.NewCachedRates(storeRates{r.store}),
	)
	val := validate.New(validate.Config{MinYear: r.cfg.MinYear, MaxYear: r.cfg.MaxYear})

	var accepted []model.NormalizedRecord
	var summary []model.RowError
	reject := func(re *model.RowError) {
		summary = appendRowErrors(summary, *re)
	}

	for _, rec := range raw {
		out, err := norm.Normalize(ctx, rec, f, uploadTime)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "pipeline: normalize row %d", rec.Row)
		}
		if !out.Accepted {
			reject(out.Err)
			continue
		}
		out = val.Validate(out.Record)
		if !out.Accepted {
			reject(out.Err)
			continue
		}
		accepted = append(accepted, out.Record)
	}
	return accepted, summary, nil
}

// insert lands the plan, retrying transient storage failures. A replace
// retry re-runs the purge and inserts whole, which is idempotent.
func (r *Runner) insert(ctx context.Context, job *model.UploadJob, f *vendorspec.Format, plan *dedup.Plan) (writer.Result, error) {
	w := writer.New(r.store, r.cfg.BatchSize)

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = r.cfg.MaxInsertAttempts
	retryCfg.ShouldRetry = resilience.IsTransient

	var res writer.Result
	err := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		var werr error
		if job.Mode == model.ModeReplace {
			res, werr = w.WriteReplace(ctx, job.TenantID, f.Reseller, plan.Purge, plan.Insert)
		} else {
			res, werr = w.WriteAppend(ctx, plan.Insert)
		}
		return werr
	})
	if err != nil {
		return res, eris.Wrap(err, "pipeline: insert")
	}
	return res, nil
}

func (r *Runner) setState(ctx context.Context, job *model.UploadJob, state model.JobState, counts model.Counts) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.store.SetJobState(ctx, job.ID, state, counts); err != nil {
		return eris.Wrapf(err, "pipeline: enter %s", state)
	}
	job.State = state
	return nil
}

func (r *Runner) fail(ctx context.Context, job *model.UploadJob, reason model.ReasonCode, detail string, log *zap.Logger) error {
	lastError := detail
	if reason != "" {
		lastError = string(reason) + ": " + detail
	}
	log.Error("job failed", zap.String("reason", string(reason)), zap.String("detail", detail))
	return r.finish(ctx, job, model.JobStateFailed, job.Counts, nil, lastError, log)
}

// finish persists the terminal state and fires the notification, in that
// order: the event must never precede the visible terminal state.
func (r *Runner) finish(ctx context.Context, job *model.UploadJob, state model.JobState, counts model.Counts, summary []model.RowError, lastError string, log *zap.Logger) error {
	if err := r.store.FinishJob(ctx, job.ID, state, counts, summary, lastError); err != nil {
		return eris.Wrap(err, "pipeline: finish job")
	}
	log.Info("job finished", zap.String("state", string(state)),
		zap.Int("total", counts.Total), zap.Int("inserted", counts.Inserted),
		zap.Int("rejected", counts.Rejected), zap.Int("duplicate", counts.Duplicate))

	ev := notify.Event{
		JobID:      job.ID,
		TenantID:   job.TenantID,
		Filename:   job.Filename,
		State:      state,
		FormatID:   job.FormatID,
		Counts:     counts,
		LastError:  lastError,
		FinishedAt: r.now(),
	}
	if err := r.notifier.Notify(ctx, ev); err != nil {
		log.Warn("notification failed", zap.Error(err))
	}
	return nil
}

// storeResolver and storeRates adapt the store to the normalizer's narrow
// interfaces.
type storeResolver struct{ s store.Store }

func (a storeResolver) LookupEAN(ctx context.Context, reseller, name string) (string, bool, error) {
	return a.s.LookupEAN(ctx, reseller, name)
}

type storeRates struct{ s store.Store }

func (a storeRates) Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error) {
	return a.s.Rate(ctx, from, to, on)
}
