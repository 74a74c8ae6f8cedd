package requestmodule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/mantonx/redseat/internal/config"
	"github.com/mantonx/redseat/internal/database"
	"github.com/mantonx/redseat/internal/events"
	"github.com/mantonx/redseat/internal/metrics"
	"github.com/mantonx/redseat/internal/models"
	"github.com/mantonx/redseat/internal/modules/pluginmodule"
	plugins "github.com/mantonx/redseat/sdk"
)

// ErrInvalidTransition is returned when a job cannot move to the requested state
var ErrInvalidTransition = errors.New("invalid processing job transition")

const (
	msgCancelled     = "cancelled"
	msgUnknownJob    = "processing job unknown to plugin"
	msgPluginMissing = "plugin no longer installed"
)

// ProcessParams identifies a plugin-side job in process_* calls
type ProcessParams struct {
	ProcessingID string `json:"processing_id"`
}

// CreateParams describes a new processing job
type CreateParams struct {
	LibraryID    string
	PluginID     string
	ProcessingID string
	Request      models.RsRequest
	MediaRef     *string
	Eta          *int64
}

// AddInput is a request to add to a library
type AddInput struct {
	Request   models.RsRequest `json:"request"`
	LibraryID string           `json:"-"`
	MediaRef  *string          `json:"media_ref,omitempty"`
}

// AddResult is either a ready request or the job acquiring it
type AddResult struct {
	Request    *models.RsRequest           `json:"request,omitempty"`
	Processing *database.RequestProcessing `json:"processing,omitempty"`
}

// Tracker owns processing job records for their whole lifetime
type Tracker struct {
	store     Store
	pluginSvc *pluginmodule.Service
	resolver  *Resolver
	publisher events.Publisher
	cfg       config.RequestConfig
	logger    hclog.Logger
	now       func() time.Time

	locks keyedMutex
}

// NewTracker creates a tracker. publisher may be nil.
func NewTracker(store Store, pluginSvc *pluginmodule.Service, resolver *Resolver, publisher events.Publisher, cfg config.RequestConfig, logger hclog.Logger) *Tracker {
	if cfg.ReconcileConcurrency < 1 {
		cfg.ReconcileConcurrency = 1
	}
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	return &Tracker{
		store:     store,
		pluginSvc: pluginSvc,
		resolver:  resolver,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("tracker"),
		now:       time.Now,
	}
}

// Create records a new queued job
func (t *Tracker) Create(ctx context.Context, p CreateParams) (*database.RequestProcessing, error) {
	if p.PluginID == "" || p.ProcessingID == "" {
		return nil, fmt.Errorf("plugin id and processing id are required")
	}

	job := &database.RequestProcessing{
		ID:              uuid.NewString(),
		LibraryID:       p.LibraryID,
		ProcessingID:    p.ProcessingID,
		PluginID:        p.PluginID,
		Progress:        0,
		Status:          models.ProcessingQueued,
		Eta:             p.Eta,
		MediaRef:        p.MediaRef,
		OriginalRequest: *p.Request.Clone(),
	}
	if err := t.store.Create(ctx, job); err != nil {
		return nil, err
	}

	t.logger.Info("processing job created", "id", job.ID, "plugin_id", job.PluginID, "processing_id", job.ProcessingID, "library", job.LibraryID)
	t.publish(events.EventProcessingCreated, job)
	return job, nil
}

// Get returns one job
func (t *Tracker) Get(ctx context.Context, id string) (*database.RequestProcessing, error) {
	return t.store.Get(ctx, id)
}

// List returns every job of a library, newest first
func (t *Tracker) List(ctx context.Context, libraryID string) ([]database.RequestProcessing, error) {
	return t.store.ListByLibrary(ctx, libraryID)
}

// Add resolves the request. Ready requests are returned directly; requests
// needing acquisition are submitted to their provider and tracked.
func (t *Tracker) Add(ctx context.Context, in AddInput) (*AddResult, error) {
	res, err := t.resolver.Resolve(ctx, ResolveInput{Request: in.Request, LibraryID: in.LibraryID})
	if err != nil {
		return nil, err
	}

	if !res.NeedsProcessing {
		if res.Read.IsStream() {
			res.Read.Stream.Body.Close()
			return &AddResult{Request: in.Request.Clone()}, nil
		}
		return &AddResult{Request: res.Read.Request}, nil
	}

	provider := res.Plugin
	handle, found, err := pluginmodule.Call[models.ProcessingHandle](ctx, t.pluginSvc.Dispatcher, *provider, plugins.FuncProcessAdd, pluginmodule.CapabilityProvider, res.Read.Request)
	if err != nil {
		return nil, err
	}
	if !found || handle.ProcessingID == "" {
		return nil, fmt.Errorf("%w: provider %s cannot process %s", ErrNotFound, provider.Plugin.ID, in.Request.URL)
	}

	job, err := t.Create(ctx, CreateParams{
		LibraryID:    in.LibraryID,
		PluginID:     provider.Plugin.ID,
		ProcessingID: handle.ProcessingID,
		Request:      *res.Read.Request,
		MediaRef:     in.MediaRef,
		Eta:          handle.Eta,
	})
	if err != nil {
		return nil, err
	}
	return &AddResult{Processing: job}, nil
}

// Pause stops polling a job without contacting its plugin
func (t *Tracker) Pause(ctx context.Context, id string) (*database.RequestProcessing, error) {
	unlock := t.locks.lock(id)
	defer unlock()

	job, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == models.ProcessingPaused {
		return job, nil
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot pause %s job", ErrInvalidTransition, job.Status)
	}

	job.Status = models.ProcessingPaused
	if err := t.store.Update(ctx, job); err != nil {
		return nil, err
	}
	t.publish(events.EventProcessingPaused, job)
	return job, nil
}

// Resume makes a paused job eligible for the next reconciliation pass
func (t *Tracker) Resume(ctx context.Context, id string) (*database.RequestProcessing, error) {
	unlock := t.locks.lock(id)
	defer unlock()

	job, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ProcessingPaused {
		return nil, fmt.Errorf("%w: cannot resume %s job", ErrInvalidTransition, job.Status)
	}

	job.Status = models.ProcessingActive
	job.Failures = 0
	job.NextCheck = nil
	if err := t.store.Update(ctx, job); err != nil {
		return nil, err
	}
	t.publish(events.EventProcessingResumed, job)
	return job, nil
}

// Cancel asks the owning plugin to cancel the job. When the plugin refuses
// the record is left as it was. A job that reached a terminal status in the
// meantime is returned unchanged.
func (t *Tracker) Cancel(ctx context.Context, id string) (*database.RequestProcessing, error) {
	job, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot cancel %s job", ErrInvalidTransition, job.Status)
	}

	plugin, err := t.pluginSvc.Store.GetPlugin(ctx, job.PluginID)
	if err != nil {
		return nil, err
	}
	if _, _, err := pluginmodule.Call[struct{}](ctx, t.pluginSvc.Dispatcher, *plugin, plugins.FuncProcessCancel, pluginmodule.CapabilityProvider, ProcessParams{ProcessingID: job.ProcessingID}); err != nil {
		return nil, err
	}

	unlock := t.locks.lock(id)
	defer unlock()

	job, err = t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// A reconcile pass may have finished the job while the plugin was asked.
	if job.Status.IsTerminal() {
		return job, nil
	}
	msg := msgCancelled
	job.Status = models.ProcessingError
	job.Error = &msg
	job.NextCheck = nil
	if err := t.store.Update(ctx, job); err != nil {
		return nil, err
	}
	t.publish(events.EventProcessingFailed, job)
	return job, nil
}

// Remove deletes the record whatever its status. The plugin-side job is not cancelled.
func (t *Tracker) Remove(ctx context.Context, id string) error {
	unlock := t.locks.lock(id)
	defer unlock()

	job, err := t.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := t.store.Delete(ctx, id); err != nil {
		return err
	}
	t.publish(events.EventProcessingRemoved, job)
	return nil
}

// ReconcileActive polls every due queued or processing job of the library
// and applies what the plugins report. Paused jobs are skipped. A failure
// on one job is recorded on that job and never stops the pass. Store
// failures are joined into the returned error alongside the changed count.
func (t *Tracker) ReconcileActive(ctx context.Context, libraryID string) (int, error) {
	metrics.ReconcilePasses.WithLabelValues(libraryID).Inc()

	jobs, err := t.store.ListActive(ctx, libraryID, t.now())
	if err != nil {
		return 0, err
	}

	var (
		changed   int64
		errMu     sync.Mutex
		storeErrs []error
	)

	var g errgroup.Group
	g.SetLimit(t.cfg.ReconcileConcurrency)
	for i := range jobs {
		job := jobs[i]
		g.Go(func() error {
			ok, err := t.reconcile(ctx, &job)
			if err != nil {
				errMu.Lock()
				storeErrs = append(storeErrs, err)
				errMu.Unlock()
				return nil
			}
			if ok {
				atomic.AddInt64(&changed, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(jobs) > 0 {
		t.logger.Debug("reconciliation pass complete", "library", libraryID, "jobs", len(jobs), "changed", changed, "store_errors", len(storeErrs))
	}
	return int(changed), errors.Join(storeErrs...)
}

// ReconcileJob polls one job immediately, ignoring its backoff
func (t *Tracker) ReconcileJob(ctx context.Context, id string) (*database.RequestProcessing, error) {
	job, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ProcessingQueued && job.Status != models.ProcessingActive {
		return job, nil
	}
	if _, err := t.reconcile(ctx, job); err != nil {
		return nil, err
	}
	return t.store.Get(ctx, id)
}

// reconcile polls the plugin then applies the outcome under the job lock.
// Only store failures are returned.
func (t *Tracker) reconcile(ctx context.Context, snapshot *database.RequestProcessing) (bool, error) {
	report, found, callErr := t.poll(ctx, snapshot)

	unlock := t.locks.lock(snapshot.ID)
	defer unlock()

	job, err := t.store.Get(ctx, snapshot.ID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}
	// Paused, cancelled or removed while the plugin was being polled.
	if job.Status != models.ProcessingQueued && job.Status != models.ProcessingActive {
		return false, nil
	}

	var changed bool
	switch {
	case errors.Is(callErr, pluginmodule.ErrPluginNotFound):
		changed = t.fail(job, msgPluginMissing)
		metrics.ReconcileJobResults.WithLabelValues("failed").Inc()
	case callErr != nil:
		changed = t.recordFailure(job, callErr)
	case !found:
		changed = t.fail(job, msgUnknownJob)
		metrics.ReconcileJobResults.WithLabelValues("failed").Inc()
	default:
		changed = t.apply(job, report)
		if changed {
			metrics.ReconcileJobResults.WithLabelValues("changed").Inc()
		} else {
			metrics.ReconcileJobResults.WithLabelValues("unchanged").Inc()
		}
	}

	if !changed {
		return false, nil
	}
	if err := t.store.Update(ctx, job); err != nil {
		return false, err
	}
	t.publish(eventFor(job), job)
	return true, nil
}

func (t *Tracker) poll(ctx context.Context, job *database.RequestProcessing) (models.ProcessingProgress, bool, error) {
	plugin, err := t.pluginSvc.Store.GetPlugin(ctx, job.PluginID)
	if err != nil {
		return models.ProcessingProgress{}, false, err
	}
	return pluginmodule.Call[models.ProcessingProgress](ctx, t.pluginSvc.Dispatcher, *plugin, plugins.FuncProcessStatus, pluginmodule.CapabilityProvider, ProcessParams{ProcessingID: job.ProcessingID})
}

// apply merges a plugin report into the job. Progress never goes backwards
// and a plugin cannot pause or requeue a job.
func (t *Tracker) apply(job *database.RequestProcessing, report models.ProcessingProgress) bool {
	changed := job.Failures > 0 || job.NextCheck != nil
	job.Failures = 0
	job.NextCheck = nil

	progress := clampProgress(report.Progress)
	switch report.Status {
	case models.ProcessingActive, models.ProcessingError, models.ProcessingDone:
		if job.Status != report.Status {
			job.Status = report.Status
			changed = true
		}
	}
	if job.Status == models.ProcessingDone {
		progress = 100
	}
	if progress > job.Progress {
		job.Progress = progress
		changed = true
	}

	if report.Eta != nil && (job.Eta == nil || *job.Eta != *report.Eta) {
		job.Eta = report.Eta
		changed = true
	}

	switch {
	case report.Error != nil && (job.Error == nil || *job.Error != *report.Error):
		job.Error = report.Error
		changed = true
	case report.Error == nil && job.Error != nil && job.Status != models.ProcessingError:
		job.Error = nil
		changed = true
	}
	return changed
}

// recordFailure backs the job off after a transient failure and gives up
// after MaxFailures consecutive failures
func (t *Tracker) recordFailure(job *database.RequestProcessing, err error) bool {
	job.Failures++
	msg := err.Error()
	job.Error = &msg

	if job.Failures >= t.cfg.MaxFailures {
		job.Status = models.ProcessingError
		job.NextCheck = nil
		metrics.ReconcileJobResults.WithLabelValues("failed").Inc()
		t.logger.Warn("processing job failed permanently", "id", job.ID, "plugin_id", job.PluginID, "failures", job.Failures, "error", err)
		return true
	}

	next := t.now().Add(Backoff(t.cfg.BackoffBase, t.cfg.BackoffMax, job.Failures))
	job.NextCheck = &next
	metrics.ReconcileJobResults.WithLabelValues("backoff").Inc()
	t.logger.Debug("processing job poll failed", "id", job.ID, "plugin_id", job.PluginID, "failures", job.Failures, "next_check", next, "error", err)
	return true
}

func (t *Tracker) fail(job *database.RequestProcessing, msg string) bool {
	job.Status = models.ProcessingError
	job.Error = &msg
	job.NextCheck = nil
	t.logger.Warn("processing job failed", "id", job.ID, "plugin_id", job.PluginID, "reason", msg)
	return true
}

// Backoff returns min(base * 2^(failures-1), limit)
func Backoff(base, limit time.Duration, failures int) time.Duration {
	if failures < 1 || base <= 0 {
		return base
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func eventFor(job *database.RequestProcessing) events.EventType {
	switch job.Status {
	case models.ProcessingDone:
		return events.EventProcessingDone
	case models.ProcessingError:
		return events.EventProcessingFailed
	default:
		return events.EventProcessingUpdated
	}
}

func (t *Tracker) publish(eventType events.EventType, job *database.RequestProcessing) {
	if t.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"id":            job.ID,
		"processing_id": job.ProcessingID,
		"plugin_id":     job.PluginID,
		"progress":      job.Progress,
		"status":        job.Status,
	}
	if job.Eta != nil {
		data["eta"] = *job.Eta
	}
	if job.Error != nil {
		data["error"] = *job.Error
	}
	t.publisher.Publish(events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    "request-tracker",
		Library:   job.LibraryID,
		Data:      data,
		Timestamp: t.now(),
	})
}

// keyedMutex serializes state changes of one job
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
