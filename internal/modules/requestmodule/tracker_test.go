package requestmodule

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mantonx/redseat/internal/config"
	"github.com/mantonx/redseat/internal/database"
	"github.com/mantonx/redseat/internal/events"
	"github.com/mantonx/redseat/internal/models"
	"github.com/mantonx/redseat/internal/modules/pluginmodule"
	"github.com/mantonx/redseat/internal/modules/sourcemodule"
	plugins "github.com/mantonx/redseat/sdk"
)

const downloaderPath = "/plugins/dl/dl"

// scriptedPlugin answers plugin calls from handle and records them
type scriptedPlugin struct {
	mu     sync.Mutex
	calls  []string
	params []json.RawMessage
	handle func(function string, params json.RawMessage) ([]byte, error)
}

func (p *scriptedPlugin) Call(_ context.Context, function string, arg []byte) ([]byte, error) {
	var in plugins.Input
	if err := json.Unmarshal(arg, &in); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.calls = append(p.calls, function)
	p.params = append(p.params, in.Params)
	p.mu.Unlock()
	if p.handle == nil {
		return nil, plugins.NotFound("not scripted")
	}
	return p.handle(function, in.Params)
}

func (p *scriptedPlugin) count(function string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == function {
			n++
		}
	}
	return n
}

// statusBy answers process_status with the JSON scripted for each processing id
func statusBy(reports map[string]string) func(string, json.RawMessage) ([]byte, error) {
	return func(function string, params json.RawMessage) ([]byte, error) {
		if function != plugins.FuncProcessStatus {
			return nil, plugins.NotFound("unexpected %s", function)
		}
		var p ProcessParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		report, ok := reports[p.ProcessingID]
		if !ok {
			return nil, plugins.NotFound("unknown job")
		}
		if report == "fail" {
			return nil, plugins.Errorf(plugins.CodeInternal, "upstream unavailable")
		}
		return []byte(report), nil
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(e events.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return true
}

func (r *recordingPublisher) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	db        *gorm.DB
	registry  *pluginmodule.Registry
	plugin    *scriptedPlugin
	tracker   *Tracker
	resolver  *Resolver
	publisher *recordingPublisher
	now       time.Time
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func testRequestConfig() config.RequestConfig {
	return config.RequestConfig{
		ReconcileInterval:    time.Second,
		ReconcileConcurrency: 4,
		MaxFailures:          3,
		BackoffBase:          time.Second,
		BackoffMax:           10 * time.Second,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := hclog.NewNullLogger()
	db := setupTestDB(t)

	require.NoError(t, db.Create(&database.Plugin{
		ID: "dl", Name: "Downloader", Path: downloaderPath, Capabilities: []string{"provider"}, Enabled: true,
	}).Error)
	require.NoError(t, db.Create(&database.Library{ID: "lib1", Name: "Movies", Source: "local", Root: t.TempDir()}).Error)
	require.NoError(t, db.Create(&database.LibraryPlugin{LibraryID: "lib1", PluginID: "dl"}).Error)

	manifest, err := pluginmodule.NewManifest("dl", "Downloader", []pluginmodule.Capability{pluginmodule.CapabilityProvider})
	require.NoError(t, err)

	registry := pluginmodule.NewRegistry(t.TempDir(), nil, logger)
	plugin := &scriptedPlugin{}
	registry.Register(downloaderPath, manifest, plugin)

	dispatcher := pluginmodule.NewDispatcher(registry, time.Second, logger)
	pluginStore := pluginmodule.NewGormPluginStore(db)
	svc := pluginmodule.NewService(pluginStore, registry, dispatcher, logger)
	sources := sourcemodule.NewRegistry(sourcemodule.NewGormLibraryStore(db), pluginStore, dispatcher)
	resolver := NewResolver(svc, sources, nil, nil, logger)

	publisher := &recordingPublisher{}
	tracker := NewTracker(NewGormStore(db), svc, resolver, publisher, testRequestConfig(), logger)

	h := &harness{db: db, registry: registry, plugin: plugin, tracker: tracker, resolver: resolver, publisher: publisher,
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker.now = func() time.Time { return h.now }
	return h
}

func (h *harness) createJob(t *testing.T, processingID string) *database.RequestProcessing {
	t.Helper()
	job, err := h.tracker.Create(context.Background(), CreateParams{
		LibraryID:    "lib1",
		PluginID:     "dl",
		ProcessingID: processingID,
		Request:      models.RsRequest{URL: "magnet:?xt=" + processingID, Status: models.RequestNeedProcessing},
	})
	require.NoError(t, err)
	return job
}

func TestTracker_CreateThenReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plugin.handle = statusBy(map[string]string{"p-1": `{"id":"p-1","progress":42,"status":"processing"}`})

	job := h.createJob(t, "p-1")
	assert.Equal(t, models.ProcessingQueued, job.Status)
	assert.Equal(t, 0, job.Progress)

	changed, err := h.tracker.ReconcileActive(ctx, "lib1")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err := h.tracker.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Progress)
	assert.Equal(t, models.ProcessingActive, got.Status)
	assert.Equal(t, "magnet:?xt=p-1", got.OriginalRequest.URL)

	assert.Equal(t, []events.EventType{events.EventProcessingCreated, events.EventProcessingUpdated}, h.publisher.types())
}

func TestTracker_CreateRejectsDuplicatePluginJob(t *testing.T) {
	h := newHarness(t)
	h.createJob(t, "p-1")

	_, err := h.tracker.Create(context.Background(), CreateParams{LibraryID: "lib1", PluginID: "dl", ProcessingID: "p-1"})
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestTracker_UnchangedReportIsNotCounted(t *testing.T) {
	h := newHarness(t)
	h.plugin.handle = statusBy(map[string]string{"p-1": `{"id":"p-1","progress":0,"status":"queued"}`})
	h.createJob(t, "p-1")

	changed, err := h.tracker.ReconcileActive(context.Background(), "lib1")
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Equal(t, 1, h.plugin.count(plugins.FuncProcessStatus))
}

func TestTracker_PausedJobsAreSkippedUntilResumed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plugin.handle = statusBy(map[string]string{"p-1": `{"id":"p-1","progress":10,"status":"processing"}`})
	job := h.createJob(t, "p-1")

	paused, err := h.tracker.Pause(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingPaused, paused.Status)

	changed, err := h.tracker.ReconcileActive(ctx, "lib1")
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Zero(t, h.plugin.count(plugins.FuncProcessStatus))

	// Pausing again is a no-op.
	_, err = h.tracker.Pause(ctx, job.ID)
	require.NoError(t, err)

	resumed, err := h.tracker.Resume(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingActive, resumed.Status)

	changed, err = h.tracker.ReconcileActive(ctx, "lib1")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err := h.tracker.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Progress)
}

func TestTracker_ResumeOfQueuedJobGoesToProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.createJob(t, "p-1")
	require.Equal(t, models.ProcessingQueued, job.Status)

	_, err := h.tracker.Pause(ctx, job.ID)
	require.NoError(t, err)

	resumed, err := h.tracker.Resume(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingActive, resumed.Status)
	assert.Nil(t, resumed.NextCheck)
}

func TestTracker_ResumeRequiresPaused(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, "p-1")

	_, err := h.tracker.Resume(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTracker_FailingJobDoesNotStopThePass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plugin.handle = statusBy(map[string]string{
		"bad":  "fail",
		"good": `{"id":"good","progress":60,"status":"processing"}`,
	})
	bad := h.createJob(t, "bad")
	good := h.createJob(t, "good")

	changed, err := h.tracker.ReconcileActive(ctx, "lib1")
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	gotGood, err := h.tracker.Get(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, gotGood.Progress)

	gotBad, err := h.tracker.Get(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingQueued, gotBad.Status)
	assert.Equal(t, 1, gotBad.Failures)
	require.NotNil(t, gotBad.Error)
	assert.Contains(t, *gotBad.Error, "upstream unavailable")
	require.NotNil(t, gotBad.NextCheck)
	assert.True(t, gotBad.NextCheck.Equal(h.now.Add(time.Second)))

	// Not due yet: only the healthy job is polled.
	before := h.plugin.count(plugins.FuncProcessStatus)
	_, err = h.tracker.ReconcileActive(ctx, "lib1")
	require.NoError(t, err)
	assert.Equal(t, before+1, h.plugin.count(plugins.FuncProcessStatus))
}

func TestTracker_GivesUpAfterMaxFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plugin.handle = statusBy(map[string]string{"p-1": "fail"})
	job := h.createJob(t, "p-1")

	for i := 0; i < 3; i++ {
		_, err := h.tracker.ReconcileActive(ctx, "lib1")
		require.NoError(t, err)
		h.now = h.now.Add(time.Minute)
	}

	got, err := h.tracker.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingError, got.Status)
	assert.Equal(t, 3, got.Failures)
	assert.Nil(t, got.NextCheck)
	assert.Contains(t, h.publisher.types(), events.EventProcessingFailed)
}

func TestTracker_SuccessfulPollResetsFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reports := map[string]string{"p-1": "fail"}
	h.plugin.handle = statusBy(reports)
	job := h.createJob(t, "p-1")

	_, err := h.tracker.ReconcileActive(ctx, "lib1")
	require.NoError(t, err)

	reports["p-1"] = `{"id":"p-1","progress":5,"status":"processing"}`
	h.now = h.now.Add(time.Minute)
	_, err = h.tracker.ReconcileActive(ctx, "lib1")
	require.NoError(t, err)

	got, err := h.tracker.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Failures)
	assert.Nil(t, got.NextCheck)
	assert.Nil(t, got.Error)
	assert.Equal(t, 5, got.Progress)
}

func TestTracker_UnknownJobIsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plugin.handle = statusBy(map[string]string{})
	job := h.createJob(t, "gone")

	changed, err := h.tracker.ReconcileActive(ctx, "lib1")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err := h.tracker.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingError, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "processing job unknown to plugin", *got.Error)
}

func TestTracker_ApplyReport(t *testing.T) {
	h := newHarness(t)
	errMsg := "disk full"

	tests := []struct {
		name     string
		job      database.RequestProcessing
		report   models.ProcessingProgress
		changed  bool
		progress int
		status   models.ProcessingStatus
	}{
		{
			name:     "progress never goes backwards",
			job:      database.RequestProcessing{Progress: 50, Status: models.ProcessingActive},
			report:   models.ProcessingProgress{Progress: 30, Status: models.ProcessingActive},
			progress: 50,
			status:   models.ProcessingActive,
		},
		{
			name:     "progress is clamped",
			job:      database.RequestProcessing{Progress: 50, Status: models.ProcessingActive},
			report:   models.ProcessingProgress{Progress: 150, Status: models.ProcessingActive},
			changed:  true,
			progress: 100,
			status:   models.ProcessingActive,
		},
		{
			name:     "plugin cannot pause",
			job:      database.RequestProcessing{Progress: 10, Status: models.ProcessingActive},
			report:   models.ProcessingProgress{Progress: 10, Status: models.ProcessingPaused},
			progress: 10,
			status:   models.ProcessingActive,
		},
		{
			name:     "done completes progress",
			job:      database.RequestProcessing{Progress: 90, Status: models.ProcessingActive},
			report:   models.ProcessingProgress{Progress: 95, Status: models.ProcessingDone},
			changed:  true,
			progress: 100,
			status:   models.ProcessingDone,
		},
		{
			name:     "plugin error",
			job:      database.RequestProcessing{Progress: 20, Status: models.ProcessingActive},
			report:   models.ProcessingProgress{Progress: 20, Status: models.ProcessingError, Error: &errMsg},
			changed:  true,
			progress: 20,
			status:   models.ProcessingError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job
			assert.Equal(t, tt.changed, h.tracker.apply(&job, tt.report))
			assert.Equal(t, tt.progress, job.Progress)
			assert.Equal(t, tt.status, job.Status)
		})
	}
}

func TestBackoff(t *testing.T) {
	base, limit := 30*time.Second, 10*time.Minute
	assert.Equal(t, 30*time.Second, Backoff(base, limit, 1))
	assert.Equal(t, time.Minute, Backoff(base, limit, 2))
	assert.Equal(t, 4*time.Minute, Backoff(base, limit, 4))
	assert.Equal(t, limit, Backoff(base, limit, 6))
	assert.Equal(t, limit, Backoff(base, limit, 200))
}

func TestTracker_Cancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cancelOK := true
	h.plugin.handle = func(function string, _ json.RawMessage) ([]byte, error) {
		if function != plugins.FuncProcessCancel {
			return nil, plugins.NotFound("unexpected")
		}
		if !cancelOK {
			return nil, plugins.Errorf(plugins.CodeInternal, "cannot cancel now")
		}
		return []byte(`{}`), nil
	}

	refused := h.createJob(t, "p-1")
	cancelOK = false
	_, err := h.tracker.Cancel(ctx, refused.ID)
	var pe *pluginmodule.PluginError
	require.ErrorAs(t, err, &pe)

	got, err := h.tracker.Get(ctx, refused.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingQueued, got.Status)
	assert.Nil(t, got.Error)

	cancelOK = true
	cancelled, err := h.tracker.Cancel(ctx, refused.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingError, cancelled.Status)
	require.NotNil(t, cancelled.Error)
	assert.Equal(t, "cancelled", *cancelled.Error)

	_, err = h.tracker.Cancel(ctx, refused.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTracker_CancelKeepsJobFinishedMeanwhile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.createJob(t, "p-1")

	h.plugin.handle = func(function string, _ json.RawMessage) ([]byte, error) {
		if function != plugins.FuncProcessCancel {
			return nil, plugins.NotFound("unexpected %s", function)
		}
		// the plugin finished the job before it saw the cancel
		err := h.db.Model(&database.RequestProcessing{}).Where("id = ?", job.ID).
			Updates(map[string]interface{}{"status": string(models.ProcessingDone), "progress": 100}).Error
		if err != nil {
			return nil, err
		}
		return []byte(`{}`), nil
	}

	got, err := h.tracker.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingDone, got.Status)
	assert.Nil(t, got.Error)

	stored, err := h.tracker.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingDone, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.Nil(t, stored.Error)
	assert.NotContains(t, h.publisher.types(), events.EventProcessingFailed)
}

func TestTracker_Remove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.createJob(t, "p-1")

	require.NoError(t, h.tracker.Remove(ctx, job.ID))
	_, err := h.tracker.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, h.tracker.Remove(ctx, job.ID), ErrJobNotFound)
	assert.Zero(t, h.plugin.count(plugins.FuncProcessCancel))
}

func TestTracker_AddDelegatesToProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plugin.handle = func(function string, params json.RawMessage) ([]byte, error) {
		if function != plugins.FuncProcessAdd {
			return nil, plugins.NotFound("unexpected")
		}
		var req models.RsRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if req.URL != "magnet:?xt=abc" {
			return nil, plugins.NotFound("wrong request")
		}
		return []byte(`{"processing_id":"dl-77","eta":120}`), nil
	}

	res, err := h.tracker.Add(ctx, AddInput{
		Request:   models.RsRequest{URL: "magnet:?xt=abc", Status: models.RequestNeedProcessing, PluginID: models.StringPtr("dl")},
		LibraryID: "lib1",
		MediaRef:  models.StringPtr("media-9"),
	})
	require.NoError(t, err)
	require.Nil(t, res.Request)
	require.NotNil(t, res.Processing)
	assert.Equal(t, "dl-77", res.Processing.ProcessingID)
	assert.Equal(t, "dl", res.Processing.PluginID)
	assert.Equal(t, models.ProcessingQueued, res.Processing.Status)
	require.NotNil(t, res.Processing.Eta)
	assert.Equal(t, int64(120), *res.Processing.Eta)
	assert.Equal(t, "media-9", *res.Processing.MediaRef)
}

func TestTracker_AddReadyRequestIsReturned(t *testing.T) {
	h := newHarness(t)

	res, err := h.tracker.Add(context.Background(), AddInput{
		Request:   models.RsRequest{URL: "https://cdn.example.com/movie.mkv", Status: models.RequestReady},
		LibraryID: "lib1",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Processing)
	require.NotNil(t, res.Request)
	assert.Equal(t, "https://cdn.example.com/movie.mkv", res.Request.URL)
	assert.Zero(t, h.plugin.count(plugins.FuncProcessAdd))
}

// failingUpdates wraps a store and fails updates of one job
type failingUpdates struct {
	Store
	failID string
}

func (f *failingUpdates) Update(ctx context.Context, job *database.RequestProcessing) error {
	if job.ID == f.failID {
		return errors.New("database is locked")
	}
	return f.Store.Update(ctx, job)
}

func TestTracker_StoreFailureIsReportedAfterThePass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plugin.handle = statusBy(map[string]string{
		"a": `{"id":"a","progress":10,"status":"processing"}`,
		"b": `{"id":"b","progress":20,"status":"processing"}`,
	})
	a := h.createJob(t, "a")
	b := h.createJob(t, "b")
	h.tracker.store = &failingUpdates{Store: h.tracker.store, failID: a.ID}

	changed, err := h.tracker.ReconcileActive(ctx, "lib1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, 1, changed)

	got, err := h.tracker.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Progress)
}

func TestScheduler_RunOnceVisitsEveryLibrary(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Create(&database.Library{ID: "lib2", Name: "Shows", Source: "local", Root: t.TempDir()}).Error)
	h.plugin.handle = statusBy(map[string]string{
		"p-1": `{"id":"p-1","progress":1,"status":"processing"}`,
		"p-2": `{"id":"p-2","progress":2,"status":"processing"}`,
	})
	h.createJob(t, "p-1")
	_, err := h.tracker.Create(context.Background(), CreateParams{LibraryID: "lib2", PluginID: "dl", ProcessingID: "p-2"})
	require.NoError(t, err)

	libraries := sourcemodule.NewRegistry(sourcemodule.NewGormLibraryStore(h.db), nil, nil)
	scheduler := NewScheduler(h.tracker, libraries, time.Hour, hclog.NewNullLogger())
	assert.Equal(t, 2, scheduler.RunOnce(context.Background()))
}

func TestScheduler_StartStop(t *testing.T) {
	h := newHarness(t)
	libraries := sourcemodule.NewRegistry(sourcemodule.NewGormLibraryStore(h.db), nil, nil)
	scheduler := NewScheduler(h.tracker, libraries, time.Millisecond, hclog.NewNullLogger())

	scheduler.Start(context.Background())
	scheduler.Start(context.Background())
	time.Sleep(5 * time.Millisecond)
	scheduler.Stop()
	scheduler.Stop()
}
