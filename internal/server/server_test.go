package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
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
	"github.com/mantonx/redseat/internal/modules/pluginmodule"
	"github.com/mantonx/redseat/internal/modules/requestmodule"
	"github.com/mantonx/redseat/internal/modules/sourcemodule"
	"github.com/mantonx/redseat/internal/modules/videoconvertmodule"
	plugins "github.com/mantonx/redseat/sdk"
)

// downloader is an in-process provider that accepts every job and reports it half done
type downloader struct{}

func (downloader) Call(_ context.Context, function string, _ []byte) ([]byte, error) {
	switch function {
	case plugins.FuncProcessAdd:
		return []byte(`{"processing_id":"dl-1","eta":30}`), nil
	case plugins.FuncProcessStatus:
		return []byte(`{"id":"dl-1","progress":50,"status":"processing","eta":15}`), nil
	}
	return nil, plugins.NotFound("unsupported")
}

type testEnv struct {
	server  *Server
	libRoot string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := hclog.NewNullLogger()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	libRoot := t.TempDir()
	require.NoError(t, db.Create(&database.Library{ID: "lib1", Name: "Movies", Source: "local", Root: libRoot}).Error)
	require.NoError(t, db.Create(&database.Plugin{ID: "dl", Name: "Downloader", Path: "/plugins/dl/dl", Capabilities: []string{"provider"}, Enabled: true}).Error)
	require.NoError(t, db.Create(&database.LibraryPlugin{LibraryID: "lib1", PluginID: "dl"}).Error)

	registry := pluginmodule.NewRegistry(t.TempDir(), nil, logger)
	manifest, err := pluginmodule.NewManifest("dl", "Downloader", []pluginmodule.Capability{pluginmodule.CapabilityProvider})
	require.NoError(t, err)
	registry.Register("/plugins/dl/dl", manifest, downloader{})

	dispatcher := pluginmodule.NewDispatcher(registry, time.Second, logger)
	pluginStore := pluginmodule.NewGormPluginStore(db)
	svc := pluginmodule.NewService(pluginStore, registry, dispatcher, logger)
	sources := sourcemodule.NewRegistry(sourcemodule.NewGormLibraryStore(db), pluginStore, dispatcher)
	resolver := requestmodule.NewResolver(svc, sources, nil, nil, logger)

	bus := events.NewBus(events.DefaultEventBusConfig(), logger)
	cfg := config.Config{}
	cfg.Requests = config.RequestConfig{ReconcileConcurrency: 2, MaxFailures: 3, BackoffBase: time.Second, BackoffMax: time.Minute}
	tracker := requestmodule.NewTracker(requestmodule.NewGormStore(db), svc, resolver, bus, cfg.Requests, logger)

	srv := New(cfg, Deps{
		DB:           db,
		Plugins:      svc,
		Resolver:     resolver,
		Tracker:      tracker,
		VideoConvert: videoconvertmodule.NewOrchestrator(svc, logger),
		Events:       bus,
	}, logger)
	return &testEnv{server: srv, libRoot: libRoot}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["plugins_loaded"])
}

func TestProcessingLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/plugins/requests/add?library=lib1", map[string]interface{}{
		"request": map[string]interface{}{"url": "magnet:?xt=abc", "status": "need_processing"},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var added requestmodule.AddResult
	decode(t, w, &added)
	require.NotNil(t, added.Processing)
	id := added.Processing.ID

	w = env.do(t, http.MethodGet, "/plugins/requests/processing?library=lib1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)

	w = env.do(t, http.MethodGet, "/plugins/requests/processing/"+id+"/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var progress struct {
		Progress int    `json:"progress"`
		Status   string `json:"status"`
		Eta      int64  `json:"eta"`
	}
	decode(t, w, &progress)
	assert.Equal(t, 50, progress.Progress)
	assert.Equal(t, "processing", progress.Status)
	assert.Equal(t, int64(15), progress.Eta)

	w = env.do(t, http.MethodPost, "/plugins/requests/processing/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/plugins/requests/processing/"+id+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/plugins/requests/processing/"+id+"/resume", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodDelete, "/plugins/requests/processing/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/plugins/requests/processing/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListProcessingRequiresLibrary(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/plugins/requests/processing", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessReturnsResolvedRequest(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/plugins/requests/process", map[string]interface{}{"url": "https://cdn.example.com/a.mkv"})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		State   string `json:"state"`
		Request struct {
			URL string `json:"url"`
		} `json:"request"`
	}
	decode(t, w, &body)
	assert.Equal(t, "ready", body.State)
	assert.Equal(t, "https://cdn.example.com/a.mkv", body.Request.URL)
}

func TestProcessStreamHonorsRange(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.libRoot, "notes.txt"), []byte("hello redseat"), 0o644))

	w := env.do(t, http.MethodPost, "/plugins/requests/process/stream?library=lib1", map[string]interface{}{"url": "notes.txt"}, "Range", "bytes=0-4")
	require.Equal(t, http.StatusPartialContent, w.Code, w.Body.String())
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "bytes 0-4/13", w.Header().Get("Content-Range"))

	w = env.do(t, http.MethodPost, "/plugins/requests/process?library=lib1", map[string]interface{}{"url": "notes.txt"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestVideoConvertAgainstProviderIsUnsupported(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/plugins/videoconvert/dl/jobs/job-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, w, &body)
	assert.Equal(t, "PLUGIN_UNSUPPORTED_CALL", body.Error.Code)
}

func TestLoadedPlugins(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/plugins/loaded", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Plugins []pluginmodule.LoadedPluginInfo `json:"plugins"`
	}
	decode(t, w, &body)
	require.Len(t, body.Plugins, 1)
	assert.Equal(t, "dl", body.Plugins[0].ID)
	assert.False(t, body.Plugins[0].External)
}
