package pluginmodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/mantonx/redseat/internal/metrics"
)

// Caller executes a named function on a loaded module
type Caller interface {
	Call(ctx context.Context, function string, arg []byte) ([]byte, error)
}

// Module is one loaded plugin instance. Calls against it are serialized by mu.
type Module struct {
	Manifest *Manifest
	Path     string

	mu     sync.Mutex
	caller Caller
	client *goplugin.Client
}

// External reports whether the module runs in its own process
func (m *Module) External() bool {
	return m.client != nil
}

// Info describes the module for listings
func (m *Module) Info() LoadedPluginInfo {
	return LoadedPluginInfo{
		ID:           m.Manifest.ID,
		Name:         m.Manifest.Name,
		Version:      m.Manifest.Version,
		Path:         m.Path,
		Capabilities: m.Manifest.CapabilitySet().Strings(),
		External:     m.External(),
	}
}

// Registry holds the loaded modules keyed by their on-disk path
type Registry struct {
	pluginDir string
	launcher  *Launcher
	parser    *CUEParser
	logger    hclog.Logger

	mu      sync.RWMutex
	modules map[string]*Module
}

// NewRegistry creates an empty registry. launcher may be nil when only
// in-process modules are registered.
func NewRegistry(pluginDir string, launcher *Launcher, logger hclog.Logger) *Registry {
	if pluginDir == "" {
		pluginDir = DefaultPluginDir
	}
	return &Registry{
		pluginDir: pluginDir,
		launcher:  launcher,
		parser:    NewCUEParser(),
		logger:    logger.Named("plugin-registry"),
		modules:   make(map[string]*Module),
	}
}

// PluginDir returns the directory scanned by Discover
func (r *Registry) PluginDir() string {
	return r.pluginDir
}

// Register adds an in-process module. An existing module at the same path is replaced.
func (r *Registry) Register(path string, manifest *Manifest, caller Caller) *Module {
	m := &Module{Manifest: manifest, Path: path, caller: caller}
	r.put(m)
	return m
}

func (r *Registry) put(m *Module) {
	r.mu.Lock()
	old := r.modules[m.Path]
	r.modules[m.Path] = m
	count := len(r.modules)
	r.mu.Unlock()

	if old != nil {
		old.kill()
	}
	metrics.PluginsLoaded.Set(float64(count))
	r.logger.Info("plugin registered", "plugin_id", m.Manifest.ID, "path", m.Path, "capabilities", m.Manifest.CapabilitySet().Strings())
}

// Unregister removes the module at path and stops its process
func (r *Registry) Unregister(path string) bool {
	r.mu.Lock()
	m, ok := r.modules[path]
	delete(r.modules, path)
	count := len(r.modules)
	r.mu.Unlock()

	if !ok {
		return false
	}
	m.kill()
	metrics.PluginsLoaded.Set(float64(count))
	r.logger.Info("plugin unregistered", "plugin_id", m.Manifest.ID, "path", path)
	return true
}

// Lookup returns the module loaded from path
func (r *Registry) Lookup(path string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[path]
	return m, ok
}

// List returns the loaded modules sorted by plugin id
func (r *Registry) List() []*Module {
	r.mu.RLock()
	out := make([]*Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })
	return out
}

// Describe lists loaded modules with process stats for external ones
func (r *Registry) Describe(ctx context.Context) []LoadedPluginInfo {
	modules := r.List()
	infos := make([]LoadedPluginInfo, 0, len(modules))
	for _, m := range modules {
		info := m.Info()
		if m.External() {
			stats, err := CollectProcessStats(ctx, m.client)
			if err != nil {
				r.logger.Debug("failed to collect plugin process stats", "plugin_id", m.Manifest.ID, "error", err)
			} else {
				info.Process = stats
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// Discover scans the plugin directory, and one nested level below it, for
// plugin manifests and starts every plugin found. A plugin that fails to
// parse or start is logged and skipped.
func (r *Registry) Discover(ctx context.Context) (int, error) {
	r.logger.Info("discovering plugins", "plugin_dir", r.pluginDir)

	if _, err := os.Stat(r.pluginDir); os.IsNotExist(err) {
		r.logger.Info("plugin directory does not exist, creating", "dir", r.pluginDir)
		if err := os.MkdirAll(r.pluginDir, DefaultFilePerm); err != nil {
			return 0, fmt.Errorf("failed to create plugin directory: %w", err)
		}
		return 0, nil
	}

	dirs, err := r.manifestDirs()
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, dir := range dirs {
		if ctx.Err() != nil {
			return loaded, ctx.Err()
		}
		if err := r.LoadDir(ctx, dir); err != nil {
			r.logger.Error("failed to load plugin", "dir", dir, "error", err)
			continue
		}
		loaded++
	}

	r.logger.Info("plugin discovery completed", "loaded_count", loaded)
	return loaded, nil
}

func (r *Registry) manifestDirs() ([]string, error) {
	entries, err := os.ReadDir(r.pluginDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(r.pluginDir, entry.Name())
		if fileExists(filepath.Join(dir, ManifestFileName)) {
			dirs = append(dirs, dir)
			continue
		}

		subEntries, err := os.ReadDir(dir)
		if err != nil {
			r.logger.Debug("failed to read plugin subdirectory", "path", dir, "error", err)
			continue
		}
		for _, sub := range subEntries {
			subDir := filepath.Join(dir, sub.Name())
			if sub.IsDir() && fileExists(filepath.Join(subDir, ManifestFileName)) {
				dirs = append(dirs, subDir)
			}
		}
	}
	return dirs, nil
}

// LoadDir parses the manifest in dir, starts its binary and registers it
// under the binary path
func (r *Registry) LoadDir(ctx context.Context, dir string) error {
	manifest, err := r.parser.ParseFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return err
	}
	if r.launcher == nil {
		return fmt.Errorf("plugin %s: no launcher configured", manifest.ID)
	}

	binaryPath := filepath.Join(dir, manifest.EntryPoint())
	if !fileExists(binaryPath) {
		return fmt.Errorf("plugin %s: binary not found at %s", manifest.ID, binaryPath)
	}

	caller, client, err := r.launcher.Start(ctx, manifest, binaryPath)
	if err != nil {
		return fmt.Errorf("plugin %s: %w", manifest.ID, err)
	}

	r.put(&Module{Manifest: manifest, Path: binaryPath, caller: caller, client: client})
	return nil
}

// UnloadDir unregisters whichever module was loaded from dir
func (r *Registry) UnloadDir(dir string) bool {
	r.mu.RLock()
	var path string
	for p := range r.modules {
		if filepath.Dir(p) == dir {
			path = p
			break
		}
	}
	r.mu.RUnlock()

	if path == "" {
		return false
	}
	return r.Unregister(path)
}

// Shutdown stops every external plugin process
func (r *Registry) Shutdown() {
	r.mu.Lock()
	modules := r.modules
	r.modules = make(map[string]*Module)
	r.mu.Unlock()

	for _, m := range modules {
		m.kill()
	}
	metrics.PluginsLoaded.Set(0)
	r.logger.Info("plugin registry shutdown complete", "stopped", len(modules))
}

func (m *Module) kill() {
	if m.client != nil {
		m.client.Kill()
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
