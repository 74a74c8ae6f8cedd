package pluginmodule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterLookupUnregister(t *testing.T) {
	r := NewRegistry(t.TempDir(), nil, hclog.NewNullLogger())

	r.Register("/plugins/b/bin", mustManifest(t, "b", CapabilityProvider), &fakeCaller{})
	r.Register("/plugins/a/bin", mustManifest(t, "a", CapabilityURLParser), &fakeCaller{})

	m, ok := r.Lookup("/plugins/a/bin")
	require.True(t, ok)
	assert.Equal(t, "a", m.Manifest.ID)
	assert.False(t, m.External())

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Manifest.ID)
	assert.Equal(t, "b", list[1].Manifest.ID)

	infos := r.Describe(context.Background())
	require.Len(t, infos, 2)
	assert.Equal(t, []string{"url_parser"}, infos[0].Capabilities)
	assert.Nil(t, infos[0].Process)

	assert.True(t, r.UnloadDir("/plugins/b"))
	_, ok = r.Lookup("/plugins/b/bin")
	assert.False(t, ok)
	assert.False(t, r.Unregister("/plugins/b/bin"))

	r.Shutdown()
	assert.Empty(t, r.List())
}

func TestRegistry_RegisterReplacesSamePath(t *testing.T) {
	r := NewRegistry(t.TempDir(), nil, hclog.NewNullLogger())
	r.Register("/p", mustManifest(t, "old", CapabilityProvider), &fakeCaller{})
	r.Register("/p", mustManifest(t, "new", CapabilityProvider), &fakeCaller{})

	m, ok := r.Lookup("/p")
	require.True(t, ok)
	assert.Equal(t, "new", m.Manifest.ID)
	assert.Len(t, r.List(), 1)
}

func writeManifest(t *testing.T, dir, id string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	src := "#Plugin: {\n\tid: \"" + id + "\"\n\tname: \"" + id + "\"\n\tcapabilities: [\"provider\"]\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(src), 0644))
}

func TestRegistry_DiscoverFindsNestedManifests(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "top"), "top")
	writeManifest(t, filepath.Join(root, "providers", "nested"), "nested")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))

	r := NewRegistry(root, nil, hclog.NewNullLogger())
	dirs, err := r.manifestDirs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "top"),
		filepath.Join(root, "providers", "nested"),
	}, dirs)

	// Without binaries nothing loads, and discovery still succeeds.
	loaded, err := r.Discover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, loaded)
	assert.Empty(t, r.List())
}

func TestRegistry_DiscoverCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plugins")
	r := NewRegistry(dir, nil, hclog.NewNullLogger())

	loaded, err := r.Discover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, loaded)
	assert.DirExists(t, dir)
}

func TestRegistry_LoadDirMissingBinary(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "p")
	writeManifest(t, dir, "p")

	r := NewRegistry(root, NewLauncher(time.Second, "info", hclog.NewNullLogger()), hclog.NewNullLogger())
	err := r.LoadDir(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary not found")
}

func TestHotReloader_UnloadsOnManifestRemoval(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "p")
	writeManifest(t, dir, "p")

	r := NewRegistry(root, nil, hclog.NewNullLogger())
	r.Register(filepath.Join(dir, "p"), mustManifest(t, "p", CapabilityProvider), &fakeCaller{})

	h, err := NewHotReloader(r, 10*time.Millisecond, hclog.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop()

	require.NoError(t, os.Remove(filepath.Join(dir, ManifestFileName)))

	assert.Eventually(t, func() bool {
		return len(r.List()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
