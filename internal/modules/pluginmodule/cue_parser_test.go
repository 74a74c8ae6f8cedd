package pluginmodule

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const providerManifest = `
#Plugin: {
	id:          "http_provider"
	name:        "HTTP Provider"
	version:     "1.2.0"
	description: "Resolves example.com links"
	capabilities: ["provider", "url_parser"]
	url_patterns: ["^https?://(www\\.)?example\\.com/watch/"]
	entry_points: {
		main: "http_provider_bin"
	}
	settings: {
		quality: "1080p"
		retries: 3
	}
}
`

func TestCUEParser_Parse(t *testing.T) {
	m, err := NewCUEParser().Parse("plugin.cue", []byte(providerManifest))
	require.NoError(t, err)

	assert.Equal(t, "http_provider", m.ID)
	assert.Equal(t, "HTTP Provider", m.Name)
	assert.Equal(t, "1.2.0", m.Version)
	assert.Equal(t, "http_provider_bin", m.EntryPoint())
	assert.True(t, m.CapabilitySet().Has(CapabilityProvider))
	assert.True(t, m.CapabilitySet().Has(CapabilityURLParser))
	assert.False(t, m.CapabilitySet().Has(CapabilityVideoConvert))

	assert.True(t, m.MatchesURL("https://www.example.com/watch/123"))
	assert.False(t, m.MatchesURL("https://other.com/watch/123"))

	var settings map[string]interface{}
	require.NoError(t, json.Unmarshal(m.Settings, &settings))
	assert.Equal(t, "1080p", settings["quality"])
}

func TestCUEParser_PlainPluginField(t *testing.T) {
	src := `plugin: {
	id: "converter"
	name: "Converter"
	capabilities: ["video_convert"]
}`
	m, err := NewCUEParser().Parse("plugin.cue", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, "converter", m.EntryPoint())
	assert.Equal(t, []string{"video_convert"}, m.CapabilitySet().Strings())
}

func TestCUEParser_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "syntax", src: `#Plugin: {id: `},
		{name: "no plugin block", src: `other: {id: "x"}`},
		{name: "missing name", src: `#Plugin: {id: "x", capabilities: []}`},
		{name: "unknown capability", src: `#Plugin: {id: "x", name: "X", capabilities: ["teleport"]}`},
		{name: "bad pattern", src: `#Plugin: {id: "x", name: "X", capabilities: ["url_parser"], url_patterns: ["("]}`},
		{name: "patterns without parser", src: `#Plugin: {id: "x", name: "X", capabilities: ["provider"], url_patterns: ["^a"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCUEParser().Parse("plugin.cue", []byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestCUEParser_ParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFileName)
	require.NoError(t, os.WriteFile(path, []byte(providerManifest), 0644))

	m, err := NewCUEParser().ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http_provider", m.ID)

	_, err = NewCUEParser().ParseFile(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}
