package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Options{Level: "info"}) })

	Named("tracker").Info("job created", "job_id", "abc")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job created", entry["@message"])
	assert.Equal(t, "redseat.tracker", entry["@module"])
	assert.Equal(t, "abc", entry["job_id"])
}

func TestInit_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "warn", Output: &buf})
	t.Cleanup(func() { Init(Options{Level: "info"}) })

	Debug("hidden")
	Info("hidden too")
	assert.Empty(t, buf.String())

	Warn("shown", "k", 1)
	assert.Contains(t, buf.String(), "shown")
}

func TestInit_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := Init(Options{Level: "loud", Output: &buf})
	t.Cleanup(func() { Init(Options{Level: "info"}) })

	assert.True(t, l.IsInfo())
	assert.False(t, l.IsDebug())
}
