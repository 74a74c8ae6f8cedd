// Package videoconvertmodule proxies transcode jobs to video_convert plugins.
// Job state lives in the plugin; nothing is persisted here.
package videoconvertmodule

import (
	"errors"

	"github.com/mantonx/redseat/internal/models"
)

var (
	// ErrJobNotFound is returned when the plugin does not know the job
	ErrJobNotFound = errors.New("video conversion job not found")
	// ErrNotAccepted is returned when the plugin declines a submission
	ErrNotAccepted = errors.New("video conversion not accepted by plugin")
	// ErrNoCapabilities is returned when a plugin publishes no capability info
	ErrNoCapabilities = errors.New("plugin publishes no conversion capabilities")
)

// JobStatus is the plugin-reported state of a transcode
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// VideoOverlay burns an image into the output
type VideoOverlay struct {
	Path     string   `json:"path"`
	Position string   `json:"position,omitempty"`
	Margin   *float64 `json:"margin,omitempty"`
}

// VideoText burns a caption into the output
type VideoText struct {
	Text     string   `json:"text"`
	Start    *float64 `json:"start,omitempty"`
	End      *float64 `json:"end,omitempty"`
	Position *string  `json:"position,omitempty"`
	Color    *string  `json:"color,omitempty"`
}

// VideoConvertRequest describes the wanted output
type VideoConvertRequest struct {
	Source    models.RsRequest `json:"source"`
	Format    string           `json:"format" binding:"required"`
	Codec     *string          `json:"codec,omitempty"`
	Crf       *int             `json:"crf,omitempty"`
	Width     *int             `json:"width,omitempty"`
	Height    *int             `json:"height,omitempty"`
	Framerate *int             `json:"framerate,omitempty"`
	Overlay   *VideoOverlay    `json:"overlay,omitempty"`
	Texts     []VideoText      `json:"texts,omitempty"`
}

// VideoConvertJob is what a plugin receives on submission
type VideoConvertJob struct {
	ID      string              `json:"id"`
	Request VideoConvertRequest `json:"request"`
}

// VideoConvertStatus is the plugin's view of a job
type VideoConvertStatus struct {
	ID       string    `json:"id"`
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`
	Eta      *int64    `json:"eta,omitempty"`
	Error    *string   `json:"error,omitempty"`
}

// CancelResponse reports whether the plugin stopped the job
type CancelResponse struct {
	ID        string  `json:"id"`
	Cancelled bool    `json:"cancelled"`
	Message   *string `json:"message,omitempty"`
}

// VideoCapabilities lists what a converter plugin supports
type VideoCapabilities struct {
	Formats  []string `json:"formats,omitempty"`
	Codecs   []string `json:"codecs,omitempty"`
	Hardware []string `json:"hardware,omitempty"`
}

// PluginCapabilities pairs a plugin with what it published
type PluginCapabilities struct {
	PluginID     string            `json:"plugin_id"`
	Name         string            `json:"name"`
	Capabilities VideoCapabilities `json:"capabilities"`
}

// CapabilityFailure records a plugin that could not be queried
type CapabilityFailure struct {
	PluginID string `json:"plugin_id"`
	Error    string `json:"error"`
}

// AggregatedCapabilities is the best-effort union over converter plugins
type AggregatedCapabilities struct {
	Plugins  []PluginCapabilities `json:"plugins"`
	Failures []CapabilityFailure  `json:"failures,omitempty"`
	// Skipped lists plugins that answered without capability info
	Skipped []string `json:"skipped,omitempty"`
	Formats []string `json:"formats"`
	Codecs  []string `json:"codecs"`
}

// JobParams addresses one job in status, cancel, link and clean calls
type JobParams struct {
	JobID string `json:"job_id"`
}
