package pluginmodule

import (
	"context"
	"encoding/json"

	plugins "github.com/mantonx/redseat/sdk"
)

// Credential is the resolved secret embedded in authorized calls
type Credential = plugins.Credential

// PluginDescriptor is the stored identity of an installed plugin.
// Path matches the descriptor to a loaded module.
type PluginDescriptor struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Path         string          `json:"path"`
	Capabilities []Capability    `json:"capabilities"`
	Settings     json.RawMessage `json:"settings,omitempty"`
	CredentialID *string         `json:"credential_id,omitempty"`
}

// HasCapability reports whether the descriptor declares c
func (d PluginDescriptor) HasCapability(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// PluginWithCredential pairs a descriptor with its credential for one call.
// It is built per call and never cached.
type PluginWithCredential struct {
	Plugin     PluginDescriptor `json:"plugin"`
	Credential *Credential      `json:"credential,omitempty"`
}

// PluginQuery filters stored plugins. An empty LibraryID means all plugins.
type PluginQuery struct {
	LibraryID  string
	Capability Capability
}

// PluginStore owns plugin descriptors and credentials
type PluginStore interface {
	ListPlugins(ctx context.Context, q PluginQuery) ([]PluginWithCredential, error)
	GetPlugin(ctx context.Context, pluginID string) (*PluginWithCredential, error)
	SaveCredential(ctx context.Context, pluginID string, cred *Credential) error
}

// LoadedPluginInfo describes a loaded module for listings
type LoadedPluginInfo struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Version      string        `json:"version"`
	Path         string        `json:"path"`
	Capabilities []string      `json:"capabilities"`
	External     bool          `json:"external"`
	Process      *ProcessStats `json:"process,omitempty"`
}
