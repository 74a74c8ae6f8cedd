package sourcemodule

import (
	"context"
	"fmt"
	"io"

	"github.com/mantonx/redseat/internal/models"
	"github.com/mantonx/redseat/internal/modules/pluginmodule"
	plugins "github.com/mantonx/redseat/sdk"
)

// ProviderFileParams is the argument of provider_get_file and provider_remove
type ProviderFileParams struct {
	Path  string `json:"path"`
	Range string `json:"range,omitempty"`
}

// PluginSource delegates reads to a Provider plugin.
//
// Plugin-backed libraries are read-mostly: Write returns the name without
// storing anything and FillMetadata leaves the descriptor untouched.
type PluginSource struct {
	plugin  pluginmodule.PluginWithCredential
	invoker pluginmodule.Invoker
}

var _ Source = (*PluginSource)(nil)

// NewPluginSource creates a source for one provider plugin
func NewPluginSource(plugin pluginmodule.PluginWithCredential, invoker pluginmodule.Invoker) *PluginSource {
	return &PluginSource{plugin: plugin, invoker: invoker}
}

// Plugin returns the provider behind the source
func (s *PluginSource) Plugin() pluginmodule.PluginWithCredential {
	return s.plugin
}

func (s *PluginSource) getFile(ctx context.Context, key string, rng *models.ByteRange) (*models.RsRequest, bool, error) {
	params := ProviderFileParams{Path: key}
	if rng != nil {
		params.Range = rng.Header()
	}
	req, found, err := pluginmodule.Call[models.RsRequest](ctx, s.invoker, s.plugin, plugins.FuncProviderGetFile, pluginmodule.CapabilityProvider, params)
	if err != nil || !found {
		return nil, found, err
	}
	if req.PluginID == nil {
		req.PluginID = models.StringPtr(s.plugin.Plugin.ID)
	}
	return &req, true, nil
}

func (s *PluginSource) Exists(ctx context.Context, key string) (bool, error) {
	_, found, err := s.getFile(ctx, key, nil)
	return found, err
}

func (s *PluginSource) Remove(ctx context.Context, key string) error {
	_, found, err := pluginmodule.Call[struct{}](ctx, s.invoker, s.plugin, plugins.FuncProviderRemove, pluginmodule.CapabilityProvider, ProviderFileParams{Path: key})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

func (s *PluginSource) LocalPath(string) (string, bool) {
	return "", false
}

func (s *PluginSource) FillMetadata(context.Context, string, *models.FileInfo) error {
	return nil
}

// Read asks the provider for the file and hands back its request for the caller to fetch
func (s *PluginSource) Read(ctx context.Context, key string, rng *models.ByteRange) (*models.SourceRead, error) {
	req, found, err := s.getFile(ctx, key, rng)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return &models.SourceRead{Request: req}, nil
}

func (s *PluginSource) Write(_ context.Context, name string, _ io.Reader) (string, error) {
	return name, nil
}
