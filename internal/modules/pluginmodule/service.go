package pluginmodule

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	plugins "github.com/mantonx/redseat/sdk"
)

// Service combines plugin storage, the loaded registry and the dispatcher
// for the other modules and the HTTP layer
type Service struct {
	Store      PluginStore
	Registry   *Registry
	Dispatcher Invoker
	logger     hclog.Logger
}

// NewService wires the plugin module
func NewService(store PluginStore, registry *Registry, dispatcher Invoker, logger hclog.Logger) *Service {
	return &Service{
		Store:      store,
		Registry:   registry,
		Dispatcher: dispatcher,
		logger:     logger.Named("plugin-service"),
	}
}

// PluginsFor lists plugins with capability, scoped to a library when libraryID is set
func (s *Service) PluginsFor(ctx context.Context, libraryID string, capability Capability) ([]PluginWithCredential, error) {
	return s.Store.ListPlugins(ctx, PluginQuery{LibraryID: libraryID, Capability: capability})
}

// ExchangeToken trades an OAuth callback payload for a credential through
// the plugin and stores the credential against the plugin
func (s *Service) ExchangeToken(ctx context.Context, pluginID string, params map[string]string) (*Credential, error) {
	plugin, err := s.Store.GetPlugin(ctx, pluginID)
	if err != nil {
		return nil, err
	}

	cred, found, err := Call[Credential](ctx, s.Dispatcher, *plugin, plugins.FuncExchangeToken, CapabilityOAuth, params)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &PluginError{PluginID: pluginID, Function: plugins.FuncExchangeToken, Code: plugins.CodeNotFound, Message: "token exchange not available"}
	}

	if err := s.Store.SaveCredential(ctx, pluginID, &cred); err != nil {
		return nil, fmt.Errorf("failed to store exchanged credential: %w", err)
	}
	s.logger.Info("oauth credential stored", "plugin_id", pluginID, "credential_id", cred.ID)
	return &cred, nil
}
