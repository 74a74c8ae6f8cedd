package pluginmodule

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	plugins "github.com/mantonx/redseat/sdk"
)

// Launcher starts plugin binaries over the go-plugin gRPC transport
type Launcher struct {
	startTimeout time.Duration
	logLevel     string
	logger       hclog.Logger
}

// NewLauncher creates a launcher
func NewLauncher(startTimeout time.Duration, logLevel string, logger hclog.Logger) *Launcher {
	if startTimeout <= 0 {
		startTimeout = DefaultStartTimeout
	}
	return &Launcher{
		startTimeout: startTimeout,
		logLevel:     logLevel,
		logger:       logger.Named("plugin-launcher"),
	}
}

// Start runs binaryPath and dispenses its Call client. The returned go-plugin
// client owns the process and must be killed by the caller.
func (l *Launcher) Start(ctx context.Context, manifest *Manifest, binaryPath string) (Caller, *goplugin.Client, error) {
	l.logger.Info("starting plugin via gRPC", "plugin", manifest.ID, "binary", binaryPath)

	cmd := exec.Command(binaryPath)
	cmd.Dir = filepath.Dir(binaryPath)
	cmd.Env = append(os.Environ(),
		EnvPluginID+"="+manifest.ID,
		EnvBasePath+"="+filepath.Dir(binaryPath),
		EnvLogLevel+"="+l.logLevel,
	)

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  plugins.Handshake,
		Plugins:          plugins.PluginSet(nil),
		Cmd:              cmd,
		Logger:           l.logger.Named(manifest.ID),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolGRPC},
		StartTimeout:     l.startTimeout,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(plugins.PluginName)
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}

	caller, ok := raw.(*plugins.Client)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("plugin does not implement the call interface (got %T)", raw)
	}

	if ctx.Err() != nil {
		client.Kill()
		return nil, nil, ctx.Err()
	}
	return caller, client, nil
}

// WatchProcesses unregisters modules whose process exited, until ctx is done
func (r *Registry) WatchProcesses(ctx context.Context) {
	ticker := time.NewTicker(ProcessCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, m := range r.List() {
				if m.client == nil || !m.client.Exited() {
					continue
				}
				r.logger.Warn("plugin process stopped", "plugin", m.Manifest.ID, "path", m.Path)
				r.Unregister(m.Path)
			}
		}
	}
}
