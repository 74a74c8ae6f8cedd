package pluginmodule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/redseat/internal/metrics"
	plugins "github.com/mantonx/redseat/sdk"
)

// Invoker invokes capability-gated functions on plugins
type Invoker interface {
	Invoke(ctx context.Context, plugin PluginWithCredential, function string, capability Capability, argument interface{}) (json.RawMessage, error)
}

// Dispatcher is the single path from the host to a loaded plugin
type Dispatcher struct {
	registry    *Registry
	callTimeout time.Duration
	logger      hclog.Logger
}

var _ Invoker = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over the registry
func NewDispatcher(registry *Registry, callTimeout time.Duration, logger hclog.Logger) *Dispatcher {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Dispatcher{
		registry:    registry,
		callTimeout: callTimeout,
		logger:      logger.Named("plugin-dispatcher"),
	}
}

// Invoke calls function on the module loaded from plugin.Plugin.Path.
//
// The loaded manifest must declare capability; otherwise the call fails with
// *UnsupportedCallError without reaching the plugin. The argument is sent as
// the params of the call envelope together with the plugin settings and, when
// present, its credential. Only one call runs against a module at a time.
// A failure the plugin reports comes back as *PluginError, anything else as
// *TransportError. Nothing is retried.
func (d *Dispatcher) Invoke(ctx context.Context, plugin PluginWithCredential, function string, capability Capability, argument interface{}) (json.RawMessage, error) {
	pluginID := plugin.Plugin.ID

	module, ok := d.registry.Lookup(plugin.Plugin.Path)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrPluginNotFound, pluginID, plugin.Plugin.Path)
	}

	if !module.Manifest.CapabilitySet().Has(capability) {
		metrics.PluginCalls.WithLabelValues(pluginID, function, resultUnsupported).Inc()
		return nil, &UnsupportedCallError{PluginID: pluginID, Function: function, Capability: capability}
	}

	payload, err := encodeInput(argument, plugin)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s argument: %w", function, err)
	}

	start := time.Now()
	module.mu.Lock()
	metrics.PluginLockWait.WithLabelValues(pluginID).Observe(time.Since(start).Seconds())
	out, err := d.call(ctx, module, function, payload)
	module.mu.Unlock()
	metrics.PluginCallDuration.WithLabelValues(pluginID, function).Observe(time.Since(start).Seconds())

	if err != nil {
		mapped := mapCallError(pluginID, function, err)
		metrics.PluginCalls.WithLabelValues(pluginID, function, resultLabel(mapped)).Inc()
		if !IsAbsent(mapped) {
			d.logger.Warn("plugin call failed", "plugin_id", pluginID, "function", function, "error", mapped)
		}
		return nil, mapped
	}

	metrics.PluginCalls.WithLabelValues(pluginID, function, resultOK).Inc()
	return out, nil
}

func (d *Dispatcher) call(ctx context.Context, module *Module, function string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	return module.caller.Call(ctx, function, payload)
}

func encodeInput(argument interface{}, plugin PluginWithCredential) ([]byte, error) {
	in := plugins.Input{
		Credential: plugin.Credential,
		Settings:   plugin.Plugin.Settings,
	}
	if argument != nil {
		params, err := json.Marshal(argument)
		if err != nil {
			return nil, err
		}
		in.Params = params
	}
	return json.Marshal(in)
}

func mapCallError(pluginID, function string, err error) error {
	var pe *plugins.Error
	if errors.As(err, &pe) {
		return &PluginError{PluginID: pluginID, Function: function, Code: pe.Code, Message: pe.Message}
	}
	return &TransportError{PluginID: pluginID, Function: function, Err: err}
}

func resultLabel(err error) string {
	var pe *PluginError
	switch {
	case IsAbsent(err):
		return resultAbsent
	case errors.As(err, &pe):
		return resultPluginError
	default:
		return resultTransport
	}
}

// Call invokes function and decodes its result into T. A plugin answering
// 404 yields found == false with a nil error; every other failure is returned.
func Call[T any](ctx context.Context, inv Invoker, plugin PluginWithCredential, function string, capability Capability, argument interface{}) (T, bool, error) {
	var result T

	raw, err := inv.Invoke(ctx, plugin, function, capability, argument)
	if err != nil {
		if IsAbsent(err) {
			return result, false, nil
		}
		return result, false, err
	}

	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &result); err != nil {
			return result, true, &PluginError{
				PluginID: plugin.Plugin.ID,
				Function: function,
				Code:     plugins.CodeInternal,
				Message:  fmt.Sprintf("malformed result: %v", err),
			}
		}
	}
	return result, true, nil
}
