package pluginmodule

import (
	"errors"
	"fmt"
)

// ErrPluginNotFound is returned when no loaded module matches the plugin path
var ErrPluginNotFound = errors.New("plugin not found")

// UnsupportedCallError is returned before any call when the module lacks the capability
type UnsupportedCallError struct {
	PluginID   string
	Function   string
	Capability Capability
}

func (e *UnsupportedCallError) Error() string {
	return fmt.Sprintf("plugin %s does not support %s (requires %s)", e.PluginID, e.Function, e.Capability)
}

// PluginError is a failure the plugin itself reported
type PluginError struct {
	PluginID string
	Function string
	Code     int
	Message  string
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s %s failed with code %d: %s", e.PluginID, e.Function, e.Code, e.Message)
}

// IsNotFound reports whether the plugin answered with the 404 code
func (e *PluginError) IsNotFound() bool {
	return e.Code == 404
}

// TransportError is a failure to reach the plugin at all
type TransportError struct {
	PluginID string
	Function string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("plugin %s %s call failed: %v", e.PluginID, e.Function, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsAbsent reports whether err is a plugin 404
func IsAbsent(err error) bool {
	var pe *PluginError
	return errors.As(err, &pe) && pe.IsNotFound()
}
