package pluginmodule

import (
	"time"
)

// Default Configuration Values
const (
	DefaultPluginDir    = "./plugins"
	DefaultCallTimeout  = 60 * time.Second
	DefaultStartTimeout = 30 * time.Second
	ManifestFileName    = "plugin.cue"
	DefaultFilePerm     = 0755
)

// Environment Variable Names passed to plugin processes
const (
	EnvPluginID = "REDSEAT_PLUGIN_ID"
	EnvBasePath = "REDSEAT_PLUGIN_BASE_PATH"
	EnvLogLevel = "REDSEAT_PLUGIN_LOG_LEVEL"
)

// Call outcomes recorded in metrics
const (
	resultOK          = "ok"
	resultAbsent      = "absent"
	resultPluginError = "plugin_error"
	resultTransport   = "transport_error"
	resultUnsupported = "unsupported"
)

// ProcessCheckInterval is how often loaded plugin processes are checked for exit
const ProcessCheckInterval = 5 * time.Second
