package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Plugins  PluginConfig   `yaml:"plugins" json:"plugins"`
	Requests RequestConfig  `yaml:"requests" json:"requests"`
	Outbound OutboundConfig `yaml:"outbound" json:"outbound"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host" env:"REDSEAT_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" json:"port" env:"REDSEAT_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"REDSEAT_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"REDSEAT_WRITE_TIMEOUT" default:"0s"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"REDSEAT_DB_TYPE" default:"sqlite"`
	URL             string        `yaml:"url" json:"url" env:"REDSEAT_DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"REDSEAT_DB_HOST" default:"localhost"`
	Port            int           `yaml:"port" json:"port" env:"REDSEAT_DB_PORT" default:"5432"`
	Username        string        `yaml:"username" json:"username" env:"REDSEAT_DB_USER" default:"redseat"`
	Password        string        `yaml:"password" json:"password" env:"REDSEAT_DB_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"REDSEAT_DB_NAME" default:"redseat"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"REDSEAT_DATA_DIR" default:"./data"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"REDSEAT_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"REDSEAT_DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"REDSEAT_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"REDSEAT_DB_CONN_MAX_LIFETIME" default:"1h"`
}

// PluginConfig holds plugin host configuration
type PluginConfig struct {
	PluginDir       string        `yaml:"plugin_dir" json:"plugin_dir" env:"REDSEAT_PLUGIN_DIR" default:"./plugins"`
	CallTimeout     time.Duration `yaml:"call_timeout" json:"call_timeout" env:"REDSEAT_PLUGIN_CALL_TIMEOUT" default:"60s"`
	StartTimeout    time.Duration `yaml:"start_timeout" json:"start_timeout" env:"REDSEAT_PLUGIN_START_TIMEOUT" default:"30s"`
	EnableHotReload bool          `yaml:"enable_hot_reload" json:"enable_hot_reload" env:"REDSEAT_PLUGIN_HOT_RELOAD" default:"true"`
	DebounceDelay   time.Duration `yaml:"debounce_delay" json:"debounce_delay" env:"REDSEAT_PLUGIN_DEBOUNCE" default:"500ms"`
}

// RequestConfig controls request processing reconciliation
type RequestConfig struct {
	ReconcileInterval    time.Duration `yaml:"reconcile_interval" json:"reconcile_interval" env:"REDSEAT_RECONCILE_INTERVAL" default:"30s"`
	ReconcileConcurrency int           `yaml:"reconcile_concurrency" json:"reconcile_concurrency" env:"REDSEAT_RECONCILE_CONCURRENCY" default:"4"`
	MaxFailures          int           `yaml:"max_failures" json:"max_failures" env:"REDSEAT_RECONCILE_MAX_FAILURES" default:"5"`
	BackoffBase          time.Duration `yaml:"backoff_base" json:"backoff_base" env:"REDSEAT_RECONCILE_BACKOFF_BASE" default:"30s"`
	BackoffMax           time.Duration `yaml:"backoff_max" json:"backoff_max" env:"REDSEAT_RECONCILE_BACKOFF_MAX" default:"10m"`
	ProgressBufferSize   int           `yaml:"progress_buffer_size" json:"progress_buffer_size" env:"REDSEAT_PROGRESS_BUFFER" default:"256"`
}

// OutboundConfig is the policy shared by every outbound HTTP call
type OutboundConfig struct {
	Timeout            time.Duration `yaml:"timeout" json:"timeout" env:"REDSEAT_OUTBOUND_TIMEOUT" default:"30s"`
	Retries            int           `yaml:"retries" json:"retries" env:"REDSEAT_OUTBOUND_RETRIES" default:"2"`
	RetryDelay         time.Duration `yaml:"retry_delay" json:"retry_delay" env:"REDSEAT_OUTBOUND_RETRY_DELAY" default:"500ms"`
	RatePerSecond      float64       `yaml:"rate_per_second" json:"rate_per_second" env:"REDSEAT_OUTBOUND_RATE" default:"20"`
	Burst              int           `yaml:"burst" json:"burst" env:"REDSEAT_OUTBOUND_BURST" default:"40"`
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures" json:"breaker_max_failures" env:"REDSEAT_OUTBOUND_BREAKER_FAILURES" default:"5"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout" json:"breaker_timeout" env:"REDSEAT_OUTBOUND_BREAKER_TIMEOUT" default:"30s"`
	UserAgent          string        `yaml:"user_agent" json:"user_agent" env:"REDSEAT_OUTBOUND_USER_AGENT" default:"redseat/1.0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"REDSEAT_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"REDSEAT_LOG_FORMAT" default:"text"`
}

// ConfigManager manages application configuration
type ConfigManager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config:   DefaultConfig(),
		watchers: make([]ConfigWatcher, 0),
	}
}

// DefaultConfig returns a configuration populated from the default tags
func DefaultConfig() *Config {
	cfg := &Config{}
	// default tags are static and covered by tests
	_ = applyDefaults(reflect.ValueOf(cfg).Elem())
	return cfg
}

// LoadConfig loads defaults, then the file at configPath, then environment overrides
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig := *cm.config
	cm.configPath = configPath

	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := validateConfig(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	applyDerivedConfig(newConfig)

	cm.config = newConfig

	for _, watcher := range cm.watchers {
		go watcher(&oldConfig, newConfig)
	}

	return nil
}

// GetConfig returns a copy of the current configuration
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	cfg := *cm.config
	return &cfg
}

// AddWatcher registers a callback invoked after every successful load
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// applyDefaults fills zero-valued fields from their default tag.
func applyDefaults(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}
		def := fieldType.Tag.Get("default")
		if def == "" || !field.IsZero() {
			continue
		}
		if err := setFieldValue(field, def); err != nil {
			return fmt.Errorf("failed to set default for %s: %w", fieldType.Name, err)
		}
	}
	return nil
}

// loadStructFromEnv overrides fields whose env variable is set.
func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		uintVal, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(uintVal)
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if config.Requests.ReconcileConcurrency < 1 {
		return fmt.Errorf("invalid reconcile concurrency: %d", config.Requests.ReconcileConcurrency)
	}

	if config.Requests.ReconcileInterval <= 0 {
		return fmt.Errorf("invalid reconcile interval: %s", config.Requests.ReconcileInterval)
	}

	if config.Outbound.RatePerSecond <= 0 {
		return fmt.Errorf("invalid outbound rate: %v", config.Outbound.RatePerSecond)
	}

	switch config.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", config.Logging.Format)
	}

	return nil
}

func applyDerivedConfig(config *Config) {
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "redseat.db")
	}
	if config.Requests.BackoffMax < config.Requests.BackoffBase {
		config.Requests.BackoffMax = config.Requests.BackoffBase
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}
