package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultPort            = "8080"
	defaultSettingsFile    = "appsettings.yaml"
	defaultApplicationName = "MinimalApi"
	defaultMinimumLevel    = "info"

	// DevelopmentEnvironment enables the API documentation endpoints.
	DevelopmentEnvironment = "Development"
)

// Settings keys understood by the service.
const (
	KeyServerPort                  = "Server:Port"
	KeyServerReadHeaderTimeout     = "Server:ReadHeaderTimeout"
	KeyServerWriteTimeout          = "Server:WriteTimeout"
	KeyServerIdleTimeout           = "Server:IdleTimeout"
	KeyServerShutdownGracePeriod   = "Server:ShutdownGracePeriod"
	KeyServerEnableRequestLogging  = "Server:EnableRequestLogging"
	KeyApplicationName             = "Application:Name"
	KeyElasticURI                  = "ElasticConfiguration:Uri"
	KeyElasticAutoRegisterTemplate = "ElasticConfiguration:AutoRegisterTemplate"
	KeyElasticBatchSize            = "ElasticConfiguration:BatchSize"
	KeyElasticQueueSize            = "ElasticConfiguration:QueueSize"
	KeyElasticFlushInterval        = "ElasticConfiguration:FlushInterval"
	KeyElasticTimeout              = "ElasticConfiguration:Timeout"
	KeyLoggingMinimumLevel         = "Logging:MinimumLevel:Default"
	KeyLoggingLevelOverrides       = "Logging:MinimumLevel:Override"
)

var (
	// ErrMissingElasticURI is returned when ElasticConfiguration:Uri is not configured.
	ErrMissingElasticURI = errors.New("ElasticConfiguration:Uri is required")
	// ErrInvalidElasticURI is returned when ElasticConfiguration:Uri is not an absolute http(s) URI.
	ErrInvalidElasticURI = errors.New("ElasticConfiguration:Uri must be an absolute http(s) URI")
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > overlay settings > base settings > Environment variables > Defaults
type Config struct {
	Port                 string
	Environment          string
	ApplicationName      string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	Elastic              ElasticConfig
	Logging              LoggingConfig

	// Settings is the merged key/value view the typed fields were read from.
	Settings Settings
}

// ElasticConfig configures the Elasticsearch log sink.
type ElasticConfig struct {
	URI                  string
	AutoRegisterTemplate bool
	BatchSize            int
	QueueSize            int
	FlushInterval        time.Duration
	Timeout              time.Duration
}

// LoggingConfig holds minimum level settings. Overrides are keyed by logger name.
type LoggingConfig struct {
	MinimumLevel string
	Overrides    map[string]string
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile  string
	Port        *string
	Environment *string
}

// IsDevelopment reports whether the service runs in the development environment.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), DevelopmentEnvironment)
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > overlay settings > base settings > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	envCfg, err := parseEnv()
	if err != nil {
		return Config{}, err
	}
	applyEnvConfig(&cfg, envCfg)

	// The environment name selects the overlay, so its override goes first.
	if overrides != nil && overrides.Environment != nil && *overrides.Environment != "" {
		cfg.Environment = *overrides.Environment
	}

	settingsFile := defaultSettingsFile
	if envCfg.SettingsFile != "" {
		settingsFile = envCfg.SettingsFile
	}
	if overrides != nil && overrides.ConfigFile != "" {
		settingsFile = overrides.ConfigFile
	}

	settings, err := LoadSettings(settingsFile, cfg.Environment)
	if err != nil {
		return Config{}, err
	}
	if err := applySettings(&cfg, settings); err != nil {
		return Config{}, fmt.Errorf("apply settings: %w", err)
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		ApplicationName:      defaultApplicationName,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		Elastic: ElasticConfig{
			AutoRegisterTemplate: true,
			BatchSize:            50,
			QueueSize:            1000,
			FlushInterval:        2 * time.Second,
			Timeout:              5 * time.Second,
		},
		Logging: LoggingConfig{
			MinimumLevel: defaultMinimumLevel,
			Overrides:    map[string]string{},
		},
		Settings: Settings{},
	}
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config, envCfg envConfig) {
	cfg.Environment = strings.TrimSpace(envCfg.Environment)

	if port := strings.TrimSpace(envCfg.Port); port != "" {
		cfg.Port = port
	}
}

// applySettings copies recognised keys from the merged settings into cfg.
func applySettings(cfg *Config, s Settings) error {
	var err error

	cfg.Settings = s
	cfg.Port = s.String(KeyServerPort, cfg.Port)
	cfg.ApplicationName = s.String(KeyApplicationName, cfg.ApplicationName)
	cfg.Elastic.URI = s.String(KeyElasticURI, "")
	cfg.Logging.MinimumLevel = s.String(KeyLoggingMinimumLevel, cfg.Logging.MinimumLevel)

	overrides := s.Section(KeyLoggingLevelOverrides)
	for name, level := range overrides {
		cfg.Logging.Overrides[name] = strings.TrimSpace(level)
	}

	if cfg.ShutdownGracePeriod, err = s.Duration(KeyServerShutdownGracePeriod, cfg.ShutdownGracePeriod); err != nil {
		return err
	}
	if cfg.ReadHeaderTimeout, err = s.Duration(KeyServerReadHeaderTimeout, cfg.ReadHeaderTimeout); err != nil {
		return err
	}
	if cfg.WriteTimeout, err = s.Duration(KeyServerWriteTimeout, cfg.WriteTimeout); err != nil {
		return err
	}
	if cfg.IdleTimeout, err = s.Duration(KeyServerIdleTimeout, cfg.IdleTimeout); err != nil {
		return err
	}
	if cfg.EnableRequestLogging, err = s.Bool(KeyServerEnableRequestLogging, cfg.EnableRequestLogging); err != nil {
		return err
	}
	if cfg.Elastic.AutoRegisterTemplate, err = s.Bool(KeyElasticAutoRegisterTemplate, cfg.Elastic.AutoRegisterTemplate); err != nil {
		return err
	}
	if cfg.Elastic.BatchSize, err = s.Int(KeyElasticBatchSize, cfg.Elastic.BatchSize); err != nil {
		return err
	}
	if cfg.Elastic.QueueSize, err = s.Int(KeyElasticQueueSize, cfg.Elastic.QueueSize); err != nil {
		return err
	}
	if cfg.Elastic.FlushInterval, err = s.Duration(KeyElasticFlushInterval, cfg.Elastic.FlushInterval); err != nil {
		return err
	}
	if cfg.Elastic.Timeout, err = s.Duration(KeyElasticTimeout, cfg.Elastic.Timeout); err != nil {
		return err
	}

	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if err := ValidateElasticURI(cfg.Elastic.URI); err != nil {
		return err
	}
	if cfg.Elastic.BatchSize <= 0 {
		return fmt.Errorf("%s must be > 0", KeyElasticBatchSize)
	}
	if cfg.Elastic.QueueSize <= 0 {
		return fmt.Errorf("%s must be > 0", KeyElasticQueueSize)
	}
	if cfg.Elastic.FlushInterval <= 0 {
		return fmt.Errorf("%s must be > 0", KeyElasticFlushInterval)
	}
	if strings.TrimSpace(cfg.ApplicationName) == "" {
		return fmt.Errorf("%s cannot be empty", KeyApplicationName)
	}
	return nil
}

// ValidateElasticURI checks that raw is an absolute http or https URI.
func ValidateElasticURI(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrMissingElasticURI
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidElasticURI, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidElasticURI, raw)
	}
	return nil
}
