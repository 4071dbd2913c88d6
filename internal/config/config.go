// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Proxy() ProxyConfig
	Store() StoreConfig
	Network() NetworkConfig
	Tools() ToolsConfig
	Session() SessionConfig

	// Browser Setters
	SetBrowserHeadless(bool)

	// Proxy Setters
	SetProxyEnabled(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	ProxyCfg   ProxyConfig   `mapstructure:"proxy" yaml:"proxy"`
	StoreCfg   StoreConfig   `mapstructure:"store" yaml:"store"`
	NetworkCfg NetworkConfig `mapstructure:"network" yaml:"network"`
	ToolsCfg   ToolsConfig   `mapstructure:"tools" yaml:"tools"`
	SessionCfg SessionConfig `mapstructure:"session" yaml:"session"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Proxy() ProxyConfig     { return c.ProxyCfg }
func (c *Config) Store() StoreConfig     { return c.StoreCfg }
func (c *Config) Network() NetworkConfig { return c.NetworkCfg }
func (c *Config) Tools() ToolsConfig     { return c.ToolsCfg }
func (c *Config) Session() SessionConfig { return c.SessionCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetProxyEnabled(b bool)    { c.ProxyCfg.Enabled = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	FileLevel   string      `mapstructure:"file_level" yaml:"file_level"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the shared browser process.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	RouteThroughProxy bool          `mapstructure:"route_through_proxy" yaml:"route_through_proxy"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	Locale            string        `mapstructure:"locale" yaml:"locale"`
	Timezone          string        `mapstructure:"timezone" yaml:"timezone"`
}

// ProxyConfig defines the local interception proxy.
type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	MITM    bool   `mapstructure:"mitm" yaml:"mitm"`
	CACert  string `mapstructure:"ca_cert" yaml:"ca_cert"`
	CAKey   string `mapstructure:"ca_key" yaml:"ca_key"`
}

// StoreConfig selects and configures the credential store backend.
type StoreConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Path        string `mapstructure:"path" yaml:"path"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"-"`
}

// NetworkConfig tunes the HTTP clients handed to site adapters.
type NetworkConfig struct {
	Timeout           time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int               `mapstructure:"burst" yaml:"burst"`
	UserAgent         string            `mapstructure:"user_agent" yaml:"user_agent"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
	IgnoreTLSErrors   bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// ToolsConfig locates the external downloaders.
type ToolsConfig struct {
	YTDLP          string `mapstructure:"yt_dlp" yaml:"yt_dlp"`
	Aria2c         string `mapstructure:"aria2c" yaml:"aria2c"`
	FFmpeg         string `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	// Pandoc renders exam sheets to PDF. Empty keeps the Markdown only.
	Pandoc         string `mapstructure:"pandoc" yaml:"pandoc"`
	PandocMetadata string `mapstructure:"pandoc_metadata" yaml:"pandoc_metadata"`
	Concurrency    int    `mapstructure:"concurrency" yaml:"concurrency"`
}

// SessionConfig tunes the interactive session loop.
type SessionConfig struct {
	// AdapterTimeout bounds every adapter call. Zero disables the bound.
	AdapterTimeout time.Duration `mapstructure:"adapter_timeout" yaml:"adapter_timeout"`
	// ShutdownTimeout bounds closing the browser and stopping the proxy on exit.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "warn")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scribe")
	v.SetDefault("logger.log_file", "scribe.log")
	v.SetDefault("logger.file_level", "info")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.route_through_proxy", false)
	v.SetDefault("browser.locale", "vi-VN")
	v.SetDefault("browser.timezone", "Asia/Ho_Chi_Minh")

	// -- Proxy --
	v.SetDefault("proxy.enabled", true)
	v.SetDefault("proxy.address", "127.0.0.1:30000")
	v.SetDefault("proxy.mitm", true)

	// -- Store --
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "~/.config/scribe/config.json")

	// -- Network --
	v.SetDefault("network.timeout", "60s")
	v.SetDefault("network.requests_per_second", 10.0)
	v.SetDefault("network.burst", 5)
	v.SetDefault("network.ignore_tls_errors", false)

	// -- Tools --
	v.SetDefault("tools.yt_dlp", "yt-dlp")
	v.SetDefault("tools.aria2c", "aria2c")
	v.SetDefault("tools.ffmpeg", "ffmpeg")
	v.SetDefault("tools.pandoc", "pandoc")
	v.SetDefault("tools.concurrency", 4)

	// -- Session --
	v.SetDefault("session.adapter_timeout", "0s")
	v.SetDefault("session.shutdown_timeout", "15s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("store.postgres_url", "SCRIBE_POSTGRES_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.StoreCfg.Backend {
	case "file":
		if c.StoreCfg.Path == "" {
			return fmt.Errorf("store.path is required for the file backend")
		}
	case "postgres":
		if c.StoreCfg.PostgresURL == "" {
			return fmt.Errorf("store.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of file, postgres; got %q", c.StoreCfg.Backend)
	}
	if c.ProxyCfg.Enabled && c.ProxyCfg.Address == "" {
		return fmt.Errorf("proxy.address is required when the proxy is enabled")
	}
	if (c.ProxyCfg.CACert == "") != (c.ProxyCfg.CAKey == "") {
		return fmt.Errorf("proxy.ca_cert and proxy.ca_key must be set together")
	}
	if c.BrowserCfg.RouteThroughProxy && !c.ProxyCfg.Enabled {
		return fmt.Errorf("browser.route_through_proxy requires proxy.enabled")
	}
	if c.BrowserCfg.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	if c.NetworkCfg.Timeout <= 0 {
		return fmt.Errorf("network.timeout must be a positive duration")
	}
	if c.NetworkCfg.RequestsPerSecond < 0 {
		return fmt.Errorf("network.requests_per_second must not be negative")
	}
	if c.ToolsCfg.Concurrency <= 0 {
		return fmt.Errorf("tools.concurrency must be a positive integer")
	}
	if c.SessionCfg.AdapterTimeout < 0 {
		return fmt.Errorf("session.adapter_timeout must not be negative")
	}
	if c.SessionCfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("session.shutdown_timeout must be a positive duration")
	}
	return nil
}
