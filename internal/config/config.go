package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. RENDERER_DEBUG
const EnvPrefix = "RENDERER"

type Config struct {
	Debug     bool            `mapstructure:"debug"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type BrowserConfig struct {
	// Mode selects how Chrome is obtained: "local" or "docker"
	Mode          string        `mapstructure:"mode"`
	Bin           string        `mapstructure:"bin"`
	Image         string        `mapstructure:"image"`
	ChartJSURL    string        `mapstructure:"chartjs_url"`
	InitTimeout   time.Duration `mapstructure:"init_timeout"`
	RenderTimeout time.Duration `mapstructure:"render_timeout"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	KeyHeader     string        `mapstructure:"key_header"`
	MaxSessions   int           `mapstructure:"max_sessions"`
	Warmup        bool          `mapstructure:"warmup"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

const (
	BrowserModeLocal  = "local"
	BrowserModeDocker = "docker"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("browser.mode", BrowserModeLocal)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.image", "browserless/chrome:latest")
	v.SetDefault("browser.chartjs_url", "https://cdn.jsdelivr.net/npm/chart.js@4.4.1/dist/chart.umd.min.js")
	v.SetDefault("browser.init_timeout", 15*time.Second)
	v.SetDefault("browser.render_timeout", 5*time.Second)

	v.SetDefault("session.idle_timeout", 5*time.Minute)
	v.SetDefault("session.check_interval", 60*time.Second)
	v.SetDefault("session.key_header", "")
	v.SetDefault("session.max_sessions", 32)
	v.SetDefault("session.warmup", true)

	v.SetDefault("rate_limit.requests_per_minute", 600)
	v.SetDefault("rate_limit.burst", 50)
}

// Load reads configuration from the environment. Every key has a default, so
// an empty environment yields a working local setup.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch c.Browser.Mode {
	case BrowserModeLocal, BrowserModeDocker:
	default:
		return fmt.Errorf("browser.mode must be %q or %q, got %q", BrowserModeLocal, BrowserModeDocker, c.Browser.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Browser.RenderTimeout <= 0 {
		return fmt.Errorf("browser.render_timeout must be positive")
	}
	if c.Browser.InitTimeout <= 0 {
		return fmt.Errorf("browser.init_timeout must be positive")
	}
	if c.Session.IdleTimeout <= 0 || c.Session.CheckInterval <= 0 {
		return fmt.Errorf("session.idle_timeout and session.check_interval must be positive")
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("session.max_sessions must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	return nil
}
