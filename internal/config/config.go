// Package config provides YAML-based configuration loading for Raceline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Raceline configuration, loaded from raceline.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Notify   NotifyConfig   `yaml:"notify"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects and configures the relational store backing the
// session registry and the notification dead-letter table.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path (or ":memory:")
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// ServerConfig holds admin HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	AdminKey    string   `yaml:"admin_key"`    // empty disables admin auth
	CORSOrigins []string `yaml:"cors_origins"` // admin UI origins; empty disables CORS
}

// WhatsAppConfig controls the session lifecycle controller and the
// whatsmeow runtime adapter.
type WhatsAppConfig struct {
	AuthDir           string        `yaml:"auth_dir"`
	DeviceName        string        `yaml:"device_name"`
	FallbackSessionID string        `yaml:"fallback_session_id"`
	SingleSession     *bool         `yaml:"single_session"`
	RestoreOnStart    bool          `yaml:"restore_on_start"`
	CountryCode       string        `yaml:"country_code"`
	SendGrace         time.Duration `yaml:"send_grace"`
	StartStaleAfter   time.Duration `yaml:"start_stale_after"`
}

// SingleSessionEnabled reports whether the "only one WhatsApp session" product
// rule is in force. It defaults to true when unset.
func (w WhatsAppConfig) SingleSessionEnabled() bool {
	return w.SingleSession == nil || *w.SingleSession
}

// NotifyConfig holds message templates and dead-letter retry settings.
type NotifyConfig struct {
	Templates   map[string]string `yaml:"templates"`
	RetryCron   string            `yaml:"retry_cron"`
	MaxAttempts int               `yaml:"max_attempts"`
	SendTimeout time.Duration     `yaml:"send_timeout"`
}

// AlertsConfig holds optional operator alert webhooks.
type AlertsConfig struct {
	SlackWebhookURL   string `yaml:"slack_webhook_url"`
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console", "json" or "auto"
}

var sessionIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the working directory is loaded first (if present) so
// RACELINE_* overrides can live outside the YAML file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unmarshals YAML bytes into a validated Config. Environment overrides
// are not applied.
func Parse(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &cfg, nil
}

// applyEnv overrides file values with RACELINE_* environment variables.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("RACELINE_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := getenv("RACELINE_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := getenv("RACELINE_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := getenv("RACELINE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := getenv("RACELINE_DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := getenv("RACELINE_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := getenv("RACELINE_DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := getenv("RACELINE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := getenv("RACELINE_ADMIN_KEY"); v != "" {
		c.Server.AdminKey = v
	}
	if v := getenv("RACELINE_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, o)
			}
		}
	}
	if v := getenv("RACELINE_WA_AUTH_DIR"); v != "" {
		c.WhatsApp.AuthDir = v
	}
	if v := getenv("RACELINE_WA_RESTORE_ON_START"); v != "" {
		c.WhatsApp.RestoreOnStart = v == "true" || v == "1"
	}
	if v := getenv("RACELINE_SLACK_WEBHOOK_URL"); v != "" {
		c.Alerts.SlackWebhookURL = v
	}
	if v := getenv("RACELINE_DISCORD_WEBHOOK_URL"); v != "" {
		c.Alerts.DiscordWebhookURL = v
	}
	if v := getenv("RACELINE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "raceline.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.WhatsApp.AuthDir == "" {
		c.WhatsApp.AuthDir = filepath.Join(".raceline", "wa-auth")
	}
	if c.WhatsApp.DeviceName == "" {
		c.WhatsApp.DeviceName = "Raceline"
	}
	if c.WhatsApp.FallbackSessionID == "" {
		c.WhatsApp.FallbackSessionID = "default"
	}
	if c.WhatsApp.CountryCode == "" {
		c.WhatsApp.CountryCode = "62"
	}
	if c.WhatsApp.SendGrace == 0 {
		c.WhatsApp.SendGrace = 2 * time.Second
	}
	if c.WhatsApp.StartStaleAfter == 0 {
		c.WhatsApp.StartStaleAfter = 2 * time.Minute
	}
	if c.Notify.RetryCron == "" {
		c.Notify.RetryCron = "*/15 * * * *"
	}
	if c.Notify.MaxAttempts == 0 {
		c.Notify.MaxAttempts = 5
	}
	if c.Notify.SendTimeout == 0 {
		c.Notify.SendTimeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite":
	case "mysql":
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (use sqlite or mysql)", c.Database.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if !sessionIDPattern.MatchString(c.WhatsApp.FallbackSessionID) {
		errs = append(errs, "whatsapp.fallback_session_id must be lowercase letters, digits or underscore")
	}
	if strings.Trim(c.WhatsApp.CountryCode, "0123456789") != "" {
		errs = append(errs, "whatsapp.country_code must be digits only")
	}
	if c.WhatsApp.SendGrace < 0 {
		errs = append(errs, "whatsapp.send_grace must not be negative")
	}
	if c.Notify.MaxAttempts < 0 {
		errs = append(errs, "notify.max_attempts must not be negative")
	}
	switch c.Log.Format {
	case "console", "json", "auto":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
