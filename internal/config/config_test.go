package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  user: raceline
  password: s3cret
  name: raceline_prod

server:
  port: 9090
  admin_key: letmein
  cors_origins:
    - https://admin.jakartarun.id

whatsapp:
  auth_dir: /var/lib/raceline/wa
  device_name: Jakarta Run
  fallback_session_id: main_fallback
  single_session: false
  restore_on_start: true
  country_code: "62"
  send_grace: 3s
  start_stale_after: 90s

notify:
  retry_cron: "*/5 * * * *"
  max_attempts: 8
  send_timeout: 10s
  templates:
    registration.created: "Halo {{.Name}}"

alerts:
  slack_webhook_url: https://hooks.slack.com/services/T/B/X
  discord_webhook_url: https://discord.com/api/webhooks/1/abc

log:
  level: debug
  format: json
`

const minimalYAML = `
database:
  driver: sqlite
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "mysql")
	}
	if cfg.Database.Host != "10.0.0.5" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "10.0.0.5")
	}
	if cfg.Database.Port != 3307 {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, 3307)
	}
	if cfg.Database.Name != "raceline_prod" {
		t.Errorf("Database.Name = %q, want %q", cfg.Database.Name, "raceline_prod")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}
	if cfg.Server.AdminKey != "letmein" {
		t.Errorf("Server.AdminKey = %q, want %q", cfg.Server.AdminKey, "letmein")
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://admin.jakartarun.id" {
		t.Errorf("Server.CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.WhatsApp.AuthDir != "/var/lib/raceline/wa" {
		t.Errorf("WhatsApp.AuthDir = %q", cfg.WhatsApp.AuthDir)
	}
	if cfg.WhatsApp.FallbackSessionID != "main_fallback" {
		t.Errorf("WhatsApp.FallbackSessionID = %q, want %q", cfg.WhatsApp.FallbackSessionID, "main_fallback")
	}
	if cfg.WhatsApp.SingleSessionEnabled() {
		t.Error("SingleSessionEnabled() = true, want false")
	}
	if !cfg.WhatsApp.RestoreOnStart {
		t.Error("RestoreOnStart = false, want true")
	}
	if cfg.WhatsApp.SendGrace != 3*time.Second {
		t.Errorf("SendGrace = %v, want 3s", cfg.WhatsApp.SendGrace)
	}
	if cfg.WhatsApp.StartStaleAfter != 90*time.Second {
		t.Errorf("StartStaleAfter = %v, want 90s", cfg.WhatsApp.StartStaleAfter)
	}
	if cfg.Notify.RetryCron != "*/5 * * * *" {
		t.Errorf("Notify.RetryCron = %q", cfg.Notify.RetryCron)
	}
	if cfg.Notify.MaxAttempts != 8 {
		t.Errorf("Notify.MaxAttempts = %d, want 8", cfg.Notify.MaxAttempts)
	}
	if got := cfg.Notify.Templates["registration.created"]; got != "Halo {{.Name}}" {
		t.Errorf("template = %q", got)
	}
	if cfg.Alerts.SlackWebhookURL == "" || cfg.Alerts.DiscordWebhookURL == "" {
		t.Error("expected both alert webhooks to be set")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestParse_MinimalDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Path != "raceline.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "raceline.db")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.WhatsApp.FallbackSessionID != "default" {
		t.Errorf("FallbackSessionID = %q, want %q", cfg.WhatsApp.FallbackSessionID, "default")
	}
	if !cfg.WhatsApp.SingleSessionEnabled() {
		t.Error("SingleSessionEnabled() = false, want true by default")
	}
	if cfg.WhatsApp.RestoreOnStart {
		t.Error("RestoreOnStart should default to false")
	}
	if cfg.WhatsApp.CountryCode != "62" {
		t.Errorf("CountryCode = %q, want %q", cfg.WhatsApp.CountryCode, "62")
	}
	if cfg.WhatsApp.SendGrace != 2*time.Second {
		t.Errorf("SendGrace = %v, want 2s", cfg.WhatsApp.SendGrace)
	}
	if cfg.Notify.RetryCron != "*/15 * * * *" {
		t.Errorf("RetryCron = %q", cfg.Notify.RetryCron)
	}
	if cfg.Notify.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Notify.MaxAttempts)
	}
	if cfg.Log.Format != "auto" {
		t.Errorf("Log.Format = %q, want auto", cfg.Log.Format)
	}
}

func TestParse_EmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  driver: mysql\n  name: raceline\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Database.Host)
	}
	if cfg.Database.Port != 3306 {
		t.Errorf("Port = %d, want 3306", cfg.Database.Port)
	}
	if cfg.Database.User != "root" {
		t.Errorf("User = %q, want root", cfg.Database.User)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown driver",
			yaml:    "database:\n  driver: postgres\n",
			wantErr: "not supported",
		},
		{
			name:    "mysql without name",
			yaml:    "database:\n  driver: mysql\n",
			wantErr: "database.name is required",
		},
		{
			name:    "bad fallback id",
			yaml:    "whatsapp:\n  fallback_session_id: Main-Session\n",
			wantErr: "fallback_session_id",
		},
		{
			name:    "country code with plus",
			yaml:    "whatsapp:\n  country_code: \"+62\"\n",
			wantErr: "country_code",
		},
		{
			name:    "bad log format",
			yaml:    "log:\n  format: xml\n",
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("database: [unterminated"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse")
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	env := map[string]string{
		"RACELINE_DB_DRIVER":           "mysql",
		"RACELINE_DB_NAME":             "from_env",
		"RACELINE_DB_PORT":             "3310",
		"RACELINE_PORT":                "7000",
		"RACELINE_ADMIN_KEY":           "envkey",
		"RACELINE_CORS_ORIGINS":        "https://a.example, ,https://b.example",
		"RACELINE_WA_AUTH_DIR":         "/tmp/wa",
		"RACELINE_WA_RESTORE_ON_START": "1",
		"RACELINE_LOG_LEVEL":           "warn",
	}
	cfg := &Config{}
	cfg.applyEnv(func(k string) string { return env[k] })
	cfg.applyDefaults()

	if cfg.Database.Driver != "mysql" || cfg.Database.Name != "from_env" || cfg.Database.Port != 3310 {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Server.Port != 7000 || cfg.Server.AdminKey != "envkey" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.WhatsApp.AuthDir != "/tmp/wa" || !cfg.WhatsApp.RestoreOnStart {
		t.Errorf("WhatsApp = %+v", cfg.WhatsApp)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestApplyEnv_IgnoresBadNumbers(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: 8081}}
	cfg.applyEnv(func(k string) string {
		if k == "RACELINE_PORT" {
			return "not-a-number"
		}
		return ""
	})
	if cfg.Server.Port != 8081 {
		t.Errorf("Server.Port = %d, want 8081", cfg.Server.Port)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raceline.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/raceline.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("Default() failed validation: %v", err)
	}
}
