package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
  auth_token: secret
provider:
  kind: static
  static:
    path: /etc/printdialog/printers.yaml
    churn_interval: 3s
subscription:
  lease_duration: 10m
  renew_margin: 30s
lifecycle:
  exit_when_idle: false
log:
  level: debug
  format: console
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "secret" {
		t.Errorf("Server.AuthToken = %q, want %q", cfg.Server.AuthToken, "secret")
	}
	if cfg.Provider.Kind != ProviderStatic {
		t.Errorf("Provider.Kind = %q, want %q", cfg.Provider.Kind, ProviderStatic)
	}
	if cfg.Provider.Static.ChurnInterval != 3*time.Second {
		t.Errorf("Static.ChurnInterval = %v, want 3s", cfg.Provider.Static.ChurnInterval)
	}
	if cfg.Subscription.LeaseDuration != 10*time.Minute {
		t.Errorf("LeaseDuration = %v, want 10m", cfg.Subscription.LeaseDuration)
	}
	if cfg.Lifecycle.ExitWhenIdle {
		t.Error("Lifecycle.ExitWhenIdle = true, want false")
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Log.Format = %q, want console", cfg.Log.Format)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Discovery.RetryAttempts != 3 {
		t.Errorf("Discovery.RetryAttempts = %d, want default 3", cfg.Discovery.RetryAttempts)
	}
	if cfg.Provider.CUPS.PollInterval != 2*time.Second {
		t.Errorf("CUPS.PollInterval = %v, want default 2s", cfg.Provider.CUPS.PollInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}

	if cfg.Server.Port != 8631 {
		t.Errorf("Server.Port = %d, want default 8631", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want default %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Provider.Kind != ProviderCUPS {
		t.Errorf("Provider.Kind = %q, want default %q", cfg.Provider.Kind, ProviderCUPS)
	}
	if !cfg.Lifecycle.ExitWhenIdle {
		t.Error("Lifecycle.ExitWhenIdle = false, want default true")
	}
	if cfg.Subscription.LeaseDuration != time.Hour || cfg.Subscription.RenewMargin != time.Minute {
		t.Errorf("Subscription = %+v, want 1h lease renewed 1m early", cfg.Subscription)
	}
}

func TestLoadOrDefaultPropagatesParseErrors(t *testing.T) {
	cfgPath := writeConfig(t, ":::not valid yaml")
	if _, err := LoadOrDefault(cfgPath); err == nil {
		t.Fatal("LoadOrDefault() with invalid YAML should return error")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, ":::not valid yaml")
	if _, err := Load(cfgPath); err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"bad provider", func(c *Config) { c.Provider.Kind = "lpd" }, "Kind"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "Port"},
		{"empty host", func(c *Config) { c.Server.Host = "" }, "Host"},
		{"margin exceeds lease", func(c *Config) { c.Subscription.RenewMargin = 2 * time.Hour }, "LeaseDuration"},
		{"zero margin", func(c *Config) { c.Subscription.RenewMargin = 0 }, "RenewMargin"},
		{"zero retries", func(c *Config) { c.Discovery.RetryAttempts = 0 }, "RetryAttempts"},
		{"fast poll", func(c *Config) { c.Provider.CUPS.PollInterval = time.Millisecond }, "PollInterval"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "Level"},
		{"origin list", func(c *Config) { c.Server.AllowedOrigins = []string{"https://app.test"} }, ""},
		{"bad origin", func(c *Config) { c.Server.AllowedOrigins = []string{"not an origin"} }, "AllowedOrigins[0]"},
		{"static without path", func(c *Config) {
			c.Provider.Kind = ProviderStatic
			c.Provider.Static.Path = ""
		}, "static.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cfgPath := writeConfig(t, "provider:\n  kind: carrier-pigeon\n")
	if _, err := Load(cfgPath); err == nil {
		t.Fatal("Load() accepted an unknown provider kind")
	}
}

func TestAddr(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.Addr(); got != "127.0.0.1:8631" {
		t.Errorf("Addr() = %q, want %q", got, "127.0.0.1:8631")
	}
}

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}
	if len(tok) != 32 { // 16 bytes = 32 hex chars
		t.Errorf("token length = %d, want 32", len(tok))
	}

	tok2, _ := GenerateToken()
	if tok == tok2 {
		t.Error("two generated tokens should not be identical")
	}
}
