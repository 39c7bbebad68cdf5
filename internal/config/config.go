package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	ProviderStatic = "static"
	ProviderCUPS   = "cups"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Provider     ProviderConfig     `yaml:"provider"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Lifecycle    LifecycleConfig    `yaml:"lifecycle"`
	Log          LogConfig          `yaml:"log"`
}

type ServerConfig struct {
	Port int    `yaml:"port" validate:"min=0,max=65535"`
	Host string `yaml:"host" validate:"required"`
	// AuthToken, when set, is required as a bearer token or ?token= query
	// parameter on every HTTP and websocket request.
	AuthToken string `yaml:"auth_token"`
	// AllowedOrigins, when set, is the complete list of accepted websocket
	// origins, matched by exact origin or by host. Empty accepts the
	// request's own host and loopback names.
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,url"`
}

type ProviderConfig struct {
	Kind   string       `yaml:"kind" validate:"oneof=static cups"`
	Static StaticConfig `yaml:"static"`
	CUPS   CUPSConfig   `yaml:"cups"`
}

type StaticConfig struct {
	Path          string        `yaml:"path"`
	ChurnInterval time.Duration `yaml:"churn_interval" validate:"min=0"`
}

type CUPSConfig struct {
	LpstatPath   string        `yaml:"lpstat_path"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=100ms"`
}

type SubscriptionConfig struct {
	LeaseDuration time.Duration `yaml:"lease_duration" validate:"gtfield=RenewMargin"`
	RenewMargin   time.Duration `yaml:"renew_margin" validate:"gt=0"`
}

type DiscoveryConfig struct {
	RetryAttempts uint          `yaml:"retry_attempts" validate:"min=1,max=20"`
	RetryDelay    time.Duration `yaml:"retry_delay" validate:"gt=0"`
}

type LifecycleConfig struct {
	// ExitWhenIdle makes the backend exit once the last dialog is gone.
	ExitWhenIdle bool          `yaml:"exit_when_idle"`
	ReapInterval time.Duration `yaml:"reap_interval" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8631,
			Host: "127.0.0.1",
		},
		Provider: ProviderConfig{
			Kind: ProviderCUPS,
			Static: StaticConfig{
				Path: "printers.yaml",
			},
			CUPS: CUPSConfig{
				LpstatPath:   "lpstat",
				PollInterval: 2 * time.Second,
			},
		},
		Subscription: SubscriptionConfig{
			LeaseDuration: time.Hour,
			RenewMargin:   time.Minute,
		},
		Discovery: DiscoveryConfig{
			RetryAttempts: 3,
			RetryDelay:    500 * time.Millisecond,
		},
		Lifecycle: LifecycleConfig{
			ExitWhenIdle: true,
			ReapInterval: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return defaultConfig()
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when path does
// not exist, so the backend can be activated without a config file.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints. It is called by Load and must be
// called again after command-line overrides are applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Provider.Kind == ProviderStatic && c.Provider.Static.Path == "" {
		return errors.New("invalid config: provider.static.path is required for the static provider")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GenerateToken returns a random 16-byte hex token for server.auth_token.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
