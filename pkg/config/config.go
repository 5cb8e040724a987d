package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the envconfig prefix for every setting.
const EnvPrefix = "servineo"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App     AppConfig
	API     APIConfig
	Store   StoreConfig
	Session SessionConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.API.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Session.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env      string `envconfig:"SERVINEO_APP_ENV" default:"dev"`
	LogLevel string `envconfig:"SERVINEO_LOG_LEVEL" default:"info"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// APIConfig locates the marketplace backend.
type APIConfig struct {
	BaseURL string        `envconfig:"SERVINEO_API_BASE_URL" required:"true"`
	Timeout time.Duration `envconfig:"SERVINEO_API_TIMEOUT" default:"15s"`
}

func (a APIConfig) validate() error {
	parsed, err := url.Parse(a.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api base url must be http or https, got %q", a.BaseURL)
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive")
	}
	return nil
}

// StoreConfig locates the durable session database.
type StoreConfig struct {
	// Path is the SQLite file holding the token pair and identity snapshot.
	Path string `envconfig:"SERVINEO_STORE_PATH" default:"servineo-session.db"`
}

// SessionConfig tunes token lifecycle and account-restriction behavior.
type SessionConfig struct {
	// RefreshEarlyFraction is the share of the access token lifetime after
	// which the background renewer refreshes proactively.
	RefreshEarlyFraction float64 `envconfig:"SERVINEO_REFRESH_EARLY_FRACTION" default:"0.85"`
	// BackgroundRenewal enables the proactive refresh loop.
	BackgroundRenewal bool `envconfig:"SERVINEO_BACKGROUND_RENEWAL" default:"false"`
	// BanRetentionDays is the window between a ban and account data deletion.
	BanRetentionDays int `envconfig:"SERVINEO_BAN_RETENTION_DAYS" default:"30"`
}

func (s SessionConfig) validate() error {
	if s.RefreshEarlyFraction <= 0 || s.RefreshEarlyFraction >= 1 {
		return fmt.Errorf("refresh early fraction must be in (0,1), got %v", s.RefreshEarlyFraction)
	}
	if s.BanRetentionDays <= 0 {
		return fmt.Errorf("ban retention days must be positive")
	}
	return nil
}

// BanRetention returns the retention window as a duration.
func (s SessionConfig) BanRetention() time.Duration {
	return time.Duration(s.BanRetentionDays) * 24 * time.Hour
}
