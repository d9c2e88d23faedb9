// Package config loads ledgerlink settings from defaults, an optional file
// and LEDGERLINK_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "LEDGERLINK"

// Config is the full runtime configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	API      APIConfig      `mapstructure:"api"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Crypto   CryptoConfig   `mapstructure:"crypto"`
}

// DatabaseConfig selects the durable store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// OAuthConfig holds client credentials and endpoints.
type OAuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURI  string   `mapstructure:"redirect_uri"`
	Scopes       []string `mapstructure:"scopes"`
	AuthorizeURL string   `mapstructure:"authorize_url"`
	TokenURL     string   `mapstructure:"token_url"`
	RevokeURL    string   `mapstructure:"revoke_url"`
}

// APIConfig points at the remote accounting API.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SandboxBaseURL string        `mapstructure:"sandbox_base_url"`
	MinorVersion   string        `mapstructure:"minor_version"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// SyncConfig bounds bulk resolution and queue retries.
type SyncConfig struct {
	BatchCeiling  int           `mapstructure:"batch_ceiling"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	DrainInterval time.Duration `mapstructure:"drain_interval"`
	DrainBatch    int           `mapstructure:"drain_batch"`
}

// LogConfig configures the zap backend.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// CryptoConfig holds the token-at-rest key. Empty disables encryption.
type CryptoConfig struct {
	TokenKey string `mapstructure:"token_key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "ledgerlink.db")

	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.redirect_uri", "http://localhost:8080/oauth/callback")
	v.SetDefault("oauth.scopes", []string{"com.intuit.quickbooks.accounting"})
	v.SetDefault("oauth.authorize_url", "https://appcenter.intuit.com/connect/oauth2")
	v.SetDefault("oauth.token_url", "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer")
	v.SetDefault("oauth.revoke_url", "https://developer.api.intuit.com/v2/oauth2/tokens/revoke")

	v.SetDefault("api.base_url", "https://quickbooks.api.intuit.com")
	v.SetDefault("api.sandbox_base_url", "https://sandbox-quickbooks.api.intuit.com")
	v.SetDefault("api.minor_version", "65")
	v.SetDefault("api.timeout", 30*time.Second)

	v.SetDefault("sync.batch_ceiling", 100)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.drain_interval", time.Minute)
	v.SetDefault("sync.drain_batch", 10)

	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "JSON")

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("crypto.token_key", "")
}

// Load reads configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfiguration, "read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "decode config", err)
	}
	return &cfg, nil
}

// Default returns the built-in defaults without consulting the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks the settings every sync path depends on.
func (c *Config) Validate() error {
	if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
		return apperrors.New(apperrors.ErrConfiguration, "oauth client id and secret are required")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return apperrors.Newf(apperrors.ErrConfiguration, "unsupported database driver %q", c.Database.Driver)
	}
	if c.Sync.BatchCeiling <= 0 {
		return apperrors.New(apperrors.ErrConfiguration, "sync.batch_ceiling must be positive")
	}
	if c.Sync.MaxAttempts <= 0 {
		return apperrors.New(apperrors.ErrConfiguration, "sync.max_attempts must be positive")
	}
	return nil
}
