// Package config loads the AgriMatch daemon configuration from a YAML
// file, creating one with defaults on first run, plus a .env secret layer
// for processor API keys.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the AgriMatch daemon.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Processor ProcessorConfig `yaml:"processor"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Auth      AuthConfig      `yaml:"auth"`
}

// AuthConfig holds the shared secret this daemon uses to verify bearer
// tokens issued by the external auth/identity service (user registration
// and JWT issuance themselves are out of scope here — this core only
// decodes the role/user_id claims it needs for the role-guard middleware).
type AuthConfig struct {
	TokenSecretEnvVar string `yaml:"token_secret_env_var"`

	// TokenSecret is populated at load time from the environment, never
	// from yaml.
	TokenSecret string `yaml:"-"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// StorageConfig holds SQLite settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	DBFile  string `yaml:"db_file"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ProcessorConfig holds the external payment processor's non-secret
// settings. The API key itself is loaded separately from .env / the
// environment, never committed to config.yaml.
type ProcessorConfig struct {
	// Demo forces the placeholder processor client regardless of whether an
	// API key is configured. Useful for local development and tests.
	Demo bool `yaml:"demo"`

	APIKeyEnvVar string `yaml:"api_key_env_var"`

	// APIKey is populated at load time from the environment, never from
	// yaml, and never serialized back out by Save.
	APIKey string `yaml:"-"`

	WebhookSecretEnvVar string `yaml:"webhook_secret_env_var"`

	// WebhookSecret is populated at load time from the environment, used to
	// verify the signature on incoming POST /webhooks/stripe requests.
	WebhookSecret string `yaml:"-"`
}

// MatcherConfig holds the spatial-matching approximation's tunables.
// DefaultSearchRadiusKm is not read by the matcher, which always uses
// matcher.DefaultBufferKM.
type MatcherConfig struct {
	DefaultSearchRadiusKm float64 `yaml:"default_search_radius_km"`
	SeedFile              string  `yaml:"seed_file"`
}

// MonitorConfig holds the background monitors' intervals and thresholds.
type MonitorConfig struct {
	LogisticsSearchTimeout time.Duration `yaml:"logistics_search_timeout"`
	LogisticsPollInterval  time.Duration `yaml:"logistics_poll_interval"`
	GPSHeartbeatTimeout    time.Duration `yaml:"gps_heartbeat_timeout"`
	GPSPollInterval        time.Duration `yaml:"gps_poll_interval"`
	BidExpiryPollInterval  time.Duration `yaml:"bid_expiry_poll_interval"`
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// DefaultConfig returns a Config with sensible defaults (48h logistics
// search timeout, 2h GPS heartbeat timeout).
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      "0.0.0.0:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Storage: StorageConfig{
			DataDir: "~/.agrimatch",
			DBFile:  "agrimatch.db",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Processor: ProcessorConfig{
			Demo:                true,
			APIKeyEnvVar:        "AGRIMATCH_PROCESSOR_API_KEY",
			WebhookSecretEnvVar: "AGRIMATCH_WEBHOOK_SECRET",
		},
		Auth: AuthConfig{
			TokenSecretEnvVar: "AGRIMATCH_TOKEN_SECRET",
		},
		Matcher: MatcherConfig{
			DefaultSearchRadiusKm: 75,
			SeedFile:              "",
		},
		Monitor: MonitorConfig{
			LogisticsSearchTimeout: 48 * time.Hour,
			LogisticsPollInterval:  5 * time.Minute,
			GPSHeartbeatTimeout:    2 * time.Hour,
			GPSPollInterval:        15 * time.Minute,
			BidExpiryPollInterval:  1 * time.Minute,
		},
	}
}

// Load loads configuration from <dataDir>/config.yaml, creating one with
// defaults on first run, then layers in secrets from .env / the process
// environment.
func Load(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	var cfg *Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		cfg = DefaultConfig()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	loadSecrets(cfg, expandedDir)
	return cfg, nil
}

// loadSecrets layers .env (if present) over the process environment and
// resolves the processor API key. Missing .env is not an error: godotenv
// is a convenience for local development, not a requirement.
func loadSecrets(cfg *Config, dataDir string) {
	envPath := filepath.Join(dataDir, ".env")
	_ = godotenv.Load(envPath)

	key := cfg.Processor.APIKeyEnvVar
	if key == "" {
		key = "AGRIMATCH_PROCESSOR_API_KEY"
	}
	cfg.Processor.APIKey = os.Getenv(key)
	if cfg.Processor.APIKey == "" {
		cfg.Processor.Demo = true
	}

	webhookKey := cfg.Processor.WebhookSecretEnvVar
	if webhookKey == "" {
		webhookKey = "AGRIMATCH_WEBHOOK_SECRET"
	}
	cfg.Processor.WebhookSecret = os.Getenv(webhookKey)

	authKey := cfg.Auth.TokenSecretEnvVar
	if authKey == "" {
		authKey = "AGRIMATCH_TOKEN_SECRET"
	}
	cfg.Auth.TokenSecret = os.Getenv(authKey)
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := []byte("# AgriMatch daemon configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// DBPath returns the absolute path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(expandPath(c.Storage.DataDir), c.Storage.DBFile)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
