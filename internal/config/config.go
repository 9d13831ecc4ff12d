package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides, e.g. SURVEY__GATEWAY__BASE_URL
const EnvPrefix = "SURVEY__"

// Gateway modes
const (
	GatewayRemote = "remote"
	GatewayLocal  = "local"
)

// Config represents the complete server configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	Survey  SurveyConfig  `yaml:"survey"`
	Export  ExportConfig  `yaml:"export"`
}

// ServerConfig holds HTTP surface settings not owned by prefab
type ServerConfig struct {
	MetricsPath string `yaml:"metrics_path" validate:"required,startswith=/"`
}

// GatewayConfig selects and tunes the property backend
type GatewayConfig struct {
	Mode                   string        `yaml:"mode" validate:"oneof=remote local"`
	BaseURL                string        `yaml:"base_url" validate:"required_if=Mode remote,omitempty,url"`
	SessionCookie          string        `yaml:"session_cookie"`
	Timeout                time.Duration `yaml:"timeout" validate:"gt=0"`
	ListCacheTTL           time.Duration `yaml:"list_cache_ttl" validate:"gte=0"`
	MaxConsecutiveFailures uint32        `yaml:"max_consecutive_failures" validate:"gte=1"`
	BreakerTimeout         time.Duration `yaml:"breaker_timeout" validate:"gt=0"`
	LocalPath              string        `yaml:"local_path"`
}

// SurveyConfig holds drawing session settings
type SurveyConfig struct {
	RestartPolicy string        `yaml:"restart_policy" validate:"oneof=reset ignore"`
	IDPrefix      string        `yaml:"id_prefix" validate:"required,alphanum,ne=property"`
	SaveTimeout   time.Duration `yaml:"save_timeout" validate:"gt=0"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	FetchOnStart  bool          `yaml:"fetch_on_start"`

	// RefreshInterval re-fetches persisted polygons periodically; 0 disables it
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gte=0"`
	MaxNotices      int           `yaml:"max_notices" validate:"gte=1"`
}

// ExportConfig holds export settings
type ExportConfig struct {
	DocumentName string `yaml:"document_name" validate:"required"`
}

// DefaultConfig returns a default configuration. It surveys against a local
// SQLite file so the server runs without a backend.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			MetricsPath: "/metrics",
		},
		Gateway: GatewayConfig{
			Mode:                   GatewayLocal,
			Timeout:                30 * time.Second,
			ListCacheTTL:           time.Minute,
			MaxConsecutiveFailures: 5,
			BreakerTimeout:         30 * time.Second,
			LocalPath:              "survey.db",
		},
		Survey: SurveyConfig{
			RestartPolicy:   "reset",
			IDPrefix:        "local",
			SaveTimeout:     30 * time.Second,
			FetchTimeout:    15 * time.Second,
			FetchOnStart:    true,
			RefreshInterval: 5 * time.Minute,
			MaxNotices:      20,
		},
		Export: ExportConfig{
			DocumentName: "Footprint Survey",
		},
	}
}

// Load layers an optional YAML file and SURVEY__ environment variables over
// the defaults, then validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// envKey maps SURVEY__GATEWAY__BASE_URL to gateway.base_url
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}
