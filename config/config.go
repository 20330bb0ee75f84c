// Package config loads the process-level configuration a venue-adapter
// client needs to run: per-venue credentials, timeouts, and logging level.
// Precedence follows the teacher's main.go: environment variable overrides
// the config file, which overrides the adapter defaults in venue.Config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ccgate/ccgate/venue"
)

// LogConfig is the process's logging configuration.
type LogConfig struct {
	Level string `json:"level"` // debug, info, warn, error (default: info)
}

// VenueConfig is one venue's entry in config.json; a non-empty matching
// <VENUE>_API_* environment variable overrides the file value (see
// Config.VenueConfig).
type VenueConfig struct {
	APIKey          string `json:"api_key"`
	Secret          string `json:"secret"`
	Passphrase      string `json:"passphrase"`
	Memo            string `json:"memo"`
	Sandbox         bool   `json:"sandbox"`
	TimeoutMS       int    `json:"timeout_ms"`
	EnableRateLimit *bool  `json:"enable_rate_limit"`
}

// Config is the top-level config.json shape.
type Config struct {
	Venues map[string]VenueConfig `json:"venues"`
	Log    LogConfig              `json:"log"`
}

// Load reads filename (a missing file is not an error) and layers the
// CCGATE_LOG_LEVEL environment variable over it. It first calls
// godotenv.Load() so a .env file in the working directory is picked up for
// local/dev runs; in a container the runtime already injects the variables
// and this call is harmless.
func Load(filename string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		log.Info().Str("path", filename).Msg("config: file not found, using environment-only configuration")
	} else {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", filename, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", filename, err)
		}
	}
	if cfg.Venues == nil {
		cfg.Venues = map[string]VenueConfig{}
	}
	if level := strings.TrimSpace(os.Getenv("CCGATE_LOG_LEVEL")); level != "" {
		cfg.Log.Level = level
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return &cfg, nil
}

// VenueConfig builds a venue.Config for id, layering <VENUE>_API_KEY,
// <VENUE>_API_SECRET, <VENUE>_API_PASSPHRASE, <VENUE>_API_MEMO, and
// <VENUE>_API_SANDBOX environment variables over whatever config.json
// already set for id — env always wins, matching the teacher's
// environment-over-file precedence for JWT_SECRET.
func (c *Config) VenueConfig(id string) venue.Config {
	v := c.Venues[id]
	prefix := strings.ToUpper(id) + "_API_"

	if env := strings.TrimSpace(os.Getenv(prefix + "KEY")); env != "" {
		v.APIKey = env
	}
	if env := strings.TrimSpace(os.Getenv(prefix + "SECRET")); env != "" {
		v.Secret = env
	}
	if env := strings.TrimSpace(os.Getenv(prefix + "PASSPHRASE")); env != "" {
		v.Passphrase = env
	}
	if env := strings.TrimSpace(os.Getenv(prefix + "MEMO")); env != "" {
		v.Memo = env
	}
	if env := strings.TrimSpace(os.Getenv(prefix + "SANDBOX")); env != "" {
		if b, err := strconv.ParseBool(env); err == nil {
			v.Sandbox = b
		}
	}

	cfg := venue.Config{
		APIKey:          v.APIKey,
		Secret:          v.Secret,
		Passphrase:      v.Passphrase,
		Memo:            v.Memo,
		Sandbox:         v.Sandbox,
		EnableRateLimit: true,
	}
	if v.TimeoutMS > 0 {
		cfg.Timeout = time.Duration(v.TimeoutMS) * time.Millisecond
	}
	if v.EnableRateLimit != nil {
		cfg.EnableRateLimit = *v.EnableRateLimit
	}
	return cfg.WithDefaults()
}
