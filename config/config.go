package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Space      SpaceConfig      `yaml:"space"`
	Ranker     RankerConfig     `yaml:"ranker"`
	Forecast   ForecastConfig   `yaml:"forecast"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Occupants  []SeedOccupant   `yaml:"occupants"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// SpaceConfig governs the occupancy engine itself.
type SpaceConfig struct {
	MaxCapacity          int           `yaml:"max_capacity"`
	SessionMinutes       int           `yaml:"session_minutes"`
	SessionLength        time.Duration `yaml:"-"`
	SweepIntervalSeconds int           `yaml:"sweep_interval_seconds"`
	SweepInterval        time.Duration `yaml:"-"`
	RateWindowMinutes    int           `yaml:"rate_window_minutes"`
	PersistenceDownSecs  int           `yaml:"persistence_down_after_seconds"`
	PersistenceDownAfter time.Duration `yaml:"-"`
}

// RankerConfig carries the normalization bounds for the removal ranker.
// The factor weights are a compile-time table, not configuration.
type RankerConfig struct {
	TimeInsideCapMinutes float64 `yaml:"time_inside_cap_minutes"`
	RemainingCapMinutes  float64 `yaml:"remaining_cap_minutes"`
	AgeCap               float64 `yaml:"age_cap"`
}

// ForecastConfig holds the smoothing constants for the occupancy forecaster.
type ForecastConfig struct {
	Alpha        float64 `yaml:"alpha"`
	Gamma        float64 `yaml:"gamma"`
	Delta        float64 `yaml:"delta"`
	Eta          float64 `yaml:"eta"`
	SeasonLength int     `yaml:"season_length"`
	Window       int     `yaml:"window"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig sizes the push delivery worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// SeedOccupant describes an occupant ensured to exist at boot.
type SeedOccupant struct {
	Token       string  `yaml:"token"`
	DisplayName string  `yaml:"display_name"`
	Privileged  bool    `yaml:"privileged"`
	Age         *int    `yaml:"age"`
	Demographic *string `yaml:"demographic"`
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in every unset value. Exported so tests can build a
// Config from scratch without a YAML file.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Space.MaxCapacity <= 0 {
		cfg.Space.MaxCapacity = 100
	}
	if cfg.Space.SessionMinutes <= 0 {
		cfg.Space.SessionMinutes = 60
	}
	cfg.Space.SessionLength = time.Duration(cfg.Space.SessionMinutes) * time.Minute
	if cfg.Space.SweepIntervalSeconds <= 0 {
		cfg.Space.SweepIntervalSeconds = 60
	}
	cfg.Space.SweepInterval = time.Duration(cfg.Space.SweepIntervalSeconds) * time.Second
	if cfg.Space.RateWindowMinutes <= 0 {
		cfg.Space.RateWindowMinutes = 5
	}
	if cfg.Space.PersistenceDownSecs <= 0 {
		cfg.Space.PersistenceDownSecs = 30
	}
	cfg.Space.PersistenceDownAfter = time.Duration(cfg.Space.PersistenceDownSecs) * time.Second

	if cfg.Ranker.TimeInsideCapMinutes <= 0 {
		cfg.Ranker.TimeInsideCapMinutes = 120
	}
	if cfg.Ranker.RemainingCapMinutes <= 0 {
		cfg.Ranker.RemainingCapMinutes = 120
	}
	if cfg.Ranker.AgeCap <= 0 {
		cfg.Ranker.AgeCap = 70
	}

	if cfg.Forecast.Alpha <= 0 {
		cfg.Forecast.Alpha = 0.3
	}
	if cfg.Forecast.Gamma <= 0 {
		cfg.Forecast.Gamma = 0.1
	}
	if cfg.Forecast.Delta <= 0 {
		cfg.Forecast.Delta = 0.3
	}
	if cfg.Forecast.Eta <= 0 {
		cfg.Forecast.Eta = 0.01
	}
	if cfg.Forecast.SeasonLength <= 0 {
		cfg.Forecast.SeasonLength = 60
	}
	if cfg.Forecast.Window <= 0 {
		cfg.Forecast.Window = 500
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
}

// Validate rejects configurations the engine cannot run with.
func (cfg *Config) Validate() error {
	if cfg.Space.MaxCapacity > 10000 {
		return fmt.Errorf("space.max_capacity %d exceeds the supported maximum of 10000", cfg.Space.MaxCapacity)
	}
	return nil
}
