// Package config loads the engine's configuration: viper-backed YAML with
// mapstructure tags, a setDefaultX per section, and a validateX pass once
// defaults are in place.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"marketdata/internal/domain"
	"marketdata/pkg/cache"
	"marketdata/pkg/database"
)

// Config is the engine's full runtime configuration.
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Database    database.Config    `mapstructure:"database"`
	Cache       CacheConfig        `mapstructure:"cache"`
	Provider    ProviderConfig     `mapstructure:"provider"`
	Scheduler   SchedulerConfig    `mapstructure:"scheduler"`
	Thresholds  domain.Thresholds  `mapstructure:"thresholds"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
}

// ServerConfig holds the two HTTP surfaces: an always-on health endpoint
// (gin) and a separate operator/admin surface (gorilla/mux).
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
	AdminPort  int `mapstructure:"admin_port"`
}

// CacheConfig wires the in-memory and Redis layers the store/health packages
// consult; Redis doubles as the live tick feed's pub/sub transport.
type CacheConfig struct {
	Redis cache.RedisConfig `mapstructure:"redis"`
	InMem cache.InMemConfig `mapstructure:"inmem"`
}

// ProviderConfig describes the upstream historical-data provider the
// Backfill Fetcher calls.
type ProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig tunes the engine's background loops.
type SchedulerConfig struct {
	IntegritySweepInterval time.Duration `mapstructure:"integrity_sweep_interval"`
	FullCheckInterval      time.Duration `mapstructure:"full_check_interval"`
	FullCheckLookbackDays  int           `mapstructure:"full_check_lookback_days"`
	BackfillWorkers        int           `mapstructure:"backfill_workers"`
	LeaseTTL               time.Duration `mapstructure:"lease_ttl"`
	ReapInterval           time.Duration `mapstructure:"reap_interval"`
	HealthCheckInterval    time.Duration `mapstructure:"health_check_interval"`
	ShutdownGracePeriod    time.Duration `mapstructure:"shutdown_grace_period"`
}

// InstrumentConfig is one tracked instrument, read from the primary
// instruments list.
type InstrumentConfig struct {
	Symbol string `mapstructure:"symbol"`
	Class  string `mapstructure:"class"`
}

// Load reads application.yaml from the working directory, lets an
// environment variable override any key the file sets (dots become
// underscores, so provider.api_key is read from PROVIDER_API_KEY),
// unmarshals it, fills in defaults for anything left zero, and validates
// the result.
func Load() (*Config, error) {
	viper.SetConfigName("application")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling config")
	}

	setDefaultServerConfig(&config)
	setDefaultDatabaseConfig(&config)
	setDefaultSchedulerConfig(&config)
	setDefaultThresholds(&config)

	if err := validateConfig(&config); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &config, nil
}

func setDefaultServerConfig(config *Config) {
	if config.Server.HealthPort == 0 {
		config.Server.HealthPort = 8080
	}
	if config.Server.AdminPort == 0 {
		config.Server.AdminPort = 8081
	}
}

func setDefaultDatabaseConfig(config *Config) {
	if config.Database.DataSource.SSLMode == "" {
		config.Database.DataSource.SSLMode = "disable"
	}
	if config.Database.MaxOpenConnections == 0 {
		config.Database.MaxOpenConnections = 25
	}
	if config.Database.MaxIdleConnections == 0 {
		config.Database.MaxIdleConnections = 10
	}
	if config.Database.MaxConnectionLifeTime == 0 {
		config.Database.MaxConnectionLifeTime = time.Hour
	}
	if config.Database.MaxConnectionIdleTime == 0 {
		config.Database.MaxConnectionIdleTime = 10 * time.Minute
	}
}

func setDefaultSchedulerConfig(config *Config) {
	s := &config.Scheduler
	if s.IntegritySweepInterval == 0 {
		s.IntegritySweepInterval = 60 * time.Minute
	}
	if s.FullCheckInterval == 0 {
		s.FullCheckInterval = 24 * time.Hour
	}
	if s.FullCheckLookbackDays == 0 {
		s.FullCheckLookbackDays = 7
	}
	if s.BackfillWorkers == 0 {
		s.BackfillWorkers = 2
	}
	if s.LeaseTTL == 0 {
		s.LeaseTTL = 2 * time.Minute
	}
	if s.ReapInterval == 0 {
		s.ReapInterval = 30 * time.Second
	}
	if s.HealthCheckInterval == 0 {
		s.HealthCheckInterval = 60 * time.Second
	}
	if s.ShutdownGracePeriod == 0 {
		s.ShutdownGracePeriod = 30 * time.Second
	}
	if config.Provider.RequestsPerMinute == 0 {
		config.Provider.RequestsPerMinute = 40
	}
	if config.Provider.Burst == 0 {
		config.Provider.Burst = 5
	}
	if config.Provider.Timeout == 0 {
		config.Provider.Timeout = 10 * time.Second
	}
}

func setDefaultThresholds(config *Config) {
	if config.Thresholds == (domain.Thresholds{}) {
		config.Thresholds = domain.DefaultThresholds()
	}
}

func validateConfig(config *Config) error {
	if config.Database.DataSource.Host == "" {
		return errors.New("database.datasource.host is required")
	}
	if len(config.Instruments) == 0 {
		return errors.New("at least one instrument must be configured")
	}
	for _, inst := range config.Instruments {
		if _, err := domain.NewInstrument(inst.Symbol, domain.InstrumentClass(inst.Class)); err != nil {
			return errors.Wrapf(err, "invalid instrument %q", inst.Symbol)
		}
	}
	return nil
}
