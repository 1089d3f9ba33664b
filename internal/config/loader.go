package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/rafast/vox-med-app/internal/events"
	"github.com/rafast/vox-med-app/internal/logging"
)

// EnvPrefix namespaces environment variables: http.port is VOXMED_HTTP_PORT.
const EnvPrefix = "VOXMED"

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// minTokenSecretLength matches the HS256 key size.
const minTokenSecretLength = 32

// Config captures the settings of the voxmed service.
type Config struct {
	HTTP         HTTPConfig         `mapstructure:"http"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Clinic       ClinicConfig       `mapstructure:"clinic"`
	Availability AvailabilityConfig `mapstructure:"availability"`
	Events       EventsConfig       `mapstructure:"events"`
	Log          LogConfig          `mapstructure:"log"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address for net/http.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLiteDSN   string `mapstructure:"sqlite_dsn"`
	PostgresURL string `mapstructure:"postgres_url"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

type AuthConfig struct {
	TokenSecret string        `mapstructure:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

type ClinicConfig struct {
	Timezone string `mapstructure:"timezone"`

	location *time.Location
}

// Location is the resolved clinic timezone. It is UTC until Load succeeds.
func (c ClinicConfig) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

type AvailabilityConfig struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type EventsConfig struct {
	Sinks     string `mapstructure:"sinks"`
	Buffer    int    `mapstructure:"buffer"`
	RedisAddr string `mapstructure:"redis_addr"`
	AMQPURL   string `mapstructure:"amqp_url"`
}

// SinkNames returns the configured sinks. Load has already rejected unknown
// names.
func (c EventsConfig) SinkNames() []string {
	names, _ := events.ParseSinkNames(c.Sinks)
	return names
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Error lists every missing and invalid key found by Load.
type Error struct {
	Missing []string
	Invalid map[string]string
}

func (e *Error) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required keys: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		keys := make([]string, 0, len(e.Invalid))
		for key := range e.Invalid {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		invalid := make([]string, 0, len(keys))
		for _, key := range keys {
			invalid = append(invalid, key+" ("+e.Invalid[key]+")")
		}
		parts = append(parts, "invalid values: "+strings.Join(invalid, ", "))
	}
	return "config: " + strings.Join(parts, "; ")
}

func (e *Error) missing(key string) {
	e.Missing = append(e.Missing, key)
}

func (e *Error) invalid(key, reason string) {
	if e.Invalid == nil {
		e.Invalid = make(map[string]string)
	}
	e.Invalid[key] = reason
}

func (e *Error) empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

var defaults = map[string]any{
	"http.port":             8080,
	"http.read_timeout":     "15s",
	"http.write_timeout":    "15s",
	"http.shutdown_timeout": "10s",

	"storage.driver":       DriverSQLite,
	"storage.sqlite_dsn":   "voxmed.db",
	"storage.postgres_url": "",
	"storage.max_conns":    10,

	"auth.token_secret": "",
	"auth.token_ttl":    "12h",

	"clinic.timezone": "UTC",

	"availability.cache_size": 512,
	"availability.cache_ttl":  "30s",

	"events.sinks":      events.SinkLog,
	"events.buffer":     events.DefaultBuffer,
	"events.redis_addr": "",
	"events.amqp_url":   "",

	"log.level":  "info",
	"log.format": logging.FormatJSON,
}

// Load reads VOXMED_* environment variables and an optional voxmed.yaml from
// the working directory or /etc/voxmed.
func Load() (Config, error) {
	v := newViper()
	v.SetConfigName("voxmed")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/voxmed")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFile is Load with an explicit config file, which must exist.
func LoadFile(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	normalize(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Storage.SQLiteDSN = strings.TrimSpace(cfg.Storage.SQLiteDSN)
	cfg.Storage.PostgresURL = strings.TrimSpace(cfg.Storage.PostgresURL)
	cfg.Auth.TokenSecret = strings.TrimSpace(cfg.Auth.TokenSecret)
	cfg.Clinic.Timezone = strings.TrimSpace(cfg.Clinic.Timezone)
	cfg.Events.RedisAddr = strings.TrimSpace(cfg.Events.RedisAddr)
	cfg.Events.AMQPURL = strings.TrimSpace(cfg.Events.AMQPURL)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
}

func (cfg *Config) validate() error {
	errs := &Error{}

	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		errs.invalid("http.port", "must be between 1 and 65535")
	}
	for key, d := range map[string]time.Duration{
		"http.read_timeout":      cfg.HTTP.ReadTimeout,
		"http.write_timeout":     cfg.HTTP.WriteTimeout,
		"http.shutdown_timeout":  cfg.HTTP.ShutdownTimeout,
		"auth.token_ttl":         cfg.Auth.TokenTTL,
		"availability.cache_ttl": cfg.Availability.CacheTTL,
	} {
		if d <= 0 {
			errs.invalid(key, "must be a positive duration")
		}
	}

	switch cfg.Storage.Driver {
	case DriverSQLite:
		if cfg.Storage.SQLiteDSN == "" {
			errs.missing("storage.sqlite_dsn")
		}
	case DriverPostgres:
		if cfg.Storage.PostgresURL == "" {
			errs.missing("storage.postgres_url")
		}
	case DriverMemory:
	default:
		errs.invalid("storage.driver", "must be sqlite, postgres or memory")
	}
	if cfg.Storage.MaxConns <= 0 {
		errs.invalid("storage.max_conns", "must be positive")
	}

	switch {
	case cfg.Auth.TokenSecret == "":
		errs.missing("auth.token_secret")
	case len(cfg.Auth.TokenSecret) < minTokenSecretLength:
		errs.invalid("auth.token_secret", fmt.Sprintf("must be at least %d characters", minTokenSecretLength))
	}

	loc, err := time.LoadLocation(cfg.Clinic.Timezone)
	if err != nil {
		errs.invalid("clinic.timezone", "unknown timezone")
	} else {
		cfg.Clinic.location = loc
	}

	if cfg.Availability.CacheSize <= 0 {
		errs.invalid("availability.cache_size", "must be positive")
	}

	sinks, err := events.ParseSinkNames(cfg.Events.Sinks)
	if err != nil {
		errs.invalid("events.sinks", "allowed sinks are log, redis, amqp")
	}
	for _, sink := range sinks {
		switch {
		case sink == events.SinkRedis && cfg.Events.RedisAddr == "":
			errs.missing("events.redis_addr")
		case sink == events.SinkAMQP && cfg.Events.AMQPURL == "":
			errs.missing("events.amqp_url")
		}
	}
	if cfg.Events.Buffer <= 0 {
		errs.invalid("events.buffer", "must be positive")
	}

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		errs.invalid("log.level", "unknown level")
	}
	switch cfg.Log.Format {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		errs.invalid("log.format", "must be json or console")
	}

	if errs.empty() {
		return nil
	}
	sort.Strings(errs.Missing)
	return errs
}
