// Package config provides configuration management for manageusers
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/passwords"
	"github.com/memtensor/manageusers/pkg/types"
)

// EnvPrefix is the prefix of environment overrides, e.g. MANAGEUSERS_DATABASE_PATH
const EnvPrefix = "MANAGEUSERS"

// Config is the complete manageusers configuration
type Config struct {
	Database  DatabaseConfig `mapstructure:"database" yaml:"database" json:"database"`
	Passwords PasswordConfig `mapstructure:"passwords" yaml:"passwords" json:"passwords"`
	Profiles  ProfileConfig  `mapstructure:"profiles" yaml:"profiles" json:"profiles"`
	Audit     AuditConfig    `mapstructure:"audit" yaml:"audit" json:"audit"`
	Logging   LoggingConfig  `mapstructure:"logging" yaml:"logging" json:"logging"`
	Metrics   MetricsConfig  `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	API       APIConfig      `mapstructure:"api" yaml:"api" json:"api"`
}

// DatabaseConfig holds the account store settings
type DatabaseConfig struct {
	Type       string `mapstructure:"type" yaml:"type" json:"type" validate:"required,oneof=sqlite"`
	Path       string `mapstructure:"path" yaml:"path" json:"path" validate:"required"`
	LogQueries bool   `mapstructure:"log_queries" yaml:"log_queries" json:"log_queries"`
}

// PasswordConfig controls which credential hash schemes are accepted
type PasswordConfig struct {
	Schemes    []string `mapstructure:"schemes" yaml:"schemes" json:"schemes" validate:"min=1,dive,oneof=bcrypt sha512_crypt sha256_crypt md5_crypt"`
	BcryptCost int      `mapstructure:"bcrypt_cost" yaml:"bcrypt_cost" json:"bcrypt_cost" validate:"min=4,max=31,ltefield=MaxBcryptCost"`

	// Caller-supplied hashes declaring more work than these are rejected
	MaxBcryptCost  int `mapstructure:"max_bcrypt_cost" yaml:"max_bcrypt_cost" json:"max_bcrypt_cost" validate:"min=4,max=31"`
	MaxCryptRounds int `mapstructure:"max_crypt_rounds" yaml:"max_crypt_rounds" json:"max_crypt_rounds" validate:"min=1000,max=999999999"`
}

// ProfileConfig toggles the extended profile capability
type ProfileConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// AuditConfig toggles audit records for mutating reconciles
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level  string          `mapstructure:"level" yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format types.LogFormat `mapstructure:"format" yaml:"format" json:"format" validate:"oneof=console json"`
	File   string          `mapstructure:"file" yaml:"file" json:"file,omitempty"`
}

// MetricsConfig configures metrics output
type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	TextfilePath string `mapstructure:"textfile_path" yaml:"textfile_path" json:"textfile_path,omitempty"`
}

// APIConfig configures the admin HTTP API
type APIConfig struct {
	Host           string        `mapstructure:"host" yaml:"host" json:"host" validate:"required"`
	Port           int           `mapstructure:"port" yaml:"port" json:"port" validate:"required,gt=0,lt=65536"`
	JWTSecret      string        `mapstructure:"jwt_secret" yaml:"jwt_secret" json:"-"`
	TokenTTL       time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" json:"token_ttl" validate:"gt=0"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "./data/manageusers.db",
		},
		Passwords: PasswordConfig{
			Schemes:    []string{"bcrypt", "sha512_crypt", "sha256_crypt"},
			BcryptCost:     10,
			MaxBcryptCost:  passwords.DefaultMaxBcryptCost,
			MaxCryptRounds: passwords.DefaultMaxCryptRounds,
		},
		Profiles: ProfileConfig{Enabled: true},
		Audit:    AuditConfig{Enabled: true},
		Logging: LoggingConfig{
			Level:  "info",
			Format: types.LogFormatConsole,
		},
		Metrics: MetricsConfig{Enabled: true},
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			TokenTTL:       time.Hour,
			AllowedOrigins: []string{},
		},
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks the configuration against its constraints
func (c *Config) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		return errors.WrapError(err, types.ErrorTypeConfiguration, errors.ErrCodeConfigInvalid,
			"invalid configuration")
	}
	return nil
}

// ToYAMLFile saves configuration to a YAML file
func (c *Config) ToYAMLFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Loader reads configuration from an optional file plus the environment
type Loader struct {
	path  string
	viper *viper.Viper
	mu    sync.Mutex
}

// NewLoader creates a loader for path; an empty path means environment and defaults only
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	}

	return &Loader{path: path, viper: v}
}

// Load reads and validates the configuration
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path != "" {
		if err := l.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return l.decode()
}

// Set overrides a key, taking precedence over file and environment
func (l *Loader) Set(key string, value interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.viper.Set(key, value)
}

// Watch calls callback with the reloaded configuration whenever the file changes.
// Invalid reloads are passed to onError and the previous configuration stays in effect.
func (l *Loader) Watch(callback func(*Config), onError func(error)) {
	if l.path == "" {
		return
	}
	l.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		callback(cfg)
	})
	l.viper.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is a shortcut for NewLoader(path).Load()
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// setDefaults registers every key so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.log_queries", d.Database.LogQueries)

	v.SetDefault("passwords.schemes", d.Passwords.Schemes)
	v.SetDefault("passwords.bcrypt_cost", d.Passwords.BcryptCost)
	v.SetDefault("passwords.max_bcrypt_cost", d.Passwords.MaxBcryptCost)
	v.SetDefault("passwords.max_crypt_rounds", d.Passwords.MaxCryptRounds)

	v.SetDefault("profiles.enabled", d.Profiles.Enabled)
	v.SetDefault("audit.enabled", d.Audit.Enabled)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", string(d.Logging.Format))
	v.SetDefault("logging.file", d.Logging.File)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.textfile_path", d.Metrics.TextfilePath)

	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("api.jwt_secret", d.API.JWTSecret)
	v.SetDefault("api.token_ttl", d.API.TokenTTL)
	v.SetDefault("api.allowed_origins", d.API.AllowedOrigins)
}
