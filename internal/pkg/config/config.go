package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CHEMVIZ_JWT_SECRET_KEY.
const EnvPrefix = "CHEMVIZ"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Retention RetentionConfig `mapstructure:"retention"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type StorageConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

type UploadConfig struct {
	MaxBytes             int64 `mapstructure:"max_bytes" validate:"min=1"`
	MaxConcurrentPerUser int   `mapstructure:"max_concurrent_per_user" validate:"min=0"`
}

type RetentionConfig struct {
	MaxStoredDatasets int `mapstructure:"max_stored_datasets" validate:"min=1"`
}

type JWTConfig struct {
	SecretKey   string `mapstructure:"secret_key" validate:"required,min=16"`
	ExpireHours int    `mapstructure:"expire_hours" validate:"min=1"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     int    `mapstructure:"port" validate:"min=0,max=65535"`
	DB       int    `mapstructure:"db" validate:"min=0"`
	Password string `mapstructure:"password"`
}

type RateLimitConfig struct {
	AuthPerMinute float64 `mapstructure:"auth_per_minute" validate:"min=0"`
	AuthBurst     int     `mapstructure:"auth_burst" validate:"min=0"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
}

type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

var cfg *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("database.path", "data/chemviz.db")
	v.SetDefault("storage.dir", "data/uploads")
	v.SetDefault("upload.max_bytes", 5*1024*1024)
	v.SetDefault("upload.max_concurrent_per_user", 2)
	v.SetDefault("retention.max_stored_datasets", 5)
	v.SetDefault("jwt.secret_key", "")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("rate_limit.auth_per_minute", 10)
	v.SetDefault("rate_limit.auth_burst", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")
}

// Load loads the configuration from a YAML file, falling back to defaults
// when the file does not exist. Environment variables override both.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := loaded.Validate(); err != nil {
		return nil, err
	}

	cfg = loaded
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Get returns the loaded configuration
func Get() *Config {
	return cfg
}

// GetServerAddr returns the HTTP listen address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetRedisAddr returns the redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// IsAdminName reports whether username is the configured admin account
// name, ignoring case and surrounding space
func (c *Config) IsAdminName(username string) bool {
	admin := strings.ToLower(strings.TrimSpace(c.Admin.Username))
	return admin != "" && strings.ToLower(strings.TrimSpace(username)) == admin
}
