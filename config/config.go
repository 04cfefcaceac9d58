package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMongo  = "mongodb"
	BackendMemory = "memory"
)

// Session store kinds.
const (
	SessionStoreBolt   = "bolt"
	SessionStoreRedis  = "redis"
	SessionStoreMemory = "memory"
)

// Config holds all configuration for the datelink server and CLI.
type Config struct {
	HTTPAddr  string `mapstructure:"http_addr"`
	PublicURL string `mapstructure:"public_url"`
	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	StorageBackend string `mapstructure:"storage_backend"`
	MongoURI       string `mapstructure:"mongo_uri"`
	MongoDBName    string `mapstructure:"mongo_db_name"`

	SessionStore string `mapstructure:"session_store"`
	BoltPath     string `mapstructure:"bolt_path"`
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisPrefix  string `mapstructure:"redis_prefix"`

	JWTSecret         string        `mapstructure:"jwt_secret"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	ResumeTimeout     time.Duration `mapstructure:"resume_timeout"`
	SuperLikeLimit    int           `mapstructure:"super_like_limit"`
	PasswordMinLength int           `mapstructure:"password_min_length"`
	LookupConcurrency int           `mapstructure:"lookup_concurrency"`

	OtelServiceName string `mapstructure:"otel_service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("public_url", "http://localhost:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("storage_backend", BackendMongo)
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_db_name", "datelink")
	v.SetDefault("session_store", SessionStoreBolt)
	v.SetDefault("bolt_path", "datelink-session.db")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "datelink:")
	v.SetDefault("jwt_secret", "change_me_datelink_secret") // CHANGE IN PRODUCTION
	v.SetDefault("token_ttl", 24*time.Hour)
	v.SetDefault("resume_timeout", 5*time.Second)
	v.SetDefault("super_like_limit", 5)
	v.SetDefault("password_min_length", 8)
	v.SetDefault("lookup_concurrency", 8)
	v.SetDefault("otel_service_name", "datelink")
}

// LoadConfig reads datelink.yaml from the usual search paths, DATELINK_ environment
// variables and defaults. A missing config file is not an error.
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load behaves like LoadConfig but reads the given file when path is non-empty.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("datelink")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/datelink/")
		v.AddConfigPath("$HOME/.datelink")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DATELINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects unknown backends and non-positive limits.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("unsupported storage_backend %q", c.StorageBackend)
	}

	switch c.SessionStore {
	case SessionStoreBolt, SessionStoreRedis, SessionStoreMemory:
	default:
		return fmt.Errorf("unsupported session_store %q", c.SessionStore)
	}

	if c.ResumeTimeout <= 0 {
		return errors.New("resume_timeout must be positive")
	}
	if c.SuperLikeLimit < 0 {
		return errors.New("super_like_limit must not be negative")
	}
	if c.LookupConcurrency <= 0 {
		return errors.New("lookup_concurrency must be positive")
	}

	return nil
}
