package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type FileStorageConfig struct {
	Path string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type PostgresConfig struct {
	DSN             string
	Table           string
	Namespace       string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	Region    string
}

// StorageConfig selects the durable client storage backend. Driver is one of
// memory, file, redis, postgres or s3.
type StorageConfig struct {
	Driver   string
	File     FileStorageConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	S3       S3Config
}

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	Issuer       string
	ListenAddr   string
	Scopes       []string
	Timeout      time.Duration
}

type SyncConfig struct {
	Enabled  bool
	Schedule string
}

type EventsConfig struct {
	Enabled       bool
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Environment string
	API         APIConfig
	Storage     StorageConfig
	OAuth       OAuthConfig
	Sync        SyncConfig
	Events      EventsConfig
	Logging     LoggingConfig
}

// Load reads calmie.yaml (if any), a .env file (if any) and CALMIE_* environment
// variables, in increasing order of precedence.
func Load() (*AppConfig, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("calmie")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "calmie"))
	}

	return load(v)
}

// LoadFile reads configuration from an explicit path. A .env file and
// environment variables still take precedence.
func LoadFile(path string) (*AppConfig, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

// loadDotenv never overrides variables that are already set.
func loadDotenv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func load(v *viper.Viper) (*AppConfig, error) {
	v.SetEnvPrefix("CALMIE")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Storage.Driver == "file" && cfg.Storage.File.Path == "" {
		path, err := DefaultStoragePath()
		if err != nil {
			return nil, err
		}
		cfg.Storage.File.Path = path
	}

	return &cfg, nil
}

// DefaultStoragePath is where the file backend keeps its data when no path is
// configured.
func DefaultStoragePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "calmie", "storage.json"), nil
}

// setDefaults registers every key, including empty ones, so that AutomaticEnv
// overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("api.baseurl", "http://localhost:8000")
	v.SetDefault("api.timeout", "15s")

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.file.path", "")

	v.SetDefault("storage.redis.addr", "127.0.0.1:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "calmie:storage:")

	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "client_storage")
	v.SetDefault("storage.postgres.namespace", "default")
	v.SetDefault("storage.postgres.maxopen", 4)
	v.SetDefault("storage.postgres.maxidle", 1)
	v.SetDefault("storage.postgres.connmaxlifetime", "30m")

	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.accesskey", "")
	v.SetDefault("storage.s3.secretkey", "")
	v.SetDefault("storage.s3.bucket", "calmie-client")
	v.SetDefault("storage.s3.prefix", "storage/")
	v.SetDefault("storage.s3.usessl", false)
	v.SetDefault("storage.s3.region", "us-east-1")

	v.SetDefault("oauth.clientid", "")
	v.SetDefault("oauth.clientsecret", "")
	v.SetDefault("oauth.issuer", "https://accounts.google.com")
	v.SetDefault("oauth.listenaddr", "127.0.0.1:8765")
	v.SetDefault("oauth.scopes", []string{"openid", "profile", "email"})
	v.SetDefault("oauth.timeout", "3m")

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.schedule", "0 */15 * * * *")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.stream", "calmie:session")
	v.SetDefault("events.group", "calmie-clients")
	v.SetDefault("events.consumer", "")
	v.SetDefault("events.claiminterval", "30s")

	v.SetDefault("logging.level", "")
}
