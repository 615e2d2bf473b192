// internal/config/config.go
package config

import (
	"fmt"
	"math"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/andresuchdata/s3tar/internal/archive"
	"github.com/andresuchdata/s3tar/internal/storage"
)

type Config struct {
	S3        storage.S3Config
	Transfer  TransferConfig
	Events    EventsConfig
	Journal   JournalConfig
	LogLevel  string
	LogFormat string
}

// TransferConfig holds the tuning knobs. Sizes are in bytes.
type TransferConfig struct {
	MaxConcurrency     int
	MultipartThreshold int64
	ChunkSize          int64
	ChunkQueue         int
}

type EventsConfig struct {
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	Channel       string
}

// Enabled reports whether events are published to redis.
func (c EventsConfig) Enabled() bool {
	return c.RedisURL != "" || c.RedisHost != ""
}

type JournalConfig struct {
	Enabled  bool
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the lib/pq connection string.
func (c JournalConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

var (
	once     sync.Once
	instance *Config
	loadErr  error
)

// Load reads .env and the environment once and returns the shared config.
func Load() (*Config, error) {
	once.Do(func() {
		_ = godotenv.Load()
		v := viper.New()
		setDefaults(v)
		v.AutomaticEnv()
		instance, loadErr = fromViper(v)
	})
	return instance, loadErr
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("S3_ENDPOINT", "s3.amazonaws.com")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_USE_SSL", true)
	v.SetDefault("S3_PATH_STYLE", true)
	v.SetDefault("TRANSFER_MAX_CONCURRENCY", archive.DefaultMaxConcurrency)
	v.SetDefault("TRANSFER_MULTIPART_THRESHOLD", "8MiB")
	v.SetDefault("TRANSFER_MULTIPART_CHUNK_SIZE", "8MiB")
	v.SetDefault("TRANSFER_CHUNK_QUEUE", archive.DefaultChunkQueue)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("EVENTS_REDIS_URL", "")
	v.SetDefault("EVENTS_REDIS_HOST", "")
	v.SetDefault("EVENTS_REDIS_PORT", "6379")
	v.SetDefault("EVENTS_REDIS_DB", 0)
	v.SetDefault("EVENTS_REDIS_CHANNEL", "s3tar.events")
	v.SetDefault("JOURNAL_ENABLED", false)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "s3tar")
	v.SetDefault("DB_SSLMODE", "disable")
}

func fromViper(v *viper.Viper) (*Config, error) {
	threshold, err := ParseSize(v.GetString("TRANSFER_MULTIPART_THRESHOLD"))
	if err != nil {
		return nil, fmt.Errorf("TRANSFER_MULTIPART_THRESHOLD: %w", err)
	}
	chunk, err := ParseSize(v.GetString("TRANSFER_MULTIPART_CHUNK_SIZE"))
	if err != nil {
		return nil, fmt.Errorf("TRANSFER_MULTIPART_CHUNK_SIZE: %w", err)
	}

	cfg := &Config{
		S3: storage.S3Config{
			Endpoint:     v.GetString("S3_ENDPOINT"),
			AccessKey:    v.GetString("S3_ACCESS_KEY"),
			SecretKey:    v.GetString("S3_SECRET_KEY"),
			SessionToken: v.GetString("S3_SESSION_TOKEN"),
			Region:       v.GetString("S3_REGION"),
			UseSSL:       v.GetBool("S3_USE_SSL"),
			PathStyle:    v.GetBool("S3_PATH_STYLE"),
		},
		Transfer: TransferConfig{
			MaxConcurrency:     v.GetInt("TRANSFER_MAX_CONCURRENCY"),
			MultipartThreshold: threshold,
			ChunkSize:          chunk,
			ChunkQueue:         v.GetInt("TRANSFER_CHUNK_QUEUE"),
		},
		Events: EventsConfig{
			RedisURL:      v.GetString("EVENTS_REDIS_URL"),
			RedisHost:     v.GetString("EVENTS_REDIS_HOST"),
			RedisPort:     v.GetString("EVENTS_REDIS_PORT"),
			RedisPassword: v.GetString("EVENTS_REDIS_PASSWORD"),
			RedisDB:       v.GetInt("EVENTS_REDIS_DB"),
			Channel:       v.GetString("EVENTS_REDIS_CHANNEL"),
		},
		Journal: JournalConfig{
			Enabled:  v.GetBool("JOURNAL_ENABLED"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
	}
	return cfg, nil
}

// ParseSize accepts plain byte counts and humanized sizes like "8MiB" or
// "16MB".
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid size %q: larger than %d bytes", s, int64(math.MaxInt64))
	}
	return int64(n), nil
}

// Options converts the transfer settings into engine options.
func (t TransferConfig) Options() archive.Options {
	return archive.Options{
		MaxConcurrency:     t.MaxConcurrency,
		MultipartThreshold: t.MultipartThreshold,
		ChunkSize:          t.ChunkSize,
		ChunkQueue:         t.ChunkQueue,
	}
}
