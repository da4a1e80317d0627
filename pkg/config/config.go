// Package config loads migrator settings from defaults, an optional config
// file, PANDASCORE_* environment variables and bound command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/LucasCLuk/pandascore/pkg/client"
	"github.com/LucasCLuk/pandascore/pkg/download"
	"github.com/LucasCLuk/pandascore/pkg/pipeline"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "PANDASCORE"

// Destination backends.
const (
	DestinationRedis    = "redis"
	DestinationFirebase = "firebase"
)

// ErrNoToken is returned when neither a token nor a readable token file
// is configured.
var ErrNoToken = errors.New("pandascore token is required")

// DownloadConfig controls image downloads.
type DownloadConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// RedisConfig addresses the Redis server used as destination and page cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FirebaseConfig selects the Firestore project and Storage bucket.
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Config holds every migrator setting.
type Config struct {
	APIBaseURL string `mapstructure:"api_base_url"`
	Token      string `mapstructure:"token"`
	TokenFile  string `mapstructure:"token_file"`
	UserAgent  string `mapstructure:"user_agent"`

	Collections     []string      `mapstructure:"collections"`
	PageSize        int           `mapstructure:"page_size"`
	MaxPages        int           `mapstructure:"max_pages"`
	Mode            string        `mapstructure:"mode"`
	Workers         int           `mapstructure:"workers"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BarrierDeadline time.Duration `mapstructure:"barrier_deadline"`
	RunTimeout      time.Duration `mapstructure:"run_timeout"`

	Download DownloadConfig `mapstructure:"download"`

	LinksDir  string `mapstructure:"links_dir"`
	ImagesDir string `mapstructure:"images_dir"`

	Destination   string         `mapstructure:"destination"`
	PublicBaseURL string         `mapstructure:"public_base_url"`
	Redis         RedisConfig    `mapstructure:"redis"`
	Firebase      FirebaseConfig `mapstructure:"firebase"`

	PageCacheTTL time.Duration `mapstructure:"page_cache_ttl"`
	JournalPath  string        `mapstructure:"journal_path"`
	MetricsAddr  string        `mapstructure:"metrics_addr"`

	Log LogConfig `mapstructure:"log"`
}

// Default returns the default configuration.
func Default() Config {
	retry := download.DefaultRetryConfig()
	return Config{
		APIBaseURL:   client.DefaultBaseURL,
		TokenFile:    "pandacredentials.json",
		UserAgent:    client.DefaultUserAgent,
		Collections:  pipeline.DefaultCollections,
		PageSize:     100,
		Mode:         string(pipeline.ModeSequential),
		Workers:      8,
		PollInterval: 60 * time.Second,
		Download: DownloadConfig{
			MaxRetries:     retry.MaxRetries,
			InitialBackoff: retry.InitialBackoff,
			MaxBackoff:     retry.MaxBackoff,
			Timeout:        30 * time.Second,
		},
		LinksDir:      "links",
		ImagesDir:     "images",
		Destination:   DestinationRedis,
		PublicBaseURL: "http://localhost:8080/blobs",
		Redis:         RedisConfig{Addr: "localhost:6379"},
		Log:           LogConfig{Level: "info"},
	}
}

// SetDefaults registers the defaults with v so environment variables are
// picked up for every key.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("api_base_url", d.APIBaseURL)
	v.SetDefault("token", d.Token)
	v.SetDefault("token_file", d.TokenFile)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("collections", d.Collections)
	v.SetDefault("page_size", d.PageSize)
	v.SetDefault("max_pages", d.MaxPages)
	v.SetDefault("mode", d.Mode)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("barrier_deadline", d.BarrierDeadline)
	v.SetDefault("run_timeout", d.RunTimeout)
	v.SetDefault("download.max_retries", d.Download.MaxRetries)
	v.SetDefault("download.initial_backoff", d.Download.InitialBackoff)
	v.SetDefault("download.max_backoff", d.Download.MaxBackoff)
	v.SetDefault("download.timeout", d.Download.Timeout)
	v.SetDefault("links_dir", d.LinksDir)
	v.SetDefault("images_dir", d.ImagesDir)
	v.SetDefault("destination", d.Destination)
	v.SetDefault("public_base_url", d.PublicBaseURL)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("firebase.project_id", d.Firebase.ProjectID)
	v.SetDefault("firebase.bucket", d.Firebase.Bucket)
	v.SetDefault("firebase.credentials_file", d.Firebase.CredentialsFile)
	v.SetDefault("page_cache_ttl", d.PageCacheTTL)
	v.SetDefault("journal_path", d.JournalPath)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
}

// Load reads configuration into a Config. An empty file means no config
// file; environment variables and flags already bound to v still apply.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ResolveToken fills Token from TokenFile when it is empty. The file holds
// {"token": "..."}.
func (c *Config) ResolveToken() error {
	if c.Token != "" {
		return nil
	}
	if c.TokenFile == "" {
		return ErrNoToken
	}

	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoToken, err)
	}
	var creds struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parse token file %s: %w", c.TokenFile, err)
	}
	if creds.Token == "" {
		return fmt.Errorf("%w: %s has no token", ErrNoToken, c.TokenFile)
	}
	c.Token = creds.Token
	return nil
}

// Validate checks the settings needed for a migration run.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required")
	}
	if c.Token == "" {
		return ErrNoToken
	}
	if len(c.Collections) == 0 {
		return fmt.Errorf("at least one collection is required")
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return fmt.Errorf("page_size must be between 1 and 100, got %d", c.PageSize)
	}
	switch pipeline.Mode(c.Mode) {
	case pipeline.ModeSequential, pipeline.ModeConcurrent:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", pipeline.ModeSequential, pipeline.ModeConcurrent, c.Mode)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Download.MaxRetries < 0 {
		return fmt.Errorf("download.max_retries must not be negative")
	}

	switch c.Destination {
	case DestinationRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis destination")
		}
	case DestinationFirebase:
		if c.Firebase.ProjectID == "" || c.Firebase.Bucket == "" {
			return fmt.Errorf("firebase.project_id and firebase.bucket are required for the firebase destination")
		}
	default:
		return fmt.Errorf("destination must be %q or %q, got %q", DestinationRedis, DestinationFirebase, c.Destination)
	}

	if c.PageCacheTTL > 0 && c.Redis.Addr == "" {
		return fmt.Errorf("page_cache_ttl requires redis.addr")
	}
	return nil
}

// UsesRedis reports whether a Redis connection is needed.
func (c *Config) UsesRedis() bool {
	return c.Destination == DestinationRedis || c.PageCacheTTL > 0
}

// RetryConfig converts the download settings.
func (c *Config) RetryConfig() download.RetryConfig {
	return download.RetryConfig{
		MaxRetries:     c.Download.MaxRetries,
		InitialBackoff: c.Download.InitialBackoff,
		MaxBackoff:     c.Download.MaxBackoff,
	}
}

// PipelineConfig converts the run settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Collections:     c.Collections,
		Mode:            pipeline.Mode(c.Mode),
		Workers:         c.Workers,
		PollInterval:    c.PollInterval,
		BarrierDeadline: c.BarrierDeadline,
		LinksDir:        c.LinksDir,
	}
}
