package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := Default()
	if cfg.APIBaseURL != def.APIBaseURL {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.Mode != "sequential" {
		t.Errorf("Mode = %q, want sequential", cfg.Mode)
	}
	if cfg.PollInterval != time.Minute {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.Download.MaxRetries != 40 || cfg.Download.InitialBackoff != 10*time.Second {
		t.Errorf("Download = %+v", cfg.Download)
	}
	if len(cfg.Collections) != 6 {
		t.Errorf("Collections = %v", cfg.Collections)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.yaml")
	content := `
mode: concurrent
workers: 4
poll_interval: 5s
collections: [leagues, teams]
destination: firebase
firebase:
  project_id: onleague
  bucket: onleague.appspot.com
download:
  max_retries: 3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != "concurrent" || cfg.Workers != 4 || cfg.PollInterval != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if strings.Join(cfg.Collections, ",") != "leagues,teams" {
		t.Errorf("Collections = %v", cfg.Collections)
	}
	if cfg.Firebase.Bucket != "onleague.appspot.com" {
		t.Errorf("Firebase = %+v", cfg.Firebase)
	}
	if cfg.Download.MaxRetries != 3 || cfg.Download.MaxBackoff != Default().Download.MaxBackoff {
		t.Errorf("Download = %+v", cfg.Download)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PANDASCORE_TOKEN", "env-token")
	t.Setenv("PANDASCORE_REDIS_ADDR", "redis:6380")
	t.Setenv("PANDASCORE_RUN_TIMEOUT", "2h")

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Token != "env-token" {
		t.Errorf("Token = %q", cfg.Token)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.RunTimeout != 2*time.Hour {
		t.Errorf("RunTimeout = %v", cfg.RunTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestResolveToken(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "pandacredentials.json")
	os.WriteFile(good, []byte(`{"token": "from-file"}`), 0o600)
	empty := filepath.Join(dir, "empty.json")
	os.WriteFile(empty, []byte(`{}`), 0o600)

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "explicit token wins", cfg: Config{Token: "t", TokenFile: good}, want: "t"},
		{name: "from file", cfg: Config{TokenFile: good}, want: "from-file"},
		{name: "missing file", cfg: Config{TokenFile: filepath.Join(dir, "missing.json")}, wantErr: true},
		{name: "file without token", cfg: Config{TokenFile: empty}, wantErr: true},
		{name: "nothing configured", cfg: Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ResolveToken()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveToken failed: %v", err)
			}
			if tt.cfg.Token != tt.want {
				t.Errorf("Token = %q, want %q", tt.cfg.Token, tt.want)
			}
		})
	}

	var missing Config
	if err := missing.ResolveToken(); !errors.Is(err, ErrNoToken) {
		t.Errorf("err = %v, want ErrNoToken", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Token = "t"
		return c
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no token", mutate: func(c *Config) { c.Token = "" }, errorMsg: "token is required"},
		{name: "page size", mutate: func(c *Config) { c.PageSize = 101 }, errorMsg: "page_size"},
		{name: "mode", mutate: func(c *Config) { c.Mode = "parallel" }, errorMsg: "mode must be"},
		{name: "workers", mutate: func(c *Config) { c.Workers = 0 }, errorMsg: "workers"},
		{name: "no collections", mutate: func(c *Config) { c.Collections = nil }, errorMsg: "collection"},
		{name: "destination", mutate: func(c *Config) { c.Destination = "s3" }, errorMsg: "destination must be"},
		{name: "firebase bucket", mutate: func(c *Config) { c.Destination = DestinationFirebase }, errorMsg: "firebase.project_id"},
		{name: "cache without redis", mutate: func(c *Config) {
			c.Destination = DestinationFirebase
			c.Firebase = FirebaseConfig{ProjectID: "p", Bucket: "b"}
			c.Redis.Addr = ""
			c.PageCacheTTL = time.Hour
		}, errorMsg: "page_cache_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("err = %v, want %q", err, tt.errorMsg)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	c := Default()
	c.Mode = "concurrent"
	c.Workers = 3

	pc := c.PipelineConfig()
	if string(pc.Mode) != "concurrent" || pc.Workers != 3 || pc.LinksDir != "links" {
		t.Errorf("PipelineConfig = %+v", pc)
	}
	rc := c.RetryConfig()
	if rc.MaxRetries != 40 || rc.MaxBackoff != 240*time.Second {
		t.Errorf("RetryConfig = %+v", rc)
	}
	if !c.UsesRedis() {
		t.Error("redis destination should use redis")
	}
}
