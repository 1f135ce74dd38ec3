package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"clipsafe/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CLIPSAFE_DATA_DIR", "CLIPSAFE_DATABASE_DRIVER", "CLIPSAFE_DATABASE_DSN",
		"CLIPSAFE_STORAGE_BACKEND", "CLIPSAFE_PUBLIC_BASE_URL", "CLIPSAFE_LINK_SECRET",
		"CLIPSAFE_S3_ENDPOINT", "CLIPSAFE_S3_BUCKET", "CLIPSAFE_S3_ACCESS_KEY",
		"CLIPSAFE_S3_SECRET_KEY", "CLIPSAFE_S3_REGION", "AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY", "AWS_REGION", "CLIPSAFE_REDIS_URL",
		"CLIPSAFE_API_BIND", "CLIPSAFE_API_TOKEN", "CLIPSAFE_ALLOWED_DOMAINS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "clipsafe")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Database.DSN != filepath.Join(wantData, "clipsafe.db") {
		t.Fatalf("expected sqlite dsn under data dir, got %q", cfg.Database.DSN)
	}
	if cfg.ResultTTL() != 24*time.Hour {
		t.Fatalf("unexpected result ttl: %v", cfg.ResultTTL())
	}
	if cfg.Limits.JobsPerHour != 5 {
		t.Fatalf("unexpected jobs per hour: %d", cfg.Limits.JobsPerHour)
	}
	if cfg.MaxFileBytes() != 2*1024*1024*1024 {
		t.Fatalf("unexpected max file bytes: %d", cfg.MaxFileBytes())
	}
	if cfg.MaxDuration() != 6*time.Hour {
		t.Fatalf("unexpected max duration: %v", cfg.MaxDuration())
	}
	if len(cfg.Limits.RestrictedDomains) != 3 {
		t.Fatalf("expected default restricted domains, got %v", cfg.Limits.RestrictedDomains)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CLIPSAFE_DATABASE_DRIVER", "postgres")
	t.Setenv("CLIPSAFE_DATABASE_DSN", "postgres://u:p@localhost/clipsafe")
	t.Setenv("AWS_ACCESS_KEY_ID", "ak")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "sk")
	t.Setenv("CLIPSAFE_S3_BUCKET", "media")
	t.Setenv("CLIPSAFE_STORAGE_BACKEND", "s3")
	t.Setenv("CLIPSAFE_ALLOWED_DOMAINS", " Example.com ,www.cdn.example.org,")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.Database.Driver)
	}
	if cfg.S3.AccessKey != "ak" || cfg.S3.SecretKey != "sk" {
		t.Fatalf("expected AWS fallbacks, got %q/%q", cfg.S3.AccessKey, cfg.S3.SecretKey)
	}
	if cfg.Storage.Backend != config.StorageS3 || cfg.S3.Bucket != "media" {
		t.Fatalf("unexpected storage selection: %+v %+v", cfg.Storage, cfg.S3)
	}
	want := []string{"example.com", "cdn.example.org"}
	if strings.Join(cfg.Limits.AllowedDomains, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected allowed domains: %v", cfg.Limits.AllowedDomains)
	}
}

func TestLoadReadsTOMLFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "clipsafe.toml")

	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Worker.PoolSize = 7
	cfg.Limits.JobsPerHour = 9
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected file to be found at %q, got %q (exists=%v)", path, resolved, exists)
	}
	if loaded.Worker.PoolSize != 7 || loaded.Limits.JobsPerHour != 9 {
		t.Fatalf("values not loaded from file: %+v %+v", loaded.Worker, loaded.Limits)
	}
	if loaded.Paths.TempDir == "" || loaded.Storage.LocalRoot == "" {
		t.Fatal("expected derived directories to be populated")
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]func(*config.Config){
		"driver":    func(c *config.Config) { c.Database.Driver = "mysql" },
		"postgres":  func(c *config.Config) { c.Database.Driver = config.DriverPostgres; c.Database.DSN = "" },
		"backend":   func(c *config.Config) { c.Storage.Backend = "ftp" },
		"bucket":    func(c *config.Config) { c.Storage.Backend = config.StorageS3 },
		"heartbeat": func(c *config.Config) { c.Worker.HeartbeatTimeout = c.Worker.HeartbeatInterval },
		"redis":     func(c *config.Config) { c.Queue.Backend = config.BackendRedis },
		"format":    func(c *config.Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		cfg := config.Default()
		cfg.Storage.LocalRoot = "/tmp/results"
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}
