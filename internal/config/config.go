package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directories used by the daemon.
type Paths struct {
	DataDir string `toml:"data_dir"`
	TempDir string `toml:"temp_dir"`
	LogDir  string `toml:"log_dir"`
}

// Database selects the job store driver.
type Database struct {
	Driver string `toml:"driver"` // sqlite or postgres
	DSN    string `toml:"dsn"`
}

// Storage contains artifact storage settings shared by both backends.
type Storage struct {
	Backend        string `toml:"backend"` // local or s3
	LocalRoot      string `toml:"local_root"`
	PublicBaseURL  string `toml:"public_base_url"`
	ResultTTLHours int    `toml:"result_ttl_hours"`
	LinkSecret     string `toml:"link_secret"`
	LinkBaseURL    string `toml:"link_base_url"`
}

// S3 contains object storage connection settings.
type S3 struct {
	Endpoint     string `toml:"endpoint"`
	Bucket       string `toml:"bucket"`
	Region       string `toml:"region"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	PublicBase   string `toml:"public_base"`
	UsePathStyle bool   `toml:"use_path_style"`
	Presign      bool   `toml:"presign"`
}

// Limits contains per-user and per-source admission limits.
type Limits struct {
	JobsPerHour       int      `toml:"jobs_per_hour"`
	MaxFileGB         float64  `toml:"max_file_gb"`
	MaxDurationHours  float64  `toml:"max_duration_hours"`
	AllowedDomains    []string `toml:"allowed_domains"`
	RestrictedDomains []string `toml:"restricted_domains"`
	DraftTTLHours     int      `toml:"draft_ttl_hours"`
	HistoryLimit      int      `toml:"history_limit"`
}

// Worker contains execution loop timing and tool settings.
type Worker struct {
	PoolSize           int     `toml:"pool_size"`
	PollInterval       int     `toml:"poll_interval"`
	ErrorRetryInterval int     `toml:"error_retry_interval"`
	HeartbeatInterval  int     `toml:"heartbeat_interval"`
	HeartbeatTimeout   int     `toml:"heartbeat_timeout"`
	MaxAttempts        int     `toml:"max_attempts"`
	SweepInterval      int     `toml:"sweep_interval"`
	ToolTimeoutBase    int     `toml:"tool_timeout_base"`
	ToolTimeoutFactor  float64 `toml:"tool_timeout_factor"`
	ToolTimeoutMax     int     `toml:"tool_timeout_max"`
	MinFreeMB          int     `toml:"min_free_mb"`
	FFmpegBinary       string  `toml:"ffmpeg_binary"`
	FFprobeBinary      string  `toml:"ffprobe_binary"`
	DownloadAttempts   int     `toml:"download_attempts"`
}

// Queue selects the dispatch queue implementation.
type Queue struct {
	Backend  string `toml:"backend"` // store or redis
	RedisURL string `toml:"redis_url"`
	RedisKey string `toml:"redis_key"`
}

// Limiter selects where rate-limit windows are kept.
type Limiter struct {
	Backend   string `toml:"backend"` // memory or redis
	RedisURL  string `toml:"redis_url"`
	KeyPrefix string `toml:"key_prefix"`
}

// API contains HTTP adapter settings.
type API struct {
	Bind              string  `toml:"bind"`
	Token             string  `toml:"token"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	MaxUploadMB       int     `toml:"max_upload_mb"`
	Metrics           bool    `toml:"metrics"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for clipsafe.
//
// Configuration sections by subsystem:
//   - Paths: data, scratch, and log directories
//   - Database: job store driver and DSN
//   - Storage/S3: artifact backend selection, public links, TTL
//   - Limits: rate cap, size and duration ceilings, domain policy
//   - Worker: pool size, heartbeats, reclaim, sweep, tool timeouts
//   - Queue/Limiter: optional Redis acceleration
//   - API: HTTP adapter bind address and throttling
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Database Database `toml:"database"`
	Storage  Storage  `toml:"storage"`
	S3       S3       `toml:"s3"`
	Limits   Limits   `toml:"limits"`
	Worker   Worker   `toml:"worker"`
	Queue    Queue    `toml:"queue"`
	Limiter  Limiter  `toml:"limiter"`
	API      API      `toml:"api"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/clipsafe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clipsafe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.TempDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.LocalRoot)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ResultTTL returns the fixed lifetime of produced artifacts.
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.Storage.ResultTTLHours) * time.Hour
}

// DraftTTL returns how long an unsubmitted draft survives before it is cancelled.
func (c *Config) DraftTTL() time.Duration {
	return time.Duration(c.Limits.DraftTTLHours) * time.Hour
}

// MaxFileBytes converts the configured size ceiling to bytes.
func (c *Config) MaxFileBytes() int64 {
	return int64(c.Limits.MaxFileGB * 1024 * 1024 * 1024)
}

// MaxDuration converts the configured duration ceiling.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Limits.MaxDurationHours * float64(time.Hour))
}

// LockPath returns the single-instance lock file for the data directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "clipsafe.lock")
}

// SweepLockPath returns the host-wide lock serializing TTL sweeps.
func (c *Config) SweepLockPath() string {
	return filepath.Join(c.Paths.DataDir, "sweep.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
