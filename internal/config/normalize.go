package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDatabase()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeS3()
	c.normalizeLimits()
	c.normalizeWorker()
	c.normalizeRedis()
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if value, ok := lookupEnv("CLIPSAFE_DATA_DIR"); ok {
		c.Paths.DataDir = value
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = filepath.Join(c.Paths.DataDir, "tmp")
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDatabase() {
	if value, ok := lookupEnv("CLIPSAFE_DATABASE_DRIVER"); ok {
		c.Database.Driver = value
	}
	if value, ok := lookupEnv("CLIPSAFE_DATABASE_DSN"); ok {
		c.Database.DSN = value
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" || c.Database.Driver == "sqlite3" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == "pgx" || c.Database.Driver == "postgresql" {
		c.Database.Driver = DriverPostgres
	}
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	if c.Database.DSN == "" && c.Database.Driver == DriverSQLite {
		c.Database.DSN = filepath.Join(c.Paths.DataDir, "clipsafe.db")
	}
}

func (c *Config) normalizeStorage() error {
	var err error
	if value, ok := lookupEnv("CLIPSAFE_STORAGE_BACKEND"); ok {
		c.Storage.Backend = value
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	if strings.TrimSpace(c.Storage.LocalRoot) == "" {
		c.Storage.LocalRoot = filepath.Join(c.Paths.DataDir, "results")
	}
	if c.Storage.LocalRoot, err = expandPath(c.Storage.LocalRoot); err != nil {
		return fmt.Errorf("storage.local_root: %w", err)
	}
	if value, ok := lookupEnv("CLIPSAFE_PUBLIC_BASE_URL"); ok {
		c.Storage.PublicBaseURL = value
	}
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")
	if value, ok := lookupEnv("CLIPSAFE_LINK_SECRET"); ok {
		c.Storage.LinkSecret = value
	}
	c.Storage.LinkSecret = strings.TrimSpace(c.Storage.LinkSecret)
	c.Storage.LinkBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.LinkBaseURL), "/")
	if c.Storage.ResultTTLHours <= 0 {
		c.Storage.ResultTTLHours = defaultResultTTLHours
	}
	return nil
}

func (c *Config) normalizeS3() {
	if value, ok := lookupEnv("CLIPSAFE_S3_ENDPOINT"); ok {
		c.S3.Endpoint = value
	}
	if value, ok := lookupEnv("CLIPSAFE_S3_BUCKET"); ok {
		c.S3.Bucket = value
	}
	if c.S3.AccessKey == "" {
		c.S3.AccessKey = firstEnv("CLIPSAFE_S3_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	}
	if c.S3.SecretKey == "" {
		c.S3.SecretKey = firstEnv("CLIPSAFE_S3_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
	}
	if value := firstEnv("CLIPSAFE_S3_REGION", "AWS_REGION"); value != "" {
		c.S3.Region = value
	}
	c.S3.Endpoint = strings.TrimRight(strings.TrimSpace(c.S3.Endpoint), "/")
	c.S3.Bucket = strings.TrimSpace(c.S3.Bucket)
	c.S3.AccessKey = strings.TrimSpace(c.S3.AccessKey)
	c.S3.SecretKey = strings.TrimSpace(c.S3.SecretKey)
	c.S3.PublicBase = strings.TrimRight(strings.TrimSpace(c.S3.PublicBase), "/")
	c.S3.Region = strings.TrimSpace(c.S3.Region)
	if c.S3.Region == "" {
		c.S3.Region = defaultS3Region
	}
}

func (c *Config) normalizeLimits() {
	if c.Limits.JobsPerHour <= 0 {
		c.Limits.JobsPerHour = defaultJobsPerHour
	}
	if c.Limits.MaxFileGB <= 0 {
		c.Limits.MaxFileGB = defaultMaxFileGB
	}
	if c.Limits.MaxDurationHours <= 0 {
		c.Limits.MaxDurationHours = defaultMaxDurationHours
	}
	if c.Limits.DraftTTLHours <= 0 {
		c.Limits.DraftTTLHours = defaultDraftTTLHours
	}
	if c.Limits.HistoryLimit <= 0 {
		c.Limits.HistoryLimit = defaultHistoryLimit
	}
	if value, ok := lookupEnv("CLIPSAFE_ALLOWED_DOMAINS"); ok {
		c.Limits.AllowedDomains = strings.Split(value, ",")
	}
	c.Limits.AllowedDomains = normalizeDomains(c.Limits.AllowedDomains)
	c.Limits.RestrictedDomains = normalizeDomains(c.Limits.RestrictedDomains)
}

func (c *Config) normalizeWorker() {
	w := &c.Worker
	if w.PoolSize <= 0 {
		w.PoolSize = defaultPoolSize
	}
	if w.PollInterval <= 0 {
		w.PollInterval = defaultPollInterval
	}
	if w.ErrorRetryInterval <= 0 {
		w.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if w.HeartbeatInterval <= 0 {
		w.HeartbeatInterval = defaultHeartbeatInterval
	}
	if w.HeartbeatTimeout <= 0 {
		w.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = defaultMaxAttempts
	}
	if w.SweepInterval <= 0 {
		w.SweepInterval = defaultSweepInterval
	}
	if w.ToolTimeoutBase <= 0 {
		w.ToolTimeoutBase = defaultToolTimeoutBase
	}
	if w.ToolTimeoutFactor <= 0 {
		w.ToolTimeoutFactor = defaultToolTimeoutFactor
	}
	if w.ToolTimeoutMax <= 0 {
		w.ToolTimeoutMax = defaultToolTimeoutMax
	}
	if w.MinFreeMB < 0 {
		w.MinFreeMB = 0
	}
	if w.DownloadAttempts <= 0 {
		w.DownloadAttempts = defaultDownloadAttempts
	}
	w.FFmpegBinary = strings.TrimSpace(w.FFmpegBinary)
	if w.FFmpegBinary == "" {
		w.FFmpegBinary = "ffmpeg"
	}
	w.FFprobeBinary = strings.TrimSpace(w.FFprobeBinary)
	if w.FFprobeBinary == "" {
		w.FFprobeBinary = "ffprobe"
	}
}

func (c *Config) normalizeRedis() {
	redisURL := strings.TrimSpace(os.Getenv("CLIPSAFE_REDIS_URL"))
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = BackendStore
	}
	if c.Queue.RedisURL == "" {
		c.Queue.RedisURL = redisURL
	}
	c.Queue.RedisURL = strings.TrimSpace(c.Queue.RedisURL)
	if strings.TrimSpace(c.Queue.RedisKey) == "" {
		c.Queue.RedisKey = defaultRedisKey
	}

	c.Limiter.Backend = strings.ToLower(strings.TrimSpace(c.Limiter.Backend))
	if c.Limiter.Backend == "" {
		c.Limiter.Backend = BackendMemory
	}
	if c.Limiter.RedisURL == "" {
		c.Limiter.RedisURL = c.Queue.RedisURL
	}
	c.Limiter.RedisURL = strings.TrimSpace(c.Limiter.RedisURL)
	if strings.TrimSpace(c.Limiter.KeyPrefix) == "" {
		c.Limiter.KeyPrefix = defaultLimiterPrefix
	}
}

func (c *Config) normalizeAPI() {
	if value, ok := lookupEnv("CLIPSAFE_API_BIND"); ok {
		c.API.Bind = value
	}
	if value, ok := lookupEnv("CLIPSAFE_API_TOKEN"); ok {
		c.API.Token = value
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.RequestsPerSecond <= 0 {
		c.API.RequestsPerSecond = defaultRequestsPerSecond
	}
	if c.API.Burst <= 0 {
		c.API.Burst = defaultBurst
	}
	if c.API.MaxUploadMB <= 0 {
		c.API.MaxUploadMB = defaultMaxUploadMB
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func normalizeDomains(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		domain := strings.ToLower(strings.TrimSpace(value))
		domain = strings.TrimPrefix(domain, ".")
		domain = strings.TrimPrefix(domain, "www.")
		if domain == "" {
			continue
		}
		if _, ok := seen[domain]; ok {
			continue
		}
		seen[domain] = struct{}{}
		out = append(out, domain)
	}
	return out
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value, ok := lookupEnv(key); ok {
			return value
		}
	}
	return ""
}
