package config

const (
	StorageLocal = "local"
	StorageS3    = "s3"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendStore  = "store"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

const (
	defaultDataDir            = "~/.local/share/clipsafe"
	defaultTempDir            = "~/.local/share/clipsafe/tmp"
	defaultLogDir             = "~/.local/share/clipsafe/logs"
	defaultStorageRoot        = "~/.local/share/clipsafe/results"
	defaultResultTTLHours     = 24
	defaultJobsPerHour        = 5
	defaultMaxFileGB          = 2
	defaultMaxDurationHours   = 6
	defaultDraftTTLHours      = 24
	defaultHistoryLimit       = 20
	defaultS3Region           = "us-east-1"
	defaultPoolSize           = 2
	defaultPollInterval       = 2
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultMaxAttempts        = 2
	defaultSweepInterval      = 300
	defaultToolTimeoutBase    = 120
	defaultToolTimeoutFactor  = 3.0
	defaultToolTimeoutMax     = 7200
	defaultMinFreeMB          = 512
	defaultDownloadAttempts   = 3
	defaultRedisKey           = "clipsafe:jobs"
	defaultLimiterPrefix      = "clipsafe:ratelimit:"
	defaultAPIBind            = "127.0.0.1:8480"
	defaultRequestsPerSecond  = 10
	defaultBurst              = 20
	defaultMaxUploadMB        = 2048
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

var defaultRestrictedDomains = []string{"youtube.com", "youtu.be", "tiktok.com"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			TempDir: defaultTempDir,
			LogDir:  defaultLogDir,
		},
		Database: Database{
			Driver: DriverSQLite,
		},
		Storage: Storage{
			Backend:        StorageLocal,
			LocalRoot:      defaultStorageRoot,
			ResultTTLHours: defaultResultTTLHours,
		},
		S3: S3{
			Region: defaultS3Region,
		},
		Limits: Limits{
			JobsPerHour:       defaultJobsPerHour,
			MaxFileGB:         defaultMaxFileGB,
			MaxDurationHours:  defaultMaxDurationHours,
			RestrictedDomains: append([]string(nil), defaultRestrictedDomains...),
			DraftTTLHours:     defaultDraftTTLHours,
			HistoryLimit:      defaultHistoryLimit,
		},
		Worker: Worker{
			PoolSize:           defaultPoolSize,
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			MaxAttempts:        defaultMaxAttempts,
			SweepInterval:      defaultSweepInterval,
			ToolTimeoutBase:    defaultToolTimeoutBase,
			ToolTimeoutFactor:  defaultToolTimeoutFactor,
			ToolTimeoutMax:     defaultToolTimeoutMax,
			MinFreeMB:          defaultMinFreeMB,
			FFmpegBinary:       "ffmpeg",
			FFprobeBinary:      "ffprobe",
			DownloadAttempts:   defaultDownloadAttempts,
		},
		Queue: Queue{
			Backend:  BackendStore,
			RedisKey: defaultRedisKey,
		},
		Limiter: Limiter{
			Backend:   BackendMemory,
			KeyPrefix: defaultLimiterPrefix,
		},
		API: API{
			Bind:              defaultAPIBind,
			RequestsPerSecond: defaultRequestsPerSecond,
			Burst:             defaultBurst,
			MaxUploadMB:       defaultMaxUploadMB,
			Metrics:           true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
