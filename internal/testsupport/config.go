package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"clipsafe/internal/config"
)

// PostgresDSNEnv names the variable that enables Postgres-backed tests.
const PostgresDSNEnv = "CLIPSAFE_TEST_POSTGRES_DSN"

// RedisURLEnv names the variable that enables Redis-backed tests.
const RedisURLEnv = "CLIPSAFE_TEST_REDIS_URL"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.TempDir = filepath.Join(base, "tmp")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Storage.LocalRoot = filepath.Join(base, "results")
	cfgVal.Database.Driver = config.DriverSQLite
	cfgVal.Database.DSN = filepath.Join(base, "data", "clipsafe.db")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Worker.PollInterval = 1
	cfgVal.Worker.ErrorRetryInterval = 1
	cfgVal.Worker.HeartbeatInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithJobsPerHour overrides the per-user admission cap.
func WithJobsPerHour(limit int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Limits.JobsPerHour = limit
	}
}

// WithPublicBaseURL makes the local backend return public links.
func WithPublicBaseURL(base string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.PublicBaseURL = base
	}
}

// WithSignedLinks enables JWT download links for the local backend.
func WithSignedLinks(secret, baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.LinkSecret = secret
		b.cfg.Storage.LinkBaseURL = baseURL
	}
}

// WithPostgresFromEnv points the store at the database named by
// CLIPSAFE_TEST_POSTGRES_DSN and skips the test when it is unset.
func WithPostgresFromEnv() ConfigOption {
	return func(b *configBuilder) {
		dsn := os.Getenv(PostgresDSNEnv)
		if dsn == "" {
			b.t.Skipf("%s not set", PostgresDSNEnv)
		}
		b.cfg.Database.Driver = config.DriverPostgres
		b.cfg.Database.DSN = dsn
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteScript(b.t, binDir, name, "exit 0\n")
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// WithToolScripts installs ffmpeg and ffprobe shell scripts with the given
// bodies and points the worker config at them.
func WithToolScripts(ffmpegBody, ffprobeBody string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		b.cfg.Worker.FFmpegBinary = WriteScript(b.t, binDir, "ffmpeg", ffmpegBody)
		b.cfg.Worker.FFprobeBinary = WriteScript(b.t, binDir, "ffprobe", ffprobeBody)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
