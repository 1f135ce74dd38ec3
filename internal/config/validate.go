package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateRedis(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
		return nil
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required when database.driver = \"postgres\" (or set CLIPSAFE_DATABASE_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("database.driver: unsupported value %q (want sqlite or postgres)", c.Database.Driver)
	}
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.LocalRoot == "" {
			return errors.New("storage.local_root must be set for the local backend")
		}
	case StorageS3:
		if c.S3.Bucket == "" {
			return errors.New("s3.bucket is required when storage.backend = \"s3\"")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			return errors.New("s3.access_key and s3.secret_key must be set together")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (want local or s3)", c.Storage.Backend)
	}
	if c.Storage.LinkBaseURL != "" && c.Storage.LinkSecret == "" {
		return errors.New("storage.link_secret is required when storage.link_base_url is set")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.HeartbeatTimeout <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker.heartbeat_timeout (%ds) must exceed worker.heartbeat_interval (%ds)",
			c.Worker.HeartbeatTimeout, c.Worker.HeartbeatInterval)
	}
	if c.Worker.ToolTimeoutMax < c.Worker.ToolTimeoutBase {
		return fmt.Errorf("worker.tool_timeout_max (%ds) must be >= worker.tool_timeout_base (%ds)",
			c.Worker.ToolTimeoutMax, c.Worker.ToolTimeoutBase)
	}
	return nil
}

func (c *Config) validateRedis() error {
	switch c.Queue.Backend {
	case BackendStore:
	case BackendRedis:
		if c.Queue.RedisURL == "" {
			return errors.New("queue.redis_url is required when queue.backend = \"redis\" (or set CLIPSAFE_REDIS_URL)")
		}
	default:
		return fmt.Errorf("queue.backend: unsupported value %q (want store or redis)", c.Queue.Backend)
	}
	switch c.Limiter.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Limiter.RedisURL == "" {
			return errors.New("limiter.redis_url is required when limiter.backend = \"redis\"")
		}
	default:
		return fmt.Errorf("limiter.backend: unsupported value %q (want memory or redis)", c.Limiter.Backend)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
