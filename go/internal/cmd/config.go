package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/PTMAbellana/polegion/go/internal/competition/attempt"
	"github.com/PTMAbellana/polegion/go/internal/competition/events"
	"github.com/PTMAbellana/polegion/go/internal/dbconfig"
)

const (
	driverPostgres = "postgres"
	driverMemory   = "memory"
	driverNATS     = "nats"
	driverLocal    = "local"
	driverRedis    = "redis"
)

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`

	Bus struct {
		Driver        string `yaml:"driver"`
		NATSURL       string `yaml:"nats_url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"bus"`

	Cache struct {
		Driver        string `yaml:"driver"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		TTLSec        int    `yaml:"ttl_sec"`
	} `yaml:"cache"`

	Submissions struct {
		LateToleranceSec int    `yaml:"late_tolerance_sec"`
		LatePolicy       string `yaml:"late_policy"`
		TimingMode       string `yaml:"timing_mode"`
	} `yaml:"submissions"`

	FollowUps struct {
		Workers int `yaml:"workers"`
		Queue   int `yaml:"queue"`
	} `yaml:"followups"`

	Outbox struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"outbox"`

	Database dbconfig.Config `yaml:"-"`
}

func defaultConfig() *Config {
	cfg := &Config{Port: "8080", LogLevel: "info"}
	cfg.Storage.Driver = driverPostgres
	cfg.Bus.Driver = driverNATS
	cfg.Bus.NATSURL = "nats://localhost:4222"
	cfg.Bus.SubjectPrefix = events.DefaultTopicPrefix
	cfg.Cache.Driver = driverRedis
	cfg.Cache.RedisAddr = "localhost:6379"
	cfg.Cache.TTLSec = 3600
	cfg.Submissions.LateToleranceSec = 5
	cfg.Submissions.LatePolicy = string(attempt.LatePolicyFlag)
	cfg.Submissions.TimingMode = string(attempt.TimingClient)
	cfg.FollowUps.Workers = 4
	cfg.FollowUps.Queue = 256
	cfg.Outbox.Enabled = true
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// loadConfig reads the YAML file at path, then applies environment overrides.
// A missing file leaves the defaults in place.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()
	config.Database = dbconfig.NewConfigFromEnv()

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Bus.Driver = getEnv("BUS_DRIVER", c.Bus.Driver)
	c.Bus.NATSURL = getEnv("NATS_URL", c.Bus.NATSURL)
	c.Bus.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.Bus.SubjectPrefix)
	c.Cache.Driver = getEnv("CACHE_DRIVER", c.Cache.Driver)
	c.Cache.RedisAddr = getEnv("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getEnv("REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Submissions.LateToleranceSec = getEnvAsInt("LATE_TOLERANCE_SEC", c.Submissions.LateToleranceSec)
	c.Submissions.LatePolicy = getEnv("LATE_POLICY", c.Submissions.LatePolicy)
	c.Submissions.TimingMode = getEnv("TIMING_MODE", c.Submissions.TimingMode)
	c.FollowUps.Workers = getEnvAsInt("FOLLOWUP_WORKERS", c.FollowUps.Workers)
	c.FollowUps.Queue = getEnvAsInt("FOLLOWUP_QUEUE", c.FollowUps.Queue)
	c.Outbox.Enabled = getEnvAsBool("OUTBOX_ENABLED", c.Outbox.Enabled)
}

func (c *Config) validate() error {
	if err := oneOf("storage driver", c.Storage.Driver, driverPostgres, driverMemory); err != nil {
		return err
	}
	if err := oneOf("bus driver", c.Bus.Driver, driverNATS, driverLocal); err != nil {
		return err
	}
	if err := oneOf("cache driver", c.Cache.Driver, driverRedis, driverMemory); err != nil {
		return err
	}
	if err := oneOf("late policy", c.Submissions.LatePolicy, string(attempt.LatePolicyFlag), string(attempt.LatePolicyReject)); err != nil {
		return err
	}
	if err := oneOf("timing mode", c.Submissions.TimingMode, string(attempt.TimingClient), string(attempt.TimingServer)); err != nil {
		return err
	}
	if c.Submissions.LateToleranceSec < 0 {
		return fmt.Errorf("late tolerance cannot be negative, got %d", c.Submissions.LateToleranceSec)
	}
	if c.Bus.SubjectPrefix == "" {
		return errors.New("bus subject prefix is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// outboxEnabled reports whether lifecycle events go through the durable outbox.
// The outbox lives in Postgres, so it is off for the memory store.
func (c *Config) outboxEnabled() bool {
	return c.Outbox.Enabled && c.Storage.Driver == driverPostgres
}

func (c *Config) pipelineConfig() attempt.Config {
	cfg := attempt.DefaultConfig()
	cfg.LatePolicy = attempt.LatePolicy(c.Submissions.LatePolicy)
	cfg.LateTolerance = time.Duration(c.Submissions.LateToleranceSec) * time.Second
	cfg.TimingMode = attempt.TimingMode(c.Submissions.TimingMode)
	return cfg
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q, want one of %s", name, value, strings.Join(allowed, ", "))
}
