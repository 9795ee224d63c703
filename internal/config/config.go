// Package config loads daemon settings from flowstate.yaml, .env files and
// FLOWSTATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FLOWSTATE_HTTP_ADDR.
const EnvPrefix = "FLOWSTATE"

// Config holds the configuration of the daemon.
type Config struct {
	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Storage struct {
		// Driver is one of memory, sqlite, postgres, redis, mongo.
		Driver string `mapstructure:"driver"`
		// DSN is a file path for sqlite and a connection string for postgres.
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"storage"`

	Queue struct {
		// Driver is memory or redis.
		Driver   string `mapstructure:"driver"`
		Capacity int    `mapstructure:"capacity"`
		// Workers above 1 apply events concurrently and give up per-flow
		// ordering: a start and the progress after it may be applied out of
		// queue order, and events without a timestamp are stamped in
		// apply order.
		Workers int `mapstructure:"workers"`
	} `mapstructure:"queue"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	Ingest struct {
		// Transport is sse, websocket or empty to disable ingest.
		Transport      string        `mapstructure:"transport"`
		URL            string        `mapstructure:"url"`
		Flow           string        `mapstructure:"flow"`
		ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	} `mapstructure:"ingest"`

	Catalog struct {
		URL          string        `mapstructure:"url"`
		RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	} `mapstructure:"catalog"`

	HistoryLimit int `mapstructure:"history_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.workers", 1)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "flowstate:")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "flowstate")
	v.SetDefault("ingest.transport", "")
	v.SetDefault("ingest.url", "")
	v.SetDefault("ingest.flow", "")
	v.SetDefault("ingest.reconnect_delay", 2*time.Second)
	v.SetDefault("catalog.url", "")
	v.SetDefault("catalog.retry_backoff", 1500*time.Millisecond)
	v.SetDefault("history_limit", 50)
}

// Load reads the configuration. configFile may be empty, in which case
// flowstate.yaml is looked up in the working directory and ./config; a
// missing file is not an error. envFile names a dotenv file loaded into the
// process environment first; when empty, ./.env is loaded if present.
func Load(configFile, envFile string) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("flowstate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load()
	}
	return nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "memory", "redis", "mongo":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for %s", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch c.Queue.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown queue.driver %q", c.Queue.Driver))
	}
	if c.Queue.Workers < 1 {
		errs = append(errs, errors.New("queue.workers must be at least 1"))
	}

	switch c.Ingest.Transport {
	case "":
	case "sse", "websocket":
		if c.Ingest.URL == "" {
			errs = append(errs, errors.New("ingest.url is required when ingest.transport is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ingest.transport %q", c.Ingest.Transport))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
