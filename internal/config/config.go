// Package config loads the jobledger configuration from an optional YAML
// file, an optional dotenv file and JOBLEDGER_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. JOBLEDGER_STORE_DSN.
const EnvPrefix = "JOBLEDGER"

// Backends lists the supported store.backend values.
var Backends = []string{"memory", "sqlite", "postgres", "redis", "mongo"}

// Config holds the configuration for the application.
type Config struct {
	Store struct {
		Backend       string `mapstructure:"backend"`
		DSN           string `mapstructure:"dsn"`
		RedisAddr     string `mapstructure:"redis_addr"`
		RedisPrefix   string `mapstructure:"redis_prefix"`
		MongoURI      string `mapstructure:"mongo_uri"`
		MongoDatabase string `mapstructure:"mongo_database"`
	} `mapstructure:"store"`
	Jobs struct {
		// Root is the bus root; job directories live under <root>/jobs.
		Root string `mapstructure:"root"`
	} `mapstructure:"jobs"`
	Flow struct {
		URL            string        `mapstructure:"url"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"flow"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// Options selects the files Load reads. Both are optional.
type Options struct {
	// ConfigFile is a YAML file. When empty, jobledger.yaml is looked up
	// in the working directory and ./config, and a missing file is fine.
	ConfigFile string
	// EnvFile is a dotenv file. Variables already set in the process
	// environment win over it. A missing file is ignored.
	EnvFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.dsn", "jobledger.db")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_prefix", "jobledger:")
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo_database", "jobledger")
	v.SetDefault("jobs.root", "./bus")
	v.SetDefault("flow.url", "http://127.0.0.1:18081")
	v.SetDefault("flow.connect_timeout", 3*time.Second)
	v.SetDefault("flow.request_timeout", 120*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("jobledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Flow.URL = strings.TrimRight(strings.TrimSpace(cfg.Flow.URL), "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if !slices.Contains(Backends, c.Store.Backend) {
		return fmt.Errorf("config: unknown store.backend %q (want one of %s)",
			c.Store.Backend, strings.Join(Backends, ", "))
	}
	if (c.Store.Backend == "sqlite" || c.Store.Backend == "postgres") && c.Store.DSN == "" {
		return fmt.Errorf("config: store.dsn is required for the %s backend", c.Store.Backend)
	}
	if c.Flow.ConnectTimeout < 0 || c.Flow.RequestTimeout < 0 {
		return errors.New("config: flow timeouts must not be negative")
	}
	return nil
}
