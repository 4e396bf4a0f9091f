// Package config loads the settings shared by workflowctl and hosts that
// embed a runner: logging, telemetry, runner options, the plugin HTTP
// transport, the snapshot store and vendor endpoints.
//
// Values come from a YAML file, then WORKFLOW_* environment variables, then
// any command-line flags bound on the viper instance given to LoadFrom.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amp-labs/workflow-core/http/transport"
	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/plugins"
	"github.com/amp-labs/workflow-core/store"
	"github.com/amp-labs/workflow-core/telemetry"
	"github.com/amp-labs/workflow-core/workflow"
	"github.com/spf13/viper"
)

// Store kinds.
const (
	StoreNone   = "none"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const envPrefix = "WORKFLOW"

// envBindings keeps the short variable names hosts already set. Keys present
// in the file can also be overridden with WORKFLOW_<SECTION>_<KEY>.
var envBindings = map[string]string{
	"logging.json":            "WORKFLOW_LOG_JSON",
	"logging.level":           "WORKFLOW_LOG_LEVEL",
	"telemetry.enabled":       "WORKFLOW_TELEMETRY_ENABLED",
	"telemetry.serviceName":   "WORKFLOW_TELEMETRY_SERVICE_NAME",
	"telemetry.environment":   "WORKFLOW_TELEMETRY_ENVIRONMENT",
	"telemetry.endpoint":      "WORKFLOW_TELEMETRY_ENDPOINT",
	"telemetry.timeout":       "WORKFLOW_TELEMETRY_TIMEOUT",
	"runner.debug":            "WORKFLOW_DEBUG",
	"runner.maxCallbackDepth": "WORKFLOW_MAX_CALLBACK_DEPTH",
	"http.timeout":            "WORKFLOW_HTTP_TIMEOUT",
	"http.maxRetries":         "WORKFLOW_HTTP_MAX_RETRIES",
	"http.dnsCache":           "WORKFLOW_HTTP_DNS_CACHE",
	"http.dnsCacheRefresh":    "WORKFLOW_HTTP_DNS_CACHE_REFRESH",
	"store.kind":              "WORKFLOW_STORE_KIND",
	"store.redisAddr":         "WORKFLOW_REDIS_ADDR",
	"store.redisPassword":     "WORKFLOW_REDIS_PASSWORD",
	"store.redisDB":           "WORKFLOW_REDIS_DB",
	"store.prefix":            "WORKFLOW_STORE_PREFIX",
	"store.ttl":               "WORKFLOW_STORE_TTL",
	"vendors.unifiedApiUrl":   "WORKFLOW_UNIFIED_API_URL",
	"vendors.emailApiUrl":     "WORKFLOW_EMAIL_API_URL",
}

// Config is the root of the configuration file.
type Config struct {
	Logging   Logging          `yaml:"logging" mapstructure:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry" mapstructure:"telemetry"`
	Runner    Runner           `yaml:"runner" mapstructure:"runner"`
	HTTP      transport.Config `yaml:"http" mapstructure:"http"`
	Store     Store            `yaml:"store" mapstructure:"store"`
	Vendors   Vendors          `yaml:"vendors" mapstructure:"vendors"`
}

type Logging struct {
	JSON  bool   `yaml:"json" mapstructure:"json"`
	Level string `yaml:"level" mapstructure:"level"`
}

type Runner struct {
	Debug            bool `yaml:"debug" mapstructure:"debug"`
	MaxCallbackDepth int  `yaml:"maxCallbackDepth" mapstructure:"maxCallbackDepth"`
}

type Store struct {
	Kind          string        `yaml:"kind" mapstructure:"kind"`
	RedisAddr     string        `yaml:"redisAddr" mapstructure:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword" mapstructure:"redisPassword"`
	RedisDB       int           `yaml:"redisDB" mapstructure:"redisDB"`
	Prefix        string        `yaml:"prefix" mapstructure:"prefix"`
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

type Vendors struct {
	UnifiedAPIURL string `yaml:"unifiedApiUrl" mapstructure:"unifiedApiUrl"`
	EmailAPIURL   string `yaml:"emailApiUrl" mapstructure:"emailApiUrl"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logging:   Logging{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
		HTTP:      transport.DefaultConfig(),
		Store:     Store{Kind: StoreMemory},
	}
}

// Load reads path (if not empty) over the defaults and applies environment
// overrides.
func Load(path string) (Config, error) {
	return LoadFrom(viper.New(), path)
}

// LoadFrom is Load on a caller-owned viper instance, typically one with
// command-line flags bound to configuration keys. Precedence, highest first:
// changed flags, environment, the file, defaults.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	cfg := Default()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, name := range envBindings {
		if err := v.BindEnv(key, name); err != nil {
			return cfg, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.UnmarshalExact(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks values the YAML decoder cannot.
func (c Config) Validate() error {
	switch c.Store.Kind {
	case StoreNone, StoreMemory:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("%w: store.redisAddr is required for the redis store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store kind %q", ErrInvalidConfig, c.Store.Kind)
	}

	if c.Runner.MaxCallbackDepth < 0 {
		return fmt.Errorf("%w: runner.maxCallbackDepth must not be negative", ErrInvalidConfig)
	}

	return nil
}

// LoggerOptions maps the logging section onto logger options.
func (c Config) LoggerOptions(subsystem string) logger.Options {
	return logger.Options{
		Subsystem: subsystem,
		JSON:      c.Logging.JSON,
		MinLevel:  logger.ParseLevel(c.Logging.Level),
	}
}

// VendorEndpoints maps the vendors section onto plugin endpoints.
func (c Config) VendorEndpoints() plugins.VendorEndpoints {
	return plugins.VendorEndpoints{
		UnifiedAPIURL: c.Vendors.UnifiedAPIURL,
		EmailAPIURL:   c.Vendors.EmailAPIURL,
	}
}

// RunnerOptions returns the runner options the runner and store sections
// describe. s may be nil.
func (c Config) RunnerOptions(s store.Store) []workflow.Option {
	opts := []workflow.Option{
		workflow.WithDebugMode(c.Runner.Debug),
		workflow.WithMaxCallbackDepth(c.Runner.MaxCallbackDepth),
	}

	if s != nil {
		opts = append(opts, workflow.WithStore(s))
	}

	return opts
}

// Open builds the configured store. It returns nil for StoreNone. The
// redis store must be closed by the caller.
func (s Store) Open() (store.Store, error) { //nolint:ireturn
	var opts []store.RedisOption

	if s.Prefix != "" {
		opts = append(opts, store.WithPrefix(s.Prefix))
	}

	if s.TTL > 0 {
		opts = append(opts, store.WithTTL(s.TTL))
	}

	switch s.Kind {
	case StoreNone:
		return nil, nil //nolint:nilnil
	case StoreMemory, "":
		return store.NewMemory(), nil
	case StoreRedis:
		return store.NewRedis(s.RedisAddr, s.RedisPassword, s.RedisDB, opts...), nil
	default:
		return nil, fmt.Errorf("%w: unknown store kind %q", ErrInvalidConfig, s.Kind)
	}
}
