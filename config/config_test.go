package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amp-labs/workflow-core/store"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, values map[string]string) {
	t.Helper()

	for key, value := range values {
		t.Setenv(key, value)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, StoreMemory, cfg.Store.Kind)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Positive(t, cfg.HTTP.Timeout)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
logging:
  json: true
  level: debug
telemetry:
  enabled: true
  serviceName: kyb-runner
  endpoint: http://collector:4318
runner:
  debug: true
  maxCallbackDepth: 16
http:
  timeout: 10s
  maxRetries: 2
  dialTimeout: 1s
store:
  kind: redis
  redisAddr: localhost:6379
  prefix: "kyb:"
  ttl: 24h
vendors:
  unifiedApiUrl: https://unified.test
`)

	setEnv(t, map[string]string{
		"WORKFLOW_LOG_LEVEL":          "warn",
		"WORKFLOW_MAX_CALLBACK_DEPTH": "4",
		"WORKFLOW_HTTP_MAX_RETRIES":   "0",
		"WORKFLOW_HTTP_DIALTIMEOUT":   "3s",
		"WORKFLOW_EMAIL_API_URL":      "https://mail.test",
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "kyb-runner", cfg.Telemetry.ServiceName)
	assert.Equal(t, "1.0.0", cfg.Telemetry.ServiceVersion)
	assert.True(t, cfg.Runner.Debug)
	assert.Equal(t, 4, cfg.Runner.MaxCallbackDepth)
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, uint(0), cfg.HTTP.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.HTTP.DialTimeout)
	assert.Equal(t, Store{Kind: StoreRedis, RedisAddr: "localhost:6379", Prefix: "kyb:", TTL: 24 * time.Hour}, cfg.Store)
	assert.Equal(t, "https://unified.test", cfg.VendorEndpoints().UnifiedAPIURL)
	assert.Equal(t, "https://mail.test", cfg.VendorEndpoints().EmailAPIURL)

	opts := cfg.LoggerOptions("workflowctl")
	assert.Equal(t, "workflowctl", opts.Subsystem)
	assert.True(t, opts.JSON)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("WORKFLOW_LOG_LEVEL", "warn")
	t.Setenv("WORKFLOW_DEBUG", "true")

	flags := pflag.NewFlagSet("workflowctl", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.Bool("debug", false, "")
	require.NoError(t, flags.Parse([]string{"--log-level", "error"}))

	v := viper.New()
	require.NoError(t, v.BindPFlag("logging.level", flags.Lookup("log-level")))
	require.NoError(t, v.BindPFlag("runner.debug", flags.Lookup("debug")))

	cfg, err := LoadFrom(v, writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.True(t, cfg.Runner.Debug, "an unchanged flag must not hide the environment")
}

func TestLoadErrors(t *testing.T) {

	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr error
	}{
		{
			name: "unknown field",
			body: "runner:\n  verbose: true\n",
		},
		{
			name:    "bad env value",
			env:     map[string]string{"WORKFLOW_DEBUG": "sometimes"},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "redis without address",
			body:    "store:\n  kind: redis\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "unknown store",
			env:     map[string]string{"WORKFLOW_STORE_KIND": "etcd"},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "negative depth",
			env:     map[string]string{"WORKFLOW_MAX_CALLBACK_DEPTH": "-1"},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)

			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}

			_, err := Load(path)
			require.Error(t, err)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	none, err := Store{Kind: StoreNone}.Open()
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Len(t, Default().RunnerOptions(none), 2)

	memory, err := Store{Kind: StoreMemory}.Open()
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, memory)
	assert.Len(t, Default().RunnerOptions(memory), 3)

	srv := miniredis.RunT(t)

	redis, err := Store{Kind: StoreRedis, RedisAddr: srv.Addr(), Prefix: "test:", TTL: time.Minute}.Open()
	require.NoError(t, err)

	t.Cleanup(func() { _ = redis.(*store.Redis).Close() })

	ctx := context.Background()
	require.NoError(t, redis.Save(ctx, "wf-1", store.Record{State: "review"}))
	assert.True(t, srv.Exists("test:wf-1"))
	assert.Equal(t, time.Minute, srv.TTL("test:wf-1"))

	_, err = Store{Kind: "etcd"}.Open()
	require.ErrorIs(t, err, ErrInvalidConfig)
}
