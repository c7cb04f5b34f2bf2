package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "jobledger.db", cfg.Store.DSN)
	assert.Equal(t, "jobledger:", cfg.Store.RedisPrefix)
	assert.Equal(t, "./bus", cfg.Jobs.Root)
	assert.Equal(t, 3*time.Second, cfg.Flow.ConnectTimeout)
	assert.Equal(t, 120*time.Second, cfg.Flow.RequestTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, "jobledger.yaml", `
store:
  backend: Postgres
  dsn: postgres://u:p@db/jobs
flow:
  url: http://flow:9000/
  request_timeout: 30s
log:
  format: json
`)
	t.Setenv("JOBLEDGER_LOG_LEVEL", "debug")
	t.Setenv("JOBLEDGER_JOBS_ROOT", "/srv/bus")

	cfg, err := Load(Options{ConfigFile: path})
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "postgres://u:p@db/jobs", cfg.Store.DSN)
	assert.Equal(t, "http://flow:9000", cfg.Flow.URL)
	assert.Equal(t, 30*time.Second, cfg.Flow.RequestTimeout)
	assert.Equal(t, 3*time.Second, cfg.Flow.ConnectTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/srv/bus", cfg.Jobs.Root)
}

func TestLoad_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	envFile := writeFile(t, "dev.env", "JOBLEDGER_STORE_BACKEND=memory\nJOBLEDGER_LOG_LEVEL=warn\n")
	t.Setenv("JOBLEDGER_LOG_LEVEL", "error")
	// godotenv sets variables process-wide; make sure this one is cleaned up.
	t.Setenv("JOBLEDGER_STORE_BACKEND", "")
	require.NoError(t, os.Unsetenv("JOBLEDGER_STORE_BACKEND"))
	t.Chdir(t.TempDir())

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	assert.NoError(t, err)
}

func TestLoad_MissingExplicitConfigFails(t *testing.T) {
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestLoad_UnknownBackend(t *testing.T) {
	path := writeFile(t, "jobledger.yaml", "store:\n  backend: cassandra\n")

	_, err := Load(Options{ConfigFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}

func TestValidate(t *testing.T) {
	var cfg Config
	cfg.Store.Backend = "postgres"
	assert.ErrorContains(t, cfg.Validate(), "store.dsn")

	cfg.Store.DSN = "postgres://x"
	assert.NoError(t, cfg.Validate())

	cfg.Flow.RequestTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}
