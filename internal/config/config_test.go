package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

var required = map[string]string{
	"JWT_SECRET":             "secret",
	"SKRUMBLE_CLIENT_ID":     "cid",
	"SKRUMBLE_CLIENT_SECRET": "csecret",
	"SKRUMBLE_EMAIL":         "bot@example.test",
	"SKRUMBLE_PASSWORD":      "pw",
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, envMap(required))
	require.NoError(t, err)

	assert.Equal(t, ":8083", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "skrumble.events", cfg.AMQP.Exchange)
	assert.Equal(t, "skrumble-relay", cfg.Telemetry.ServiceName)
	assert.Equal(t, 20*time.Second, cfg.Skrumble.ConnectTimeout)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
http_addr: ":9000"
log_level: warn
skrumble:
  api_host: file.example.test
  connect_timeout: 5s
database:
  dsn: postgres://file
amqp:
  url: amqp://file
`)

	env := map[string]string{FileEnv: path, "DB_DSN": "postgres://env", "AMQP_URL": "amqp://env"}
	for k, v := range required {
		env[k] = v
	}

	cfg, err := Load([]string{"--amqp-url", "amqp://flag"}, envMap(env))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr, "file overrides default")
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "file.example.test", cfg.Skrumble.APIHost)
	assert.Equal(t, 5*time.Second, cfg.Skrumble.ConnectTimeout)
	assert.Equal(t, "postgres://env", cfg.Database.DSN, "env overrides file")
	assert.Equal(t, "amqp://flag", cfg.AMQP.URL, "flag overrides env")
}

func TestLoadConfigFlagBeatsEnvPath(t *testing.T) {
	fromFlag := writeConfig(t, `http_addr: ":7001"`)
	env := map[string]string{FileEnv: "/does/not/exist.yaml"}
	for k, v := range required {
		env[k] = v
	}

	cfg, err := Load([]string{"--config", fromFlag}, envMap(env))
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.HTTPAddr)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(nil, envMap(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), "skrumble.password")

	_, err = Load([]string{"--config", "/does/not/exist.yaml"}, envMap(required))
	require.Error(t, err)

	bad := map[string]string{"DEBUG_ROUTES": "sometimes"}
	for k, v := range required {
		bad[k] = v
	}
	_, err = Load(nil, envMap(bad))
	require.ErrorContains(t, err, "DEBUG_ROUTES")

	_, err = Load([]string{"extra"}, envMap(required))
	require.ErrorContains(t, err, "unexpected argument")

	_, err = Load([]string{"--help"}, envMap(required))
	require.True(t, errors.Is(err, pflag.ErrHelp))
}

func TestLoadIssueTokenNeedsOnlySecret(t *testing.T) {
	cfg, err := Load([]string{"--issue-token", "ops", "--token-ttl", "1h"}, envMap(map[string]string{"JWT_SECRET": "s"}))
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.IssueToken)
	assert.Equal(t, time.Hour, cfg.TokenTTL)

	_, err = Load([]string{"--issue-token", "ops"}, envMap(nil))
	require.Error(t, err)
}

func TestUsageListsFlags(t *testing.T) {
	assert.Contains(t, Usage(), "--db-dsn")
}
