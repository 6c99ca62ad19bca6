package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
store:
  backend: memory
auth:
  keycloak:
    url: ${TEST_KEYCLOAK_URL}
    realm: transcript
    client_id: mobile
realtime:
  url: ws://localhost:8000/ws
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("TEST_KEYCLOAK_URL", "http://kc.local")
	t.Setenv("KEYCLOAK_CLIENT_SECRET", "s3cret")

	cfg, err := LoadFromFile(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://kc.local", cfg.Auth.Keycloak.URL)
	assert.Equal(t, "s3cret", cfg.Auth.Keycloak.ClientSecret)
	assert.Equal(t, []string{"openid", "profile", "email"}, cfg.Auth.Keycloak.Scopes)

	assert.Equal(t, 1000, cfg.Realtime.BaseDelay)
	assert.Equal(t, 5, cfg.Realtime.MaxReconnectAttempts)
	assert.Equal(t, 1000, cfg.Realtime.IdentityPollInterval)
	assert.Equal(t, 100, cfg.Realtime.NotificationCapacity)
	assert.Equal(t, 50, cfg.Realtime.ActivityCapacity)

	assert.Equal(t, 8, cfg.Session.MinPasswordLength)
	assert.Equal(t, 30000, cfg.Session.AutoRefreshInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":8080", cfg.Metrics.Address)
	assert.Equal(t, "kv_store", cfg.Store.Postgres.Table)
}

func TestLoadFromFile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "redis without address",
			yaml:    "store:\n  backend: redis\n",
			wantErr: "store.redis.address is required",
		},
		{
			name:    "unknown backend",
			yaml:    "store:\n  backend: sqlite\n",
			wantErr: "store.backend \"sqlite\" is not supported",
		},
		{
			name:    "missing keycloak url",
			yaml:    "store:\n  backend: memory\n",
			wantErr: "auth.keycloak.url is required",
		},
		{
			name: "missing realtime url",
			yaml: `
store:
  backend: memory
auth:
  keycloak:
    url: http://kc
    realm: r
    client_id: c
`,
			wantErr: "realtime.url is required",
		},
		{
			name: "negative auto refresh interval",
			yaml: minimalYAML + `
session:
  auto_refresh: true
  auto_refresh_interval: -5
`,
			wantErr: "session.auto_refresh_interval must be positive",
		},
		{
			name: "sns without region",
			yaml: minimalYAML + `
alerts:
  sns:
    enabled: true
`,
			wantErr: "alerts.sns.region is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_KEYCLOAK_URL", "http://kc.local")
			t.Setenv("KEYCLOAK_URL", "")
			t.Setenv("REALTIME_URL", "")

			_, err := LoadFromFile(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", p.GetDSN())
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
}
