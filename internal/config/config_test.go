package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		chdir(t, t.TempDir())

		cfg, err := Load("ledger")
		require.NoError(t, err)

		assert.Equal(t, "ledger", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8082", cfg.App.Port)
		assert.Equal(t, "console", cfg.Log.Format)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, "http://localhost:8081", cfg.Variants.ServiceURL)
		assert.Equal(t, uint32(5), cfg.Variants.BreakerFailures)
		assert.Equal(t, "postgres", cfg.Ledger.Store)
		assert.Equal(t, 5, cfg.Ledger.MaxConflictRetries)
		assert.Equal(t, 20, cfg.Ledger.DefaultPageSize)
		assert.Equal(t, 100, cfg.Ledger.MaxPageSize)
		assert.Equal(t, 30*time.Second, cfg.Ledger.GapTimeout)
		assert.Equal(t, "sampleledger-ledger", cfg.Telemetry.ServiceName)
	})

	t.Run("environment overrides", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("LEDGER_APP_PORT", "9000")
		t.Setenv("LEDGER_LEDGER_STORE", "memory")
		t.Setenv("LEDGER_LEDGER_MAX_CONFLICT_RETRIES", "9")
		t.Setenv("LEDGER_VARIANTS_BREAKER_TIMEOUT", "10s")
		t.Setenv("LEDGER_HTTP_RATE_LIMIT_RPS", "2.5")

		cfg, err := Load("ledger")
		require.NoError(t, err)

		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "memory", cfg.Ledger.Store)
		assert.Equal(t, 9, cfg.Ledger.MaxConflictRetries)
		assert.Equal(t, 10*time.Second, cfg.Variants.BreakerTimeout)
		assert.InDelta(t, 2.5, cfg.HTTP.RateLimitRPS, 1e-9)
	})

	t.Run("reads config.toml", func(t *testing.T) {
		dir := t.TempDir()
		chdir(t, dir)
		writeFile(t, dir+"/config.toml", `
[app]
env = "staging"

[ledger]
default_page_size = 50
max_page_size = 200
`)
		cfg, err := Load("variants")
		require.NoError(t, err)
		assert.Equal(t, "staging", cfg.App.Env)
		assert.Equal(t, "8081", cfg.App.Port)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.Equal(t, 50, cfg.Ledger.DefaultPageSize)
		assert.Equal(t, 200, cfg.Ledger.MaxPageSize)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		cases := map[string]map[string]string{
			"unknown store":        {"LEDGER_LEDGER_STORE": "redis"},
			"idle above open":      {"LEDGER_DATABASE_MAX_OPEN_CONNS": "2", "LEDGER_DATABASE_MAX_IDLE_CONNS": "3"},
			"page default too big": {"LEDGER_LEDGER_DEFAULT_PAGE_SIZE": "500"},
			"memory in production": {"LEDGER_APP_ENV": "production", "LEDGER_LEDGER_STORE": "memory"},
		}
		for name, env := range cases {
			t.Run(name, func(t *testing.T) {
				chdir(t, t.TempDir())
				for k, v := range env {
					t.Setenv(k, v)
				}
				_, err := Load("ledger")
				assert.Error(t, err)
			})
		}
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// chdir mirrors testing.T.Chdir (Go 1.24+): it changes the working directory
// for the duration of the test and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
