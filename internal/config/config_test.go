package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	original, wasSet := os.LookupEnv(key)
	t.Cleanup(func() {
		if wasSet {
			os.Setenv(key, original)
		} else {
			os.Unsetenv(key)
		}
	})
	os.Setenv(key, value)
}

func TestLoad_Defaults(t *testing.T) {
	withEnv(t, "DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")
	withEnv(t, "PORT", "")
	os.Unsetenv("PORT")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file:data/valuation.db", cfg.DatabaseURL)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 0.95, cfg.RiskConfidenceLevel)
}

func TestLoad_ReadsDatabaseURL(t *testing.T) {
	withEnv(t, "DATABASE_URL", "file:/tmp/test.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file:/tmp/test.db", cfg.DatabaseURL)
}

func TestLoad_InvalidPortFails(t *testing.T) {
	withEnv(t, "PORT", "99999")

	_, err := Load()
	assert.Error(t, err)
}

func TestApplyOverride_EmptyPersistedValueDoesNotClobberEnv(t *testing.T) {
	withEnv(t, "FINNHUB_API_KEY", "env-key")

	cfg, err := Load()
	require.NoError(t, err)

	empty := ""
	cfg.ApplyOverride(ProviderConfigOverride{APIKey: &empty})
	assert.Equal(t, "env-key", cfg.FinnhubAPIKey)
}

func TestApplyOverride_PersistedValueWinsOverEnv(t *testing.T) {
	withEnv(t, "FINNHUB_API_KEY", "env-key")

	cfg, err := Load()
	require.NoError(t, err)

	persisted := "persisted-key"
	cfg.ApplyOverride(ProviderConfigOverride{APIKey: &persisted})
	assert.Equal(t, "persisted-key", cfg.FinnhubAPIKey)
}
