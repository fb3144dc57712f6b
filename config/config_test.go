package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	LoadConfig()

	assert.Equal(t, "8080", AppConfig.AppPort)
	assert.Equal(t, "http", AppConfig.PreferenceBackend)
	assert.Equal(t, 500*time.Millisecond, AppConfig.SearchDebounce)
	assert.Equal(t, 24*time.Hour, AppConfig.GeocodeCacheTTL)
	assert.Equal(t, 10.0, AppConfig.DefaultRadiusKm)
	assert.False(t, IsProduction())
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PREFERENCE_BACKEND", "mongo")
	t.Setenv("SEARCH_DEBOUNCE", "250ms")
	t.Setenv("ENV", "production")
	LoadConfig()

	assert.Equal(t, "mongo", AppConfig.PreferenceBackend)
	assert.Equal(t, 250*time.Millisecond, AppConfig.SearchDebounce)
	assert.True(t, IsProduction())
}
