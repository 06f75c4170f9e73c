package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEOFENCE_RADIUS_M", "")
	t.Setenv("LATE_AFTER", "")

	cfg := Load()
	assert.Equal(t, 50.0, cfg.GeofenceRadiusM)
	assert.Equal(t, 15*time.Minute, cfg.LateAfter)
	assert.Equal(t, "pgx", cfg.DatabaseDriver)
	assert.False(t, cfg.Production())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("GEOFENCE_RADIUS_M", "75.5")
	t.Setenv("LATE_AFTER", "10m")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("REDIS_ENABLED", "false")

	cfg := Load()
	assert.True(t, cfg.Production())
	assert.Equal(t, 75.5, cfg.GeofenceRadiusM)
	assert.Equal(t, 10*time.Minute, cfg.LateAfter)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.False(t, cfg.RedisEnabled)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("GEOFENCE_RADIUS_M", "-3")
	t.Setenv("ACCESS_TTL", "soon")
	t.Setenv("RATE_LIMIT_PER_MIN", "many")

	cfg := Load()
	assert.Equal(t, 50.0, cfg.GeofenceRadiusM)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, time.UTC, App{Timezone: "Nowhere/Invalid"}.Location())
	assert.Equal(t, time.UTC, App{Timezone: "UTC"}.Location())
}

func TestListEnv(t *testing.T) {
	t.Setenv("CORS_ORIGINS", " https://a.edu, ,https://b.edu ")
	assert.Equal(t, []string{"https://a.edu", "https://b.edu"}, Load().CORSOrigins)
	t.Setenv("CORS_ORIGINS", "")
	assert.Empty(t, Load().CORSOrigins)
}
