package config

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/medoffice")
	t.Setenv("APP_ENV", "dev")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, civil.Time{Hour: 9}, cfg.OfficeOpen)
	assert.Equal(t, civil.Time{Hour: 17}, cfg.OfficeClose)
	assert.Equal(t, 30*time.Minute, cfg.SlotLength)
	assert.Equal(t, 5*time.Second, cfg.StatementTimeout)
	assert.Equal(t, "PL", cfg.PhoneRegion)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret)
	assert.True(t, cfg.CacheEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/medoffice")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DAY_CACHE_TTL", "90")
	t.Setenv("OFFICE_OPEN", "08:30")
	t.Setenv("REDIS_URL", "redis://user:pw@cache:6380")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.DayCacheTTL)
	assert.Equal(t, civil.Time{Hour: 8, Minute: 30}, cfg.OfficeOpen)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "user", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
}

func TestLoadRequiresSecretsOutsideDev(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/medoffice")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestValidate(t *testing.T) {
	base := Config{
		PostgresDSN: "postgres://x",
		JWTSecret:   "k",
		SlotLength:  30 * time.Minute,
		OfficeOpen:  civil.Time{Hour: 9},
		OfficeClose: civil.Time{Hour: 17},
		Timezone:    "UTC",
	}
	require.NoError(t, base.Validate())

	inverted := base
	inverted.OfficeOpen = civil.Time{Hour: 18}
	assert.Error(t, inverted.Validate())

	noDSN := base
	noDSN.PostgresDSN = ""
	assert.ErrorContains(t, noDSN.Validate(), "POSTGRES_DSN")

	badZone := base
	badZone.Timezone = "Mars/Olympus"
	assert.Error(t, badZone.Validate())
}
