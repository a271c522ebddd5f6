package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("SCORING_WEIGHTS", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 1, cfg.LeadCreditCost)
	require.Equal(t, 3, cfg.Distribution.FeaturedCap)
	require.Equal(t, 5, cfg.Distribution.PremiumCap)
	require.Equal(t, 10, cfg.Distribution.FreeCap)
	require.Equal(t, 2*time.Hour, cfg.Distribution.PremiumReleaseDelay)
	require.Equal(t, 24*time.Hour, cfg.Distribution.FreeReleaseDelay)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("LEAD_CREDIT_COST", "2")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SCORING_WEIGHTS", `{"practiceArea":35}`)
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 2, cfg.LeadCreditCost)
	require.Equal(t, time.Minute, cfg.Distribution.SweepInterval)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, 35, cfg.ScoringWeights["practiceArea"])
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadRejectsBadWeights(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("SCORING_WEIGHTS", `{"practiceArea":"lots"}`)

	_, err := Load()
	require.Error(t, err)
}

func TestValidateProductionSecrets(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SCORING_WEIGHTS", "")

	_, err := Load()
	require.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "prod-secret")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	_, err = Load()
	require.ErrorContains(t, err, "STRIPE_WEBHOOK_SECRET")
}

func TestValidateDelayOrdering(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("SCORING_WEIGHTS", "")
	t.Setenv("PREMIUM_RELEASE_DELAY", "48h")
	t.Setenv("FREE_RELEASE_DELAY", "24h")

	_, err := Load()
	require.Error(t, err)
}
