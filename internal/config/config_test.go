package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("EVIDENCE_MAX_FILES", "")
	t.Setenv("REQUEST_INFO_TTL", "")
	t.Setenv("APP_TIMEZONE", "")

	cfg := Load()

	require.Equal(t, "8084", cfg.Port)
	require.Equal(t, 5, cfg.EvidenceMaxFiles)
	require.Equal(t, int64(5<<20), cfg.EvidenceMaxBytes)
	require.Equal(t, 7*24*time.Hour, cfg.RequestInfoTTL)
	require.Equal(t, time.UTC, cfg.Timezone)
	require.False(t, cfg.NotifySMSEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("EVIDENCE_MAX_FILES", "2")
	t.Setenv("REQUEST_INFO_TTL", "48h")
	t.Setenv("NOTIFY_SMS_ENABLED", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg := Load()

	require.Equal(t, "9000", cfg.Port)
	require.Equal(t, 2, cfg.EvidenceMaxFiles)
	require.Equal(t, 48*time.Hour, cfg.RequestInfoTTL)
	require.True(t, cfg.NotifySMSEnabled)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("NOTIFY_WORKERS", "-3")
	t.Setenv("RECONCILE_INTERVAL", "soon")

	cfg := Load()

	require.Equal(t, 4, cfg.NotifyWorkers)
	require.Equal(t, time.Minute, cfg.ReconcileInterval)
}
