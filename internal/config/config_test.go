package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mpfm.yaml")
	content := []byte(`
tenant_id: FPSO-07
storage:
  driver: memory
auth:
  disabled: true
alerts:
  notify_cooldown: 2m
sweep:
  daily_at: "03:30"
  tenants: "FPSO-07, FPSO-08"
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	require.Equal(t, "FPSO-07", cfg.TenantID)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.True(t, cfg.Auth.Disabled)
	require.Equal(t, 2*time.Minute, cfg.Alerts.NotifyCooldown)
	require.Equal(t, 30, cfg.Alerts.NotifyRatePerMinute)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, []string{"FPSO-07", "FPSO-08"}, cfg.SweepTenants())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MPFM_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("MPFM_TENANT_ID", "FPSO-09")
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	require.Equal(t, []string{"FPSO-09"}, cfg.SweepTenants())
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	_, err := Load(New(), "")
	require.Error(t, err)
}

func TestLoadRejectsBadDailyAt(t *testing.T) {
	v := New()
	v.Set("auth.disabled", true)
	v.Set("sweep.daily_at", "25:99")
	_, err := Load(v, "")
	require.Error(t, err)
}

func TestParseDailyAt(t *testing.T) {
	hour, minute, err := ParseDailyAt("02:15")
	require.NoError(t, err)
	require.Equal(t, 2, hour)
	require.Equal(t, 15, minute)
}
