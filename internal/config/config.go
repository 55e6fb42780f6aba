package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds process settings.
type Config struct {
	HTTPAddr string
	TenantID string

	Storage StorageConfig
	Auth    AuthConfig
	Log     LogConfig
	Alerts  AlertsConfig
	Sweep   SweepConfig

	RulesPath string
}

// StorageConfig selects the database.
type StorageConfig struct {
	Driver string
	DSN    string
}

// AuthConfig configures bearer token checks.
type AuthConfig struct {
	JWTSecret string
	Disabled  bool
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level       string
	Development bool
}

// AlertsConfig configures outbound alert notifications.
type AlertsConfig struct {
	WebhookURL          string
	NotifyTemplate      string
	NotifyCooldown      time.Duration
	NotifyRatePerMinute int
	EscalateAfter       time.Duration
	ReportBaseURL       string
}

// SweepConfig configures the daily compliance sweep.
type SweepConfig struct {
	DailyAt string
	Tenants []string
}

// New returns a viper instance with defaults and MPFM_ env binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MPFM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("tenant_id", "FPSO-01")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "file:mpfm.db?_pragma=foreign_keys(1)")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.disabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("alerts.webhook_url", "")
	v.SetDefault("alerts.notify_template", "")
	v.SetDefault("alerts.notify_cooldown", "10m")
	v.SetDefault("alerts.notify_rate_per_minute", 30)
	v.SetDefault("alerts.escalate_after", "0s")
	v.SetDefault("alerts.report_base_url", "")
	v.SetDefault("sweep.daily_at", "02:00")
	v.SetDefault("sweep.tenants", "")
	v.SetDefault("rules.path", "")
	return v
}

// Load reads the optional config file at path and the environment.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := Config{
		HTTPAddr: v.GetString("http.addr"),
		TenantID: strings.TrimSpace(v.GetString("tenant_id")),
		Storage: StorageConfig{
			Driver: strings.ToLower(strings.TrimSpace(v.GetString("storage.driver"))),
			DSN:    v.GetString("storage.dsn"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			Disabled:  v.GetBool("auth.disabled"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		Alerts: AlertsConfig{
			WebhookURL:          strings.TrimSpace(v.GetString("alerts.webhook_url")),
			NotifyTemplate:      v.GetString("alerts.notify_template"),
			NotifyCooldown:      v.GetDuration("alerts.notify_cooldown"),
			NotifyRatePerMinute: v.GetInt("alerts.notify_rate_per_minute"),
			EscalateAfter:       v.GetDuration("alerts.escalate_after"),
			ReportBaseURL:       strings.TrimRight(strings.TrimSpace(v.GetString("alerts.report_base_url")), "/"),
		},
		Sweep: SweepConfig{
			DailyAt: strings.TrimSpace(v.GetString("sweep.daily_at")),
			Tenants: splitCSV(v.GetStringSlice("sweep.tenants")),
		},
		RulesPath: strings.TrimSpace(v.GetString("rules.path")),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TenantID == "" {
		return errors.New("config: tenant_id required")
	}
	switch c.Storage.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("config: unsupported storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && strings.TrimSpace(c.Storage.DSN) == "" {
		return errors.New("config: storage.dsn required")
	}
	if !c.Auth.Disabled && c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret required unless auth.disabled")
	}
	if c.Alerts.NotifyRatePerMinute < 0 {
		return errors.New("config: alerts.notify_rate_per_minute must be >= 0")
	}
	if _, _, err := ParseDailyAt(c.Sweep.DailyAt); err != nil {
		return err
	}
	return nil
}

// ParseDailyAt parses an HH:MM clock time.
func ParseDailyAt(value string) (int, int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("config: sweep.daily_at must be HH:MM, got %q", value)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

// SweepTenants returns the tenants the sweep covers, defaulting to the process tenant.
func (c Config) SweepTenants() []string {
	if len(c.Sweep.Tenants) > 0 {
		return c.Sweep.Tenants
	}
	return []string{c.TenantID}
}

func splitCSV(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}
