package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	alarmapp "mpfm-monitor/internal/alarms/application"
	alarms "mpfm-monitor/internal/alarms/domain"
	alarmstore "mpfm-monitor/internal/alarms/infrastructure/sqlstore"
	alarmhttp "mpfm-monitor/internal/alarms/interfaces/http"
	alarmnotify "mpfm-monitor/internal/alarms/notify"
	"mpfm-monitor/internal/audit"
	calibrationapp "mpfm-monitor/internal/calibration/application"
	calibrationstore "mpfm-monitor/internal/calibration/infrastructure/sqlstore"
	calibrationhttp "mpfm-monitor/internal/calibration/interfaces/http"
	"mpfm-monitor/internal/config"
	dashboardapp "mpfm-monitor/internal/dashboard/application"
	dashboardhttp "mpfm-monitor/internal/dashboard/interfaces/http"
	desenquadramentoapp "mpfm-monitor/internal/desenquadramento/application"
	desenquadramentostore "mpfm-monitor/internal/desenquadramento/infrastructure/sqlstore"
	desenquadramentohttp "mpfm-monitor/internal/desenquadramento/interfaces/http"
	kfactorapp "mpfm-monitor/internal/kfactor/application"
	kfactorstore "mpfm-monitor/internal/kfactor/infrastructure/sqlstore"
	kfactorhttp "mpfm-monitor/internal/kfactor/interfaces/http"
	meterapp "mpfm-monitor/internal/meters/application"
	meters "mpfm-monitor/internal/meters/domain"
	meterstore "mpfm-monitor/internal/meters/infrastructure/sqlstore"
	meterhttp "mpfm-monitor/internal/meters/interfaces/http"
	monitoringapp "mpfm-monitor/internal/monitoring/application"
	monitoringstore "mpfm-monitor/internal/monitoring/infrastructure/sqlstore"
	monitoringhttp "mpfm-monitor/internal/monitoring/interfaces/http"
	"mpfm-monitor/internal/storage"
	sweepapp "mpfm-monitor/internal/sweep/application"
)

const (
	webhookRetries      = 3
	webhookRetryInitial = 500 * time.Millisecond
)

// app holds the wired services of one process.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	db     *storage.DB

	auditRepo        *audit.Repository
	meters           *meterapp.Service
	monitoring       *monitoringapp.Service
	kfactor          *kfactorapp.Service
	alarms           *alarmapp.Service
	calibration      *calibrationapp.Service
	desenquadramento *desenquadramentoapp.Service
	dashboard        *dashboardapp.Service
	sweep            *sweepapp.Runner

	broker   *alarmhttp.SSEBroker
	notifier *alarmnotify.Notifier
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	db, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	if err := a.db.Ping(ctx); err != nil {
		return err
	}
	if err := storage.Migrate(ctx, a.db); err != nil {
		return err
	}

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return err
	}

	a.auditRepo = audit.NewRepository(a.db)
	auditor := audit.NewRecorder(a.auditRepo, logger)

	meterRepo := meterstore.NewMeterRepository(a.db)
	a.meters, err = meterapp.NewService(meterRepo, cfg.TenantID,
		meterapp.WithAuditor(auditor),
		meterapp.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("meter service: %w", err)
	}

	alertRepo := alarmstore.NewAlertRepository(a.db)
	a.broker = alarmhttp.NewSSEBroker()
	notifiers := []alarmapp.AlertNotifier{a.broker}
	if cfg.Alerts.WebhookURL != "" {
		a.notifier, err = buildNotifier(cfg.Alerts, meterRepo, alertRepo, logger)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, a.notifier)
	}
	a.alarms, err = alarmapp.NewService(alertRepo, cfg.TenantID,
		alarmapp.WithNotifier(alarmnotify.NewMultiNotifier(notifiers...)),
		alarmapp.WithRules(rules),
		alarmapp.WithAuditor(auditor),
		alarmapp.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("alert service: %w", err)
	}

	a.kfactor, err = kfactorapp.NewService(
		kfactorstore.NewHistoryRepository(a.db),
		kfactorstore.NewTrackerRepository(a.db),
		cfg.TenantID,
		kfactorapp.WithRules(rules),
		kfactorapp.WithAuditor(auditor),
		kfactorapp.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("kfactor service: %w", err)
	}

	a.desenquadramento, err = desenquadramentoapp.NewService(
		desenquadramentostore.NewEventRepository(a.db),
		cfg.TenantID,
		desenquadramentoapp.WithMeters(a.meters),
		desenquadramentoapp.WithRules(rules),
		desenquadramentoapp.WithAlerts(a.alarms),
		desenquadramentoapp.WithAuditor(auditor),
		desenquadramentoapp.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("desenquadramento service: %w", err)
	}

	a.monitoring, err = monitoringapp.NewService(
		monitoringstore.NewRowRepository(a.db),
		cfg.TenantID,
		monitoringapp.WithMeters(a.meters),
		monitoringapp.WithKFactors(a.kfactor),
		monitoringapp.WithAlerts(a.alarms),
		monitoringapp.WithEventOpener(a.desenquadramento),
		monitoringapp.WithRules(rules),
		monitoringapp.WithAuditor(auditor),
		monitoringapp.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("monitoring service: %w", err)
	}

	a.calibration, err = calibrationapp.NewService(
		calibrationstore.NewEventRepository(a.db),
		a.meters,
		cfg.TenantID,
		calibrationapp.WithTrackers(a.kfactor),
		calibrationapp.WithAlerts(a.alarms),
		calibrationapp.WithRules(rules),
		calibrationapp.WithAuditor(auditor),
		calibrationapp.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("calibration service: %w", err)
	}

	a.dashboard, err = dashboardapp.NewService(a.meters, a.monitoring, a.alarms, a.kfactor, a.desenquadramento, cfg.TenantID,
		dashboardapp.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("dashboard service: %w", err)
	}

	a.sweep, err = sweepapp.NewRunner(a.meters, a.desenquadramento, a.alarms, sweepapp.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("sweep runner: %w", err)
	}
	return nil
}

func buildNotifier(cfg config.AlertsConfig, meterRepo *meterstore.MeterRepository, alertRepo *alarmstore.AlertRepository, logger *zap.Logger) (*alarmnotify.Notifier, error) {
	channel, err := alarmnotify.NewWebhookChannel(cfg.WebhookURL,
		alarmnotify.WithRatePerMinute(cfg.NotifyRatePerMinute),
		alarmnotify.WithRetry(webhookRetries, webhookRetryInitial),
	)
	if err != nil {
		return nil, fmt.Errorf("alert webhook: %w", err)
	}
	tpl, err := alarmnotify.NewTemplate(cfg.NotifyTemplate)
	if err != nil {
		return nil, fmt.Errorf("alert template: %w", err)
	}
	opts := []alarmnotify.Option{
		alarmnotify.WithEscalation(cfg.EscalateAfter),
		alarmnotify.WithCooldown(cfg.NotifyCooldown),
		alarmnotify.WithLogger(logger),
	}
	if cfg.ReportBaseURL != "" {
		opts = append(opts, alarmnotify.WithReportURLResolver(reportURLResolver(cfg.ReportBaseURL)))
	}
	notifier, err := alarmnotify.NewNotifier(meterRepo, alertRepo, channel, tpl, opts...)
	if err != nil {
		return nil, fmt.Errorf("alert notifier: %w", err)
	}
	return notifier, nil
}

// reportURLResolver links deadline alerts to their event report and other alerts to the meter's monitoring report.
func reportURLResolver(baseURL string) alarmnotify.ReportURLResolver {
	return func(_ context.Context, alert alarms.Alert, _ *meters.Meter) string {
		if alert.Type == alarms.TypeDeadline {
			eventID, _, ok := strings.Cut(alert.RefID, ":")
			if ok && eventID != "" {
				return baseURL + "/api/v1/desenquadramentos/" + eventID + "/report.pdf"
			}
		}
		return baseURL + "/api/v1/monitoring/export.pdf?meter=" + alert.MeterTag
	}
}

func (a *app) routes() (*http.ServeMux, error) {
	meterHandler, err := meterhttp.NewHandler(a.meters)
	if err != nil {
		return nil, err
	}
	monitoringHandler, err := monitoringhttp.NewHandler(a.monitoring, a.cfg.TenantID)
	if err != nil {
		return nil, err
	}
	kfactorHandler, err := kfactorhttp.NewHandler(a.kfactor)
	if err != nil {
		return nil, err
	}
	calibrationHandler, err := calibrationhttp.NewHandler(a.calibration)
	if err != nil {
		return nil, err
	}
	alertHandler, err := alarmhttp.NewHandler(a.alarms, alarmhttp.NewStreamHandler(a.broker, a.cfg.TenantID))
	if err != nil {
		return nil, err
	}
	eventHandler, err := desenquadramentohttp.NewHandler(a.desenquadramento)
	if err != nil {
		return nil, err
	}
	dashboardHandler, err := dashboardhttp.NewHandler(a.dashboard)
	if err != nil {
		return nil, err
	}
	auditHandler, err := audit.NewHandler(a.auditRepo, a.cfg.TenantID)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	for prefix, handler := range map[string]http.Handler{
		"/api/v1/meters":            meterHandler,
		"/api/v1/monitoring":        monitoringHandler,
		"/api/v1/kfactor":           kfactorHandler,
		"/api/v1/calibrations":      calibrationHandler,
		"/api/v1/alerts":            alertHandler,
		"/api/v1/desenquadramentos": eventHandler,
		"/api/v1/audit":             auditHandler,
	} {
		mux.Handle(prefix, handler)
		mux.Handle(prefix+"/", handler)
	}
	mux.Handle("/api/v1/dashboard", dashboardHandler)
	return mux, nil
}

// Close releases background resources and the database.
func (a *app) Close() {
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("database close failed", zap.Error(err))
		}
	}
}
