package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mpfm-monitor/internal/audit"
	"mpfm-monitor/internal/auth"
	"mpfm-monitor/internal/config"
	"mpfm-monitor/internal/observability/logging"
	"mpfm-monitor/internal/observability/metrics"
	sweepapp "mpfm-monitor/internal/sweep/application"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// cliEnv carries what every subcommand needs after flags are parsed.
type cliEnv struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	var configPath string
	rt := &cliEnv{}

	root := &cobra.Command{
		Use:          "mpfm-monitor",
		Short:        "Multiphase flow meter compliance monitoring",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.New(), configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
			if err != nil {
				return err
			}
			rt.cfg = cfg
			rt.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file")

	root.AddCommand(
		newServeCommand(rt),
		newMigrateCommand(rt),
		newSweepCommand(rt),
		newImportCommand(rt),
		newTokenCommand(rt),
	)
	return root
}

func newServeCommand(rt *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily compliance sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rt.cfg, rt.logger)
		},
	}
}

func newMigrateCommand(rt *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer app.Close()
			rt.logger.Info("schema applied", zap.String("driver", rt.cfg.Storage.Driver))
			return nil
		},
	}
}

func newSweepCommand(rt *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the compliance sweep once for the configured tenants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer app.Close()
			result, err := app.sweep.Run(cmd.Context(), rt.cfg.SweepTenants())
			if result != nil {
				for _, tenant := range result.Tenants {
					fmt.Fprintf(cmd.OutOrStdout(), "%s calibration_due=%d calibration_resolved=%d deadlines_raised=%d deadlines_resolved=%d failures=%d\n",
						tenant.TenantID, tenant.CalibrationDue, tenant.CalibrationResolved, tenant.DeadlinesRaised, tenant.DeadlinesResolved, tenant.Failures)
				}
			}
			return err
		},
	}
}

func newImportCommand(rt *cliEnv) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "import-xlsx <file>",
		Short: "Import monitoring rows from a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer app.Close()

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			defer file.Close()

			if tenantID == "" {
				tenantID = rt.cfg.TenantID
			}
			ctx := auth.WithIdentity(cmd.Context(), tenantID, auth.RoleOperator, "cli")
			report, err := app.monitoring.ImportXLSX(ctx, file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported=%d rejected=%d\n", report.Imported, len(report.Rejected))
			for _, line := range report.Rejected {
				fmt.Fprintf(cmd.OutOrStdout(), "line %d: %s\n", line.Line, line.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant to import into (defaults to tenant_id)")
	return cmd
}

func newTokenCommand(rt *cliEnv) *cobra.Command {
	var (
		tenantID string
		role     string
		subject  string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			normalized, ok := auth.NormalizeRole(role)
			if !ok {
				return fmt.Errorf("token: unknown role %q", role)
			}
			if tenantID == "" {
				tenantID = rt.cfg.TenantID
			}
			token, err := auth.IssueJWT([]byte(rt.cfg.Auth.JWTSecret), tenantID, normalized, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant claim (defaults to tenant_id)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "viewer, operator or admin")
	cmd.Flags().StringVar(&subject, "subject", "", "subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	metrics.Init(app.db.DB, logger)

	scheduler := sweepapp.NewScheduler(app.sweep, cfg.SweepTenants(), cfg.Sweep.DailyAt, logger)
	go scheduler.Start(ctx)

	var authMiddleware *auth.Middleware
	if cfg.Auth.Disabled {
		authMiddleware = auth.NewDisabledMiddleware(auth.Identity{TenantID: cfg.TenantID, Role: auth.RoleAdmin, Subject: "local"})
	} else {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
		authMiddleware = auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy)
	}

	mux, err := app.routes()
	if err != nil {
		return err
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := app.db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(audit.RequestMiddleware(authMiddleware.Wrap(mux)), logger),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the alert stream working behind the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
