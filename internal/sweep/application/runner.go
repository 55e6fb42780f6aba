package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarmapp "mpfm-monitor/internal/alarms/application"
	"mpfm-monitor/internal/auth"
	desenquadramento "mpfm-monitor/internal/desenquadramento/domain"
	meters "mpfm-monitor/internal/meters/domain"
	"mpfm-monitor/internal/observability/metrics"
)

const (
	subject          = "sweep"
	defaultParallels = 4
)

// CalibrationSource lists meters past their next calibration date.
type CalibrationSource interface {
	ListCalibrationDue(ctx context.Context, now time.Time) ([]meters.Meter, error)
}

// DeadlineSource lists the report deadlines of open events.
type DeadlineSource interface {
	Deadlines(ctx context.Context) ([]desenquadramento.Deadline, error)
}

// AlertSink raises and resolves compliance alerts.
type AlertSink interface {
	RaiseCalibrationDue(ctx context.Context, meterTag string, due time.Time) error
	ResolveCalibrationDue(ctx context.Context, meterTag string) error
	OpenCalibrationDue(ctx context.Context) ([]string, error)
	RaiseDeadline(ctx context.Context, notice alarmapp.DeadlineNotice) error
	ResolveDeadline(ctx context.Context, notice alarmapp.DeadlineNotice) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// TenantResult summarizes one tenant's sweep.
type TenantResult struct {
	TenantID            string `json:"tenant_id"`
	CalibrationDue      int    `json:"calibration_due"`
	CalibrationResolved int    `json:"calibration_resolved"`
	DeadlinesRaised     int    `json:"deadlines_raised"`
	DeadlinesResolved   int    `json:"deadlines_resolved"`
	Failures            int    `json:"failures"`
}

// Result summarizes a sweep run.
type Result struct {
	StartedAt time.Time      `json:"started_at"`
	Tenants   []TenantResult `json:"tenants"`
}

// Runner executes the compliance sweep.
type Runner struct {
	calibrations CalibrationSource
	deadlines    DeadlineSource
	alerts       AlertSink
	clock        Clock
	logger       *zap.Logger
	parallel     int
}

// RunnerOption customizes the runner.
type RunnerOption func(*Runner)

// WithClock assigns a clock.
func WithClock(clock Clock) RunnerOption {
	return func(r *Runner) {
		r.clock = clock
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithParallelism bounds how many tenants are swept at once.
func WithParallelism(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.parallel = n
		}
	}
}

// NewRunner constructs a Runner.
func NewRunner(calibrations CalibrationSource, deadlines DeadlineSource, alerts AlertSink, opts ...RunnerOption) (*Runner, error) {
	if calibrations == nil || deadlines == nil || alerts == nil {
		return nil, errors.New("sweep: nil dependency")
	}
	runner := &Runner{
		calibrations: calibrations,
		deadlines:    deadlines,
		alerts:       alerts,
		clock:        systemClock{},
		logger:       zap.NewNop(),
		parallel:     defaultParallels,
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner, nil
}

// Run sweeps every tenant. A tenant whose listings fail does not stop the others;
// the first such error is returned alongside the partial result.
func (r *Runner) Run(ctx context.Context, tenants []string) (*Result, error) {
	start := r.clock.Now().UTC()
	result := &Result{StartedAt: start, Tenants: make([]TenantResult, len(tenants))}

	var group errgroup.Group
	group.SetLimit(r.parallel)
	for i, tenantID := range tenants {
		result.Tenants[i].TenantID = tenantID
		group.Go(func() error {
			tenantCtx := auth.WithIdentity(ctx, tenantID, auth.RoleAdmin, subject)
			return r.sweepTenant(tenantCtx, start, &result.Tenants[i])
		})
	}
	err := group.Wait()

	outcome := metrics.ResultSuccess
	if err != nil {
		outcome = metrics.ResultError
	}
	metrics.ObserveSweep(outcome, time.Since(start))
	r.logger.Info("compliance sweep finished",
		zap.Int("tenants", len(tenants)),
		zap.String("result", outcome),
		zap.Error(err),
	)
	return result, err
}

func (r *Runner) sweepTenant(ctx context.Context, now time.Time, out *TenantResult) error {
	logger := r.logger.With(zap.String("tenant_id", out.TenantID))

	due, err := r.calibrations.ListCalibrationDue(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep %s: calibration due: %w", out.TenantID, err)
	}
	stillDue := make(map[string]bool, len(due))
	for _, meter := range due {
		stillDue[meter.Tag] = true
		if err := r.alerts.RaiseCalibrationDue(ctx, meter.Tag, meter.NextCalibration); err != nil {
			out.Failures++
			logger.Warn("calibration due alert failed", zap.String("meter_tag", meter.Tag), zap.Error(err))
			continue
		}
		out.CalibrationDue++
	}

	open, err := r.alerts.OpenCalibrationDue(ctx)
	if err != nil {
		return fmt.Errorf("sweep %s: open calibration alerts: %w", out.TenantID, err)
	}
	for _, tag := range open {
		if stillDue[tag] {
			continue
		}
		if err := r.alerts.ResolveCalibrationDue(ctx, tag); err != nil {
			out.Failures++
			logger.Warn("calibration due resolution failed", zap.String("meter_tag", tag), zap.Error(err))
			continue
		}
		out.CalibrationResolved++
	}

	deadlines, err := r.deadlines.Deadlines(ctx)
	if err != nil {
		return fmt.Errorf("sweep %s: deadlines: %w", out.TenantID, err)
	}
	for _, deadline := range deadlines {
		notice := alarmapp.DeadlineNotice{
			EventID:  deadline.EventID,
			MeterTag: deadline.MeterTag,
			Report:   deadline.Report,
			Status:   string(deadline.Status),
			Due:      deadline.Due,
		}
		switch deadline.Status {
		case desenquadramento.DeadlineDueSoon, desenquadramento.DeadlineOverdue:
			err = r.alerts.RaiseDeadline(ctx, notice)
			if err == nil {
				out.DeadlinesRaised++
			}
		default:
			err = r.alerts.ResolveDeadline(ctx, notice)
			if err == nil {
				out.DeadlinesResolved++
			}
		}
		if err != nil {
			out.Failures++
			logger.Warn("deadline alert failed",
				zap.String("event_id", deadline.EventID),
				zap.String("report", deadline.Report),
				zap.Error(err),
			)
		}
	}
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
