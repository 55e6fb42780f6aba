package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mpfm-monitor/internal/audit"
	"mpfm-monitor/internal/auth"
	"mpfm-monitor/internal/config"
	kfactor "mpfm-monitor/internal/kfactor/domain"
	"mpfm-monitor/internal/observability/metrics"
	"mpfm-monitor/internal/validation"
)

const resourceType = "kfactor_tracker"

// RuleSource resolves per-meter thresholds.
type RuleSource interface {
	ForMeter(tag string) config.Thresholds
}

// Auditor records audit entries.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Result is the outcome of recording one day of checks.
type Result struct {
	Checks []kfactor.Check       `json:"checks"`
	State  *kfactor.TrackerState `json:"state"`
	// Triggered is true when this day raised the calibration flag.
	Triggered bool `json:"triggered"`
}

// Service tracks K-factors and consecutive out-of-range days.
type Service struct {
	history  kfactor.HistoryRepository
	trackers kfactor.TrackerRepository
	rules    RuleSource
	auditor  Auditor
	clock    Clock
	logger   *zap.Logger
	tenantID string
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithRules assigns the threshold source.
func WithRules(rules RuleSource) ServiceOption {
	return func(s *Service) {
		s.rules = rules
	}
}

// WithAuditor assigns an auditor.
func WithAuditor(auditor Auditor) ServiceOption {
	return func(s *Service) {
		s.auditor = auditor
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a K-factor service.
func NewService(history kfactor.HistoryRepository, trackers kfactor.TrackerRepository, tenantID string, opts ...ServiceOption) (*Service, error) {
	if history == nil || trackers == nil {
		return nil, errors.New("kfactor: nil repository")
	}
	if tenantID == "" {
		return nil, errors.New("kfactor: empty tenant id")
	}
	service := &Service{
		history:  history,
		trackers: trackers,
		rules:    config.DefaultRules(),
		tenantID: tenantID,
		clock:    systemClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// RecordDaily stores the day's checks and advances the meter's tracker.
func (s *Service) RecordDaily(ctx context.Context, meterTag string, day time.Time, reference, measured kfactor.Masses) (*Result, error) {
	meterTag = strings.ToUpper(strings.TrimSpace(meterTag))
	if meterTag == "" {
		return nil, validation.Errorf("meter tag required")
	}
	if day.IsZero() {
		return nil, validation.Errorf("date required")
	}
	day = truncateDay(day)
	tenantID := s.tenant(ctx)
	thresholds := s.rules.ForMeter(meterTag)
	now := s.clock.Now().UTC()

	checks := kfactor.BuildChecks(reference, measured, kfactor.Range{Min: thresholds.KFactorMin, Max: thresholds.KFactorMax})
	state, err := s.loadTracker(ctx, tenantID, meterTag)
	if err != nil {
		return nil, err
	}
	if len(checks) == 0 {
		return &Result{State: state}, nil
	}
	for i := range checks {
		checks[i].ID = uuid.NewString()
		checks[i].TenantID = tenantID
		checks[i].MeterTag = meterTag
		checks[i].Date = day
		checks[i].CreatedAt = now
		metrics.IncKFactorCheck(string(checks[i].Phase), checks[i].InRange)
	}
	if err := s.history.Save(ctx, checks); err != nil {
		return nil, err
	}

	wasRequired := state.CalibrationRequired
	if state.Advance(day, kfactor.DayOutOfRange(checks), thresholds.ConsecutiveDays, now) {
		if err := s.trackers.Save(ctx, state); err != nil {
			return nil, err
		}
	}
	triggered := !wasRequired && state.CalibrationRequired
	if triggered {
		s.logger.Warn("meter requires calibration",
			zap.String("tenant_id", tenantID),
			zap.String("meter_tag", meterTag),
			zap.Int("consecutive_days", state.ConsecutiveOutOfRange),
		)
	}
	return &Result{Checks: checks, State: state, Triggered: triggered}, nil
}

// ResetAfterCalibration clears the counter and calibration flag for a meter.
func (s *Service) ResetAfterCalibration(ctx context.Context, meterTag string) (*kfactor.TrackerState, error) {
	meterTag = strings.ToUpper(strings.TrimSpace(meterTag))
	if meterTag == "" {
		return nil, validation.Errorf("meter tag required")
	}
	tenantID := s.tenant(ctx)
	state, err := s.loadTracker(ctx, tenantID, meterTag)
	if err != nil {
		return nil, err
	}
	before := *state
	state.Reset(s.clock.Now().UTC())
	if err := s.trackers.Save(ctx, state); err != nil {
		return nil, err
	}
	metrics.IncTrackerReset()
	if s.auditor != nil {
		s.auditor.Record(ctx, audit.Entry{
			ID:           audit.NewID(),
			TenantID:     tenantID,
			Action:       audit.ActionReset,
			ResourceType: resourceType,
			ResourceID:   meterTag,
			MeterTag:     meterTag,
			Diff:         audit.Diff(before, *state),
		})
	}
	return state, nil
}

// Tracker returns the tracker for a meter, zero-valued when none exists yet.
func (s *Service) Tracker(ctx context.Context, meterTag string) (*kfactor.TrackerState, error) {
	return s.loadTracker(ctx, s.tenant(ctx), strings.ToUpper(strings.TrimSpace(meterTag)))
}

// Trackers lists tracker states.
func (s *Service) Trackers(ctx context.Context, onlyRequired bool) ([]kfactor.TrackerState, error) {
	return s.trackers.List(ctx, s.tenant(ctx), onlyRequired)
}

// History lists recorded checks.
func (s *Service) History(ctx context.Context, filter kfactor.HistoryFilter) ([]kfactor.Check, error) {
	filter.MeterTag = strings.ToUpper(strings.TrimSpace(filter.MeterTag))
	return s.history.List(ctx, s.tenant(ctx), filter)
}

func (s *Service) loadTracker(ctx context.Context, tenantID, meterTag string) (*kfactor.TrackerState, error) {
	state, err := s.trackers.Get(ctx, tenantID, meterTag)
	if errors.Is(err, kfactor.ErrNotFound) {
		return &kfactor.TrackerState{TenantID: tenantID, MeterTag: meterTag}, nil
	}
	return state, err
}

func (s *Service) tenant(ctx context.Context) string {
	return auth.ResolveTenant(ctx, s.tenantID)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
