package application

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mpfm-monitor/internal/audit"
	"mpfm-monitor/internal/auth"
	calibration "mpfm-monitor/internal/calibration/domain"
	"mpfm-monitor/internal/config"
	kfactor "mpfm-monitor/internal/kfactor/domain"
	meters "mpfm-monitor/internal/meters/domain"
	"mpfm-monitor/internal/validation"
)

const resourceType = "calibration_event"

// MeterStore reads meters and stores calibrated factors.
type MeterStore interface {
	GetByTag(ctx context.Context, tag string) (*meters.Meter, error)
	ApplyKFactors(ctx context.Context, tag string, factors meters.KFactors, calibratedAt time.Time) (*meters.Meter, error)
}

// TrackerResetter clears the consecutive-day tracker after calibration.
type TrackerResetter interface {
	ResetAfterCalibration(ctx context.Context, meterTag string) (*kfactor.TrackerState, error)
}

// AlertResolver closes alerts made obsolete by a calibration.
type AlertResolver interface {
	RaiseKFactor(ctx context.Context, state kfactor.TrackerState) error
	ResolveCalibrationDue(ctx context.Context, meterTag string) error
}

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

// Service runs the calibration workflow.
type Service struct {
	repo     calibration.Repository
	meters   MeterStore
	trackers TrackerResetter
	alerts   AlertResolver
	rules    RuleSource
	auditor  Auditor
	clock    Clock
	logger   *zap.Logger
	tenantID string
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithTrackers assigns the K-factor tracker.
func WithTrackers(trackers TrackerResetter) ServiceOption {
	return func(s *Service) {
		s.trackers = trackers
	}
}

// WithAlerts assigns the alert engine.
func WithAlerts(alerts AlertResolver) ServiceOption {
	return func(s *Service) {
		s.alerts = alerts
	}
}

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

// NewService constructs a calibration service.
func NewService(repo calibration.Repository, meterStore MeterStore, tenantID string, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("calibration: nil repository")
	}
	if meterStore == nil {
		return nil, errors.New("calibration: nil meter store")
	}
	if tenantID == "" {
		return nil, errors.New("calibration: empty tenant id")
	}
	service := &Service{
		repo:     repo,
		meters:   meterStore,
		rules:    config.DefaultRules(),
		clock:    systemClock{},
		logger:   zap.NewNop(),
		tenantID: tenantID,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create starts a draft calibration for a registered meter.
func (s *Service) Create(ctx context.Context, meterTag string) (*calibration.Event, error) {
	meter, err := s.meters.GetByTag(ctx, meterTag)
	if err != nil {
		if errors.Is(err, meters.ErrNotFound) {
			return nil, validation.Errorf("meter %s is not registered", strings.ToUpper(strings.TrimSpace(meterTag)))
		}
		return nil, err
	}
	event, err := calibration.NewEvent(uuid.NewString(), s.tenant(ctx), meter.Tag, s.clock.Now())
	if err != nil {
		return nil, err
	}
	event.CreatedBy = auth.SubjectFromContext(ctx)
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionCreate, event, audit.Metadata(map[string]any{"meter_tag": event.MeterTag}), "")
	return event, nil
}

// CompleteStep records a step. Completing the last step applies the new
// K-factors to the meter and resets its tracker before the event is stored.
func (s *Service) CompleteStep(ctx context.Context, id string, step calibration.Step, data json.RawMessage) (*calibration.Event, error) {
	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *event
	before.Steps = copySteps(event.Steps)
	limits := s.limits(event.MeterTag)
	now := s.clock.Now().UTC()
	if err := event.CompleteStep(step, data, limits, now); err != nil {
		return nil, err
	}

	if event.Status == calibration.StatusCompleted {
		if err := s.finish(ctx, event, limits); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Update(ctx, event); err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionUpdate, event, audit.Metadata(map[string]any{"step": step}), audit.Diff(before, *event))
	return event, nil
}

func (s *Service) finish(ctx context.Context, event *calibration.Event, limits kfactor.Range) error {
	factors, err := event.KFactors(limits)
	if err != nil {
		return err
	}
	if _, err := s.meters.ApplyKFactors(ctx, event.MeterTag, factors, event.CompletedAt); err != nil {
		return err
	}
	logger := s.logger.With(zap.String("tenant_id", event.TenantID), zap.String("meter_tag", event.MeterTag))
	if s.trackers != nil {
		state, err := s.trackers.ResetAfterCalibration(ctx, event.MeterTag)
		if err != nil {
			return err
		}
		if s.alerts != nil {
			if err := s.alerts.RaiseKFactor(ctx, *state); err != nil {
				logger.Warn("kfactor alert resolution failed", zap.Error(err))
			}
		}
	}
	if s.alerts != nil {
		if err := s.alerts.ResolveCalibrationDue(ctx, event.MeterTag); err != nil {
			logger.Warn("calibration due alert resolution failed", zap.Error(err))
		}
	}
	logger.Info("calibration completed", zap.String("event_id", event.ID))
	return nil
}

// Cancel abandons a calibration.
func (s *Service) Cancel(ctx context.Context, id string) (*calibration.Event, error) {
	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := event.Status
	if err := event.Cancel(s.clock.Now()); err != nil {
		return nil, err
	}
	if before == event.Status {
		return event, nil
	}
	if err := s.repo.Update(ctx, event); err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionTransition, event, audit.Metadata(map[string]any{"from": before, "to": event.Status}), "")
	return event, nil
}

// Get loads an event by id.
func (s *Service) Get(ctx context.Context, id string) (*calibration.Event, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validation.Errorf("calibration id required")
	}
	return s.repo.Get(ctx, s.tenant(ctx), id)
}

// List returns events newest first.
func (s *Service) List(ctx context.Context, filter calibration.Filter) ([]calibration.Event, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validation.Errorf("unknown status %q", filter.Status)
	}
	filter.MeterTag = strings.ToUpper(strings.TrimSpace(filter.MeterTag))
	return s.repo.List(ctx, s.tenant(ctx), filter)
}

func (s *Service) limits(meterTag string) kfactor.Range {
	th := s.rules.ForMeter(meterTag)
	return kfactor.Range{Min: th.KFactorMin, Max: th.KFactorMax}
}

func (s *Service) tenant(ctx context.Context) string {
	return auth.ResolveTenant(ctx, s.tenantID)
}

func (s *Service) record(ctx context.Context, action string, event *calibration.Event, metadata []byte, diff string) {
	if s.auditor == nil || event == nil {
		return
	}
	s.auditor.Record(ctx, audit.Entry{
		ID:            audit.NewID(),
		TenantID:      event.TenantID,
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    event.ID,
		MeterTag:      event.MeterTag,
		Metadata:      metadata,
		Diff:          diff,
		PayloadDigest: audit.DigestJSON(metadata),
	})
}

func copySteps(steps map[calibration.Step]calibration.StepRecord) map[calibration.Step]calibration.StepRecord {
	out := make(map[calibration.Step]calibration.StepRecord, len(steps))
	for k, v := range steps {
		out[k] = v
	}
	return out
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
