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
	meters "mpfm-monitor/internal/meters/domain"
	"mpfm-monitor/internal/validation"
)

const resourceType = "meter"

// Auditor records audit entries.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service manages the meter registry.
type Service struct {
	repo     meters.Repository
	auditor  Auditor
	clock    Clock
	logger   *zap.Logger
	tenantID string
}

// ServiceOption customizes the meter service.
type ServiceOption func(*Service)

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

// NewService constructs a meter service.
func NewService(repo meters.Repository, tenantID string, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("meters: nil repository")
	}
	if tenantID == "" {
		return nil, errors.New("meters: empty tenant id")
	}
	service := &Service{
		repo:     repo,
		tenantID: tenantID,
		clock:    systemClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Input carries the mutable meter fields.
type Input struct {
	Tag                     string           `json:"tag"`
	Name                    string           `json:"name"`
	Location                meters.Location  `json:"location"`
	KFactors                *meters.KFactors `json:"k_factors,omitempty"`
	CalibrationIntervalDays int              `json:"calibration_interval_days"`
	LastCalibration         time.Time        `json:"last_calibration,omitempty"`
	NextCalibration         time.Time        `json:"next_calibration,omitempty"`
}

// Create registers a meter.
func (s *Service) Create(ctx context.Context, in Input) (*meters.Meter, error) {
	now := s.clock.Now().UTC()
	meter := &meters.Meter{
		ID:                      uuid.NewString(),
		TenantID:                s.tenant(ctx),
		Tag:                     in.Tag,
		Name:                    in.Name,
		Location:                in.Location,
		CalibrationIntervalDays: in.CalibrationIntervalDays,
		LastCalibration:         in.LastCalibration.UTC(),
		NextCalibration:         in.NextCalibration.UTC(),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if in.KFactors != nil {
		meter.KFactors = *in.KFactors
	}
	meter.Normalize()
	if err := meter.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, meter); err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionCreate, meter, audit.Metadata(meter), "")
	s.logger.Info("meter created", zap.String("tenant_id", meter.TenantID), zap.String("tag", meter.Tag))
	return meter, nil
}

// Update overwrites the mutable fields of a meter.
func (s *Service) Update(ctx context.Context, id string, in Input) (*meters.Meter, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *current
	updated := *current
	if strings.TrimSpace(in.Tag) != "" {
		updated.Tag = in.Tag
	}
	if strings.TrimSpace(in.Name) != "" {
		updated.Name = in.Name
	}
	if in.Location != "" {
		updated.Location = in.Location
	}
	if in.KFactors != nil {
		updated.KFactors = *in.KFactors
	}
	if in.CalibrationIntervalDays != 0 {
		updated.CalibrationIntervalDays = in.CalibrationIntervalDays
	}
	if !in.LastCalibration.IsZero() {
		updated.LastCalibration = in.LastCalibration.UTC()
		if in.NextCalibration.IsZero() {
			updated.NextCalibration = time.Time{}
		}
	}
	if !in.NextCalibration.IsZero() {
		updated.NextCalibration = in.NextCalibration.UTC()
	}
	updated.UpdatedAt = s.clock.Now().UTC()
	updated.Normalize()
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionUpdate, &updated, nil, audit.Diff(before, updated))
	return &updated, nil
}

// Delete removes a meter.
func (s *Service) Delete(ctx context.Context, id string) error {
	meter, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, meter.TenantID, meter.ID); err != nil {
		return err
	}
	s.record(ctx, audit.ActionDelete, meter, audit.Metadata(meter), "")
	return nil
}

// Get loads a meter by id.
func (s *Service) Get(ctx context.Context, id string) (*meters.Meter, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validation.Errorf("meter id required")
	}
	return s.repo.Get(ctx, s.tenant(ctx), id)
}

// GetByTag loads a meter by tag.
func (s *Service) GetByTag(ctx context.Context, tag string) (*meters.Meter, error) {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if tag == "" {
		return nil, validation.Errorf("meter tag required")
	}
	return s.repo.GetByTag(ctx, s.tenant(ctx), tag)
}

// List returns the tenant's meters.
func (s *Service) List(ctx context.Context, filter meters.Filter) ([]meters.Meter, error) {
	if filter.Location != "" && !filter.Location.Valid() {
		return nil, validation.Errorf("location must be TOPSIDE or SUBSEA")
	}
	return s.repo.List(ctx, s.tenant(ctx), filter)
}

// ListCalibrationDue returns meters whose next calibration date has been reached.
func (s *Service) ListCalibrationDue(ctx context.Context, now time.Time) ([]meters.Meter, error) {
	list, err := s.repo.List(ctx, s.tenant(ctx), meters.Filter{})
	if err != nil {
		return nil, err
	}
	var due []meters.Meter
	for _, meter := range list {
		if meter.CalibrationDue(now) {
			due = append(due, meter)
		}
	}
	return due, nil
}

// ApplyKFactors stores calibrated factors and reschedules the next calibration.
func (s *Service) ApplyKFactors(ctx context.Context, tag string, factors meters.KFactors, calibratedAt time.Time) (*meters.Meter, error) {
	if err := validation.Struct(factors); err != nil {
		return nil, err
	}
	current, err := s.GetByTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	before := *current
	if calibratedAt.IsZero() {
		calibratedAt = s.clock.Now()
	}
	current.ApplyCalibration(factors, calibratedAt)
	current.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.Update(ctx, current); err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionUpdate, current, audit.Metadata(map[string]any{"k_factors": factors}), audit.Diff(before, *current))
	s.logger.Info("meter k-factors applied",
		zap.String("tenant_id", current.TenantID),
		zap.String("tag", current.Tag),
		zap.Float64("k_oil", factors.Oil),
		zap.Float64("k_gas", factors.Gas),
		zap.Float64("k_water", factors.Water),
	)
	return current, nil
}

func (s *Service) tenant(ctx context.Context) string {
	return auth.ResolveTenant(ctx, s.tenantID)
}

func (s *Service) record(ctx context.Context, action string, meter *meters.Meter, metadata []byte, diff string) {
	if s.auditor == nil || meter == nil {
		return
	}
	s.auditor.Record(ctx, audit.Entry{
		ID:            audit.NewID(),
		TenantID:      meter.TenantID,
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    meter.ID,
		MeterTag:      meter.Tag,
		Metadata:      metadata,
		Diff:          diff,
		PayloadDigest: audit.DigestJSON(metadata),
	})
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
