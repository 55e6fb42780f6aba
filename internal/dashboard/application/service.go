package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarms "mpfm-monitor/internal/alarms/domain"
	"mpfm-monitor/internal/auth"
	desenquadramento "mpfm-monitor/internal/desenquadramento/domain"
	kfactor "mpfm-monitor/internal/kfactor/domain"
	meters "mpfm-monitor/internal/meters/domain"
	monitoring "mpfm-monitor/internal/monitoring/domain"
	"mpfm-monitor/internal/validation"
)

const (
	defaultWindowDays = 30
	maxWindowDays     = 366

	ReasonKFactor        = "kfactor_out_of_range"
	ReasonCalibrationDue = "calibration_due"
)

// MeterReader lists registered meters.
type MeterReader interface {
	List(ctx context.Context, filter meters.Filter) ([]meters.Meter, error)
}

// RowCounter counts monitoring rows by status.
type RowCounter interface {
	CountByStatus(ctx context.Context, from time.Time) (monitoring.Counts, error)
}

// AlertCounter counts open alerts by severity.
type AlertCounter interface {
	OpenCounts(ctx context.Context) (map[alarms.Severity]int, error)
}

// TrackerReader lists K-factor trackers.
type TrackerReader interface {
	Trackers(ctx context.Context, onlyRequired bool) ([]kfactor.TrackerState, error)
}

// EventReader lists desenquadramento events and classifies their deadlines.
type EventReader interface {
	List(ctx context.Context, filter desenquadramento.Filter) ([]desenquadramento.Event, error)
	EventDeadlines(event desenquadramento.Event) []desenquadramento.Deadline
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// CalibrationItem names a meter that needs calibration and why.
type CalibrationItem struct {
	MeterTag        string    `json:"meter_tag"`
	Reasons         []string  `json:"reasons"`
	NextCalibration time.Time `json:"next_calibration,omitempty"`
	DaysOutOfRange  int       `json:"consecutive_out_of_range,omitempty"`
}

// OpenEvent summarizes an unclosed desenquadramento event.
type OpenEvent struct {
	EventID      string                     `json:"event_id"`
	MeterTag     string                     `json:"meter_tag"`
	Status       desenquadramento.Status    `json:"status"`
	OccurredAt   time.Time                  `json:"occurred_at"`
	NextDeadline *desenquadramento.Deadline `json:"next_deadline,omitempty"`
}

// Summary is the tenant overview.
type Summary struct {
	TenantID            string                  `json:"tenant_id"`
	GeneratedAt         time.Time               `json:"generated_at"`
	WindowDays          int                     `json:"window_days"`
	Meters              int                     `json:"meters"`
	RowsByStatus        monitoring.Counts       `json:"rows_by_status"`
	OpenAlerts          map[alarms.Severity]int `json:"open_alerts"`
	CalibrationRequired []CalibrationItem       `json:"calibration_required"`
	OpenEvents          []OpenEvent             `json:"open_events"`
}

// Service assembles dashboard summaries.
type Service struct {
	meters   MeterReader
	rows     RowCounter
	alerts   AlertCounter
	trackers TrackerReader
	events   EventReader
	clock    Clock
	logger   *zap.Logger
	tenantID string
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

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

// NewService constructs a dashboard service.
func NewService(meterReader MeterReader, rows RowCounter, alerts AlertCounter, trackers TrackerReader, events EventReader, tenantID string, opts ...ServiceOption) (*Service, error) {
	if meterReader == nil || rows == nil || alerts == nil || trackers == nil || events == nil {
		return nil, errors.New("dashboard: nil dependency")
	}
	if tenantID == "" {
		return nil, errors.New("dashboard: empty tenant id")
	}
	service := &Service{
		meters:   meterReader,
		rows:     rows,
		alerts:   alerts,
		trackers: trackers,
		events:   events,
		clock:    systemClock{},
		logger:   zap.NewNop(),
		tenantID: tenantID,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Summary builds the overview over the last windowDays days. Zero selects the default window.
func (s *Service) Summary(ctx context.Context, windowDays int) (*Summary, error) {
	if windowDays == 0 {
		windowDays = defaultWindowDays
	}
	if windowDays < 0 || windowDays > maxWindowDays {
		return nil, validation.Errorf("days must be between 1 and %d", maxWindowDays)
	}
	now := s.clock.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -windowDays)

	var (
		meterList []meters.Meter
		counts    monitoring.Counts
		open      map[alarms.Severity]int
		trackers  []kfactor.TrackerState
		events    []desenquadramento.Event
	)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		meterList, err = s.meters.List(gctx, meters.Filter{})
		return err
	})
	group.Go(func() error {
		var err error
		counts, err = s.rows.CountByStatus(gctx, from)
		return err
	})
	group.Go(func() error {
		var err error
		open, err = s.alerts.OpenCounts(gctx)
		return err
	})
	group.Go(func() error {
		var err error
		trackers, err = s.trackers.Trackers(gctx, true)
		return err
	})
	group.Go(func() error {
		var err error
		events, err = s.events.List(gctx, desenquadramento.Filter{OpenOnly: true})
		return err
	})
	if err := group.Wait(); err != nil {
		s.logger.Warn("dashboard summary failed", zap.Error(err))
		return nil, err
	}

	summary := &Summary{
		TenantID:            auth.ResolveTenant(ctx, s.tenantID),
		GeneratedAt:         now,
		WindowDays:          windowDays,
		Meters:              len(meterList),
		RowsByStatus:        monitoring.Counts{},
		OpenAlerts:          map[alarms.Severity]int{},
		CalibrationRequired: calibrationItems(meterList, trackers, now),
		OpenEvents:          []OpenEvent{},
	}
	for _, status := range []monitoring.Status{monitoring.StatusOK, monitoring.StatusAlert, monitoring.StatusFail} {
		summary.RowsByStatus[status] = counts[status]
	}
	for _, severity := range []alarms.Severity{alarms.SeverityLow, alarms.SeverityMedium, alarms.SeverityHigh, alarms.SeverityCritical} {
		summary.OpenAlerts[severity] = open[severity]
	}
	for _, event := range events {
		item := OpenEvent{
			EventID:    event.ID,
			MeterTag:   event.MeterTag,
			Status:     event.Status,
			OccurredAt: event.OccurredAt,
		}
		item.NextDeadline = nextDeadline(s.events.EventDeadlines(event))
		summary.OpenEvents = append(summary.OpenEvents, item)
	}
	sort.SliceStable(summary.OpenEvents, func(i, j int) bool {
		a, b := summary.OpenEvents[i].NextDeadline, summary.OpenEvents[j].NextDeadline
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Due.Before(b.Due)
		}
	})
	return summary, nil
}

func calibrationItems(meterList []meters.Meter, trackers []kfactor.TrackerState, now time.Time) []CalibrationItem {
	byTag := make(map[string]*CalibrationItem)
	var order []string
	item := func(tag string) *CalibrationItem {
		if existing, ok := byTag[tag]; ok {
			return existing
		}
		created := &CalibrationItem{MeterTag: tag}
		byTag[tag] = created
		order = append(order, tag)
		return created
	}
	for _, state := range trackers {
		if !state.CalibrationRequired {
			continue
		}
		entry := item(state.MeterTag)
		entry.Reasons = append(entry.Reasons, ReasonKFactor)
		entry.DaysOutOfRange = state.ConsecutiveOutOfRange
	}
	for _, meter := range meterList {
		if !meter.CalibrationDue(now) {
			continue
		}
		entry := item(meter.Tag)
		entry.Reasons = append(entry.Reasons, ReasonCalibrationDue)
		entry.NextCalibration = meter.NextCalibration
	}
	sort.Strings(order)
	items := make([]CalibrationItem, 0, len(order))
	for _, tag := range order {
		items = append(items, *byTag[tag])
	}
	return items
}

// nextDeadline picks the earliest report that is still pending.
func nextDeadline(deadlines []desenquadramento.Deadline) *desenquadramento.Deadline {
	var next *desenquadramento.Deadline
	for i := range deadlines {
		d := deadlines[i]
		if d.Status == desenquadramento.DeadlineSent {
			continue
		}
		if next == nil || d.Due.Before(next.Due) {
			next = &d
		}
	}
	return next
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
