package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	desenquadramento "mpfm-monitor/internal/desenquadramento/domain"
	meters "mpfm-monitor/internal/meters/domain"
	"mpfm-monitor/internal/storage"
)

const (
	eventsTable  = "desenquadramento_events"
	defaultLimit = 200
	maxLimit     = 2000
)

var eventColumns = []string{
	"id", "tenant_id", "meter_tag", "location", "occurred_at", "detected_at", "cause", "description",
	"corrective_actions", "status", "partial_report_due", "final_report_due",
	"partial_report_sent_at", "final_report_sent_at", "closed_at", "created_at", "updated_at",
}

// EventRepository persists desenquadramento events in SQL.
type EventRepository struct {
	db *storage.DB
}

// NewEventRepository constructs a repository.
func NewEventRepository(db *storage.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, event *desenquadramento.Event) error {
	if r == nil || r.db == nil {
		return errors.New("desenquadramento repo: nil db")
	}
	if event == nil || event.ID == "" || event.TenantID == "" {
		return errors.New("desenquadramento repo: missing fields")
	}
	query, args, err := r.db.Builder().Insert(eventsTable).Columns(eventColumns...).Values(
		event.ID, event.TenantID, event.MeterTag, string(event.Location),
		event.OccurredAt.UTC(), event.DetectedAt.UTC(), event.Cause, event.Description,
		event.CorrectiveActions, string(event.Status),
		event.PartialReportDue.UTC(), event.FinalReportDue.UTC(),
		storage.NullTime(event.PartialReportSentAt), storage.NullTime(event.FinalReportSentAt),
		storage.NullTime(event.ClosedAt), event.CreatedAt.UTC(), event.UpdatedAt.UTC(),
	).ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// Update overwrites the mutable fields of an event.
func (r *EventRepository) Update(ctx context.Context, event *desenquadramento.Event) error {
	if r == nil || r.db == nil {
		return errors.New("desenquadramento repo: nil db")
	}
	if event == nil {
		return errors.New("desenquadramento repo: nil event")
	}
	query, args, err := r.db.Builder().Update(eventsTable).SetMap(map[string]any{
		"cause":                  event.Cause,
		"description":            event.Description,
		"corrective_actions":     event.CorrectiveActions,
		"status":                 string(event.Status),
		"partial_report_sent_at": storage.NullTime(event.PartialReportSentAt),
		"final_report_sent_at":   storage.NullTime(event.FinalReportSentAt),
		"closed_at":              storage.NullTime(event.ClosedAt),
		"updated_at":             event.UpdatedAt.UTC(),
	}).Where(sq.Eq{"tenant_id": event.TenantID, "id": event.ID}).ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return desenquadramento.ErrNotFound
	}
	return nil
}

// Get fetches an event by id.
func (r *EventRepository) Get(ctx context.Context, tenantID, id string) (*desenquadramento.Event, error) {
	return r.getBy(ctx, sq.And{sq.Eq{"tenant_id": tenantID, "id": id}})
}

// FindOpen returns the newest event for the meter that is not closed.
func (r *EventRepository) FindOpen(ctx context.Context, tenantID, meterTag string) (*desenquadramento.Event, error) {
	return r.getBy(ctx, sq.And{
		sq.Eq{"tenant_id": tenantID, "meter_tag": meterTag},
		sq.NotEq{"status": string(desenquadramento.StatusClosed)},
	})
}

// List returns events, most recent occurrence first.
func (r *EventRepository) List(ctx context.Context, tenantID string, filter desenquadramento.Filter) ([]desenquadramento.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("desenquadramento repo: nil db")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	builder := r.db.Builder().Select(eventColumns...).From(eventsTable).
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("occurred_at DESC", "id ASC").
		Limit(uint64(limit))
	if filter.MeterTag != "" {
		builder = builder.Where(sq.Eq{"meter_tag": filter.MeterTag})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.OpenOnly {
		builder = builder.Where(sq.NotEq{"status": string(desenquadramento.StatusClosed)})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []desenquadramento.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *event)
	}
	return result, rows.Err()
}

func (r *EventRepository) getBy(ctx context.Context, where sq.Sqlizer) (*desenquadramento.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("desenquadramento repo: nil db")
	}
	query, args, err := r.db.Builder().Select(eventColumns...).From(eventsTable).
		Where(where).OrderBy("occurred_at DESC").Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	event, err := scanEvent(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, desenquadramento.ErrNotFound
	}
	return event, err
}

func scanEvent(row storage.RowScanner) (*desenquadramento.Event, error) {
	var event desenquadramento.Event
	var location, status string
	var partialSent, finalSent, closedAt sql.NullTime
	var occurredAt, detectedAt, partialDue, finalDue, createdAt, updatedAt time.Time
	if err := row.Scan(
		&event.ID, &event.TenantID, &event.MeterTag, &location, &occurredAt, &detectedAt,
		&event.Cause, &event.Description, &event.CorrectiveActions, &status,
		&partialDue, &finalDue, &partialSent, &finalSent, &closedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	event.Location = meters.Location(location)
	event.Status = desenquadramento.Status(status)
	event.OccurredAt = occurredAt.UTC()
	event.DetectedAt = detectedAt.UTC()
	event.PartialReportDue = partialDue.UTC()
	event.FinalReportDue = finalDue.UTC()
	event.PartialReportSentAt = storage.TimeFrom(partialSent)
	event.FinalReportSentAt = storage.TimeFrom(finalSent)
	event.ClosedAt = storage.TimeFrom(closedAt)
	event.CreatedAt = createdAt.UTC()
	event.UpdatedAt = updatedAt.UTC()
	return &event, nil
}
