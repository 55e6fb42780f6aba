package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	calibration "mpfm-monitor/internal/calibration/domain"
	"mpfm-monitor/internal/storage"
)

const (
	eventsTable  = "calibration_events"
	defaultLimit = 200
	maxLimit     = 2000
)

var eventColumns = []string{
	"id", "tenant_id", "meter_tag", "status", "current_step", "progress", "steps",
	"created_by", "created_at", "updated_at", "completed_at",
}

// EventRepository persists calibration events in SQL. Step payloads are a JSON document.
type EventRepository struct {
	db *storage.DB
}

// NewEventRepository constructs a repository.
func NewEventRepository(db *storage.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, event *calibration.Event) error {
	if r == nil || r.db == nil {
		return errors.New("calibration repo: nil db")
	}
	if event == nil || event.ID == "" || event.TenantID == "" {
		return errors.New("calibration repo: missing fields")
	}
	steps, err := encodeSteps(event.Steps)
	if err != nil {
		return err
	}
	query, args, err := r.db.Builder().Insert(eventsTable).Columns(eventColumns...).Values(
		event.ID, event.TenantID, event.MeterTag, string(event.Status), event.CurrentStep, event.Progress,
		steps, event.CreatedBy, event.CreatedAt.UTC(), event.UpdatedAt.UTC(), storage.NullTime(event.CompletedAt),
	).ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// Update overwrites the workflow state of an event.
func (r *EventRepository) Update(ctx context.Context, event *calibration.Event) error {
	if r == nil || r.db == nil {
		return errors.New("calibration repo: nil db")
	}
	if event == nil {
		return errors.New("calibration repo: nil event")
	}
	steps, err := encodeSteps(event.Steps)
	if err != nil {
		return err
	}
	query, args, err := r.db.Builder().Update(eventsTable).SetMap(map[string]any{
		"status":       string(event.Status),
		"current_step": event.CurrentStep,
		"progress":     event.Progress,
		"steps":        steps,
		"updated_at":   event.UpdatedAt.UTC(),
		"completed_at": storage.NullTime(event.CompletedAt),
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
		return calibration.ErrNotFound
	}
	return nil
}

// Get fetches an event by id.
func (r *EventRepository) Get(ctx context.Context, tenantID, id string) (*calibration.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("calibration repo: nil db")
	}
	query, args, err := r.db.Builder().Select(eventColumns...).From(eventsTable).
		Where(sq.Eq{"tenant_id": tenantID, "id": id}).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	event, err := scanEvent(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, calibration.ErrNotFound
	}
	return event, err
}

// List returns events newest first.
func (r *EventRepository) List(ctx context.Context, tenantID string, filter calibration.Filter) ([]calibration.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("calibration repo: nil db")
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
		OrderBy("created_at DESC", "id ASC").
		Limit(uint64(limit))
	if filter.MeterTag != "" {
		builder = builder.Where(sq.Eq{"meter_tag": filter.MeterTag})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
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

	var result []calibration.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *event)
	}
	return result, rows.Err()
}

func encodeSteps(steps map[calibration.Step]calibration.StepRecord) (string, error) {
	if steps == nil {
		steps = map[calibration.Step]calibration.StepRecord{}
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("calibration repo: encode steps: %w", err)
	}
	return string(data), nil
}

func scanEvent(row storage.RowScanner) (*calibration.Event, error) {
	var event calibration.Event
	var status, steps string
	var completedAt sql.NullTime
	var createdAt, updatedAt time.Time
	if err := row.Scan(
		&event.ID, &event.TenantID, &event.MeterTag, &status, &event.CurrentStep, &event.Progress,
		&steps, &event.CreatedBy, &createdAt, &updatedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	event.Status = calibration.Status(status)
	event.Steps = map[calibration.Step]calibration.StepRecord{}
	if err := json.Unmarshal([]byte(steps), &event.Steps); err != nil {
		return nil, fmt.Errorf("calibration repo: decode steps: %w", err)
	}
	event.CreatedAt = createdAt.UTC()
	event.UpdatedAt = updatedAt.UTC()
	event.CompletedAt = storage.TimeFrom(completedAt)
	return &event, nil
}
