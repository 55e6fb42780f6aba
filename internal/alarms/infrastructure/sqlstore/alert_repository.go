package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	alarms "mpfm-monitor/internal/alarms/domain"
	"mpfm-monitor/internal/storage"
)

const (
	alertsTable  = "alerts"
	defaultLimit = 500
	maxLimit     = 5000
)

var alertColumns = []string{
	"id", "tenant_id", "meter_tag", "alert_type", "severity", "status", "message", "ref_id",
	"value", "threshold", "start_at", "last_seen_at", "acked_at", "resolved_at", "created_at", "updated_at",
}

var openStatuses = []string{alarms.StatusActive, alarms.StatusAcknowledged}

// AlertRepository persists alerts in SQL.
type AlertRepository struct {
	db *storage.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *storage.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a new alert.
func (r *AlertRepository) Create(ctx context.Context, alert *alarms.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.TenantID == "" || alert.MeterTag == "" {
		return errors.New("alert repo: missing fields")
	}
	query, args, err := r.db.Builder().Insert(alertsTable).Columns(alertColumns...).Values(
		alert.ID, alert.TenantID, alert.MeterTag, string(alert.Type), string(alert.Severity), alert.Status,
		alert.Message, alert.RefID, alert.Value, alert.Threshold, alert.StartAt.UTC(),
		storage.NullTime(alert.LastSeenAt), storage.NullTime(alert.AckedAt), storage.NullTime(alert.ResolvedAt),
		alert.CreatedAt.UTC(), alert.UpdatedAt.UTC(),
	).ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// Update overwrites the mutable fields of an alert.
func (r *AlertRepository) Update(ctx context.Context, alert *alarms.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	query, args, err := r.db.Builder().Update(alertsTable).SetMap(map[string]any{
		"severity":     string(alert.Severity),
		"status":       alert.Status,
		"message":      alert.Message,
		"value":        alert.Value,
		"threshold":    alert.Threshold,
		"last_seen_at": storage.NullTime(alert.LastSeenAt),
		"acked_at":     storage.NullTime(alert.AckedAt),
		"resolved_at":  storage.NullTime(alert.ResolvedAt),
		"updated_at":   alert.UpdatedAt.UTC(),
	}).Where(sq.Eq{"tenant_id": alert.TenantID, "id": alert.ID}).ToSql()
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
		return alarms.ErrNotFound
	}
	return nil
}

// Get fetches an alert by id.
func (r *AlertRepository) Get(ctx context.Context, tenantID, id string) (*alarms.Alert, error) {
	return r.getBy(ctx, sq.Eq{"tenant_id": tenantID, "id": id}, "")
}

// FindOpen returns the open alert for key, or ErrNotFound.
func (r *AlertRepository) FindOpen(ctx context.Context, key alarms.Key) (*alarms.Alert, error) {
	return r.getBy(ctx, sq.Eq{
		"tenant_id":  key.TenantID,
		"meter_tag":  key.MeterTag,
		"alert_type": string(key.Type),
		"ref_id":     key.RefID,
		"status":     openStatuses,
	}, "start_at DESC")
}

// List returns alerts newest first.
func (r *AlertRepository) List(ctx context.Context, tenantID string, filter alarms.Filter) ([]alarms.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	builder := r.db.Builder().Select(alertColumns...).From(alertsTable).
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("start_at DESC", "id ASC").
		Limit(uint64(limit))
	if filter.MeterTag != "" {
		builder = builder.Where(sq.Eq{"meter_tag": filter.MeterTag})
	}
	switch filter.Status {
	case "":
	case "open":
		builder = builder.Where(sq.Eq{"status": openStatuses})
	default:
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}
	if filter.Type != "" {
		builder = builder.Where(sq.Eq{"alert_type": string(filter.Type)})
	}
	if !filter.From.IsZero() {
		builder = builder.Where(sq.GtOrEq{"start_at": filter.From.UTC()})
	}
	if !filter.To.IsZero() {
		builder = builder.Where(sq.Lt{"start_at": filter.To.UTC()})
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

	var result []alarms.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	return result, rows.Err()
}

// CountOpenBySeverity counts active and acknowledged alerts.
func (r *AlertRepository) CountOpenBySeverity(ctx context.Context, tenantID string) (map[alarms.Severity]int, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query, args, err := r.db.Builder().Select("severity", "COUNT(*)").From(alertsTable).
		Where(sq.Eq{"tenant_id": tenantID, "status": openStatuses}).
		GroupBy("severity").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[alarms.Severity]int)
	for rows.Next() {
		var severity string
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, err
		}
		counts[alarms.Severity(severity)] = n
	}
	return counts, rows.Err()
}

func (r *AlertRepository) getBy(ctx context.Context, where sq.Eq, orderBy string) (*alarms.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	builder := r.db.Builder().Select(alertColumns...).From(alertsTable).Where(where).Limit(1)
	if orderBy != "" {
		builder = builder.OrderBy(orderBy)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alarms.ErrNotFound
	}
	return alert, err
}

func scanAlert(row storage.RowScanner) (*alarms.Alert, error) {
	var alert alarms.Alert
	var alertType, severity string
	var lastSeenAt, ackedAt, resolvedAt sql.NullTime
	var startAt, createdAt, updatedAt time.Time
	if err := row.Scan(
		&alert.ID, &alert.TenantID, &alert.MeterTag, &alertType, &severity, &alert.Status,
		&alert.Message, &alert.RefID, &alert.Value, &alert.Threshold, &startAt,
		&lastSeenAt, &ackedAt, &resolvedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	alert.Type = alarms.Type(alertType)
	alert.Severity = alarms.Severity(severity)
	alert.StartAt = startAt.UTC()
	alert.LastSeenAt = storage.TimeFrom(lastSeenAt)
	alert.AckedAt = storage.TimeFrom(ackedAt)
	alert.ResolvedAt = storage.TimeFrom(resolvedAt)
	alert.CreatedAt = createdAt.UTC()
	alert.UpdatedAt = updatedAt.UTC()
	return &alert, nil
}
