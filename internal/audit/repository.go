package audit

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"mpfm-monitor/internal/storage"
)

const (
	auditTable       = "audit_logs"
	defaultListLimit = 500
	maximumListLimit = 5000
)

var auditColumns = []string{
	"id", "tenant_id", "actor", "role", "action", "resource_type", "resource_id", "meter_tag",
	"metadata", "diff", "payload_digest", "ip", "user_agent", "created_at",
}

// Repository writes audit logs.
type Repository struct {
	db *storage.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *storage.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}

	query, args, err := r.db.Builder().Insert(auditTable).Columns(auditColumns...).Values(
		entry.ID, entry.TenantID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID, entry.MeterTag,
		string(entry.Metadata), entry.Diff, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt.UTC(),
	).ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// List returns entries newest first.
func (r *Repository) List(ctx context.Context, tenantID string, filter Filter) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maximumListLimit {
		limit = maximumListLimit
	}
	builder := r.db.Builder().Select(auditColumns...).From(auditTable).
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	if filter.ResourceType != "" {
		builder = builder.Where(sq.Eq{"resource_type": filter.ResourceType})
	}
	if filter.ResourceID != "" {
		builder = builder.Where(sq.Eq{"resource_id": filter.ResourceID})
	}
	if filter.MeterTag != "" {
		builder = builder.Where(sq.Eq{"meter_tag": filter.MeterTag})
	}
	if filter.Actor != "" {
		builder = builder.Where(sq.Eq{"actor": filter.Actor})
	}
	if !filter.From.IsZero() {
		builder = builder.Where(sq.GtOrEq{"created_at": filter.From.UTC()})
	}
	if !filter.To.IsZero() {
		builder = builder.Where(sq.Lt{"created_at": filter.To.UTC()})
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

	var result []Entry
	for rows.Next() {
		var entry Entry
		var metadata string
		var createdAt time.Time
		if err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.Actor, &entry.Role, &entry.Action, &entry.ResourceType, &entry.ResourceID, &entry.MeterTag,
			&metadata, &entry.Diff, &entry.PayloadDigest, &entry.IP, &entry.UserAgent, &createdAt,
		); err != nil {
			return nil, err
		}
		if metadata != "" {
			entry.Metadata = []byte(metadata)
		}
		entry.CreatedAt = createdAt.UTC()
		result = append(result, entry)
	}
	return result, rows.Err()
}
