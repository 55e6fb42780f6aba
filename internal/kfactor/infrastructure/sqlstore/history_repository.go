package sqlstore

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	kfactor "mpfm-monitor/internal/kfactor/domain"
	"mpfm-monitor/internal/storage"
)

const (
	historyTable = "kfactor_history"
	defaultLimit = 1000
	maxLimit     = 10000
)

var historyColumns = []string{
	"id", "tenant_id", "meter_tag", "day", "phase", "reference_mass", "measured_mass", "k_factor", "in_range", "created_at",
}

// HistoryRepository persists K-factor checks in SQL.
type HistoryRepository struct {
	db *storage.DB
}

// NewHistoryRepository constructs a repository.
func NewHistoryRepository(db *storage.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Save upserts checks keyed by tenant, meter, day and phase.
func (r *HistoryRepository) Save(ctx context.Context, checks []kfactor.Check) error {
	if r == nil || r.db == nil {
		return errors.New("kfactor history repo: nil db")
	}
	if len(checks) == 0 {
		return nil
	}
	builder := r.db.Builder().Insert(historyTable).Columns(historyColumns...)
	for _, c := range checks {
		builder = builder.Values(
			c.ID, c.TenantID, c.MeterTag, c.Date.UTC(), string(c.Phase),
			c.ReferenceMass, c.MeasuredMass, c.KFactor, c.InRange, c.CreatedAt.UTC(),
		)
	}
	query, args, err := builder.Suffix(
		"ON CONFLICT (tenant_id, meter_tag, day, phase) DO UPDATE SET " +
			"reference_mass = excluded.reference_mass, measured_mass = excluded.measured_mass, " +
			"k_factor = excluded.k_factor, in_range = excluded.in_range",
	).ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// List returns checks ordered by day and phase.
func (r *HistoryRepository) List(ctx context.Context, tenantID string, filter kfactor.HistoryFilter) ([]kfactor.Check, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("kfactor history repo: nil db")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	builder := r.db.Builder().Select(historyColumns...).From(historyTable).
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("day ASC", "meter_tag ASC", "phase ASC").
		Limit(uint64(limit))
	if filter.MeterTag != "" {
		builder = builder.Where(sq.Eq{"meter_tag": filter.MeterTag})
	}
	if filter.Phase != "" {
		builder = builder.Where(sq.Eq{"phase": string(filter.Phase)})
	}
	if !filter.From.IsZero() {
		builder = builder.Where(sq.GtOrEq{"day": filter.From.UTC()})
	}
	if !filter.To.IsZero() {
		builder = builder.Where(sq.Lt{"day": filter.To.UTC()})
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

	var result []kfactor.Check
	for rows.Next() {
		var c kfactor.Check
		var phase string
		var day, createdAt time.Time
		if err := rows.Scan(&c.ID, &c.TenantID, &c.MeterTag, &day, &phase,
			&c.ReferenceMass, &c.MeasuredMass, &c.KFactor, &c.InRange, &createdAt); err != nil {
			return nil, err
		}
		c.Phase = kfactor.Phase(phase)
		c.Date = day.UTC()
		c.CreatedAt = createdAt.UTC()
		result = append(result, c)
	}
	return result, rows.Err()
}
