package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	meters "mpfm-monitor/internal/meters/domain"
	"mpfm-monitor/internal/storage"
)

const metersTable = "meters"

var meterColumns = []string{
	"id", "tenant_id", "tag", "name", "location", "k_oil", "k_gas", "k_water",
	"calibration_interval_days", "last_calibration", "next_calibration", "created_at", "updated_at",
}

// MeterRepository persists meters in SQL.
type MeterRepository struct {
	db *storage.DB
}

// NewMeterRepository constructs a repository.
func NewMeterRepository(db *storage.DB) *MeterRepository {
	return &MeterRepository{db: db}
}

// Create inserts a meter.
func (r *MeterRepository) Create(ctx context.Context, m *meters.Meter) error {
	if r == nil || r.db == nil {
		return errors.New("meter repo: nil db")
	}
	if m == nil {
		return errors.New("meter repo: nil meter")
	}
	query, args, err := r.db.Builder().Insert(metersTable).Columns(meterColumns...).Values(
		m.ID, m.TenantID, m.Tag, m.Name, string(m.Location), m.KFactors.Oil, m.KFactors.Gas, m.KFactors.Water,
		m.CalibrationIntervalDays, storage.NullTime(m.LastCalibration), storage.NullTime(m.NextCalibration),
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	).ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if storage.IsUniqueViolation(err) {
			return meters.ErrDuplicateTag
		}
		return err
	}
	return nil
}

// Update overwrites a meter.
func (r *MeterRepository) Update(ctx context.Context, m *meters.Meter) error {
	if r == nil || r.db == nil {
		return errors.New("meter repo: nil db")
	}
	if m == nil {
		return errors.New("meter repo: nil meter")
	}
	query, args, err := r.db.Builder().Update(metersTable).SetMap(map[string]any{
		"tag":                       m.Tag,
		"name":                      m.Name,
		"location":                  string(m.Location),
		"k_oil":                     m.KFactors.Oil,
		"k_gas":                     m.KFactors.Gas,
		"k_water":                   m.KFactors.Water,
		"calibration_interval_days": m.CalibrationIntervalDays,
		"last_calibration":          storage.NullTime(m.LastCalibration),
		"next_calibration":          storage.NullTime(m.NextCalibration),
		"updated_at":                m.UpdatedAt.UTC(),
	}).Where(sq.Eq{"tenant_id": m.TenantID, "id": m.ID}).ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return meters.ErrDuplicateTag
		}
		return err
	}
	return requireAffected(res)
}

// Delete removes a meter.
func (r *MeterRepository) Delete(ctx context.Context, tenantID, id string) error {
	if r == nil || r.db == nil {
		return errors.New("meter repo: nil db")
	}
	query, args, err := r.db.Builder().Delete(metersTable).Where(sq.Eq{"tenant_id": tenantID, "id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Get loads a meter by id.
func (r *MeterRepository) Get(ctx context.Context, tenantID, id string) (*meters.Meter, error) {
	return r.getBy(ctx, sq.Eq{"tenant_id": tenantID, "id": id})
}

// GetByTag loads a meter by tag.
func (r *MeterRepository) GetByTag(ctx context.Context, tenantID, tag string) (*meters.Meter, error) {
	return r.getBy(ctx, sq.Eq{"tenant_id": tenantID, "tag": tag})
}

// List returns meters ordered by tag.
func (r *MeterRepository) List(ctx context.Context, tenantID string, filter meters.Filter) ([]meters.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	builder := r.db.Builder().Select(meterColumns...).From(metersTable).Where(sq.Eq{"tenant_id": tenantID}).OrderBy("tag ASC")
	if filter.Location != "" {
		builder = builder.Where(sq.Eq{"location": string(filter.Location)})
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

	var result []meters.Meter
	for rows.Next() {
		m, err := scanMeter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

func (r *MeterRepository) getBy(ctx context.Context, where sq.Eq) (*meters.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	query, args, err := r.db.Builder().Select(meterColumns...).From(metersTable).Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	m, err := scanMeter(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, meters.ErrNotFound
	}
	return m, err
}

func scanMeter(row storage.RowScanner) (*meters.Meter, error) {
	var m meters.Meter
	var location string
	var last, next sql.NullTime
	var createdAt, updatedAt time.Time
	if err := row.Scan(
		&m.ID, &m.TenantID, &m.Tag, &m.Name, &location,
		&m.KFactors.Oil, &m.KFactors.Gas, &m.KFactors.Water,
		&m.CalibrationIntervalDays, &last, &next, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	m.Location = meters.Location(location)
	m.LastCalibration = storage.TimeFrom(last)
	m.NextCalibration = storage.TimeFrom(next)
	m.CreatedAt = createdAt.UTC()
	m.UpdatedAt = updatedAt.UTC()
	return &m, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return meters.ErrNotFound
	}
	return nil
}
