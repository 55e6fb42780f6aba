package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	monitoring "mpfm-monitor/internal/monitoring/domain"
	"mpfm-monitor/internal/storage"
)

const (
	rowsTable    = "monitoring_rows"
	defaultLimit = 1000
	maxLimit     = 10000
)

var rowColumns = []string{
	"id", "tenant_id", "meter_tag", "day",
	"subsea_oil", "subsea_gas", "subsea_water",
	"topside_oil", "topside_gas", "topside_water",
	"separator_oil", "separator_gas", "separator_water",
	"hc_balance_pct", "total_balance_pct", "separator_deviation_pct",
	"status", "notes", "created_at", "updated_at",
}

// columns rewritten when a row for the same day is recorded again
var upsertColumns = []string{
	"subsea_oil", "subsea_gas", "subsea_water",
	"topside_oil", "topside_gas", "topside_water",
	"separator_oil", "separator_gas", "separator_water",
	"hc_balance_pct", "total_balance_pct", "separator_deviation_pct",
	"status", "notes", "updated_at",
}

// RowRepository persists monitoring rows in SQL.
type RowRepository struct {
	db *storage.DB
}

// NewRowRepository constructs a repository.
func NewRowRepository(db *storage.DB) *RowRepository {
	return &RowRepository{db: db}
}

// Upsert inserts or replaces the row for tenant, meter and day.
func (r *RowRepository) Upsert(ctx context.Context, row *monitoring.Row) (*monitoring.Row, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("monitoring repo: nil db")
	}
	if row == nil {
		return nil, errors.New("monitoring repo: nil row")
	}
	sets := make([]string, 0, len(upsertColumns))
	for _, col := range upsertColumns {
		sets = append(sets, col+" = excluded."+col)
	}
	query, args, err := r.db.Builder().Insert(rowsTable).Columns(rowColumns...).Values(
		row.ID, row.TenantID, row.MeterTag, row.Date.UTC(),
		row.Subsea.Oil, row.Subsea.Gas, row.Subsea.Water,
		row.Topside.Oil, row.Topside.Gas, row.Topside.Water,
		row.Separator.Oil, row.Separator.Gas, row.Separator.Water,
		storage.NullFloat(row.HCBalancePct), storage.NullFloat(row.TotalBalancePct), storage.NullFloat(row.SeparatorDeviationPct),
		string(row.Status), row.Notes, row.CreatedAt.UTC(), row.UpdatedAt.UTC(),
	).Suffix("ON CONFLICT (tenant_id, meter_tag, day) DO UPDATE SET " + strings.Join(sets, ", ")).ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}
	return r.getBy(ctx, sq.Eq{"tenant_id": row.TenantID, "meter_tag": row.MeterTag, "day": row.Date.UTC()})
}

// Get loads a row by id.
func (r *RowRepository) Get(ctx context.Context, tenantID, id string) (*monitoring.Row, error) {
	return r.getBy(ctx, sq.Eq{"tenant_id": tenantID, "id": id})
}

// List returns rows ordered by day then meter.
func (r *RowRepository) List(ctx context.Context, tenantID string, filter monitoring.Filter) ([]monitoring.Row, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("monitoring repo: nil db")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	builder := r.db.Builder().Select(rowColumns...).From(rowsTable).
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("day ASC", "meter_tag ASC").
		Limit(uint64(limit))
	if filter.MeterTag != "" {
		builder = builder.Where(sq.Eq{"meter_tag": filter.MeterTag})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
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

	var result []monitoring.Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *row)
	}
	return result, rows.Err()
}

// Delete removes a row.
func (r *RowRepository) Delete(ctx context.Context, tenantID, id string) error {
	if r == nil || r.db == nil {
		return errors.New("monitoring repo: nil db")
	}
	query, args, err := r.db.Builder().Delete(rowsTable).Where(sq.Eq{"tenant_id": tenantID, "id": id}).ToSql()
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
		return monitoring.ErrNotFound
	}
	return nil
}

// CountByStatus counts rows recorded on or after from.
func (r *RowRepository) CountByStatus(ctx context.Context, tenantID string, from time.Time) (monitoring.Counts, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("monitoring repo: nil db")
	}
	builder := r.db.Builder().Select("status", "COUNT(*)").From(rowsTable).
		Where(sq.Eq{"tenant_id": tenantID}).GroupBy("status")
	if !from.IsZero() {
		builder = builder.Where(sq.GtOrEq{"day": from.UTC()})
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

	counts := monitoring.Counts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[monitoring.Status(status)] = n
	}
	return counts, rows.Err()
}

func (r *RowRepository) getBy(ctx context.Context, where sq.Eq) (*monitoring.Row, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("monitoring repo: nil db")
	}
	query, args, err := r.db.Builder().Select(rowColumns...).From(rowsTable).Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	row, err := scanRow(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, monitoring.ErrNotFound
	}
	return row, err
}

func scanRow(scanner storage.RowScanner) (*monitoring.Row, error) {
	var row monitoring.Row
	var status string
	var hc, total, sep sql.NullFloat64
	var day, createdAt, updatedAt time.Time
	if err := scanner.Scan(
		&row.ID, &row.TenantID, &row.MeterTag, &day,
		&row.Subsea.Oil, &row.Subsea.Gas, &row.Subsea.Water,
		&row.Topside.Oil, &row.Topside.Gas, &row.Topside.Water,
		&row.Separator.Oil, &row.Separator.Gas, &row.Separator.Water,
		&hc, &total, &sep,
		&status, &row.Notes, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	row.Date = day.UTC()
	row.HCBalancePct = storage.FloatFrom(hc)
	row.TotalBalancePct = storage.FloatFrom(total)
	row.SeparatorDeviationPct = storage.FloatFrom(sep)
	row.Status = monitoring.Status(status)
	row.CreatedAt = createdAt.UTC()
	row.UpdatedAt = updatedAt.UTC()
	return &row, nil
}
