package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	kfactor "mpfm-monitor/internal/kfactor/domain"
	"mpfm-monitor/internal/storage"
)

const trackersTable = "kfactor_trackers"

var trackerColumns = []string{
	"tenant_id", "meter_tag", "consecutive_out_of_range", "calibration_required", "last_day",
	"last_out_of_range", "prior_consecutive", "prior_required", "updated_at",
}

// TrackerRepository persists tracker states in SQL.
type TrackerRepository struct {
	db *storage.DB
}

// NewTrackerRepository constructs a repository.
func NewTrackerRepository(db *storage.DB) *TrackerRepository {
	return &TrackerRepository{db: db}
}

// Get loads the tracker for a meter.
func (r *TrackerRepository) Get(ctx context.Context, tenantID, meterTag string) (*kfactor.TrackerState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("kfactor tracker repo: nil db")
	}
	query, args, err := r.db.Builder().Select(trackerColumns...).From(trackersTable).
		Where(sq.Eq{"tenant_id": tenantID, "meter_tag": meterTag}).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	state, err := scanTracker(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kfactor.ErrNotFound
	}
	return state, err
}

// Save upserts a tracker state.
func (r *TrackerRepository) Save(ctx context.Context, state *kfactor.TrackerState) error {
	if r == nil || r.db == nil {
		return errors.New("kfactor tracker repo: nil db")
	}
	if state == nil {
		return errors.New("kfactor tracker repo: nil state")
	}
	query, args, err := r.db.Builder().Insert(trackersTable).Columns(trackerColumns...).Values(
		state.TenantID, state.MeterTag, state.ConsecutiveOutOfRange, state.CalibrationRequired,
		storage.NullTime(state.LastDate), state.LastOutOfRange, state.PriorConsecutive, state.PriorRequired,
		state.UpdatedAt.UTC(),
	).Suffix(
		"ON CONFLICT (tenant_id, meter_tag) DO UPDATE SET " +
			"consecutive_out_of_range = excluded.consecutive_out_of_range, " +
			"calibration_required = excluded.calibration_required, " +
			"last_day = excluded.last_day, last_out_of_range = excluded.last_out_of_range, " +
			"prior_consecutive = excluded.prior_consecutive, prior_required = excluded.prior_required, " +
			"updated_at = excluded.updated_at",
	).ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// List returns trackers ordered by meter tag.
func (r *TrackerRepository) List(ctx context.Context, tenantID string, onlyRequired bool) ([]kfactor.TrackerState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("kfactor tracker repo: nil db")
	}
	builder := r.db.Builder().Select(trackerColumns...).From(trackersTable).
		Where(sq.Eq{"tenant_id": tenantID}).OrderBy("meter_tag ASC")
	if onlyRequired {
		builder = builder.Where(sq.Eq{"calibration_required": true})
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

	var result []kfactor.TrackerState
	for rows.Next() {
		state, err := scanTracker(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *state)
	}
	return result, rows.Err()
}

func scanTracker(row storage.RowScanner) (*kfactor.TrackerState, error) {
	var state kfactor.TrackerState
	var lastDay sql.NullTime
	var updatedAt time.Time
	if err := row.Scan(&state.TenantID, &state.MeterTag, &state.ConsecutiveOutOfRange,
		&state.CalibrationRequired, &lastDay, &state.LastOutOfRange, &state.PriorConsecutive,
		&state.PriorRequired, &updatedAt); err != nil {
		return nil, err
	}
	state.LastDate = storage.TimeFrom(lastDay)
	state.UpdatedAt = updatedAt.UTC()
	return &state, nil
}
