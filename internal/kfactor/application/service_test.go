package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mpfm-monitor/internal/config"
	kfactor "mpfm-monitor/internal/kfactor/domain"
	"mpfm-monitor/internal/kfactor/infrastructure/sqlstore"
	"mpfm-monitor/internal/storage"
)

func newService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	db, err := storage.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	svc, err := NewService(sqlstore.NewHistoryRepository(db), sqlstore.NewTrackerRepository(db), "FPSO-01", opts...)
	require.NoError(t, err)
	return svc
}

var (
	inRange  = kfactor.Masses{Oil: 1000, Gas: 200}
	outRange = kfactor.Masses{Oil: 1300, Gas: 200}
	measured = kfactor.Masses{Oil: 1000, Gas: 200}
)

func TestRecordDailyTriggersAtThreshold(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)

	var last *Result
	for i := 0; i < 10; i++ {
		res, err := svc.RecordDaily(ctx, "mpfm-01", start.AddDate(0, 0, i), outRange, measured)
		require.NoError(t, err)
		require.Equal(t, i == 9, res.Triggered, "day %d", i)
		last = res
	}
	require.True(t, last.State.CalibrationRequired)
	require.Equal(t, 10, last.State.ConsecutiveOutOfRange)

	again, err := svc.RecordDaily(ctx, "MPFM-01", start.AddDate(0, 0, 9), outRange, measured)
	require.NoError(t, err)
	require.Equal(t, 10, again.State.ConsecutiveOutOfRange)
	require.False(t, again.Triggered)

	history, err := svc.History(ctx, kfactor.HistoryFilter{MeterTag: "MPFM-01", Phase: kfactor.PhaseOil})
	require.NoError(t, err)
	require.Len(t, history, 10)

	required, err := svc.Trackers(ctx, true)
	require.NoError(t, err)
	require.Len(t, required, 1)

	state, err := svc.ResetAfterCalibration(ctx, "MPFM-01")
	require.NoError(t, err)
	require.False(t, state.CalibrationRequired)
	require.Equal(t, 0, state.ConsecutiveOutOfRange)
}

func TestRecordDailyCorrectedDayReplacesVerdict(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		_, err := svc.RecordDaily(ctx, "M", start.AddDate(0, 0, i), outRange, measured)
		require.NoError(t, err)
	}
	last := start.AddDate(0, 0, 9)

	res, err := svc.RecordDaily(ctx, "M", last, inRange, measured)
	require.NoError(t, err)
	require.Equal(t, 0, res.State.ConsecutiveOutOfRange)
	require.False(t, res.State.CalibrationRequired)

	state, err := svc.Tracker(ctx, "M")
	require.NoError(t, err)
	require.Equal(t, 0, state.ConsecutiveOutOfRange)
	require.False(t, state.CalibrationRequired)

	history, err := svc.History(ctx, kfactor.HistoryFilter{MeterTag: "M", Phase: kfactor.PhaseOil, From: last})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].InRange)

	res, err = svc.RecordDaily(ctx, "M", last, outRange, measured)
	require.NoError(t, err)
	require.Equal(t, 10, res.State.ConsecutiveOutOfRange)
	require.True(t, res.State.CalibrationRequired)
	require.True(t, res.Triggered)
}

func TestRecordDailyCountsDeadMeter(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var last *Result
	for i := 0; i < 12; i++ {
		res, err := svc.RecordDaily(ctx, "DEAD", start.AddDate(0, 0, i), kfactor.Masses{Oil: 1200}, kfactor.Masses{})
		require.NoError(t, err)
		require.Len(t, res.Checks, 1)
		last = res
	}
	require.Equal(t, 12, last.State.ConsecutiveOutOfRange)
	require.True(t, last.State.CalibrationRequired)
	require.False(t, last.Checks[0].InRange)
}

func TestRecordDailyResetsOnInRangeDay(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := svc.RecordDaily(ctx, "M", start.AddDate(0, 0, i), outRange, measured)
		require.NoError(t, err)
	}
	res, err := svc.RecordDaily(ctx, "M", start.AddDate(0, 0, 3), inRange, measured)
	require.NoError(t, err)
	require.Equal(t, 0, res.State.ConsecutiveOutOfRange)
}

func TestRecordDailyUsesMeterOverrides(t *testing.T) {
	rules, err := config.ParseRules([]byte("meters:\n  TIGHT:\n    kfactor_max: 1.05\n    consecutive_days_threshold: 1\n"))
	require.NoError(t, err)
	svc := newService(t, WithRules(rules))

	res, err := svc.RecordDaily(context.Background(), "tight", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		kfactor.Masses{Oil: 1100}, kfactor.Masses{Oil: 1000})
	require.NoError(t, err)
	require.True(t, res.Triggered)
}

func TestRecordDailyWithoutSeparatorData(t *testing.T) {
	svc := newService(t)
	res, err := svc.RecordDaily(context.Background(), "M", time.Now(), kfactor.Masses{}, measured)
	require.NoError(t, err)
	require.Empty(t, res.Checks)
	require.Equal(t, 0, res.State.ConsecutiveOutOfRange)
}
