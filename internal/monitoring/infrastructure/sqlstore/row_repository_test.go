package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	monitoring "mpfm-monitor/internal/monitoring/domain"
	"mpfm-monitor/internal/storage"
)

func newRepo(t *testing.T) *RowRepository {
	t.Helper()
	db, err := storage.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRowRepository(db)
}

func sampleRow(id, tag string, day time.Time, topsideOil float64) *monitoring.Row {
	row := &monitoring.Row{
		ID:        id,
		TenantID:  "FPSO-01",
		MeterTag:  tag,
		Date:      day,
		Subsea:    monitoring.Phases{Oil: 1000, Gas: 100, Water: 50},
		Topside:   monitoring.Phases{Oil: topsideOil, Gas: 100, Water: 50},
		CreatedAt: day,
		UpdatedAt: day,
	}
	row.Evaluate(monitoring.DefaultLimits())
	return row
}

func TestUpsertKeepsOneRowPerDay(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first, err := repo.Upsert(ctx, sampleRow("r1", "MPFM-01", day, 1000))
	require.NoError(t, err)
	require.Equal(t, "r1", first.ID)
	require.Equal(t, monitoring.StatusOK, first.Status)

	second, err := repo.Upsert(ctx, sampleRow("r2", "MPFM-01", day, 1200))
	require.NoError(t, err)
	require.Equal(t, "r1", second.ID)
	require.Equal(t, monitoring.StatusFail, second.Status)
	require.NotNil(t, second.HCBalancePct)
	require.Nil(t, second.SeparatorDeviationPct)

	list, err := repo.List(ctx, "FPSO-01", monitoring.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestListFilters(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		oil := 1000.0
		if i%2 == 1 {
			oil = 1080
		}
		_, err := repo.Upsert(ctx, sampleRow("r"+string(rune('a'+i)), "MPFM-01", base.AddDate(0, 0, i), oil))
		require.NoError(t, err)
	}
	_, err := repo.Upsert(ctx, sampleRow("other", "MPFM-02", base, 1000))
	require.NoError(t, err)

	list, err := repo.List(ctx, "FPSO-01", monitoring.Filter{MeterTag: "MPFM-01", From: base.AddDate(0, 0, 1), To: base.AddDate(0, 0, 4)})
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, base.AddDate(0, 0, 1), list[0].Date)

	alerts, err := repo.List(ctx, "FPSO-01", monitoring.Filter{Status: monitoring.StatusAlert})
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	counts, err := repo.CountByStatus(ctx, "FPSO-01", time.Time{})
	require.NoError(t, err)
	require.Equal(t, 4, counts[monitoring.StatusOK])
	require.Equal(t, 2, counts[monitoring.StatusAlert])
}

func TestDeleteRow(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := repo.Upsert(ctx, sampleRow("r1", "MPFM-01", day, 1000))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "FPSO-01", "r1"))
	require.ErrorIs(t, repo.Delete(ctx, "FPSO-01", "r1"), monitoring.ErrNotFound)
	_, err = repo.Get(ctx, "FPSO-01", "r1")
	require.ErrorIs(t, err, monitoring.ErrNotFound)
}
