package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	alarms "mpfm-monitor/internal/alarms/domain"
	"mpfm-monitor/internal/storage"
)

func newRepo(t *testing.T) *AlertRepository {
	t.Helper()
	db, err := storage.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewAlertRepository(db)
}

func TestAlertRepositoryOpenLookup(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	alert := &alarms.Alert{
		ID: "a1", TenantID: "T", MeterTag: "M1", Type: alarms.TypeBalance, Severity: alarms.SeverityMedium,
		Status: alarms.StatusActive, Message: "m", Value: 7.5, Threshold: 7, StartAt: now, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, alert))

	open, err := repo.FindOpen(ctx, alarms.Key{TenantID: "T", MeterTag: "M1", Type: alarms.TypeBalance})
	require.NoError(t, err)
	require.Equal(t, "a1", open.ID)

	_, err = repo.FindOpen(ctx, alarms.Key{TenantID: "T", MeterTag: "M1", Type: alarms.TypeKFactor})
	require.ErrorIs(t, err, alarms.ErrNotFound)

	require.NoError(t, alert.Resolve(now.Add(time.Hour)))
	require.NoError(t, repo.Update(ctx, alert))
	_, err = repo.FindOpen(ctx, alarms.Key{TenantID: "T", MeterTag: "M1", Type: alarms.TypeBalance})
	require.ErrorIs(t, err, alarms.ErrNotFound)

	got, err := repo.Get(ctx, "T", "a1")
	require.NoError(t, err)
	require.Equal(t, alarms.StatusResolved, got.Status)
	require.Equal(t, now.Add(time.Hour), got.ResolvedAt)
	require.True(t, got.AckedAt.IsZero())
}

func TestAlertRepositoryListAndCounts(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seed := []alarms.Alert{
		{ID: "a1", MeterTag: "M1", Type: alarms.TypeBalance, Severity: alarms.SeverityHigh, Status: alarms.StatusActive},
		{ID: "a2", MeterTag: "M1", Type: alarms.TypeKFactor, Severity: alarms.SeverityHigh, Status: alarms.StatusAcknowledged},
		{ID: "a3", MeterTag: "M2", Type: alarms.TypeDeadline, Severity: alarms.SeverityCritical, Status: alarms.StatusActive, RefID: "ev-1:partial"},
		{ID: "a4", MeterTag: "M2", Type: alarms.TypeBalance, Severity: alarms.SeverityMedium, Status: alarms.StatusResolved},
	}
	for i := range seed {
		a := seed[i]
		a.TenantID = "T"
		a.StartAt = base.Add(time.Duration(i) * time.Hour)
		a.CreatedAt = a.StartAt
		a.UpdatedAt = a.StartAt
		require.NoError(t, repo.Create(ctx, &a))
	}

	open, err := repo.List(ctx, "T", alarms.Filter{Status: "open"})
	require.NoError(t, err)
	require.Len(t, open, 3)
	require.Equal(t, "a3", open[0].ID)

	m1, err := repo.List(ctx, "T", alarms.Filter{MeterTag: "M1", Type: alarms.TypeKFactor})
	require.NoError(t, err)
	require.Len(t, m1, 1)

	counts, err := repo.CountOpenBySeverity(ctx, "T")
	require.NoError(t, err)
	require.Equal(t, 2, counts[alarms.SeverityHigh])
	require.Equal(t, 1, counts[alarms.SeverityCritical])
	require.Zero(t, counts[alarms.SeverityMedium])
}
