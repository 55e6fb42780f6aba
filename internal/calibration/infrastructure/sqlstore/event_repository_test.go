package sqlstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	calibration "mpfm-monitor/internal/calibration/domain"
	kfactor "mpfm-monitor/internal/kfactor/domain"
	"mpfm-monitor/internal/storage"
)

func TestEventRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenMemory(ctx)
	require.NoError(t, err)
	defer db.Close()
	repo := NewEventRepository(db)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	event, err := calibration.NewEvent("cal-1", "FPSO-01", "MPFM-01", at)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, event))

	require.NoError(t, event.CompleteStep(calibration.StepRegistration, json.RawMessage(`{"operator":"ana"}`), kfactor.DefaultRange(), at.Add(time.Hour)))
	require.NoError(t, repo.Update(ctx, event))

	got, err := repo.Get(ctx, "FPSO-01", "cal-1")
	require.NoError(t, err)
	require.Equal(t, calibration.StatusInProgress, got.Status)
	require.Equal(t, 2, got.CurrentStep)
	require.Equal(t, 14, got.Progress)
	require.JSONEq(t, `{"operator":"ana"}`, string(got.Steps[calibration.StepRegistration].Data))
	require.True(t, got.CompletedAt.IsZero())

	_, err = repo.Get(ctx, "OTHER", "cal-1")
	require.ErrorIs(t, err, calibration.ErrNotFound)

	list, err := repo.List(ctx, "FPSO-01", calibration.Filter{Status: calibration.StatusInProgress})
	require.NoError(t, err)
	require.Len(t, list, 1)
	list, err = repo.List(ctx, "FPSO-01", calibration.Filter{MeterTag: "MPFM-02"})
	require.NoError(t, err)
	require.Empty(t, list)

	missing := *event
	missing.ID = "nope"
	require.ErrorIs(t, repo.Update(ctx, &missing), calibration.ErrNotFound)
}
