package application

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"mpfm-monitor/internal/audit"
	"mpfm-monitor/internal/config"
	kfactorapp "mpfm-monitor/internal/kfactor/application"
	kfactor "mpfm-monitor/internal/kfactor/domain"
	meters "mpfm-monitor/internal/meters/domain"
	monitoring "mpfm-monitor/internal/monitoring/domain"
	"mpfm-monitor/internal/monitoring/infrastructure/sqlstore"
	"mpfm-monitor/internal/storage"
	"mpfm-monitor/internal/validation"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type captureAuditor struct{ entries []audit.Entry }

func (c *captureAuditor) Record(_ context.Context, entry audit.Entry) {
	c.entries = append(c.entries, entry)
}

type stubMeters struct{ meters map[string]meters.Meter }

func (s stubMeters) GetByTag(_ context.Context, tag string) (*meters.Meter, error) {
	meter, ok := s.meters[tag]
	if !ok {
		return nil, meters.ErrNotFound
	}
	return &meter, nil
}

type stubKFactors struct {
	reference kfactor.Masses
	measured  kfactor.Masses
	calls     int
	err       error
}

func (s *stubKFactors) RecordDaily(_ context.Context, meterTag string, day time.Time, reference, measured kfactor.Masses) (*kfactorapp.Result, error) {
	s.calls++
	s.reference = reference
	s.measured = measured
	if s.err != nil {
		return nil, s.err
	}
	return &kfactorapp.Result{State: &kfactor.TrackerState{MeterTag: meterTag, LastDate: day}}, nil
}

type stubAlerts struct {
	rows   []monitoring.Row
	states []kfactor.TrackerState
}

func (s *stubAlerts) EvaluateRow(_ context.Context, row monitoring.Row) error {
	s.rows = append(s.rows, row)
	return nil
}

func (s *stubAlerts) RaiseKFactor(_ context.Context, state kfactor.TrackerState) error {
	s.states = append(s.states, state)
	return nil
}

type stubOpener struct {
	calls    int
	location meters.Location
}

func (s *stubOpener) OpenForFailure(_ context.Context, _ string, location meters.Location, _ time.Time, _ string) (bool, error) {
	s.calls++
	s.location = location
	return s.calls == 1, nil
}

type fixture struct {
	svc      *Service
	auditor  *captureAuditor
	kfactors *stubKFactors
	alerts   *stubAlerts
	opener   *stubOpener
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	db, err := storage.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	f := &fixture{
		auditor:  &captureAuditor{},
		kfactors: &stubKFactors{},
		alerts:   &stubAlerts{},
		opener:   &stubOpener{},
	}
	base := []ServiceOption{
		WithMeters(stubMeters{meters: map[string]meters.Meter{
			"MPFM-01": {Tag: "MPFM-01", Location: meters.LocationSubsea},
		}}),
		WithKFactors(f.kfactors),
		WithAlerts(f.alerts),
		WithEventOpener(f.opener),
		WithAuditor(f.auditor),
		WithClock(fixedClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}),
	}
	f.svc, err = NewService(sqlstore.NewRowRepository(db), "FPSO-01", append(base, opts...)...)
	require.NoError(t, err)
	return f
}

func input(topsideOil float64) Input {
	return Input{
		MeterTag: "mpfm-01",
		Date:     time.Date(2026, 2, 10, 15, 30, 0, 0, time.UTC),
		Subsea:   monitoring.Phases{Oil: 1000, Gas: 100, Water: 50},
		Topside:  monitoring.Phases{Oil: topsideOil, Gas: 100, Water: 50},
	}
}

func TestNewServiceRejectsNilRepo(t *testing.T) {
	_, err := NewService(nil, "FPSO-01")
	require.Error(t, err)
}

func TestRecordEvaluatesAndStoresRow(t *testing.T) {
	f := newFixture(t)
	outcome, err := f.svc.Record(context.Background(), input(1000))
	require.NoError(t, err)

	row := outcome.Row
	require.Equal(t, "MPFM-01", row.MeterTag)
	require.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), row.Date.UTC())
	require.Equal(t, monitoring.StatusOK, row.Status)
	require.NotNil(t, row.HCBalancePct)
	assert.Equal(t, 0.0, *row.HCBalancePct)
	assert.Nil(t, row.SeparatorDeviationPct)
	assert.False(t, outcome.EventOpened)

	assert.Equal(t, 0, f.kfactors.calls, "no separator masses")
	require.Len(t, f.alerts.rows, 1)
	assert.Equal(t, 0, f.opener.calls)
	require.Len(t, f.auditor.entries, 1)
	assert.Equal(t, audit.ActionCreate, f.auditor.entries[0].Action)
}

func TestRecordSameDayReplacesRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Record(ctx, input(1000))
	require.NoError(t, err)
	second, err := f.svc.Record(ctx, input(1060))
	require.NoError(t, err)

	require.Equal(t, first.Row.ID, second.Row.ID)
	require.Equal(t, monitoring.StatusAlert, second.Row.Status)
	list, err := f.svc.List(ctx, monitoring.Filter{MeterTag: "mpfm-01"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, f.auditor.entries, 2)
	assert.Equal(t, audit.ActionUpdate, f.auditor.entries[1].Action)
	assert.NotEmpty(t, f.auditor.entries[1].Diff)
}

func TestRecordFailOpensEventOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	outcome, err := f.svc.Record(ctx, input(1250))
	require.NoError(t, err)
	require.Equal(t, monitoring.StatusFail, outcome.Row.Status)
	require.True(t, outcome.EventOpened)
	require.Equal(t, meters.LocationSubsea, f.opener.location)

	next := input(1250)
	next.Date = next.Date.AddDate(0, 0, 1)
	outcome, err = f.svc.Record(ctx, next)
	require.NoError(t, err)
	require.False(t, outcome.EventOpened)
	require.Equal(t, 2, f.opener.calls)
}

func TestRecordSkipsAutoOpenWhenDisabled(t *testing.T) {
	disabled := false
	rules := config.DefaultRules()
	rules.AutoOpenDesenquadramento = &disabled
	f := newFixture(t, WithRules(rules))

	outcome, err := f.svc.Record(context.Background(), input(1250))
	require.NoError(t, err)
	require.Equal(t, monitoring.StatusFail, outcome.Row.Status)
	require.Equal(t, 0, f.opener.calls)
}

func TestRecordUsesPerMeterThresholds(t *testing.T) {
	rules := config.DefaultRules()
	rules.Meters = map[string]config.Thresholds{"MPFM-01": {HCAlertPct: 3, HCFailPct: 4, TotalAlertPct: 3, TotalFailPct: 4}}
	f := newFixture(t, WithRules(rules))

	outcome, err := f.svc.Record(context.Background(), input(1040))
	require.NoError(t, err)
	require.Equal(t, monitoring.StatusAlert, outcome.Row.Status)
}

func TestRecordTracksKFactorWithSeparator(t *testing.T) {
	f := newFixture(t)
	in := input(1000)
	in.Separator = monitoring.Phases{Oil: 950, Gas: 110, Water: 40}

	outcome, err := f.svc.Record(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, 1, f.kfactors.calls)
	require.Equal(t, kfactor.Masses{Oil: 950, Gas: 110, Water: 40}, f.kfactors.reference)
	require.Equal(t, kfactor.Masses{Oil: 1000, Gas: 100, Water: 50}, f.kfactors.measured)
	require.NotNil(t, outcome.KFactor)
	require.Len(t, f.alerts.states, 1)
	require.NotNil(t, outcome.Row.SeparatorDeviationPct)
}

func TestRecordKeepsRowWhenTrackingFails(t *testing.T) {
	f := newFixture(t)
	f.kfactors.err = errors.New("tracker down")
	in := input(1000)
	in.Separator = monitoring.Phases{Oil: 1000, Gas: 100}

	outcome, err := f.svc.Record(context.Background(), in)
	require.NoError(t, err)
	require.Nil(t, outcome.KFactor)
	require.Empty(t, f.alerts.states)
	require.Len(t, f.alerts.rows, 1)
}

func TestRecordRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := input(1000)
	in.MeterTag = "UNKNOWN"
	_, err := f.svc.Record(ctx, in)
	require.ErrorIs(t, err, validation.ErrInvalid)

	in = input(-1)
	_, err = f.svc.Record(ctx, in)
	require.ErrorIs(t, err, validation.ErrInvalid)

	in = input(1000)
	in.Date = time.Time{}
	_, err = f.svc.Record(ctx, in)
	require.ErrorIs(t, err, validation.ErrInvalid)
}

func TestZeroReferenceLeavesBalanceUnset(t *testing.T) {
	f := newFixture(t)
	in := input(1000)
	in.Subsea = monitoring.Phases{}

	outcome, err := f.svc.Record(context.Background(), in)
	require.NoError(t, err)
	require.Nil(t, outcome.Row.HCBalancePct)
	require.Nil(t, outcome.Row.TotalBalancePct)
	require.Equal(t, monitoring.StatusOK, outcome.Row.Status)
}

func TestDeleteRemovesRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	outcome, err := f.svc.Record(ctx, input(1000))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, outcome.Row.ID))
	_, err = f.svc.Get(ctx, outcome.Row.ID)
	require.ErrorIs(t, err, monitoring.ErrNotFound)
	require.Equal(t, audit.ActionDelete, f.auditor.entries[len(f.auditor.entries)-1].Action)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.List(context.Background(), monitoring.Filter{Status: "BROKEN"})
	require.ErrorIs(t, err, validation.ErrInvalid)
}

func buildWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, values := range rows {
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue("Sheet1", cell, value))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestImportXLSXRecordsValidLines(t *testing.T) {
	f := newFixture(t)
	book := buildWorkbook(t, [][]any{
		{"Data", "Tag", "Subsea Oil", "Subsea Gas", "Subsea Water", "Topside Oil", "Topside Gas", "Topside Water"},
		{"2026-02-01", "MPFM-01", 1000, 100, 50, 1000, 100, 50},
		{"2026-02-02", "MPFM-01", 1000, 100, 50, "abc", 100, 50},
		{},
		{"2026-02-03", "MPFM-99", 1000, 100, 50, 1000, 100, 50},
		{"01/02/2026", "mpfm-01", "1000,5", 100, 50, 1250, 100, 50},
	})

	report, err := f.svc.ImportXLSX(context.Background(), book)
	require.NoError(t, err)
	require.Equal(t, 2, report.Imported)
	require.Len(t, report.Rejected, 2)
	assert.Equal(t, 3, report.Rejected[0].Line)
	assert.Contains(t, report.Rejected[0].Error, "topside_oil")
	assert.Equal(t, 5, report.Rejected[1].Line)

	rows, err := f.svc.List(context.Background(), monitoring.Filter{MeterTag: "MPFM-01"})
	require.NoError(t, err)
	require.Len(t, rows, 1, "both valid lines fall on 2026-02-01")
	assert.Equal(t, 1000.5, rows[0].Subsea.Oil)
	assert.Equal(t, monitoring.StatusFail, rows[0].Status)
	assert.Equal(t, audit.ActionImport, f.auditor.entries[len(f.auditor.entries)-1].Action)
}

func TestImportXLSXReadsLocaleSeparators(t *testing.T) {
	book := buildWorkbook(t, [][]any{
		{"data", "medidor", "subsea_oil", "topside_oil"},
		{"2026-02-01", "MPFM-01", "1.234,56", "1,234.56"},
		{"2026-02-02", "MPFM-01", "1.234.567", "1.234"},
		{"2026-02-03", "MPFM-01", "1,23,4.5", 1},
		{"2026-02-04", "MPFM-01", "1.2,3.4", 1},
	})

	parsed, rejected, err := ParseXLSX(book)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, 1234.56, parsed[0].Input.Subsea.Oil)
	assert.Equal(t, 1234.56, parsed[0].Input.Topside.Oil)
	assert.Equal(t, 1234567.0, parsed[1].Input.Subsea.Oil)
	assert.Equal(t, 1.234, parsed[1].Input.Topside.Oil)

	require.Len(t, rejected, 2)
	assert.Equal(t, 4, rejected[0].Line)
	assert.Contains(t, rejected[0].Error, "ambiguous")
	assert.Equal(t, 5, rejected[1].Line)
}

func TestParseXLSXRequiresDateAndMeter(t *testing.T) {
	book := buildWorkbook(t, [][]any{{"meter", "subsea_oil"}, {"MPFM-01", 1}})
	_, _, err := ParseXLSX(book)
	require.ErrorIs(t, err, validation.ErrInvalid)
}
