package monitoring

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestBalancePercent(t *testing.T) {
	pct, err := BalancePercent(1070, 1000)
	require.NoError(t, err)
	assert.Equal(t, 7.0, pct)

	pct, err = BalancePercent(933.333, 1000)
	require.NoError(t, err)
	assert.Equal(t, -6.67, pct)

	_, err = BalancePercent(10, 0)
	require.ErrorIs(t, err, ErrZeroReference)
}

func TestClassifyBoundaries(t *testing.T) {
	limits := DefaultLimits()
	cases := []struct {
		name       string
		hc, total  *float64
		separator  *float64
		wantStatus Status
	}{
		{"all nil", nil, nil, nil, StatusOK},
		{"hc at alert limit", ptr(7), ptr(0), nil, StatusOK},
		{"hc above alert", ptr(7.01), ptr(0), nil, StatusAlert},
		{"hc at fail limit", ptr(-10), ptr(0), nil, StatusAlert},
		{"hc above fail", ptr(-10.01), ptr(0), nil, StatusFail},
		{"total above alert", ptr(0), ptr(5.5), nil, StatusAlert},
		{"total above fail", ptr(0), ptr(7.5), nil, StatusFail},
		{"separator above alert", ptr(0), ptr(0), ptr(-5.2), StatusAlert},
		{"separator large stays alert", ptr(0), ptr(0), ptr(40), StatusAlert},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantStatus, Classify(tc.hc, tc.total, tc.separator, limits))
		})
	}
}

func TestRowEvaluate(t *testing.T) {
	row := Row{
		MeterTag:  "mpfm-01",
		Date:      time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC),
		Subsea:    Phases{Oil: 900, Gas: 100, Water: 200},
		Topside:   Phases{Oil: 980, Gas: 100, Water: 200},
		Separator: Phases{Oil: 1000, Gas: 100, Water: 200},
	}
	row.Normalize()
	row.Evaluate(DefaultLimits())

	assert.Equal(t, "MPFM-01", row.MeterTag)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), row.Date)
	require.NotNil(t, row.HCBalancePct)
	assert.Equal(t, 8.0, *row.HCBalancePct)
	require.NotNil(t, row.TotalBalancePct)
	assert.Equal(t, 6.67, *row.TotalBalancePct)
	require.NotNil(t, row.SeparatorDeviationPct)
	assert.Equal(t, -1.82, *row.SeparatorDeviationPct)
	assert.Equal(t, StatusAlert, row.Status)
}

func TestRowEvaluateZeroReference(t *testing.T) {
	row := Row{MeterTag: "M", Date: time.Now(), Topside: Phases{Oil: 10}}
	row.Evaluate(DefaultLimits())
	assert.Nil(t, row.HCBalancePct)
	assert.Nil(t, row.TotalBalancePct)
	assert.Nil(t, row.SeparatorDeviationPct)
	assert.Equal(t, StatusOK, row.Status)
}

func TestRowValidate(t *testing.T) {
	row := Row{TenantID: "T", MeterTag: "M", Date: time.Now(), Subsea: Phases{Oil: -1}}
	require.Error(t, row.Validate())
	row.Subsea.Oil = 1
	require.NoError(t, row.Validate())
	row.Date = time.Time{}
	require.Error(t, row.Validate())
}

func TestBalanceProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("balance against itself is zero", prop.ForAll(
		func(reference float64) bool {
			pct, err := BalancePercent(reference, reference)
			return err == nil && pct == 0
		},
		gen.Float64Range(0.01, 1e6),
	))

	properties.Property("sign follows measured minus reference", prop.ForAll(
		func(measured, reference float64) bool {
			pct, err := BalancePercent(measured, reference)
			if err != nil {
				return false
			}
			raw := (measured - reference) / reference * 100
			return math.Abs(pct-raw) <= 0.005+1e-9
		},
		gen.Float64Range(0, 1e5),
		gen.Float64Range(1, 1e5),
	))

	properties.Property("fail implies beyond an alert limit", prop.ForAll(
		func(hc, total float64) bool {
			limits := DefaultLimits()
			status := Classify(&hc, &total, nil, limits)
			if status == StatusFail {
				return math.Abs(hc) > limits.HCAlertPct || math.Abs(total) > limits.TotalAlertPct
			}
			return true
		},
		gen.Float64Range(-20, 20),
		gen.Float64Range(-20, 20),
	))

	properties.TestingRun(t)
}
