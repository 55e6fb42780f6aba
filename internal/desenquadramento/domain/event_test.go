package desenquadramento

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	meters "mpfm-monitor/internal/meters/domain"
	"mpfm-monitor/internal/validation"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeDeadlines(t *testing.T) {
	occurred := time.Date(2026, 1, 25, 17, 45, 0, 0, time.UTC)

	partial, final := ComputeDeadlines(occurred, meters.LocationTopside, DefaultOffsets())
	assert.Equal(t, date(2026, 2, 4), partial)
	assert.Equal(t, date(2026, 2, 24), final)

	_, final = ComputeDeadlines(occurred, meters.LocationSubsea, DefaultOffsets())
	assert.Equal(t, date(2026, 3, 26), final)
}

func TestClassifyDeadline(t *testing.T) {
	due := date(2026, 2, 10)
	cases := []struct {
		name string
		now  time.Time
		sent time.Time
		want DeadlineStatus
	}{
		{"on time", date(2026, 2, 1), time.Time{}, DeadlineOnTime},
		{"four days left", time.Date(2026, 2, 6, 23, 0, 0, 0, time.UTC), time.Time{}, DeadlineOnTime},
		{"three days left", date(2026, 2, 7), time.Time{}, DeadlineDueSoon},
		{"due today", time.Date(2026, 2, 10, 22, 0, 0, 0, time.UTC), time.Time{}, DeadlineDueSoon},
		{"overdue", date(2026, 2, 11), time.Time{}, DeadlineOverdue},
		{"sent late", date(2026, 3, 1), date(2026, 2, 20), DeadlineSent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyDeadline(due, tc.sent, tc.now, 3))
		})
	}
}

func TestTransitions(t *testing.T) {
	at := date(2026, 2, 1)
	event := Event{Status: StatusOpen}

	require.ErrorIs(t, event.Transition(StatusClosed, at), ErrInvalidTransition)
	require.ErrorIs(t, event.Transition("DONE", at), validation.ErrInvalid)

	require.NoError(t, event.Transition(StatusPartialReportSent, at))
	assert.Equal(t, at, event.PartialReportSentAt)
	require.NoError(t, event.Transition(StatusFinalReportSent, at.AddDate(0, 0, 5)))
	assert.Equal(t, at.AddDate(0, 0, 5), event.FinalReportSentAt)
	require.NoError(t, event.Transition(StatusClosed, at.AddDate(0, 0, 6)))
	assert.False(t, event.IsOpen())
	require.ErrorIs(t, event.Transition(StatusOpen, at), ErrInvalidTransition)

	investigating := Event{Status: StatusOpen}
	require.NoError(t, investigating.Transition(StatusInvestigating, at))
	require.ErrorIs(t, investigating.Transition(StatusFinalReportSent, at), ErrInvalidTransition)
}

func TestEventDeadlines(t *testing.T) {
	event := Event{ID: "ev-1", MeterTag: "MPFM-01", OccurredAt: date(2026, 2, 1), Location: meters.LocationTopside}
	event.ScheduleDeadlines(DefaultOffsets())
	event.PartialReportSentAt = date(2026, 2, 9)

	deadlines := event.Deadlines(date(2026, 3, 5), 3)
	require.Len(t, deadlines, 2)
	assert.Equal(t, DeadlineSent, deadlines[0].Status)
	assert.Equal(t, ReportFinal, deadlines[1].Report)
	assert.Equal(t, DeadlineOverdue, deadlines[1].Status)
	assert.Equal(t, -2, deadlines[1].DaysRemaining)
}

func TestValidateRequiresOccurrenceAndCause(t *testing.T) {
	event := Event{TenantID: "FPSO-01", MeterTag: "MPFM-01", Location: meters.LocationTopside, Cause: "balance"}
	require.ErrorIs(t, event.Validate(), validation.ErrInvalid)
	event.OccurredAt = date(2026, 2, 1)
	require.NoError(t, event.Validate())
	event.Cause = ""
	require.ErrorIs(t, event.Validate(), validation.ErrInvalid)
}

func TestDeadlineProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	base := date(2020, 1, 1)

	properties.Property("subsea final never precedes topside final or partial", prop.ForAll(
		func(offset int) bool {
			occurred := base.AddDate(0, 0, offset)
			partial, topside := ComputeDeadlines(occurred, meters.LocationTopside, DefaultOffsets())
			_, subsea := ComputeDeadlines(occurred, meters.LocationSubsea, DefaultOffsets())
			return !topside.Before(partial) && !subsea.Before(topside)
		},
		gen.IntRange(0, 5000),
	))

	properties.Property("a sent report is never overdue", prop.ForAll(
		func(dueOffset, nowOffset int) bool {
			due := base.AddDate(0, 0, dueOffset)
			now := base.AddDate(0, 0, nowOffset)
			return ClassifyDeadline(due, base, now, 3) == DeadlineSent
		},
		gen.IntRange(0, 400),
		gen.IntRange(0, 400),
	))

	properties.TestingRun(t)
}
