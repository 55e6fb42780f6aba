package desenquadramento

import (
	"time"

	meters "mpfm-monitor/internal/meters/domain"
)

// DeadlineStatus classifies a reporting deadline.
type DeadlineStatus string

const (
	DeadlineSent    DeadlineStatus = "SENT"
	DeadlineOnTime  DeadlineStatus = "ON_TIME"
	DeadlineDueSoon DeadlineStatus = "DUE_SOON"
	DeadlineOverdue DeadlineStatus = "OVERDUE"
)

// Report names the two regulatory reports.
const (
	ReportPartial = "partial"
	ReportFinal   = "final"
)

// Offsets are the reporting deadlines in calendar days after the occurrence.
type Offsets struct {
	PartialDays      int
	FinalTopsideDays int
	FinalSubseaDays  int
	DueSoonDays      int
}

// DefaultOffsets returns the RANP 44/2015 offsets.
func DefaultOffsets() Offsets {
	return Offsets{PartialDays: 10, FinalTopsideDays: 30, FinalSubseaDays: 60, DueSoonDays: 3}
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ComputeDeadlines returns the partial and final report due dates. The final
// report for subsea meters gets the longer offset.
func ComputeDeadlines(occurredAt time.Time, location meters.Location, offsets Offsets) (time.Time, time.Time) {
	day := Day(occurredAt)
	finalDays := offsets.FinalTopsideDays
	if location == meters.LocationSubsea {
		finalDays = offsets.FinalSubseaDays
	}
	return day.AddDate(0, 0, offsets.PartialDays), day.AddDate(0, 0, finalDays)
}

// DaysRemaining counts calendar days from now until due; negative when past.
func DaysRemaining(due, now time.Time) int {
	return int(Day(due).Sub(Day(now)).Hours() / 24)
}

// ClassifyDeadline returns SENT once the report went out, OVERDUE after the
// due day, DUE_SOON within dueSoonDays of it, otherwise ON_TIME.
func ClassifyDeadline(due, sentAt, now time.Time, dueSoonDays int) DeadlineStatus {
	if !sentAt.IsZero() {
		return DeadlineSent
	}
	remaining := DaysRemaining(due, now)
	switch {
	case remaining < 0:
		return DeadlineOverdue
	case remaining <= dueSoonDays:
		return DeadlineDueSoon
	default:
		return DeadlineOnTime
	}
}

// Deadline is one report deadline of an event.
type Deadline struct {
	EventID       string         `json:"event_id"`
	MeterTag      string         `json:"meter_tag"`
	Report        string         `json:"report"`
	Due           time.Time      `json:"due"`
	SentAt        time.Time      `json:"sent_at,omitempty"`
	Status        DeadlineStatus `json:"status"`
	DaysRemaining int            `json:"days_remaining"`
}

// Deadlines returns the partial and final deadlines of the event at now.
func (e Event) Deadlines(now time.Time, dueSoonDays int) []Deadline {
	build := func(report string, due, sent time.Time) Deadline {
		return Deadline{
			EventID:       e.ID,
			MeterTag:      e.MeterTag,
			Report:        report,
			Due:           due,
			SentAt:        sent,
			Status:        ClassifyDeadline(due, sent, now, dueSoonDays),
			DaysRemaining: DaysRemaining(due, now),
		}
	}
	return []Deadline{
		build(ReportPartial, e.PartialReportDue, e.PartialReportSentAt),
		build(ReportFinal, e.FinalReportDue, e.FinalReportSentAt),
	}
}
