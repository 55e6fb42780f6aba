package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "mpfm_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	rowEvaluations *prometheus.CounterVec
	balanceAbsPct  *prometheus.HistogramVec

	kfactorChecks  *prometheus.CounterVec
	trackerResets  prometheus.Counter
	alertEvents    *prometheus.CounterVec
	deadlineEvents *prometheus.CounterVec

	importTotal   *prometheus.CounterVec
	importRows    *prometheus.CounterVec
	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	sweepTotal   *prometheus.CounterVec
	sweepLatency *prometheus.HistogramVec
)

// Init registers metrics and DB-backed gauges. Safe to call more than once.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		rowEvaluations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "monitoring_rows_total",
				Help: "Monitoring rows evaluated by resulting status",
			},
			[]string{"status"},
		)
		balanceAbsPct = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "balance_deviation_abs_pct",
				Help:    "Absolute balance deviation in percent",
				Buckets: []float64{1, 2, 3, 5, 7, 10, 15, 25},
			},
			[]string{"balance"},
		)
		kfactorChecks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "kfactor_checks_total",
				Help: "K-factor checks by phase and range result",
			},
			[]string{"phase", "result"},
		)
		trackerResets = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "kfactor_tracker_resets_total",
				Help: "Consecutive-day tracker resets after calibration",
			},
		)
		alertEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Alert lifecycle events by type and event",
			},
			[]string{"type", "event"},
		)
		deadlineEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "desenquadramento_transitions_total",
				Help: "Desenquadramento status transitions by target status",
			},
			[]string{"status"},
		)
		importTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "import_total",
				Help: "Import operations by format and result",
			},
			[]string{"format", "result"},
		)
		importRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "import_rows_total",
				Help: "Imported rows by outcome",
			},
			[]string{"outcome"},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Export operations by report, format and result",
			},
			[]string{"report", "format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"report", "format"},
		)
		sweepTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_total",
				Help: "Compliance sweep runs by result",
			},
			[]string{"result"},
		)
		sweepLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sweep_latency_seconds",
				Help:    "Compliance sweep latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			rowEvaluations,
			balanceAbsPct,
			kfactorChecks,
			trackerResets,
			alertEvents,
			deadlineEvents,
			importTotal,
			importRows,
			exportTotal,
			exportLatency,
			sweepTotal,
			sweepLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveRow records a classified monitoring row.
func ObserveRow(status string, hcBalancePct, totalBalancePct *float64) {
	if status == "" {
		status = "unknown"
	}
	if rowEvaluations != nil {
		rowEvaluations.WithLabelValues(status).Inc()
	}
	if balanceAbsPct == nil {
		return
	}
	if hcBalancePct != nil {
		balanceAbsPct.WithLabelValues("hc").Observe(abs(*hcBalancePct))
	}
	if totalBalancePct != nil {
		balanceAbsPct.WithLabelValues("total").Observe(abs(*totalBalancePct))
	}
}

// IncKFactorCheck counts a K-factor check.
func IncKFactorCheck(phase string, inRange bool) {
	if kfactorChecks == nil {
		return
	}
	result := "in_range"
	if !inRange {
		result = "out_of_range"
	}
	kfactorChecks.WithLabelValues(phase, result).Inc()
}

// IncTrackerReset counts tracker resets.
func IncTrackerReset() {
	if trackerResets != nil {
		trackerResets.Inc()
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(alertType, event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEvents != nil {
		alertEvents.WithLabelValues(alertType, event).Inc()
	}
}

// IncDesenquadramentoTransition counts status transitions.
func IncDesenquadramentoTransition(status string) {
	if deadlineEvents != nil {
		deadlineEvents.WithLabelValues(status).Inc()
	}
}

// ObserveImport records an import and its row outcomes.
func ObserveImport(format, result string, imported, rejected int) {
	if result == "" {
		result = resultSuccess
	}
	if importTotal != nil {
		importTotal.WithLabelValues(format, result).Inc()
	}
	if importRows != nil {
		importRows.WithLabelValues("imported").Add(float64(imported))
		importRows.WithLabelValues("rejected").Add(float64(rejected))
	}
}

// ObserveExport records export latency and result.
func ObserveExport(report, format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(report, format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(report, format).Observe(duration.Seconds())
	}
}

// ObserveSweep records a compliance sweep run.
func ObserveSweep(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if sweepTotal != nil {
		sweepTotal.WithLabelValues(result).Inc()
	}
	if sweepLatency != nil {
		sweepLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
