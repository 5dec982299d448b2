package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rule outcome labels
const (
	OutcomeFired          = "fired"
	OutcomeDisabled       = "disabled"
	OutcomeMalformed      = "malformed"
	OutcomeInactiveWindow = "inactive_window"
	OutcomeNotMet         = "condition_not_met"
	OutcomeQuietHours     = "quiet_hours"
	OutcomeDebounced      = "debounced"
)

var (
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glucoalert_evaluations_total",
			Help: "Total number of reading evaluations",
		},
		[]string{"result"}, // result: ok, failed
	)

	RuleOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glucoalert_rule_outcomes_total",
			Help: "Per-rule evaluation outcomes",
		},
		[]string{"outcome"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "glucoalert_fetch_duration_seconds",
			Help:    "Time taken to load rules, quiet hours and history for one evaluation",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	InvalidQuietHoursTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glucoalert_invalid_quiet_hours_total",
			Help: "Evaluations that ignored a malformed quiet hours config",
		},
	)

	ReadingsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glucoalert_readings_rejected_total",
			Help: "Readings rejected before evaluation",
		},
		[]string{"reason"}, // reason: invalid, out_of_order
	)

	SinkDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glucoalert_sink_dropped_total",
			Help: "Alert events dropped because a sink queue was full",
		},
		[]string{"sink"},
	)

	SinkFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glucoalert_sink_failed_total",
			Help: "Alert events a sink failed to deliver",
		},
		[]string{"sink"},
	)

	DeviceAgeNoticesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glucoalert_device_age_notices_total",
			Help: "Device age notices emitted",
		},
		[]string{"kind", "severity"},
	)
)
