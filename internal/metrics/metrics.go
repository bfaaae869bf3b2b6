// Package metrics exposes event sync collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dao_services"

var (
	eventsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event_sync",
		Name:      "events_dispatched_total",
		Help:      "Count of chain events dispatched, by event name and result status.",
	}, []string{"event", "status"})

	handlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "event_sync",
		Name:      "handler_duration_seconds",
		Help:      "Duration of a single event handler transaction.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event", "status"})

	deadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event_sync",
		Name:      "dead_letters_total",
		Help:      "Count of events stored for later reprocessing.",
	}, []string{"event"})

	retryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "Count of retried outbound calls, by label and outcome.",
	}, []string{"label", "status"})

	watermarkBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "event_sync",
		Name:      "watermark_block",
		Help:      "Highest applied block number per contract.",
	}, []string{"contract"})

	historicalEventsFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "historical_sync",
		Name:      "events_found_total",
		Help:      "Count of events returned by historical range queries.",
	}, []string{"event"})

	headBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "event_sync",
		Name:      "head_block",
		Help:      "Latest chain head seen by the listener.",
	})
)

// ObserveDispatch records the outcome of dispatching one event.
func ObserveDispatch(event, status string, started time.Time) {
	eventsDispatchedTotal.WithLabelValues(event, status).Inc()
	handlerDuration.WithLabelValues(event, status).Observe(time.Since(started).Seconds())
}

// ObserveDeadLetter records an event stored for reprocessing.
func ObserveDeadLetter(event string) {
	deadLettersTotal.WithLabelValues(event).Inc()
}

// ObserveRetry records a single retried attempt of an outbound call.
func ObserveRetry(label string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	retryAttemptsTotal.WithLabelValues(label, status).Inc()
}

// SetWatermark records the highest applied block of a contract.
func SetWatermark(contract string, block uint64) {
	watermarkBlock.WithLabelValues(contract).Set(float64(block))
}

// SetHead records the latest chain head.
func SetHead(block uint64) {
	headBlock.Set(float64(block))
}

// ObserveHistorical records events found by a historical range query.
func ObserveHistorical(event string, found int) {
	historicalEventsFound.WithLabelValues(event).Add(float64(found))
}
