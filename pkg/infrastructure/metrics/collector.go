// Package metrics provides metrics collection for the query engine.
package metrics

import (
	"time"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncrementCounter increments a counter metric.
	IncrementCounter(name string, labels ...string)

	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(name string, value float64, labels ...string)

	// RecordGauge records a gauge metric value.
	RecordGauge(name string, value float64, labels ...string)

	// StartTimer starts a timer whose Stop records the elapsed seconds
	// into the named histogram.
	StartTimer(name string, labels ...string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	// Stop stops the timer and returns the duration in seconds.
	Stop() float64
}

// Metric names emitted by the engine.
const (
	MetricQueriesTotal       = "fedra_queries_total"
	MetricQueryErrorsTotal   = "fedra_query_errors_total"
	MetricExecutionSeconds   = "fedra_execution_seconds"
	MetricAggregationSeconds = "fedra_aggregation_seconds"
	MetricSchemaRefreshTotal = "fedra_schema_refresh_total"
	MetricRowsReturned       = "fedra_rows_returned"
)

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

// NewNoOpCollector creates a new no-op collector.
func NewNoOpCollector() Collector {
	return &NoOpCollector{}
}

// IncrementCounter does nothing.
func (n *NoOpCollector) IncrementCounter(name string, labels ...string) {}

// RecordHistogram does nothing.
func (n *NoOpCollector) RecordHistogram(name string, value float64, labels ...string) {}

// RecordGauge does nothing.
func (n *NoOpCollector) RecordGauge(name string, value float64, labels ...string) {}

// StartTimer returns a timer that measures but records nowhere.
func (n *NoOpCollector) StartTimer(name string, labels ...string) Timer {
	return &noOpTimer{start: time.Now()}
}

// noOpTimer is a no-op implementation of Timer.
type noOpTimer struct {
	start time.Time
}

// Stop returns the elapsed time in seconds.
func (t *noOpTimer) Stop() float64 {
	return time.Since(t.start).Seconds()
}
