// Package metrics exposes Prometheus metrics for the expense approval service.
//
// Metric naming follows Prometheus conventions:
//   - expense_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors and the registry they are registered with
type Metrics struct {
	// Report transitions by source and target status
	Transitions *prometheus.CounterVec

	// Special review decisions by outcome
	SpecialReviewDecisions *prometheus.CounterVec

	// Refused or failed lifecycle operations by operation and error kind
	OperationErrors *prometheus.CounterVec

	// Domain events delivered to subscribers by type
	Events *prometheus.CounterVec

	// HTTP request latency by method, route and status code
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a registry with the service metrics and the Go runtime collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "expense_report_transitions_total",
			Help: "Total expense report status transitions by source and target status",
		}, []string{"from", "to"}),

		SpecialReviewDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "expense_special_review_decisions_total",
			Help: "Total special review decisions by outcome",
		}, []string{"outcome"}), // outcome: "approved", "changes_requested"

		OperationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "expense_operation_errors_total",
			Help: "Total refused or failed lifecycle operations by operation and error kind",
		}, []string{"operation", "kind"}),

		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "expense_events_total",
			Help: "Total domain events observed by type",
		}, []string{"type"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "expense_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, route and status code",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route", "status"}),

		registry: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry backing the handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTransition records a committed status change
func (m *Metrics) RecordTransition(from, to workflow.State) {
	if m != nil {
		m.Transitions.WithLabelValues(string(from), string(to)).Inc()
	}
}

// RecordSpecialReviewDecision records the outcome of a finance review
func (m *Metrics) RecordSpecialReviewDecision(allApproved bool) {
	if m == nil {
		return
	}
	outcome := "changes_requested"
	if allApproved {
		outcome = "approved"
	}
	m.SpecialReviewDecisions.WithLabelValues(outcome).Inc()
}

// RecordOperationError records a lifecycle operation that did not complete
func (m *Metrics) RecordOperationError(op, kind string) {
	if m != nil {
		m.OperationErrors.WithLabelValues(op, kind).Inc()
	}
}

// ObserveHTTPRequest records the latency of a served request
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if m != nil {
		m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
	}
}

// HandleEvent counts a dispatched domain event. Its signature matches dispatcher.Handler.
func (m *Metrics) HandleEvent(_ context.Context, evt *event.Event) error {
	if m != nil && evt != nil {
		m.Events.WithLabelValues(string(evt.Type)).Inc()
	}
	return nil
}

var _ port.WorkflowMetrics = (*Metrics)(nil)
