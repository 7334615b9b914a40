package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	modelAttemptsTotal *prometheus.CounterVec
	modelCallDuration  *prometheus.HistogramVec
	modelTokensTotal   *prometheus.CounterVec
	endpointResets     prometheus.Counter

	turnTotal   *prometheus.CounterVec
	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	archivedMessagesTotal prometheus.Counter
	archivedBytesTotal    prometheus.Counter
	sessionMessagesTotal  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			modelAttemptsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stepwise_model_attempts_total",
					Help: "Model backend attempts by provider and outcome kind.",
				},
				[]string{"provider", "outcome"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stepwise_model_call_duration_seconds",
					Help:    "Duration of a single model backend call by provider.",
					Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
				},
				[]string{"provider"},
			),
			modelTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stepwise_model_tokens_total",
					Help: "Tokens reported by the backend by direction (prompt, completion).",
				},
				[]string{"direction"},
			),
			endpointResets: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "stepwise_model_endpoint_resets_total",
					Help: "Times cached backend handles were dropped after repeated server errors.",
				},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stepwise_turns_total",
					Help: "Agent turns by working mode and step outcome.",
				},
				[]string{"mode", "outcome"},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stepwise_runs_total",
					Help: "Agent runs by working mode and status.",
				},
				[]string{"mode", "status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stepwise_run_duration_seconds",
					Help:    "Agent run duration in seconds by working mode.",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12),
				},
				[]string{"mode"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stepwise_tool_execution_total",
					Help: "Tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stepwise_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			archivedMessagesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "stepwise_archived_messages_total",
					Help: "Step payloads moved out of the live conversation.",
				},
			),
			archivedBytesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "stepwise_archived_bytes_total",
					Help: "Bytes moved out of the live conversation.",
				},
			),
			sessionMessagesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stepwise_session_messages_total",
					Help: "Messages forwarded to session stores by status.",
				},
				[]string{"status"},
			),
		}
		prometheus.MustRegister(
			m.modelAttemptsTotal,
			m.modelCallDuration,
			m.modelTokensTotal,
			m.endpointResets,
			m.turnTotal,
			m.runTotal,
			m.runDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.archivedMessagesTotal,
			m.archivedBytesTotal,
			m.sessionMessagesTotal,
		)
		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordModelAttempt counts one backend attempt. outcome is "success" or an error kind.
func RecordModelAttempt(provider, outcome string, duration time.Duration) {
	m := getMetrics()
	m.modelAttemptsTotal.WithLabelValues(provider, outcome).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordModelTokens adds backend-reported token usage.
func RecordModelTokens(prompt, completion int) {
	m := getMetrics()
	if prompt > 0 {
		m.modelTokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.modelTokensTotal.WithLabelValues("completion").Add(float64(completion))
	}
}

// RecordEndpointReset counts a forced re-acquisition of backend handles.
func RecordEndpointReset() {
	getMetrics().endpointResets.Inc()
}

// RecordTurn counts one processed step outcome.
func RecordTurn(mode, outcome string) {
	getMetrics().turnTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordRun records a finished agent run.
func RecordRun(mode string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "failure"
	if success {
		status = "success"
	}
	m.runTotal.WithLabelValues(mode, status).Inc()
	m.runDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordToolExecution records one dispatched tool.
func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordArchivedMessage counts one archived payload.
func RecordArchivedMessage(size int) {
	m := getMetrics()
	m.archivedMessagesTotal.Inc()
	m.archivedBytesTotal.Add(float64(size))
}

// RecordSessionMessage counts one message forwarded to a session store.
func RecordSessionMessage(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().sessionMessagesTotal.WithLabelValues(status).Inc()
}
