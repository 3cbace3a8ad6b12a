package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ideaflow/pkg/errors"
)

var (
	// Command metrics
	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ideaflow_commands_total",
			Help: "Workflow commands by name and outcome",
		},
		[]string{"command", "outcome"}, // outcome: ok or an error code
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ideaflow_command_duration_seconds",
			Help:    "Workflow command latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"command"},
	)

	// Decision metrics
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ideaflow_decisions_total",
			Help: "Portfolio decisions recorded by action and subject type",
		},
		[]string{"action", "subject"}, // subject: idea|pair
	)

	AggregateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ideaflow_aggregate_transitions_total",
			Help: "Aggregate stage resolutions by resulting stage",
		},
		[]string{"stage"},
	)

	ResurfaceReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ideaflow_resurface_ready_ideas",
			Help: "Deferred ideas whose resurfacing date has been reached",
		},
	)

	AuditEmitFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ideaflow_audit_emit_failures_total",
			Help: "Audit records that could not be delivered to the sink",
		},
	)

	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ideaflow_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ideaflow_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ideaflow_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Consumer metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ideaflow_kafka_messages_total",
			Help: "Kafka messages handled by consumers",
		},
		[]string{"consumer", "status"}, // status: success|error|skipped
	)
)

func init() {
	prometheus.MustRegister(Commands)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(Decisions)
	prometheus.MustRegister(AggregateTransitions)
	prometheus.MustRegister(ResurfaceReady)
	prometheus.MustRegister(AuditEmitFailures)

	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)
	prometheus.MustRegister(WorkerLastRun)

	prometheus.MustRegister(KafkaMessages)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCommand records one workflow command
func RecordCommand(command string, started time.Time, err error) {
	Commands.WithLabelValues(command, errors.Code(err)).Inc()
	CommandDuration.WithLabelValues(command).Observe(time.Since(started).Seconds())
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	WorkerExecutions.WithLabelValues(worker, status).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordKafkaMessage records a consumed message
func RecordKafkaMessage(consumer, status string) {
	KafkaMessages.WithLabelValues(consumer, status).Inc()
}
