package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventflow_events_ingested_total",
		Help: "Total number of events accepted by the ingestion API.",
	}, []string{"group"})

	EventsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventflow_events_triggered_total",
		Help: "Total number of events that matched at least one rule.",
	})

	RuleEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventflow_rule_evaluations_total",
		Help: "Total number of rule evaluations, labelled by outcome.",
	}, []string{"outcome"})

	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventflow_actions_executed_total",
		Help: "Total number of actions executed, labelled by type and status.",
	}, []string{"action_type", "status"})

	ActionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventflow_actions_dropped_total",
		Help: "Total number of actions rejected due to a full dispatch queue.",
	})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventflow_evaluation_duration_ms",
		Help:    "Per-event rule evaluation latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventflow_stream_clients",
		Help: "Number of currently connected stream subscribers.",
	})

	StreamMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventflow_stream_messages_dropped_total",
		Help: "Messages dropped because a subscriber could not keep up.",
	})
)
