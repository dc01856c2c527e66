package server

import (
	"errors"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maintline/internal/engine"
	"maintline/internal/workflow"
)

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "maintline",
	Subsystem: "workflow",
	Name:      "transitions_total",
	Help:      "Workflow actions applied, by entity, action and outcome.",
}, []string{"entity", "action", "outcome"})

var webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "maintline",
	Subsystem: "webhooks",
	Name:      "deliveries_total",
	Help:      "Webhook delivery attempts by outcome.",
}, []string{"outcome"})

func registerMetrics(r chi.Router) {
	r.Handle("/metrics", promhttp.Handler())
}

func observeTransition(entity, action string, err error) {
	transitionsTotal.WithLabelValues(entity, action, transitionOutcome(err)).Inc()
}

func transitionOutcome(err error) string {
	if err == nil {
		return "applied"
	}
	var ve workflow.ValidationError
	var re workflow.RoleError
	var te workflow.TerminalStateError
	var ite workflow.IllegalTransitionError
	switch {
	case errors.As(err, &ve):
		return "validation_failed"
	case errors.As(err, &re):
		return "forbidden_role"
	case errors.As(err, &te), errors.As(err, &ite):
		return "rejected"
	case errors.Is(err, engine.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
