package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	proposals prometheus.Counter
	votes     prometheus.Counter
	executed  prometheus.Counter
}

// NewMetrics creates and registers the server's collectors on a fresh
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "HTTP requests served, by route and status code.",
			},
			[]string{"route", "status"},
		),
		proposals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agora",
			Subsystem: "governance",
			Name:      "proposals_created_total",
			Help:      "Proposals created through the API.",
		}),
		votes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agora",
			Subsystem: "governance",
			Name:      "votes_cast_total",
			Help:      "Votes cast through the API.",
		}),
		executed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agora",
			Subsystem: "governance",
			Name:      "proposals_executed_total",
			Help:      "Proposals executed through the API.",
		}),
	}
	m.registry.MustRegister(m.requests, m.proposals, m.votes, m.executed)
	return m
}
