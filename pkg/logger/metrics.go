package logger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Shared Prometheus metrics for the realtime gateway.

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Number of currently open WebSocket connections",
		},
	)

	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_connections_total",
			Help: "Total number of WebSocket connections accepted",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_users_online",
			Help: "Number of users with at least one live connection",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_rooms_active",
			Help: "Number of rooms currently tracked",
		},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)
