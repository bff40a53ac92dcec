/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and request tracing for the
// media server.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Room and media plane metrics.
var (
	// RoomsActive counts rooms with at least one connected participant.
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duocast_rooms_active",
		Help: "Number of rooms currently active",
	})

	// ParticipantsConnected counts connected participants by role.
	ParticipantsConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "duocast_participants_connected",
		Help: "Connected participants by role",
	}, []string{"role"})

	// ProducersActive counts live producers by media kind.
	ProducersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "duocast_producers_active",
		Help: "Live producers by media kind",
	}, []string{"kind"})

	// ConsumersActive counts live consumers across all rooms.
	ConsumersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duocast_consumers_active",
		Help: "Live consumers across all rooms",
	})

	// WorkersAlive tracks how many media workers are currently usable.
	WorkersAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duocast_workers_alive",
		Help: "Media worker processes currently alive",
	})

	// WorkerRestartsTotal counts worker respawns after unexpected exits.
	WorkerRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duocast_worker_restarts_total",
		Help: "Media worker respawns after unexpected exits",
	})

	// HLSSessionsActive counts rooms with a running transcoder.
	HLSSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duocast_hls_sessions_active",
		Help: "Rooms with a running HLS transcoder",
	})

	// HLSRestartsTotal counts HLS pipeline rebuilds.
	HLSRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duocast_hls_restarts_total",
		Help: "HLS pipeline rebuilds triggered by media changes",
	})
)

// Signaling metrics.
var (
	// SignalingConnectionsActive counts open signaling sockets.
	SignalingConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duocast_signaling_connections_active",
		Help: "Open signaling websocket connections",
	})

	// SignalingMessagesTotal counts signaling traffic by event and direction.
	SignalingMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duocast_signaling_messages_total",
		Help: "Signaling messages by event name and direction",
	}, []string{"event", "direction"})
)

// HTTP metrics recorded by MetricsMiddleware.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duocast_api_requests_total",
		Help: "API requests by method, endpoint and status",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "duocast_api_request_duration_seconds",
		Help:    "API request latency",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duocast_api_active_connections",
		Help: "In-flight API requests",
	})
)

// Database metrics observed from the gorm callbacks.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "duocast_database_query_duration_seconds",
		Help:    "Database query latency by operation and table",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duocast_database_errors_total",
		Help: "Database errors by operation and table",
	}, []string{"operation", "table"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duocast_database_connections_active",
		Help: "Open database connections",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
