// Package metrics provides Prometheus metrics collection for the gochat client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState tracks whether the transport connection is live (1) or not (0)
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gochat_connection_up",
		Help: "Whether the transport connection is currently established",
	})

	// ConnectAttempts tracks the total number of handshake attempts
	ConnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gochat_connect_attempts_total",
		Help: "Total number of transport handshake attempts",
	})

	// Reconnects tracks the total number of automatic reconnection attempts
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gochat_reconnects_total",
		Help: "Total number of automatic reconnection attempts",
	})

	// FramesReceived tracks the total number of frames received from the broker
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gochat_frames_received_total",
		Help: "Total number of frames received from the broker",
	})

	// FramesSent tracks the total number of frames sent to the broker
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gochat_frames_sent_total",
		Help: "Total number of frames sent to the broker",
	})

	// PublishRejected tracks publishes rejected locally (not connected,
	// empty text, back-pressure)
	PublishRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gochat_publish_rejected_total",
		Help: "Total number of publishes rejected before reaching the broker",
	})

	// ActiveSubscriptions tracks the current number of transport-level subscriptions
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gochat_active_subscriptions",
		Help: "Current number of transport-level subscriptions",
	})

	// HandlerPanics tracks panics recovered during handler fan-out
	HandlerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gochat_handler_panics_total",
		Help: "Total number of panics recovered in subscription handlers",
	})

	// ContentParseFailures tracks nested content payloads that degraded to
	// the unsupported variant
	ContentParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gochat_content_parse_failures_total",
		Help: "Total number of message content payloads that failed to parse",
	})

	// FrameErrors tracks inbound frames that could not be decoded at all
	FrameErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gochat_frame_errors_total",
		Help: "Total number of inbound frames that failed to decode",
	})
)
