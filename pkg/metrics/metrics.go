// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package metrics exposes Prometheus instrumentation shared by the
// audiohook and connector services.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agent_assist"

var (
	// sessionsActive is a gauge of audiohook sessions currently open.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of audiohook sessions currently open",
		},
	)

	// sessionsTotal is a counter of finished audiohook sessions.
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished audiohook sessions",
		},
		[]string{"outcome"}, // outcome: completed, probe, failed
	)

	// framesTotal is a counter of protocol control frames by direction.
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_frames_total",
			Help:      "Total number of audiohook control frames processed",
		},
		[]string{"direction", "type"}, // direction: inbound, outbound
	)

	// audioBytesTotal is a counter of demultiplexed audio bytes per channel.
	audioBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total demultiplexed audio bytes per conversation channel",
		},
		[]string{"channel"}, // channel: external, internal
	)

	// recognitionRestartsTotal is a counter of recognition stream restarts.
	recognitionRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_restarts_total",
			Help:      "Total number of recognition stream restarts",
		},
	)

	// recognitionErrorsTotal is a counter of recognition stream errors by
	// gRPC status code.
	recognitionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Total number of recognition stream errors",
		},
		[]string{"code"},
	)

	// recognitionStreamDuration is a histogram of single RPC session length.
	recognitionStreamDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_stream_duration_seconds",
			Help:      "Duration of individual recognition RPC sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 90, 110, 120},
		},
	)

	// summariesTotal is a counter of generated conversation summaries.
	summariesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Total number of conversation summaries generated",
		},
		[]string{"route"}, // route: hub, durable
	)

	// suggestionsForwardedTotal is a counter of agent suggestions relayed
	// from intercepted analyze responses.
	suggestionsForwardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_forwarded_total",
			Help:      "Total number of agent suggestion payloads forwarded to hubs",
		},
	)

	// eventsRoutedTotal is a counter of events delivered to subscribers.
	eventsRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_routed_total",
			Help:      "Total number of events delivered to hub subscribers",
		},
		[]string{"delivery"}, // delivery: room, broadcast
	)

	// routePublishFailuresTotal is a counter of broker publish failures.
	routePublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_publish_failures_total",
			Help:      "Total number of failed event publishes to the broker",
		},
	)

	// hubClientsActive is a gauge of websocket clients attached to this hub.
	hubClientsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_clients_active",
			Help:      "Number of websocket clients currently attached to this hub",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		sessionsActive,
		sessionsTotal,
		framesTotal,
		audioBytesTotal,
		recognitionRestartsTotal,
		recognitionErrorsTotal,
		recognitionStreamDuration,
		summariesTotal,
		suggestionsForwardedTotal,
		eventsRoutedTotal,
		routePublishFailuresTotal,
		hubClientsActive,
	}

	registerOnce sync.Once
)

// Register installs all collectors on the default registry. Safe to call
// from every service entrypoint.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(allMetrics...)
	})
}

// Handler returns the scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionOpened records a newly opened audiohook session.
func RecordSessionOpened() {
	sessionsActive.Inc()
}

// RecordSessionClosed records a finished session with its outcome.
func RecordSessionClosed(outcome string) {
	sessionsActive.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordProbe records a connection probe handled without a conversation.
func RecordProbe() {
	sessionsTotal.WithLabelValues("probe").Inc()
}

// RecordFrame records a processed control frame.
func RecordFrame(direction, frameType string) {
	framesTotal.WithLabelValues(direction, frameType).Inc()
}

// RecordAudioBytes records demultiplexed audio volume for one channel.
func RecordAudioBytes(channel string, byteCount int) {
	if byteCount > 0 {
		audioBytesTotal.WithLabelValues(channel).Add(float64(byteCount))
	}
}

// RecordRecognitionRestart records a recognition stream restart.
func RecordRecognitionRestart() {
	recognitionRestartsTotal.Inc()
}

// RecordRecognitionError records a recognition stream error.
func RecordRecognitionError(code string) {
	recognitionErrorsTotal.WithLabelValues(code).Inc()
}

// RecordRecognitionStream records the duration of one RPC session.
func RecordRecognitionStream(durationSeconds float64) {
	recognitionStreamDuration.Observe(durationSeconds)
}

// RecordSummary records a generated summary and the route it was delivered on.
func RecordSummary(route string) {
	summariesTotal.WithLabelValues(route).Inc()
}

// RecordSuggestionForwarded records a relayed agent suggestion payload.
func RecordSuggestionForwarded() {
	suggestionsForwardedTotal.Inc()
}

// RecordEventRouted records an event delivered to subscribers.
func RecordEventRouted(delivery string) {
	eventsRoutedTotal.WithLabelValues(delivery).Inc()
}

// RecordRoutePublishFailure records a failed publish to the broker.
func RecordRoutePublishFailure() {
	routePublishFailuresTotal.Inc()
}

// RecordHubClientConnected records a websocket client attach.
func RecordHubClientConnected() {
	hubClientsActive.Inc()
}

// RecordHubClientDisconnected records a websocket client detach.
func RecordHubClientDisconnected() {
	hubClientsActive.Dec()
}
