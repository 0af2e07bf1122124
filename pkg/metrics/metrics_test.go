// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSessionLifecycle(t *testing.T) {
	sessionsActive.Set(0)
	sessionsTotal.Reset()

	RecordSessionOpened()
	RecordSessionOpened()
	if active := testutil.ToFloat64(sessionsActive); active != 2 {
		t.Errorf("Expected 2 active sessions, got %f", active)
	}

	RecordSessionClosed("completed")
	RecordSessionClosed("probe")
	if active := testutil.ToFloat64(sessionsActive); active != 0 {
		t.Errorf("Expected 0 active sessions after close, got %f", active)
	}

	completed := testutil.ToFloat64(sessionsTotal.WithLabelValues("completed"))
	probes := testutil.ToFloat64(sessionsTotal.WithLabelValues("probe"))
	if completed != 1 {
		t.Errorf("Expected 1 completed session, got %f", completed)
	}
	if probes != 1 {
		t.Errorf("Expected 1 probe session, got %f", probes)
	}
}

func TestRecordFrame(t *testing.T) {
	framesTotal.Reset()

	RecordFrame("inbound", "open")
	RecordFrame("inbound", "ping")
	RecordFrame("outbound", "pong")
	RecordFrame("inbound", "ping")

	pings := testutil.ToFloat64(framesTotal.WithLabelValues("inbound", "ping"))
	pongs := testutil.ToFloat64(framesTotal.WithLabelValues("outbound", "pong"))
	if pings != 2 {
		t.Errorf("Expected 2 inbound pings, got %f", pings)
	}
	if pongs != 1 {
		t.Errorf("Expected 1 outbound pong, got %f", pongs)
	}
}

func TestRecordAudioBytes(t *testing.T) {
	audioBytesTotal.Reset()

	RecordAudioBytes("external", 800)
	RecordAudioBytes("external", 800)
	RecordAudioBytes("internal", 800)
	// Zero volumes are not recorded.
	RecordAudioBytes("internal", 0)

	external := testutil.ToFloat64(audioBytesTotal.WithLabelValues("external"))
	internal := testutil.ToFloat64(audioBytesTotal.WithLabelValues("internal"))
	if external != 1600 {
		t.Errorf("Expected 1600 external bytes, got %f", external)
	}
	if internal != 800 {
		t.Errorf("Expected 800 internal bytes, got %f", internal)
	}
}

func TestRecordRecognition(t *testing.T) {
	recognitionErrorsTotal.Reset()

	RecordRecognitionRestart()
	RecordRecognitionError("OutOfRange")
	RecordRecognitionError("OutOfRange")
	RecordRecognitionError("Unavailable")
	RecordRecognitionStream(87.5)

	outOfRange := testutil.ToFloat64(recognitionErrorsTotal.WithLabelValues("OutOfRange"))
	if outOfRange != 2 {
		t.Errorf("Expected 2 OutOfRange errors, got %f", outOfRange)
	}
	if count := testutil.CollectAndCount(recognitionStreamDuration); count == 0 {
		t.Error("Expected non-zero stream duration observations")
	}
}

func TestRecordRouting(t *testing.T) {
	eventsRoutedTotal.Reset()

	RecordEventRouted("room")
	RecordEventRouted("broadcast")
	RecordEventRouted("room")
	RecordRoutePublishFailure()

	room := testutil.ToFloat64(eventsRoutedTotal.WithLabelValues("room"))
	broadcast := testutil.ToFloat64(eventsRoutedTotal.WithLabelValues("broadcast"))
	if room != 2 {
		t.Errorf("Expected 2 room deliveries, got %f", room)
	}
	if broadcast != 1 {
		t.Errorf("Expected 1 broadcast delivery, got %f", broadcast)
	}
}

func TestRecordHubClients(t *testing.T) {
	hubClientsActive.Set(0)

	RecordHubClientConnected()
	RecordHubClientConnected()
	RecordHubClientDisconnected()

	if active := testutil.ToFloat64(hubClientsActive); active != 1 {
		t.Errorf("Expected 1 active hub client, got %f", active)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	Register()
	RecordSummary("hub")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	resp := rec.Result()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "agent_assist_summaries_total") {
		t.Error("Expected scrape output to contain agent_assist_summaries_total")
	}
}
