// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package internal_recognition drives Dialogflow StreamingAnalyzeContent for
// one call leg. The provider caps a single RPC at roughly 120 seconds, so a
// worker runs RPC sessions back to back, replaying trailing audio across the
// boundary so nothing is lost to the restart.
package internal_recognition

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/dialogflow/apiv2beta1/dialogflowpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	internal_audio "github.com/meshvox/agent-assist/internal/audiohook-api/audio"
	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/metrics"
	"github.com/meshvox/agent-assist/pkg/utils"
)

const (
	// DefaultChunkSize bounds one audio request during look-back replay.
	DefaultChunkSize = 1600

	// defaultIdleRecheck is how often a paused worker looks at its gates.
	defaultIdleRecheck = 500 * time.Millisecond
)

// Streamer opens one bidirectional recognition RPC.
type Streamer interface {
	StreamingAnalyzeContent(ctx context.Context) (dialogflowpb.Participants_StreamingAnalyzeContentClient, error)
}

// Result is one recognized utterance forwarded to the observer.
type Result struct {
	Role            string
	Transcript      string
	IsFinal         bool
	SpeechEndOffset time.Duration
}

// Observer receives interim and final transcripts tagged with the speaking
// role. Called from the worker's receive loop; keep it non-blocking.
type Observer func(result Result)

// ============================================================================
// Worker — per-leg restartable recognition loop
// ============================================================================

type Worker struct {
	logger      commons.Logger
	streamer    Streamer
	stream      *internal_audio.Stream
	participant *dialogflowpb.Participant
	audioConfig *dialogflowpb.InputAudioConfig

	chunkSize       int
	idleRecheck     time.Duration
	enableDebugging bool
	observer        Observer
}

type WorkerOption func(*Worker)

// WithObserver registers a transcript observer.
func WithObserver(observer Observer) WorkerOption {
	return func(w *Worker) {
		w.observer = observer
	}
}

// WithChunkSize overrides the replay slice size in bytes.
func WithChunkSize(size int) WorkerOption {
	return func(w *Worker) {
		if size > 0 {
			w.chunkSize = size
		}
	}
}

// WithDebuggingInfo asks the provider to attach debugging info to responses.
func WithDebuggingInfo(enabled bool) WorkerOption {
	return func(w *Worker) {
		w.enableDebugging = enabled
	}
}

// WithIdleRecheck overrides how often a paused worker re-reads its gates.
func WithIdleRecheck(interval time.Duration) WorkerOption {
	return func(w *Worker) {
		if interval > 0 {
			w.idleRecheck = interval
		}
	}
}

func NewWorker(
	logger commons.Logger,
	streamer Streamer,
	stream *internal_audio.Stream,
	participant *dialogflowpb.Participant,
	audioConfig *dialogflowpb.InputAudioConfig,
	opts ...WorkerOption,
) *Worker {
	w := &Worker{
		logger:      logger,
		streamer:    streamer,
		stream:      stream,
		participant: participant,
		audioConfig: audioConfig,
		chunkSize:   DefaultChunkSize,
		idleRecheck: defaultIdleRecheck,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run keeps recognizing until the stream is terminated. While the pause gate
// is set the worker idles and re-checks; every open window runs one RPC
// session after another.
func (w *Worker) Run(ctx context.Context) {
	role := w.participant.GetRole().String()
	w.logger.Debugw("recognition worker started", "role", role)
	defer w.logger.Debugw("recognition worker stopped", "role", role)

	for !w.stream.Terminated() {
		if ctx.Err() != nil {
			return
		}
		if w.stream.Closed() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.idleRecheck):
			}
			continue
		}
		w.runSession(ctx)
	}
}

// runSession runs exactly one StreamingAnalyzeContent RPC: config first,
// look-back replay, live audio until the segment ends, then a trailing empty
// request to half-close while responses drain.
func (w *Worker) runSession(ctx context.Context) {
	started := time.Now()
	rpc, err := w.streamer.StreamingAnalyzeContent(ctx)
	if err != nil {
		w.closeOnError(err)
		return
	}
	metrics.RecordRecognitionRestart()

	sent := make(chan struct{})
	go func() {
		defer close(sent)
		w.sendRequests(rpc)
	}()

	for {
		resp, err := rpc.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.closeOnError(err)
			}
			break
		}
		w.handleResponse(resp)
	}
	<-sent
	metrics.RecordRecognitionStream(time.Since(started).Seconds())
	w.logger.Debugw("recognition session ended",
		"role", w.participant.GetRole().String(),
		"restart", w.stream.RestartCount(),
		"duration", time.Since(started).String())
}

func (w *Worker) sendRequests(rpc dialogflowpb.Participants_StreamingAnalyzeContentClient) {
	defer func() {
		if err := rpc.CloseSend(); err != nil {
			w.logger.Debugw("recognition close send failed", "error", err)
		}
	}()

	replay := w.stream.BeginSegment()

	// The first request carries the participant and audio config only.
	if err := rpc.Send(&dialogflowpb.StreamingAnalyzeContentRequest{
		Participant: w.participant.GetName(),
		Config: &dialogflowpb.StreamingAnalyzeContentRequest_AudioConfig{
			AudioConfig: w.audioConfig,
		},
		EnableDebuggingInfo: w.enableDebugging,
	}); err != nil {
		w.logger.Debugw("recognition config send failed", "error", err)
		return
	}

	if len(replay) > 0 {
		w.logger.Debugw("replaying retained audio",
			"role", w.participant.GetRole().String(),
			"bytes", len(replay),
			"restart", w.stream.RestartCount())
		for start := 0; start < len(replay); start += w.chunkSize {
			end := start + w.chunkSize
			if end > len(replay) {
				end = len(replay)
			}
			if err := w.sendAudio(rpc, replay[start:end]); err != nil {
				return
			}
		}
	}

	for {
		data, err := w.stream.Next()
		if err != nil {
			w.logger.Debugw("recognition segment input finished",
				"role", w.participant.GetRole().String(), "reason", err.Error())
			break
		}
		if err := w.sendAudio(rpc, data); err != nil {
			return
		}
	}

	// A trailing request without audio tells the service this side is done;
	// the final transcript still arrives on the receive side.
	if err := rpc.Send(&dialogflowpb.StreamingAnalyzeContentRequest{
		EnableDebuggingInfo: w.enableDebugging,
	}); err != nil {
		w.logger.Debugw("recognition half close send failed", "error", err)
	}
}

func (w *Worker) sendAudio(rpc dialogflowpb.Participants_StreamingAnalyzeContentClient, chunk []byte) error {
	err := rpc.Send(&dialogflowpb.StreamingAnalyzeContentRequest{
		Input: &dialogflowpb.StreamingAnalyzeContentRequest_InputAudio{
			InputAudio: chunk,
		},
		EnableDebuggingInfo: w.enableDebugging,
	})
	if err != nil {
		w.logger.Debugw("recognition audio send failed", "error", err)
	}
	return err
}

func (w *Worker) handleResponse(resp *dialogflowpb.StreamingAnalyzeContentResponse) {
	result := resp.GetRecognitionResult()
	if result == nil {
		return
	}

	// Interim offsets arrive at second granularity; the mirror drives the
	// forced half-close ahead of the provider's duration cap.
	offset := result.GetSpeechEndOffset()
	w.stream.SetSpeechEndOffset(offset.GetSeconds() * 1000)

	if result.GetIsFinal() {
		offsetMs := offset.GetSeconds()*1000 + int64(offset.GetNanos())/int64(time.Millisecond)
		w.stream.MarkFinal(offsetMs)
		w.logger.Debugw("final transcript",
			"role", w.participant.GetRole().String(),
			"transcript", result.GetTranscript(),
			"offset_ms", offsetMs)
	}

	if utils.TrimmedLen(result.GetTranscript()) < 2 {
		return
	}
	if w.observer != nil {
		w.observer(Result{
			Role:            w.participant.GetRole().String(),
			Transcript:      strings.TrimSpace(result.GetTranscript()),
			IsFinal:         result.GetIsFinal(),
			SpeechEndOffset: offset.AsDuration(),
		})
	}
}

// closeOnError pauses the stream after a provider error. Duration,
// precondition and quota errors are expected operational noise; anything
// else is surfaced as an error. Either way the worker idles until the
// sender resumes the stream.
func (w *Worker) closeOnError(err error) {
	role := w.participant.GetRole().String()
	code := status.Code(err)
	switch code {
	case codes.OutOfRange:
		w.logger.Warnw("recognition session passed the provider duration limit", "role", role, "error", err.Error())
	case codes.FailedPrecondition:
		w.logger.Warnw("recognition request failed a precondition check", "role", role, "error", err.Error())
	case codes.ResourceExhausted:
		w.logger.Warnw("recognition quota exhausted", "role", role, "error", err.Error())
	case codes.Canceled:
		w.logger.Debugw("recognition session canceled", "role", role)
	default:
		w.logger.Errorw("recognition session failed", "role", role, "code", code.String(), "error", err.Error())
	}
	metrics.RecordRecognitionError(code.String())
	w.stream.SetClosed(true)
}
