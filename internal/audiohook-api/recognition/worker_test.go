// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package internal_recognition

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/dialogflow/apiv2beta1/dialogflowpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	internal_audio "github.com/meshvox/agent-assist/internal/audiohook-api/audio"
	"github.com/meshvox/agent-assist/pkg/commons"
)

// ============================================================================
// Fakes
// ============================================================================

// fakeAnalyzeStream records outgoing requests and serves canned responses.
// The embedded grpc.ClientStream stays nil; the worker never touches it.
type fakeAnalyzeStream struct {
	grpc.ClientStream

	mu        sync.Mutex
	sent      []*dialogflowpb.StreamingAnalyzeContentRequest
	sendErr   error
	responses chan *dialogflowpb.StreamingAnalyzeContentResponse
	recvErr   error
	closeOnce sync.Once
	closedAt  int
}

func newFakeAnalyzeStream() *fakeAnalyzeStream {
	return &fakeAnalyzeStream{
		responses: make(chan *dialogflowpb.StreamingAnalyzeContentResponse, 16),
		closedAt:  -1,
	}
}

func (f *fakeAnalyzeStream) Send(req *dialogflowpb.StreamingAnalyzeContentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeAnalyzeStream) Recv() (*dialogflowpb.StreamingAnalyzeContentResponse, error) {
	resp, ok := <-f.responses
	if !ok {
		if f.recvErr != nil {
			return nil, f.recvErr
		}
		return nil, io.EOF
	}
	return resp, nil
}

func (f *fakeAnalyzeStream) CloseSend() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closedAt = len(f.sent)
		f.mu.Unlock()
	})
	return nil
}

func (f *fakeAnalyzeStream) requests() []*dialogflowpb.StreamingAnalyzeContentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*dialogflowpb.StreamingAnalyzeContentRequest, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeStreamer struct {
	mu      sync.Mutex
	opened  int
	onOpen  func(n int) (*fakeAnalyzeStream, error)
	streams []*fakeAnalyzeStream
}

func (f *fakeStreamer) StreamingAnalyzeContent(_ context.Context) (dialogflowpb.Participants_StreamingAnalyzeContentClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	stream, err := f.onOpen(f.opened)
	if err != nil {
		return nil, err
	}
	f.streams = append(f.streams, stream)
	return stream, nil
}

func (f *fakeStreamer) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func testLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.WithLogLevel("error"))
	require.NoError(t, err)
	return logger
}

func agentParticipant() *dialogflowpb.Participant {
	return &dialogflowpb.Participant{
		Name: "projects/p/locations/l/conversations/c/participants/agent",
		Role: dialogflowpb.Participant_HUMAN_AGENT,
	}
}

func testAudioConfig() *dialogflowpb.InputAudioConfig {
	return &dialogflowpb.InputAudioConfig{
		AudioEncoding:   dialogflowpb.AudioEncoding_AUDIO_ENCODING_MULAW,
		SampleRateHertz: 8000,
		LanguageCode:    "en-US",
	}
}

// ============================================================================
// Request shape
// ============================================================================

func TestSendRequestsShape(t *testing.T) {
	stream := internal_audio.NewStream()
	stream.FillBuffer([]byte{1, 2, 3, 4})

	rpc := newFakeAnalyzeStream()
	close(rpc.responses)

	worker := NewWorker(testLogger(t), nil, stream, agentParticipant(), testAudioConfig())
	worker.sendRequests(rpc)

	requests := rpc.requests()
	require.Len(t, requests, 3)

	// Config request names the participant and carries no audio.
	assert.Equal(t, agentParticipant().GetName(), requests[0].GetParticipant())
	require.NotNil(t, requests[0].GetAudioConfig())
	assert.Empty(t, requests[0].GetInputAudio())

	// Audio follows, then the empty half-close request.
	assert.Equal(t, []byte{1, 2, 3, 4}, requests[1].GetInputAudio())
	assert.Empty(t, requests[2].GetParticipant())
	assert.Nil(t, requests[2].GetAudioConfig())
	assert.Empty(t, requests[2].GetInputAudio())

	assert.Equal(t, 3, rpc.closedAt)
}

func TestSendRequestsChunksReplay(t *testing.T) {
	stream := internal_audio.NewStream()

	// Drive one prior segment: 16000 consumed bytes with a final at 1 s, so
	// the next segment replays the trailing 8000.
	stream.BeginSegment()
	replaySource := make([]byte, 16000)
	for i := range replaySource {
		replaySource[i] = byte(i % 251)
	}
	stream.FillBuffer(replaySource)
	_, err := stream.Next()
	require.NoError(t, err)
	stream.MarkFinal(1000)

	// Keep the pause gate set so the live loop ends without waiting out the
	// queue timer.
	stream.SetClosed(true)

	rpc := newFakeAnalyzeStream()
	close(rpc.responses)

	worker := NewWorker(testLogger(t), nil, stream, agentParticipant(), testAudioConfig(),
		WithChunkSize(1600))
	worker.sendRequests(rpc)

	requests := rpc.requests()
	// Config + 5 replay slices + trailing empty request.
	require.Len(t, requests, 7)

	var replayed []byte
	for _, req := range requests[1:6] {
		assert.LessOrEqual(t, len(req.GetInputAudio()), 1600)
		replayed = append(replayed, req.GetInputAudio()...)
	}
	assert.Equal(t, replaySource[8000:], replayed)
}

func TestSendRequestsStopsOnSendError(t *testing.T) {
	stream := internal_audio.NewStream()
	stream.FillBuffer([]byte{1, 2})

	rpc := newFakeAnalyzeStream()
	rpc.sendErr = status.Error(codes.Unavailable, "transport closing")
	close(rpc.responses)

	worker := NewWorker(testLogger(t), nil, stream, agentParticipant(), testAudioConfig())
	worker.sendRequests(rpc)

	assert.Empty(t, rpc.requests())
	assert.Equal(t, 0, rpc.closedAt)
}

// ============================================================================
// Response handling
// ============================================================================

func TestHandleResponseMirrorsOffsets(t *testing.T) {
	stream := internal_audio.NewStream()
	stream.BeginSegment()

	var results []Result
	worker := NewWorker(testLogger(t), nil, stream, agentParticipant(), testAudioConfig(),
		WithObserver(func(r Result) { results = append(results, r) }))

	worker.handleResponse(&dialogflowpb.StreamingAnalyzeContentResponse{
		RecognitionResult: &dialogflowpb.StreamingRecognitionResult{
			Transcript:      " hello there ",
			SpeechEndOffset: durationpb.New(2500 * time.Millisecond),
		},
	})

	// Interim mirror advances in whole seconds.
	assert.EqualValues(t, 2000, stream.SpeechEndOffset())
	require.Len(t, results, 1)
	assert.Equal(t, "hello there", results[0].Transcript)
	assert.Equal(t, "HUMAN_AGENT", results[0].Role)
	assert.False(t, results[0].IsFinal)

	worker.handleResponse(&dialogflowpb.StreamingAnalyzeContentResponse{
		RecognitionResult: &dialogflowpb.StreamingRecognitionResult{
			Transcript:      "hello there agent",
			IsFinal:         true,
			SpeechEndOffset: durationpb.New(2500 * time.Millisecond),
		},
	})

	require.Len(t, results, 2)
	assert.True(t, results[1].IsFinal)

	// The final offset keeps millisecond precision and lands in the
	// restart bookkeeping.
	stream.BeginSegment()
	assert.EqualValues(t, 2500, stream.ProcessedMs())
}

func TestHandleResponseIgnoresShortTranscripts(t *testing.T) {
	stream := internal_audio.NewStream()

	var results []Result
	worker := NewWorker(testLogger(t), nil, stream, agentParticipant(), testAudioConfig(),
		WithObserver(func(r Result) { results = append(results, r) }))

	worker.handleResponse(&dialogflowpb.StreamingAnalyzeContentResponse{
		RecognitionResult: &dialogflowpb.StreamingRecognitionResult{
			Transcript:      " a ",
			SpeechEndOffset: durationpb.New(3 * time.Second),
		},
	})
	worker.handleResponse(&dialogflowpb.StreamingAnalyzeContentResponse{})

	assert.Empty(t, results)
	// Offsets are still mirrored even when the transcript is dropped.
	assert.EqualValues(t, 3000, stream.SpeechEndOffset())
}

// ============================================================================
// Error taxonomy
// ============================================================================

func TestCloseOnErrorPausesStream(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "out of range", err: status.Error(codes.OutOfRange, "audio stream exceeded duration limit")},
		{name: "failed precondition", err: status.Error(codes.FailedPrecondition, "conversation completed")},
		{name: "resource exhausted", err: status.Error(codes.ResourceExhausted, "quota")},
		{name: "internal", err: status.Error(codes.Internal, "boom")},
		{name: "plain error", err: io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := internal_audio.NewStream()
			worker := NewWorker(testLogger(t), nil, stream, agentParticipant(), testAudioConfig())

			worker.closeOnError(tt.err)
			assert.True(t, stream.Closed())
			assert.False(t, stream.Terminated())
		})
	}
}

// ============================================================================
// Run loop
// ============================================================================

func TestRunReturnsOnTerminatedStream(t *testing.T) {
	stream := internal_audio.NewStream()
	stream.Terminate()

	streamer := &fakeStreamer{onOpen: func(int) (*fakeAnalyzeStream, error) {
		t.Fatal("terminated stream must not open an RPC")
		return nil, nil
	}}
	worker := NewWorker(testLogger(t), streamer, stream, agentParticipant(), testAudioConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 0, streamer.openedCount())
}

func TestRunIdlesWhilePaused(t *testing.T) {
	stream := internal_audio.NewStream()
	stream.SetClosed(true)

	streamer := &fakeStreamer{onOpen: func(int) (*fakeAnalyzeStream, error) {
		t.Fatal("paused stream must not open an RPC")
		return nil, nil
	}}
	worker := NewWorker(testLogger(t), streamer, stream, agentParticipant(), testAudioConfig(),
		WithIdleRecheck(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
	assert.Equal(t, 0, streamer.openedCount())
}

func TestRunRestartsSessionsUntilTerminate(t *testing.T) {
	stream := internal_audio.NewStream()
	stream.FillBuffer([]byte{1, 2, 3, 4})

	streamer := &fakeStreamer{}
	streamer.onOpen = func(n int) (*fakeAnalyzeStream, error) {
		if n == 2 {
			// Second session: shut down mid-call.
			stream.Terminate()
		}
		rpc := newFakeAnalyzeStream()
		close(rpc.responses)
		return rpc, nil
	}
	worker := NewWorker(testLogger(t), streamer, stream, agentParticipant(), testAudioConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 2, streamer.openedCount())
	assert.Equal(t, 2, stream.RestartCount())
}

func TestRunPausesOnOpenError(t *testing.T) {
	stream := internal_audio.NewStream()

	streamer := &fakeStreamer{onOpen: func(int) (*fakeAnalyzeStream, error) {
		return nil, status.Error(codes.Unavailable, "dial failed")
	}}
	worker := NewWorker(testLogger(t), streamer, stream, agentParticipant(), testAudioConfig(),
		WithIdleRecheck(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, stream.Closed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, streamer.openedCount())

	stream.Terminate()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after terminate")
	}
}
