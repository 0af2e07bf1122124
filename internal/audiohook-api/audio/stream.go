// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package internal_audio

import (
	"errors"
	"sync"
	"time"
)

// µ-law at 8 kHz carries one byte per sample, so all byte math below converts
// milliseconds with rate/1000.
const (
	DefaultRate        = 8000
	DefaultMaxLookback = 3

	// ForcedFinalOffsetMs pre-empts the provider's 120 s per-RPC duration cap.
	// Once an interim offset passes this mark the current segment finishes and
	// the next RPC session starts with look-back replay.
	ForcedFinalOffsetMs = 110000

	// nextWait bounds how long Next blocks for the first pending chunk. A
	// quiet gap longer than this ends the RPC session.
	nextWait = 500 * time.Millisecond
)

var (
	// ErrSegmentDone reports that the current recognition segment is over:
	// the stream was paused, shut down, or the last turn finalized.
	ErrSegmentDone = errors.New("audio segment done")

	// ErrNoAudio reports that no chunk arrived within the wait window.
	ErrNoAudio = errors.New("no pending audio")
)

// ============================================================================
// Stream — per-leg producer/consumer buffer with restart look-back
// ============================================================================

// Stream is the hand-off between the websocket reader and one recognition
// worker. The reader calls FillBuffer; the worker brackets every RPC session
// with BeginSegment and then drains chunks through Next. Consumed bytes are
// retained (bounded) so a restarted session can replay the trailing seconds
// the provider may not have processed.
//
// Two gates control the consumer:
//
//   - closed: pause gate, reversible. Set while the sender pauses the stream
//     or after a provider error; cleared on resume.
//   - terminated: shutdown gate, permanent.
type Stream struct {
	mu sync.Mutex

	rate        int
	maxLookback int

	// queue: chunks produced by the reader, not yet consumed. notify wakes a
	// consumer blocked in Next without it having to poll.
	queue  [][]byte
	notify chan struct{}

	// retained: chronological log of consumed bytes. retainedStart counts
	// bytes trimmed off the front so log positions stay absolute.
	retained      []byte
	retainedStart int64

	closed     bool
	terminated bool
	isFinal    bool

	restartCount      int
	lastStartTimeMs   int64
	isFinalOffsetMs   int64
	speechEndOffsetMs int64
}

type StreamOption func(*Stream)

// WithRate overrides the µ-law sample rate in hertz.
func WithRate(hz int) StreamOption {
	return func(s *Stream) {
		if hz > 0 {
			s.rate = hz
		}
	}
}

// WithMaxLookback overrides how many trailing seconds of consumed audio are
// replayed into a restarted RPC session.
func WithMaxLookback(seconds int) StreamOption {
	return func(s *Stream) {
		if seconds > 0 {
			s.maxLookback = seconds
		}
	}
}

func NewStream(opts ...StreamOption) *Stream {
	s := &Stream{
		rate:        DefaultRate,
		maxLookback: DefaultMaxLookback,
		notify:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================================
// Producer side
// ============================================================================

// FillBuffer queues one demuxed chunk for the consumer. The chunk is copied;
// callers may reuse the backing frame. Pushes after Terminate are discarded.
func (s *Stream) FillBuffer(data []byte) {
	if len(data) == 0 {
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, chunk)
	s.mu.Unlock()
	s.wake()
}

// ============================================================================
// Consumer side
// ============================================================================

// BeginSegment starts one RPC session's consumption and returns the replay
// payload for it: the trailing retained bytes past the processed-time
// estimate, capped at maxLookback seconds. The estimate advances by the last
// final's offset when the previous session produced one, otherwise by the
// last interim offset, which can re-send a sub-second remainder. The very
// first session has processed nothing and gets no replay.
func (s *Stream) BeginSegment() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.restartCount++
	s.isFinal = false

	advance := s.isFinalOffsetMs
	if advance == 0 {
		advance = s.speechEndOffsetMs
	}
	s.lastStartTimeMs += advance
	s.isFinalOffsetMs = 0
	s.speechEndOffsetMs = 0

	processed := s.lastStartTimeMs * int64(s.rate) / 1000
	if processed == 0 {
		return nil
	}

	total := s.retainedStart + int64(len(s.retained))
	window := total - processed
	if lookback := int64(s.maxLookback * s.rate); window > lookback {
		window = lookback
	}
	if window <= 0 {
		return nil
	}
	start := int64(len(s.retained)) - window
	if start < 0 {
		start = 0
	}
	replay := make([]byte, int64(len(s.retained))-start)
	copy(replay, s.retained[start:])
	return replay
}

// Next returns the pending audio for the current segment. It blocks up to
// nextWait for the first chunk, then drains whatever else is queued so one
// request carries everything available. Returned errors end the segment:
// ErrSegmentDone when a gate or the duration cap fired, ErrNoAudio on a
// quiet gap.
func (s *Stream) Next() ([]byte, error) {
	deadline := time.NewTimer(nextWait)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		if s.closed || s.isFinal {
			s.mu.Unlock()
			return nil, ErrSegmentDone
		}
		if s.speechEndOffsetMs > ForcedFinalOffsetMs {
			s.isFinal = true
			s.mu.Unlock()
			return nil, ErrSegmentDone
		}
		if len(s.queue) > 0 {
			data := s.drainLocked()
			s.mu.Unlock()
			return data, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-deadline.C:
			return nil, ErrNoAudio
		}
	}
}

func (s *Stream) drainLocked() []byte {
	var size int
	for _, chunk := range s.queue {
		size += len(chunk)
	}
	data := make([]byte, 0, size)
	for _, chunk := range s.queue {
		data = append(data, chunk...)
	}
	s.queue = nil

	s.retained = append(s.retained, data...)
	s.trimLocked()
	return data
}

// trimLocked bounds the retained log. Replay never reaches past maxLookback
// seconds, so anything older than twice that is dead weight.
func (s *Stream) trimLocked() {
	lookback := s.maxLookback * s.rate
	if len(s.retained) <= 4*lookback {
		return
	}
	cut := len(s.retained) - 2*lookback
	kept := make([]byte, len(s.retained)-cut)
	copy(kept, s.retained[cut:])
	s.retained = kept
	s.retainedStart += int64(cut)
}

// ============================================================================
// Gates and recognition bookkeeping
// ============================================================================

// SetClosed flips the pause gate. Closing wakes a blocked consumer so the
// running RPC session can half-close promptly.
func (s *Stream) SetClosed(closed bool) {
	s.mu.Lock()
	s.closed = closed
	s.mu.Unlock()
	if closed {
		s.wake()
	}
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Terminate shuts the stream down permanently. It also sets the pause gate
// so an in-flight Next returns without waiting out its timer.
func (s *Stream) Terminate() {
	s.mu.Lock()
	s.terminated = true
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Stream) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// MarkFinal records that the provider finalized the current turn at the
// given offset within the running RPC session.
func (s *Stream) MarkFinal(offsetMs int64) {
	s.mu.Lock()
	s.isFinal = true
	s.isFinalOffsetMs = offsetMs
	s.mu.Unlock()
	s.wake()
}

// SetSpeechEndOffset mirrors the most recent interim offset within the
// running RPC session.
func (s *Stream) SetSpeechEndOffset(offsetMs int64) {
	s.mu.Lock()
	s.speechEndOffsetMs = offsetMs
	s.mu.Unlock()
}

func (s *Stream) SpeechEndOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speechEndOffsetMs
}

// RestartCount reports how many RPC sessions have been started.
func (s *Stream) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// ProcessedMs reports the cumulative processed-time estimate across all
// sessions. It never decreases.
func (s *Stream) ProcessedMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStartTimeMs
}

// RetainedBytes reports how many consumed bytes the stream has seen in total,
// including bytes already trimmed from the replay log.
func (s *Stream) RetainedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retainedStart + int64(len(s.retained))
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
