// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package internal_session owns the lifetime of one Audiohook connection. It
// interprets the control channel, demultiplexes binary audio into the two
// call legs, keeps the recognition workers and the summarization ticker
// running, and completes the provider conversation when the call ends.
package internal_session

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/dialogflow/apiv2beta1/dialogflowpb"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	internal_audio "github.com/meshvox/agent-assist/internal/audiohook-api/audio"
	internal_dialogflow "github.com/meshvox/agent-assist/internal/audiohook-api/dialogflow"
	internal_protocol "github.com/meshvox/agent-assist/internal/audiohook-api/protocol"
	internal_publisher "github.com/meshvox/agent-assist/internal/audiohook-api/publisher"
	internal_recognition "github.com/meshvox/agent-assist/internal/audiohook-api/recognition"
	internal_summary "github.com/meshvox/agent-assist/internal/audiohook-api/summary"
	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/events"
	"github.com/meshvox/agent-assist/pkg/metrics"
	"github.com/meshvox/agent-assist/pkg/routing"
)

const (
	// DefaultAwaitAttempts and DefaultAwaitInterval bound how long a freshly
	// opened session waits for a UI subscriber before resuming audio anyway.
	DefaultAwaitAttempts = 2
	DefaultAwaitInterval = 500 * time.Millisecond

	// eventQueueSize buffers transcripts between the worker receive loops and
	// the routing publisher. Overflow drops, never blocks recognition.
	eventQueueSize = 64

	// completeTimeout bounds the best-effort lifecycle calls made during
	// teardown, when the session context may already be gone.
	completeTimeout = 5 * time.Second
)

// Transport is the websocket surface the session consumes, shaped after
// *websocket.Conn. The session never closes the transport; the owner of the
// connection does that once Run returns.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// Registrar mirrors the conversation-name mapping to the UI connector so
// agent frontends can look up the provider resource name by the id their
// CRM hands them. All calls are best effort.
type Registrar interface {
	RegisterConversationName(ctx context.Context, conversationKey, conversationName string) error
	DeleteConversationName(ctx context.Context, conversationKey string) error
}

// ============================================================================
// Session — one Audiohook connection end to end
// ============================================================================

// Session runs the protocol state machine for a single connection. All
// control dispatch happens on the goroutine calling Run; workers, the
// summary ticker and the event publisher run in a group that is joined
// before Run returns.
type Session struct {
	logger      commons.Logger
	transport   Transport
	ai          internal_dialogflow.Client
	router      *routing.Router
	profileName string

	codec          *internal_protocol.Codec
	customerStream *internal_audio.Stream
	agentStream    *internal_audio.Stream

	rate            int
	chunkSize       int
	maxLookback     int
	awaitAttempts   int
	awaitInterval   time.Duration
	summaryInterval time.Duration
	debugging       bool

	durable   internal_publisher.Publisher
	registrar Registrar

	writeMu    sync.Mutex
	sessionCtx context.Context

	open    *openState
	eventCh chan *events.Envelope
}

// openState exists only between a real open and the matching teardown.
type openState struct {
	conversationName string
	genesysID        string
	strippedName     string

	bgCancel  context.CancelFunc
	group     *errgroup.Group
	agent     *workerSlot
	customer  *workerSlot
	completed bool
}

// workerSlot tracks one recognition worker so a resumed message can respawn
// it if it exited. done is replaced on every (re)spawn.
type workerSlot struct {
	worker *internal_recognition.Worker

	mu   sync.Mutex
	done chan struct{}
}

func (w *workerSlot) setDone(done chan struct{}) {
	w.mu.Lock()
	w.done = done
	w.mu.Unlock()
}

func (w *workerSlot) exited() bool {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

type Option func(*Session)

// WithRate overrides the negotiated µ-law sample rate in hertz.
func WithRate(hz int) Option {
	return func(s *Session) {
		if hz > 0 {
			s.rate = hz
		}
	}
}

// WithChunkSize overrides the replay slice size handed to the workers.
func WithChunkSize(size int) Option {
	return func(s *Session) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithMaxLookback overrides how many trailing seconds are replayed across an
// RPC session restart.
func WithMaxLookback(seconds int) Option {
	return func(s *Session) {
		if seconds > 0 {
			s.maxLookback = seconds
		}
	}
}

// WithAwaitSubscriber overrides the routing-entry poll before resume.
func WithAwaitSubscriber(attempts int, interval time.Duration) Option {
	return func(s *Session) {
		if attempts > 0 {
			s.awaitAttempts = attempts
		}
		if interval > 0 {
			s.awaitInterval = interval
		}
	}
}

// WithSummaryInterval overrides the summarization period.
func WithSummaryInterval(interval time.Duration) Option {
	return func(s *Session) {
		if interval > 0 {
			s.summaryInterval = interval
		}
	}
}

// WithDurablePublisher sets the fallback topic for summaries produced while
// no UI subscriber holds a routing entry.
func WithDurablePublisher(publisher internal_publisher.Publisher) Option {
	return func(s *Session) {
		s.durable = publisher
	}
}

// WithRegistrar mirrors conversation names to the UI connector.
func WithRegistrar(registrar Registrar) Option {
	return func(s *Session) {
		s.registrar = registrar
	}
}

// WithDebuggingInfo asks the provider to attach debugging info to responses.
func WithDebuggingInfo(enabled bool) Option {
	return func(s *Session) {
		s.debugging = enabled
	}
}

func New(
	logger commons.Logger,
	transport Transport,
	ai internal_dialogflow.Client,
	router *routing.Router,
	conversationProfileName string,
	opts ...Option,
) *Session {
	s := &Session{
		logger:          logger,
		transport:       transport,
		ai:              ai,
		router:          router,
		profileName:     conversationProfileName,
		codec:           internal_protocol.NewCodec(),
		rate:            internal_audio.DefaultRate,
		chunkSize:       internal_recognition.DefaultChunkSize,
		maxLookback:     internal_audio.DefaultMaxLookback,
		awaitAttempts:   DefaultAwaitAttempts,
		awaitInterval:   DefaultAwaitInterval,
		summaryInterval: internal_summary.DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.customerStream = internal_audio.NewStream(
		internal_audio.WithRate(s.rate),
		internal_audio.WithMaxLookback(s.maxLookback),
	)
	s.agentStream = internal_audio.NewStream(
		internal_audio.WithRate(s.rate),
		internal_audio.WithMaxLookback(s.maxLookback),
	)
	return s
}

// ============================================================================
// Read loop
// ============================================================================

// Run consumes the connection until the close handshake finishes or the
// transport fails. It always leaves the provider conversation completed and
// all background work joined before returning.
func (s *Session) Run(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.sessionCtx = sctx

	s.logger.Debugw("audiohook transport connected")
	for {
		msgType, data, err := s.transport.ReadMessage()
		if err != nil {
			return s.handleTransportError(err)
		}
		switch msgType {
		case websocket.TextMessage:
			if done := s.handleControl(data); done {
				return nil
			}
		case websocket.BinaryMessage:
			s.handleAudio(data)
		default:
			s.logger.Debugw("ignoring unexpected frame", "frameType", msgType)
		}
	}
}

// handleTransportError tears down a still-open conversation when the peer
// vanished without the close handshake.
func (s *Session) handleTransportError(err error) error {
	if s.open != nil {
		s.logger.Warnw("transport failed with a conversation open", "error", err.Error())
		s.closeConversation(false)
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Debugw("transport closed by peer")
		return nil
	}
	return err
}

// ============================================================================
// Control channel
// ============================================================================

// handleControl dispatches one text frame. The return value reports whether
// the session is finished and Run should return.
func (s *Session) handleControl(data []byte) bool {
	msg, err := internal_protocol.DecodeControl(data)
	if err != nil {
		s.logger.Warnw("dropping malformed control frame", "error", err.Error())
		return false
	}
	s.codec.Observe(msg)
	metrics.RecordFrame("inbound", msg.Type)

	switch msg.Type {
	case internal_protocol.TypeOpen:
		return s.handleOpen(msg)
	case internal_protocol.TypePing:
		s.send(s.codec.EncodePong())
		return false
	case internal_protocol.TypeClose:
		return s.handleClose()
	case internal_protocol.TypePaused:
		s.logger.Infow("client paused audio", "session", msg.ID)
		s.customerStream.SetClosed(true)
		s.agentStream.SetClosed(true)
		return false
	case internal_protocol.TypeResumed:
		s.logger.Infow("client resumed audio", "session", msg.ID)
		s.customerStream.SetClosed(false)
		s.agentStream.SetClosed(false)
		s.respawnExitedWorkers()
		return false
	case internal_protocol.TypeDiscarded:
		s.logger.Infow("client discarded audio", "session", msg.ID, "parameters", msg.Parameters)
		return false
	default:
		s.logger.Debugw("ignoring unsupported control message", "type", msg.Type)
		return false
	}
}

func (s *Session) handleOpen(msg *internal_protocol.Message) bool {
	if !msg.CompatibleMedia() {
		s.logger.Warnw("rejecting open with unsupported media offer",
			"session", msg.ID, "media", msg.Parameters["media"])
		s.send(s.codec.EncodeClosed())
		return true
	}
	if msg.IsProbe() {
		s.logger.Debugw("connection probe, not creating a conversation", "session", msg.ID)
		metrics.RecordProbe()
		s.send(s.codec.EncodeOpened())
		return false
	}
	if s.open != nil {
		s.logger.Warnw("ignoring open on an already opened session",
			"session", msg.ID, "conversation", s.open.conversationName)
		return false
	}
	if err := s.openConversation(msg.ConversationID()); err != nil {
		s.logger.Errorw("failed to open conversation",
			"conversationId", msg.ConversationID(), "error", err.Error())
		s.send(s.codec.EncodeClosed())
		return true
	}
	return false
}

func (s *Session) handleClose() bool {
	if s.open == nil {
		s.send(s.codec.EncodeClosed())
		return true
	}
	s.closeConversation(true)
	return true
}

// ============================================================================
// Conversation lifecycle
// ============================================================================

// openConversation provisions the provider-side conversation and starts all
// per-call background work: a recognition worker per leg, the summarization
// ticker, the transcript publisher and the subscriber wait that releases the
// paused audio stream.
func (s *Session) openConversation(conversationID string) error {
	ctx := s.sessionCtx

	profile, err := s.ai.GetConversationProfile(ctx, s.profileName)
	if err != nil {
		return err
	}

	normalized := internal_dialogflow.NormalizedConversationID(conversationID)
	conversationName := s.ai.ConversationName(normalized)
	if _, err := s.ai.GetConversation(ctx, conversationName); err != nil {
		if status.Code(err) != codes.NotFound {
			return err
		}
		s.logger.Infow("conversation not found, creating it", "conversation", conversationName)
		if _, err := s.ai.CreateConversation(ctx, profile.GetName(), normalized); err != nil {
			return err
		}
	}

	participants, err := s.ai.ListParticipants(ctx, conversationName)
	if err != nil {
		return err
	}
	agent := internal_dialogflow.FindParticipantByRole(dialogflowpb.Participant_HUMAN_AGENT, participants)
	if agent == nil {
		if agent, err = s.ai.CreateParticipant(ctx, conversationName, dialogflowpb.Participant_HUMAN_AGENT); err != nil {
			return err
		}
	}
	endUser := internal_dialogflow.FindParticipantByRole(dialogflowpb.Participant_END_USER, participants)
	if endUser == nil {
		if endUser, err = s.ai.CreateParticipant(ctx, conversationName, dialogflowpb.Participant_END_USER); err != nil {
			return err
		}
	}

	bgCtx, bgCancel := context.WithCancel(s.sessionCtx)
	state := &openState{
		conversationName: conversationName,
		genesysID:        conversationID,
		strippedName:     routing.ConversationNameWithoutLocation(conversationName),
		bgCancel:         bgCancel,
		group:            &errgroup.Group{},
	}
	s.open = state
	s.eventCh = make(chan *events.Envelope, eventQueueSize)

	audioConfig := internal_dialogflow.InputAudioConfigFromProfile(profile, s.rate)
	state.agent = s.newWorkerSlot(s.agentStream, agent, audioConfig, state.strippedName)
	state.customer = s.newWorkerSlot(s.customerStream, endUser, audioConfig, state.strippedName)
	s.spawnWorker(state, state.agent)
	s.spawnWorker(state, state.customer)

	s.send(s.codec.EncodeOpened())

	state.group.Go(func() error {
		s.awaitSubscriber(bgCtx, conversationName)
		return nil
	})
	state.group.Go(func() error {
		s.publishEvents(bgCtx)
		return nil
	})
	ticker := internal_summary.NewTicker(
		s.logger, s.ai, s.router, s.durable,
		conversationName, conversationID,
		internal_summary.WithInterval(s.summaryInterval),
	)
	state.group.Go(func() error {
		ticker.Run(bgCtx)
		return nil
	})
	if s.registrar != nil {
		state.group.Go(func() error {
			if err := s.registrar.RegisterConversationName(bgCtx, conversationID, conversationName); err != nil {
				s.logger.Warnw("conversation name registration failed",
					"conversation", conversationName, "error", err.Error())
			}
			return nil
		})
	}

	metrics.RecordSessionOpened()
	s.logger.Infow("conversation opened",
		"conversation", conversationName, "genesysConversationId", conversationID)
	return nil
}

// closeConversation drains everything started by openConversation. Teardown
// order matters: gates first so the workers half-close their RPCs, then the
// closed acknowledgement while they drain, then the lifecycle call, then the
// join.
func (s *Session) closeConversation(graceful bool) {
	state := s.open
	s.customerStream.Terminate()
	s.agentStream.Terminate()
	state.bgCancel()
	if graceful {
		s.send(s.codec.EncodeClosed())
	}
	s.completeConversation(state)
	if err := state.group.Wait(); err != nil {
		s.logger.Warnw("background task failed during teardown", "error", err.Error())
	}
	s.deregisterName(state)

	outcome := "completed"
	if !graceful {
		outcome = "disconnected"
	}
	metrics.RecordSessionClosed(outcome)
	s.logger.Infow("conversation closed",
		"conversation", state.conversationName,
		"outcome", outcome,
		"customerRestarts", s.customerStream.RestartCount(),
		"agentRestarts", s.agentStream.RestartCount())
	s.open = nil
}

// completeConversation is best effort and runs at most once per conversation,
// no matter how the session ends.
func (s *Session) completeConversation(state *openState) {
	if state.completed {
		return
	}
	state.completed = true
	ctx, cancel := context.WithTimeout(context.Background(), completeTimeout)
	defer cancel()
	if err := s.ai.CompleteConversation(ctx, state.conversationName); err != nil {
		s.logger.Warnw("failed to complete conversation",
			"conversation", state.conversationName, "error", err.Error())
	}
}

func (s *Session) deregisterName(state *openState) {
	if s.registrar == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), completeTimeout)
	defer cancel()
	if err := s.registrar.DeleteConversationName(ctx, state.genesysID); err != nil {
		s.logger.Warnw("conversation name removal failed",
			"conversation", state.conversationName, "error", err.Error())
	}
}

// awaitSubscriber polls the routing table so the first seconds of audio are
// not transcribed before any agent UI joined. Resume goes out either way; a
// missing subscriber never stalls the call.
func (s *Session) awaitSubscriber(ctx context.Context, conversationName string) {
	found := false
	for attempt := 0; attempt < s.awaitAttempts; attempt++ {
		exists, err := s.router.RouteExists(ctx, conversationName)
		if err != nil {
			s.logger.Warnw("subscriber check failed", "error", err.Error())
		}
		if exists {
			found = true
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.awaitInterval):
		}
	}
	s.logger.Debugw("subscriber wait finished",
		"conversation", conversationName, "subscriberFound", found)
	s.send(s.codec.EncodeResume())
}

// ============================================================================
// Recognition workers
// ============================================================================

func (s *Session) newWorkerSlot(
	stream *internal_audio.Stream,
	participant *dialogflowpb.Participant,
	audioConfig *dialogflowpb.InputAudioConfig,
	strippedName string,
) *workerSlot {
	worker := internal_recognition.NewWorker(
		s.logger, s.ai, stream, participant, audioConfig,
		internal_recognition.WithObserver(s.transcriptObserver(strippedName)),
		internal_recognition.WithChunkSize(s.chunkSize),
		internal_recognition.WithDebuggingInfo(s.debugging),
	)
	return &workerSlot{worker: worker}
}

func (s *Session) spawnWorker(state *openState, slot *workerSlot) {
	done := make(chan struct{})
	slot.setDone(done)
	state.group.Go(func() error {
		defer close(done)
		slot.worker.Run(s.sessionCtx)
		return nil
	})
}

func (s *Session) respawnExitedWorkers() {
	state := s.open
	if state == nil {
		return
	}
	for _, slot := range []*workerSlot{state.agent, state.customer} {
		if slot.exited() {
			s.logger.Warnw("respawning exited recognition worker",
				"conversation", state.conversationName)
			s.spawnWorker(state, slot)
		}
	}
}

// ============================================================================
// Event fan-out
// ============================================================================

// transcriptObserver funnels recognition results into the event queue. The
// observer runs on the worker receive loop, so it never blocks: a full queue
// drops the transcript.
func (s *Session) transcriptObserver(strippedName string) internal_recognition.Observer {
	return func(result internal_recognition.Result) {
		env := events.NewTranscript(
			strippedName, result.Role, result.Transcript,
			result.IsFinal, result.SpeechEndOffset.Milliseconds(),
		)
		select {
		case s.eventCh <- env:
		default:
			s.logger.Warnw("event queue full, dropping transcript", "role", result.Role)
		}
	}
}

// publishEvents delivers queued transcripts to whichever hub holds the
// conversation's routing entry. Transcripts are ephemeral: without a
// subscriber they are dropped, not queued durably.
func (s *Session) publishEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.eventCh:
			hubID, err := s.router.Resolve(ctx, env.ConversationName)
			if errors.Is(err, routing.ErrNoRoute) {
				s.logger.Debugw("no subscriber for event", "dataType", env.DataType)
				continue
			}
			if err != nil {
				s.logger.Warnw("routing lookup failed", "error", err.Error())
				continue
			}
			if err := s.router.Publish(ctx, hubID, env); err != nil {
				s.logger.Warnw("event publish failed",
					"dataType", env.DataType, "error", err.Error())
				metrics.RecordRoutePublishFailure()
			}
		}
	}
}

// ============================================================================
// Audio channel
// ============================================================================

// handleAudio splits one interleaved binary frame into the two call legs.
// Audio before a real open belongs to no conversation and is dropped.
func (s *Session) handleAudio(frame []byte) {
	if s.open == nil {
		s.logger.Debugw("dropping audio before conversation open", "bytes", len(frame))
		return
	}
	customer, agent, err := internal_audio.SplitInterleaved(frame)
	if err != nil {
		s.logger.Warnw("dropping malformed audio frame", "error", err.Error())
		return
	}
	s.customerStream.FillBuffer(customer)
	s.agentStream.FillBuffer(agent)
	metrics.RecordAudioBytes("external", len(customer))
	metrics.RecordAudioBytes("internal", len(agent))
}

// ============================================================================
// Outbound control
// ============================================================================

// send serializes writes because resume and pong can race the read-loop
// replies on the same connection.
func (s *Session) send(msg *internal_protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		s.logger.Errorw("failed to encode control message", "type", msg.Type, "error", err.Error())
		return
	}
	s.writeMu.Lock()
	err = s.transport.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Warnw("failed to write control message", "type", msg.Type, "error", err.Error())
		return
	}
	metrics.RecordFrame("outbound", msg.Type)
}
