// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package internal_summary runs the per-conversation summarization loop: on
// every interval it asks the provider for a fresh summary and hands it to
// whichever delivery path currently has a subscriber.
package internal_summary

import (
	"context"
	"errors"
	"time"

	internal_publisher "github.com/meshvox/agent-assist/internal/audiohook-api/publisher"
	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/events"
	"github.com/meshvox/agent-assist/pkg/metrics"
	"github.com/meshvox/agent-assist/pkg/routing"
	"github.com/meshvox/agent-assist/pkg/utils"
)

// DefaultInterval is how often a running conversation is summarized.
const DefaultInterval = 60 * time.Second

// Summarizer asks the provider for the current conversation summary.
type Summarizer interface {
	SuggestConversationSummary(ctx context.Context, conversationName string) (string, error)
}

// Ticker periodically summarizes one live conversation. Summaries go to the
// hub holding the conversation's routing entry; without one they fall back
// to the durable topic so a late subscriber can still catch up.
type Ticker struct {
	logger     commons.Logger
	summarizer Summarizer
	router     *routing.Router
	durable    internal_publisher.Publisher

	conversationName      string
	genesysConversationID string
	interval              time.Duration
	count                 int
}

type TickerOption func(*Ticker)

// WithInterval overrides the summarization period.
func WithInterval(interval time.Duration) TickerOption {
	return func(t *Ticker) {
		if interval > 0 {
			t.interval = interval
		}
	}
}

// NewTicker builds a ticker for one conversation. durable may be nil when no
// fallback topic is configured; unroutable summaries are then dropped.
func NewTicker(
	logger commons.Logger,
	summarizer Summarizer,
	router *routing.Router,
	durable internal_publisher.Publisher,
	conversationName string,
	genesysConversationID string,
	opts ...TickerOption,
) *Ticker {
	t := &Ticker{
		logger:                logger,
		summarizer:            summarizer,
		router:                router,
		durable:               durable,
		conversationName:      conversationName,
		genesysConversationID: genesysConversationID,
		interval:              DefaultInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run wakes every interval until the context is cancelled at conversation
// close. A failed tick is logged and the loop continues.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	stripped := routing.ConversationNameWithoutLocation(t.conversationName)
	t.logger.Debugw("summary ticker started", "conversation", stripped, "interval", t.interval.String())
	defer t.logger.Debugw("summary ticker stopped", "conversation", stripped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Ticker) tick(ctx context.Context) {
	summary, err := t.summarizer.SuggestConversationSummary(ctx, t.conversationName)
	if err != nil {
		t.logger.Warnw("summary request failed",
			"conversation", t.conversationName, "error", err.Error())
		return
	}
	if utils.IsEmpty(summary) {
		t.logger.Debugw("empty summary skipped", "conversation", t.conversationName)
		return
	}

	t.count++
	stripped := routing.ConversationNameWithoutLocation(t.conversationName)
	env := events.NewSummarization(stripped, t.conversationName, t.genesysConversationID, summary, t.count)

	hubID, err := t.router.Resolve(ctx, stripped)
	switch {
	case err == nil:
		if err := t.router.Publish(ctx, hubID, env); err != nil {
			t.logger.Warnw("summary publish failed",
				"conversation", stripped, "hub", hubID, "error", err.Error())
			metrics.RecordRoutePublishFailure()
			return
		}
		metrics.RecordSummary("hub")
	case errors.Is(err, routing.ErrNoRoute):
		if t.durable == nil {
			t.logger.Debugw("no subscriber and no durable topic, summary dropped",
				"conversation", stripped)
			return
		}
		if err := t.durable.Publish(ctx, env); err != nil {
			t.logger.Warnw("durable summary publish failed",
				"conversation", stripped, "error", err.Error())
			return
		}
		metrics.RecordSummary("durable")
	default:
		t.logger.Warnw("routing lookup failed",
			"conversation", stripped, "error", err.Error())
	}
}
