// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package internal_publisher delivers events that no live hub can take onto
// a durable Pub/Sub topic, so summaries survive UI connector outages.
package internal_publisher

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/events"
)

// Publisher writes one event envelope to durable storage. Implementations
// block until the backend acknowledges the write.
type Publisher interface {
	Publish(ctx context.Context, env *events.Envelope) error
	Close() error
}

type pubsubPublisher struct {
	logger commons.Logger
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubPublisher connects to the given topic. The topic must already
// exist; provisioning is an infrastructure concern.
func NewPubSubPublisher(ctx context.Context, logger commons.Logger, projectID, topicID string, opts ...option.ClientOption) (Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &pubsubPublisher{
		logger: logger,
		client: client,
		topic:  client.Topic(topicID),
	}, nil
}

func (p *pubsubPublisher) Publish(ctx context.Context, env *events.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"data_type":         env.DataType,
			"conversation_name": env.ConversationName,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", env.DataType, err)
	}
	p.logger.Debugw("published durable event",
		"message_id", id,
		"data_type", env.DataType,
		"conversation_name", env.ConversationName)
	return nil
}

func (p *pubsubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
