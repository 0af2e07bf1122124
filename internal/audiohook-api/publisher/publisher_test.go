// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package internal_publisher

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/events"
)

func TestPublishDeliversEnvelope(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	admin, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer admin.Close()
	_, err = admin.CreateTopic(ctx, "summaries")
	require.NoError(t, err)

	logger, err := commons.NewApplicationLogger(commons.WithLogLevel("error"))
	require.NoError(t, err)

	publisher, err := NewPubSubPublisher(ctx, logger, "test-project", "summaries", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer publisher.Close()

	env := events.NewSummarization(
		"projects/p/conversations/c",
		"projects/p/locations/l/conversations/c",
		"genesys-1",
		"caller asked about billing",
		1,
	)
	require.NoError(t, publisher.Publish(ctx, env))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, events.DataTypeSummarization, msgs[0].Attributes["data_type"])
	assert.Equal(t, "projects/p/conversations/c", msgs[0].Attributes["conversation_name"])

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	assert.Equal(t, "caller asked about billing", body["summary"])
	assert.Equal(t, events.DataTypeSummarization, body["data_type"])
	assert.EqualValues(t, 1, body["summaryCount"])
}

func TestPublishFailsOnMissingTopic(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	logger, err := commons.NewApplicationLogger(commons.WithLogLevel("error"))
	require.NoError(t, err)

	publisher, err := NewPubSubPublisher(ctx, logger, "test-project", "absent", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer publisher.Close()

	err = publisher.Publish(ctx, events.NewSuggestion("projects/p/conversations/c", []string{}))
	assert.Error(t, err)
}
