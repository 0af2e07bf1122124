// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package routing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/events"
)

// ============================================================================
// Test Helpers
// ============================================================================

func testRouter(t *testing.T, opts ...RouterOption) (*Router, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return NewRouter(logger, client, opts...), mr
}

// ============================================================================
// Name Stripping
// ============================================================================

func TestConversationNameWithoutLocation(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "strips location segment",
			input:    "projects/demo/locations/us-central1/conversations/a1b2",
			expected: "projects/demo/conversations/a1b2",
		},
		{
			name:     "global location also stripped",
			input:    "projects/demo/locations/global/conversations/a1b2",
			expected: "projects/demo/conversations/a1b2",
		},
		{
			name:     "already stripped passes through",
			input:    "projects/demo/conversations/a1b2",
			expected: "projects/demo/conversations/a1b2",
		},
		{
			name:     "non resource string untouched",
			input:    "not-a-resource-name",
			expected: "not-a-resource-name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ConversationNameWithoutLocation(tt.input))
		})
	}
}

func TestConversationNameWithoutLocationIdempotent(t *testing.T) {
	once := ConversationNameWithoutLocation("projects/p/locations/l/conversations/c")
	twice := ConversationNameWithoutLocation(once)
	assert.Equal(t, once, twice)
}

// ============================================================================
// Hub Identity
// ============================================================================

func TestNewHubIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewHubID()
		assert.Contains(t, id, "-")
		assert.False(t, seen[id], "hub id %s repeated", id)
		seen[id] = true
	}
}

// ============================================================================
// Routing Table
// ============================================================================

func TestRouterSetResolveDelete(t *testing.T) {
	router, _ := testRouter(t)
	ctx := context.Background()
	full := "projects/demo/locations/us-central1/conversations/abc"
	stripped := "projects/demo/conversations/abc"

	require.NoError(t, router.SetRoute(ctx, full, "hub-1"))

	// Resolution works with either form of the name.
	hubID, err := router.Resolve(ctx, full)
	require.NoError(t, err)
	assert.Equal(t, "hub-1", hubID)

	hubID, err = router.Resolve(ctx, stripped)
	require.NoError(t, err)
	assert.Equal(t, "hub-1", hubID)

	exists, err := router.RouteExists(ctx, full)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, router.DeleteRoute(ctx, stripped))

	_, err = router.Resolve(ctx, full)
	assert.ErrorIs(t, err, ErrNoRoute)

	exists, err = router.RouteExists(ctx, full)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRouterLastWriterWins(t *testing.T) {
	router, _ := testRouter(t)
	ctx := context.Background()
	name := "projects/demo/conversations/abc"

	require.NoError(t, router.SetRoute(ctx, name, "hub-old"))
	require.NoError(t, router.SetRoute(ctx, name, "hub-new"))

	hubID, err := router.Resolve(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "hub-new", hubID)
}

func TestRouterResolveMissing(t *testing.T) {
	router, _ := testRouter(t)

	_, err := router.Resolve(context.Background(), "projects/demo/conversations/nope")
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRouterRouteTTL(t *testing.T) {
	router, mr := testRouter(t, WithRouteTTL(time.Minute))
	ctx := context.Background()
	name := "projects/demo/conversations/abc"

	require.NoError(t, router.SetRoute(ctx, name, "hub-1"))
	mr.FastForward(2 * time.Minute)

	_, err := router.Resolve(ctx, name)
	assert.ErrorIs(t, err, ErrNoRoute)
}

// ============================================================================
// Event Fan-Out
// ============================================================================

func TestRouterPublishSubscribe(t *testing.T) {
	router, _ := testRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubID := NewHubID()
	sub, err := router.Subscribe(ctx, hubID)
	require.NoError(t, err)

	env := events.NewSuggestion(
		"projects/demo/conversations/abc",
		[]interface{}{map[string]interface{}{"suggestArticlesResponse": map[string]interface{}{}}},
	)
	require.NoError(t, router.Publish(ctx, hubID, env))

	select {
	case got := <-sub:
		assert.Equal(t, events.DataTypeSuggestion, got.DataType)
		assert.Equal(t, "projects/demo/conversations/abc", got.ConversationName)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestRouterSubscribeIgnoresOtherHubs(t *testing.T) {
	router, _ := testRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine := NewHubID()
	other := NewHubID()
	sub, err := router.Subscribe(ctx, mine)
	require.NoError(t, err)

	env := events.NewSummarization(
		"projects/demo/conversations/abc",
		"projects/demo/locations/global/conversations/abc",
		"abc", "short summary", 1,
	)
	require.NoError(t, router.Publish(ctx, other, env))
	require.NoError(t, router.Publish(ctx, mine, env))

	// Only the event published on our own channel space arrives.
	select {
	case got := <-sub:
		assert.Equal(t, events.DataTypeSummarization, got.DataType)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}

	select {
	case extra, ok := <-sub:
		if ok {
			t.Fatalf("unexpected extra event: %+v", extra)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRouterSubscribeSkipsGarbage(t *testing.T) {
	router, mr := testRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubID := NewHubID()
	sub, err := router.Subscribe(ctx, hubID)
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, client.Publish(ctx, hubID+":whatever", "{not json").Err())

	env := events.NewSuggestion("projects/demo/conversations/abc", nil)
	require.NoError(t, router.Publish(ctx, hubID, env))

	select {
	case got := <-sub:
		assert.Equal(t, events.DataTypeSuggestion, got.DataType)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event after garbage message")
	}
}
