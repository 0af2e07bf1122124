// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package routing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/events"
)

// ErrNoRoute is returned by Resolve when no hub currently holds a live
// subscriber for the conversation.
var ErrNoRoute = errors.New("no routing entry for conversation")

// NewHubID derives a unique, non-reusable hub identifier from a random
// scalar and the wall clock. It is never persisted; stale entries pointing
// at dead hubs are overwritten by the next join (last writer wins).
func NewHubID() string {
	return fmt.Sprintf("%f-%f", rand.Float64()*322321, float64(time.Now().UnixMicro())/1e6)
}

// ConversationNameWithoutLocation strips the location segment from a
// conversation resource name. Names without a location pass through
// unchanged, so the function is idempotent.
//
//	projects/p/locations/l/conversations/c -> projects/p/conversations/c
func ConversationNameWithoutLocation(name string) string {
	if !strings.Contains(name, "/locations/") {
		return name
	}
	parts := strings.Split(name, "/")
	if len(parts) < 4 {
		return name
	}
	return strings.Join([]string{parts[0], parts[1], parts[len(parts)-2], parts[len(parts)-1]}, "/")
}

// ChannelFor returns the pub/sub channel an event for the conversation must
// be published on: the channel space is {hub_id}:{conversation_stripped}.
func ChannelFor(hubID, conversationName string) string {
	return hubID + ":" + ConversationNameWithoutLocation(conversationName)
}

// Router is the event broker bridge. One Redis broker provides both planes:
// a key/value routing table (stripped conversation name -> hub id) and the
// per-hub channel space used for event fan-out.
type Router struct {
	logger commons.Logger
	client *redis.Client
	ttl    time.Duration
}

type routerOptions struct {
	ttl time.Duration
}

// RouterOption configures NewRouter.
type RouterOption func(*routerOptions)

// WithRouteTTL expires routing entries after d. Zero keeps entries until an
// explicit delete, matching the last-writer-wins contract; a non-zero TTL
// hardens orphan entries left by crashed hubs.
func WithRouteTTL(d time.Duration) RouterOption {
	return func(o *routerOptions) {
		o.ttl = d
	}
}

func NewRouter(logger commons.Logger, client *redis.Client, opts ...RouterOption) *Router {
	options := &routerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &Router{logger: logger, client: client, ttl: options.ttl}
}

// SetRoute binds the conversation to the hub currently holding a live
// subscriber. Concurrent joins resolve by accepting the most recent write.
func (r *Router) SetRoute(ctx context.Context, conversationName, hubID string) error {
	key := ConversationNameWithoutLocation(conversationName)
	if err := r.client.Set(ctx, key, hubID, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set routing entry %s: %w", key, err)
	}
	r.logger.Debugw("Routing entry set", "conversation", key, "hub", hubID)
	return nil
}

// DeleteRoute removes the binding. Deleting a missing entry is not an error.
func (r *Router) DeleteRoute(ctx context.Context, conversationName string) error {
	key := ConversationNameWithoutLocation(conversationName)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete routing entry %s: %w", key, err)
	}
	r.logger.Debugw("Routing entry deleted", "conversation", key)
	return nil
}

// Resolve returns the hub id bound to the conversation, or ErrNoRoute.
func (r *Router) Resolve(ctx context.Context, conversationName string) (string, error) {
	key := ConversationNameWithoutLocation(conversationName)
	hubID, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoRoute
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve routing entry %s: %w", key, err)
	}
	return hubID, nil
}

// RouteExists reports whether a routing entry is present without reading it.
func (r *Router) RouteExists(ctx context.Context, conversationName string) (bool, error) {
	key := ConversationNameWithoutLocation(conversationName)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check routing entry %s: %w", key, err)
	}
	return n != 0, nil
}

// Publish emits the envelope on the channel owned by the given hub. Events
// reach subscribers on other hubs through the keyspace, not through any
// cross-hub relay.
func (r *Router) Publish(ctx context.Context, hubID string, env *events.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	channel := ChannelFor(hubID, env.ConversationName)
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	r.logger.Debugw("Event published", "channel", channel, "dataType", env.DataType)
	return nil
}

// Subscribe pattern-subscribes to the hub's own channel space ({hubID}:*)
// and delivers decoded envelopes until ctx is cancelled. Malformed messages
// are logged and skipped.
func (r *Router) Subscribe(ctx context.Context, hubID string) (<-chan *events.Envelope, error) {
	pubsub := r.client.PSubscribe(ctx, hubID+":*")
	// Force the subscription onto the wire before returning so callers can
	// publish immediately after.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe hub channel space: %w", err)
	}

	out := make(chan *events.Envelope, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				env, err := events.Decode([]byte(msg.Payload))
				if err != nil {
					r.logger.Warnw("Dropping undecodable broker message",
						"channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
