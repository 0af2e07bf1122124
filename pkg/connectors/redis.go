// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/configs"
)

// RedisConnector owns the broker client shared by the routing fabric, the
// subscription hub and the conversation-name store.
type RedisConnector interface {
	Client() *redis.Client
	Ping(ctx context.Context) error
	Close() error
}

type redisConnector struct {
	logger commons.Logger
	client *redis.Client
}

type redisOptions struct {
	dialTimeout time.Duration
	maxRetries  int
}

// RedisOption overrides the connector defaults.
type RedisOption func(*redisOptions)

// WithDialTimeout bounds the initial TCP dial.
func WithDialTimeout(d time.Duration) RedisOption {
	return func(o *redisOptions) {
		o.dialTimeout = d
	}
}

// WithMaxRetries bounds per-command retries.
func WithMaxRetries(n int) RedisOption {
	return func(o *redisOptions) {
		o.maxRetries = n
	}
}

// NewRedisConnector dials the broker and verifies the connection once.
// Defaults mirror what the interceptor needs on flaky networks: bounded
// exponential backoff and a generous dial timeout.
func NewRedisConnector(logger commons.Logger, cfg configs.RedisConfig, opts ...RedisOption) (RedisConnector, error) {
	options := &redisOptions{
		dialTimeout: 15 * time.Second,
		maxRetries:  5,
	}
	for _, opt := range opts {
		opt(options)
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Address(),
		Password:        cfg.Password,
		DB:              cfg.Database,
		DialTimeout:     options.dialTimeout,
		MaxRetries:      options.maxRetries,
		MinRetryBackoff: 500 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), options.dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", cfg.Address(), err)
	}
	logger.Infow("Redis connector established", "addr", cfg.Address(), "db", cfg.Database)

	return &redisConnector{logger: logger, client: client}, nil
}

func (r *redisConnector) Client() *redis.Client {
	return r.client
}

func (r *redisConnector) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisConnector) Close() error {
	return r.client.Close()
}
