// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package internal_names persists conversationIntegrationKey to Dialogflow
// conversation name mappings. Agent desktops that only know a call-side key
// (a phone number, a Genesys conversation id) look the Dialogflow name up
// here before joining a conversation room.
package internal_names

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/meshvox/agent-assist/pkg/commons"
)

// Store keeps the mappings in the shared broker. Keys are hashed so raw
// phone numbers never land in Redis.
type Store struct {
	logger commons.Logger
	client *redis.Client
}

func NewStore(logger commons.Logger, client *redis.Client) *Store {
	return &Store{logger: logger, client: client}
}

// Set records integrationKey → conversationName, overwriting any previous
// mapping for the key.
func (s *Store) Set(ctx context.Context, integrationKey, conversationName string) error {
	hashed := hashIntegrationKey(integrationKey)
	if err := s.client.Set(ctx, hashed, conversationName, 0).Err(); err != nil {
		return fmt.Errorf("storing conversation name: %w", err)
	}
	s.logger.Infow("stored conversation name mapping",
		"integrationKey", integrationKey, "conversationName", conversationName)
	return nil
}

// Get returns the mapped conversation name, or "" when the key was never
// registered.
func (s *Store) Get(ctx context.Context, integrationKey string) (string, error) {
	name, err := s.client.Get(ctx, hashIntegrationKey(integrationKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading conversation name: %w", err)
	}
	return name, nil
}

// Delete removes the mapping and reports whether one existed.
func (s *Store) Delete(ctx context.Context, integrationKey string) (bool, error) {
	removed, err := s.client.Del(ctx, hashIntegrationKey(integrationKey)).Result()
	if err != nil {
		return false, fmt.Errorf("deleting conversation name: %w", err)
	}
	return removed > 0, nil
}

func hashIntegrationKey(integrationKey string) string {
	sum := sha256.Sum256([]byte(integrationKey))
	return hex.EncodeToString(sum[:])
}
