// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package internal_connector is the bridge's REST client for the UI
// connector. It mirrors the genesys-conversation-id to provider-resource-name
// mapping so agent desktops can look conversations up by the id their CRM
// hands them. Everything here is best effort; a dead UI connector must never
// affect a live call.
package internal_connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/utils"
)

const defaultTimeout = 10 * time.Second

// Client holds a service JWT obtained through application-level registration
// and refreshes it once when a call bounces with 401.
type Client struct {
	logger commons.Logger
	http   *resty.Client
	apiKey string

	mu    sync.Mutex
	token string
}

type Option func(*Client)

// WithTimeout bounds every request to the UI connector.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.SetTimeout(timeout)
		}
	}
}

func NewClient(logger commons.Logger, baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		logger: logger,
		apiKey: apiKey,
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(defaultTimeout).
			SetHeader("Content-Type", "application/json"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterConversationName stores the integration-key to resource-name
// mapping on the UI connector.
func (c *Client) RegisterConversationName(ctx context.Context, conversationKey, conversationName string) error {
	resp, err := c.authorized(ctx, func(token string) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(map[string]string{
				"conversationIntegrationKey": conversationKey,
				"conversationName":           conversationName,
			}).
			Post("/conversation-name")
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("conversation name registration returned %s", resp.Status())
	}
	c.logger.Debugw("conversation name registered",
		"conversationIntegrationKey", conversationKey, "conversationName", conversationName)
	return nil
}

// DeleteConversationName removes the mapping. A missing mapping is not an
// error; the goal state is reached either way.
func (c *Client) DeleteConversationName(ctx context.Context, conversationKey string) error {
	resp, err := c.authorized(ctx, func(token string) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParam("conversationIntegrationKey", conversationKey).
			Delete("/conversation-name")
	})
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("conversation name removal returned %s", resp.Status())
	}
	return nil
}

// authorized runs one token-bearing call, re-registering the service token a
// single time when it has expired.
func (c *Client) authorized(ctx context.Context, call func(token string) (*resty.Response, error)) (*resty.Response, error) {
	token, err := c.serviceToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := call(token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusUnauthorized {
		return resp, nil
	}

	c.invalidateToken()
	if token, err = c.serviceToken(ctx); err != nil {
		return nil, err
	}
	return call(token)
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (c *Client) serviceToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"apiKey": c.apiKey}).
		SetResult(&out).
		Post("/register-app")
	if err != nil {
		return "", fmt.Errorf("token registration failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token registration rejected: %s", resp.Status())
	}
	if utils.IsEmpty(out.Token) {
		return "", errors.New("token registration returned an empty token")
	}
	c.token = out.Token
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
