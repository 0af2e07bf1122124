// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package internal_proxy forwards agent-desktop REST calls to the regional
// Dialogflow endpoints with service credentials, so browsers never hold
// Google credentials. analyzeContent responses are additionally amplified
// onto the event broker, giving every agent UI in the conversation room the
// suggestions in real time instead of only the caller.
package internal_proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"

	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/events"
	"github.com/meshvox/agent-assist/pkg/metrics"
	"github.com/meshvox/agent-assist/pkg/routing"
)

const (
	defaultForwardTimeout = 30 * time.Second
	amplifyTimeout        = 5 * time.Second
)

var locationPattern = regexp.MustCompile(`/locations/([^/]+)`)

// Proxy relays REST calls to Dialogflow and publishes amplified suggestion
// events for joined agent UIs.
type Proxy struct {
	logger commons.Logger
	http   *resty.Client
	tokens oauth2.TokenSource
	router *routing.Router

	endpointOverride string
}

// ProxyOption overrides forwarding defaults.
type ProxyOption func(*Proxy)

// WithForwardTimeout bounds each upstream call.
func WithForwardTimeout(d time.Duration) ProxyOption {
	return func(p *Proxy) {
		p.http.SetTimeout(d)
	}
}

// WithEndpointOverride sends every request to base instead of the regional
// Dialogflow endpoints.
func WithEndpointOverride(base string) ProxyOption {
	return func(p *Proxy) {
		p.endpointOverride = strings.TrimRight(base, "/")
	}
}

func NewProxy(logger commons.Logger, tokens oauth2.TokenSource, router *routing.Router, opts ...ProxyOption) *Proxy {
	proxy := &Proxy{
		logger: logger,
		http:   resty.New().SetTimeout(defaultForwardTimeout),
		tokens: tokens,
		router: router,
	}
	for _, opt := range opts {
		opt(proxy)
	}
	return proxy
}

// Forward relays one GET/POST/PATCH request. Registered for every
// /:version/projects/* route; the location in the path picks the regional
// endpoint.
func (p *Proxy) Forward(c *gin.Context) {
	path := c.Request.URL.Path
	target := p.baseURL(locationFromPath(path)) + path
	if raw := c.Request.URL.RawQuery; raw != "" {
		target += "?" + raw
	}

	token, err := p.tokens.Token()
	if err != nil {
		p.logger.Errorw("failed to obtain service credentials", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "service credentials unavailable"})
		return
	}

	request := p.http.R().
		SetContext(c.Request.Context()).
		SetAuthToken(token.AccessToken).
		SetHeader("Content-Type", requestContentType(c))

	// conversations.complete rejects non-empty bodies, everything else is
	// passed through untouched
	if c.Request.Method != http.MethodGet && !strings.HasSuffix(path, ":complete") {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}
		if len(body) > 0 {
			request.SetBody(body)
		}
	}

	resp, err := request.Execute(c.Request.Method, target)
	if err != nil {
		p.logger.Errorw("dialogflow request failed",
			"method", c.Request.Method, "path", path, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed"})
		return
	}
	p.logger.Debugw("forwarded dialogflow request",
		"method", c.Request.Method, "path", path, "status", resp.StatusCode())

	if c.Request.Method == http.MethodPost &&
		strings.Contains(path, ":analyzeContent") &&
		resp.StatusCode() == http.StatusOK {
		p.amplifySuggestions(path, resp.Body())
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode(), contentType, resp.Body())
}

// amplifySuggestions mirrors humanAgentSuggestionResults from an
// analyzeContent response onto the conversation's event channel. Best
// effort: the caller already has the response, so failures only cost the
// other room members their live update.
func (p *Proxy) amplifySuggestions(path string, body []byte) {
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		p.logger.Warnw("analyzeContent response is not JSON, skipping amplification", "error", err)
		return
	}
	results, ok := decoded["humanAgentSuggestionResults"]
	if !ok {
		return
	}

	// /{version}/projects/{p}/locations/{l}/conversations/{c}/participants/...
	parts := strings.Split(path, "/")
	if len(parts) < 8 {
		p.logger.Warnw("analyzeContent path too short for a conversation name", "path", path)
		return
	}
	stripped := routing.ConversationNameWithoutLocation(strings.Join(parts[2:8], "/"))

	ctx, cancel := context.WithTimeout(context.Background(), amplifyTimeout)
	defer cancel()

	hubID, err := p.router.Resolve(ctx, stripped)
	if err != nil {
		if errors.Is(err, routing.ErrNoRoute) {
			p.logger.Debugw("no hub joined, dropping suggestions", "conversationName", stripped)
		} else {
			p.logger.Warnw("failed to resolve hub for suggestions",
				"conversationName", stripped, "error", err)
		}
		return
	}
	if err := p.router.Publish(ctx, hubID, events.NewSuggestion(stripped, results)); err != nil {
		p.logger.Warnw("failed to publish suggestion event",
			"conversationName", stripped, "error", err)
		return
	}
	metrics.RecordSuggestionForwarded()
	p.logger.Infow("published suggestion event", "conversationName", stripped, "hubId", hubID)
}

func (p *Proxy) baseURL(location string) string {
	if p.endpointOverride != "" {
		return p.endpointOverride
	}
	if location == "global" {
		return "https://dialogflow.googleapis.com"
	}
	return fmt.Sprintf("https://%s-dialogflow.googleapis.com", location)
}

func locationFromPath(path string) string {
	if m := locationPattern.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	return "global"
}

func requestContentType(c *gin.Context) string {
	if contentType := c.GetHeader("Content-Type"); contentType != "" {
		return contentType
	}
	return "application/json"
}
