// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package audiohook_api terminates Audiohook websocket connections and hands
// them to per-connection sessions.
package audiohook_api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/meshvox/agent-assist/api/audiohook-api/config"
	internal_dialogflow "github.com/meshvox/agent-assist/internal/audiohook-api/dialogflow"
	internal_publisher "github.com/meshvox/agent-assist/internal/audiohook-api/publisher"
	internal_session "github.com/meshvox/agent-assist/internal/audiohook-api/session"
	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/routing"
	"github.com/meshvox/agent-assist/pkg/utils"
)

var audiohookUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	Subprotocols:    []string{"audiohook"},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type AudiohookApi struct {
	cfg       *config.AppConfig
	logger    commons.Logger
	ai        internal_dialogflow.Client
	router    *routing.Router
	durable   internal_publisher.Publisher
	registrar internal_session.Registrar
}

// NewAudiohookApi wires the ingress handler. durable and registrar may be
// nil when the deployment runs without a fallback topic or UI connector.
func NewAudiohookApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	ai internal_dialogflow.Client,
	router *routing.Router,
	durable internal_publisher.Publisher,
	registrar internal_session.Registrar,
) *AudiohookApi {
	return &AudiohookApi{
		cfg:       cfg,
		logger:    logger,
		ai:        ai,
		router:    router,
		durable:   durable,
		registrar: registrar,
	}
}

// Connect upgrades one Audiohook client connection and runs its session to
// completion. The configured API key is checked before the upgrade; Genesys
// sends it on the upgrade request.
//
// @Router /connect [get]
func (a *AudiohookApi) Connect(c *gin.Context) {
	if utils.TrimmedLen(a.cfg.ApiKey) > 0 && c.GetHeader("X-API-KEY") != a.cfg.ApiKey {
		a.logger.Warnw("rejecting audiohook connect with invalid api key", "remote", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "valid X-API-KEY required"})
		return
	}

	conn, err := audiohookUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Errorw("websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	opts := []internal_session.Option{
		internal_session.WithRate(a.cfg.Rate),
		internal_session.WithChunkSize(a.cfg.ChunkSize),
		internal_session.WithMaxLookback(a.cfg.MaxLookback),
		internal_session.WithAwaitSubscriber(a.cfg.Timeout, 500*time.Millisecond),
		internal_session.WithSummaryInterval(time.Duration(a.cfg.SummaryInterval) * time.Second),
		internal_session.WithDebuggingInfo(a.cfg.DebugEnabled()),
	}
	if a.durable != nil {
		opts = append(opts, internal_session.WithDurablePublisher(a.durable))
	}
	if a.registrar != nil {
		opts = append(opts, internal_session.WithRegistrar(a.registrar))
	}

	session := internal_session.New(a.logger, conn, a.ai, a.router,
		a.cfg.ConversationProfileName, opts...)
	if err := session.Run(c.Request.Context()); err != nil {
		a.logger.Warnw("audiohook session ended with error", "error", err.Error())
	}
}
