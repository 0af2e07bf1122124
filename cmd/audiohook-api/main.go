// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Command audiohook-api bridges Genesys Audiohook media streams into
// Dialogflow agent-assist conversations.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meshvox/agent-assist/api/audiohook-api/config"
	internal_connector "github.com/meshvox/agent-assist/internal/audiohook-api/connector"
	internal_dialogflow "github.com/meshvox/agent-assist/internal/audiohook-api/dialogflow"
	internal_publisher "github.com/meshvox/agent-assist/internal/audiohook-api/publisher"
	internal_session "github.com/meshvox/agent-assist/internal/audiohook-api/session"
	audiohook_routers "github.com/meshvox/agent-assist/api/audiohook-api/router"
	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/connectors"
	"github.com/meshvox/agent-assist/pkg/metrics"
	"github.com/meshvox/agent-assist/pkg/routing"
)

const shutdownTimeout = 10 * time.Second

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to initialize config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("failed to load application config: %v", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.WithLogLevel(cfg.LogLevel),
		commons.WithServiceName(cfg.Name),
	)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisConn, err := connectors.NewRedisConnector(logger, *cfg.Redis())
	if err != nil {
		logger.Errorw("failed to connect to redis", "error", err.Error())
		os.Exit(1)
	}
	defer func() { _ = redisConn.Close() }()

	eventRouter := routing.NewRouter(logger, redisConn.Client(),
		routing.WithRouteTTL(time.Duration(cfg.RoutingTTL)*time.Second))

	ai, err := internal_dialogflow.NewClient(ctx, logger, cfg.GcpProjectID, cfg.ConversationProfileName)
	if err != nil {
		logger.Errorw("failed to build dialogflow client", "error", err.Error())
		os.Exit(1)
	}
	defer func() { _ = ai.Close() }()

	var durable internal_publisher.Publisher
	if cfg.SummaryTopic != "" {
		durable, err = internal_publisher.NewPubSubPublisher(ctx, logger, cfg.GcpProjectID, cfg.SummaryTopic)
		if err != nil {
			logger.Errorw("failed to build pubsub publisher", "error", err.Error())
			os.Exit(1)
		}
		defer func() { _ = durable.Close() }()
	}

	var registrar internal_session.Registrar
	if cfg.UiConnectorEndpoint != "" {
		registrar = internal_connector.NewClient(logger, cfg.UiConnectorEndpoint, cfg.ApiKey)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	audiohook_routers.AudiohookRoutes(cfg, engine, logger, ai, eventRouter, durable, registrar)
	audiohook_routers.HealthCheckRoutes(cfg, engine, logger, redisConn)
	audiohook_routers.MetricsRoutes(engine, logger)

	server := &http.Server{
		Addr:    cfg.Address(),
		Handler: engine,
	}
	go func() {
		logger.Infow("audiohook-api listening", "address", cfg.Address(), "version", cfg.Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("http server failed", "error", err.Error())
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Infow("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http server shutdown incomplete", "error", err.Error())
	}
}
