// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Command connector-api serves agent UIs: the event hub websocket, JWT
// registration, the Dialogflow REST proxy, and the conversation-name
// endpoints.
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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2/google"

	"github.com/meshvox/agent-assist/api/connector-api/config"
	internal_auth "github.com/meshvox/agent-assist/internal/connector-api/auth"
	internal_hub "github.com/meshvox/agent-assist/internal/connector-api/hub"
	internal_names "github.com/meshvox/agent-assist/internal/connector-api/names"
	internal_proxy "github.com/meshvox/agent-assist/internal/connector-api/proxy"
	connector_routers "github.com/meshvox/agent-assist/api/connector-api/router"
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

	tokens := internal_auth.NewTokenService(cfg.Secret, time.Duration(cfg.JwtExpiry)*time.Second)
	verifier := internal_auth.NewVerifier(logger, cfg.AuthOption,
		cfg.GenesysCloudEnvironment, cfg.SalesforceDomain,
		cfg.SalesforceOrganizationID, cfg.TwilioFlexEnvironment)

	hub := internal_hub.NewHub(logger, eventRouter, tokens)
	if err := hub.Start(ctx); err != nil {
		logger.Errorw("failed to start event hub", "error", err.Error())
		os.Exit(1)
	}

	credentials, err := google.DefaultTokenSource(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		logger.Errorw("failed to load google credentials", "error", err.Error())
		os.Exit(1)
	}
	proxy := internal_proxy.NewProxy(logger, credentials, eventRouter)
	names := internal_names.NewStore(logger, redisConn.Client())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Origins()
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsConfig))

	connector_routers.EventRoutes(cfg, engine, logger, hub)
	connector_routers.RegistrationRoutes(cfg, engine, logger, verifier, tokens)
	connector_routers.ConversationNameRoutes(cfg, engine, logger, tokens, names)
	connector_routers.DialogflowProxyRoutes(cfg, engine, logger, tokens, proxy)
	connector_routers.HealthCheckRoutes(cfg, engine, logger, redisConn)
	connector_routers.MetricsRoutes(engine, logger)

	server := &http.Server{
		Addr:    cfg.Address(),
		Handler: engine,
	}
	go func() {
		logger.Infow("connector-api listening",
			"address", cfg.Address(), "version", cfg.Version, "hubId", hub.ID())
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
