// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package connector_routers

import (
	"github.com/gin-gonic/gin"

	connectorApi "github.com/meshvox/agent-assist/api/connector-api/api"
	"github.com/meshvox/agent-assist/api/connector-api/config"
	internal_auth "github.com/meshvox/agent-assist/internal/connector-api/auth"
	internal_hub "github.com/meshvox/agent-assist/internal/connector-api/hub"
	internal_names "github.com/meshvox/agent-assist/internal/connector-api/names"
	internal_proxy "github.com/meshvox/agent-assist/internal/connector-api/proxy"
	healthCheckApi "github.com/meshvox/agent-assist/api/health-check-api"
	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/connectors"
	"github.com/meshvox/agent-assist/pkg/metrics"
)

// EventRoutes exposes the hub websocket agent UIs subscribe on.
func EventRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, hub *internal_hub.Hub) {
	logger.Info("Event hub route added to engine.")
	apiv1 := engine.Group("")
	{
		apiv1.GET("/events", hub.HandleConnection)
	}
}

// RegistrationRoutes exposes token minting and the cross-origin status
// probe. These are the only unauthenticated REST routes.
func RegistrationRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	verifier internal_auth.Verifier, tokens *internal_auth.TokenService) {
	logger.Info("Registration routes added to engine.")
	registerApi := connectorApi.NewRegisterApi(cfg, logger, verifier, tokens)
	apiv1 := engine.Group("")
	{
		apiv1.POST("/register", registerApi.Register)
		apiv1.POST("/register-app", registerApi.RegisterApp)
		apiv1.GET("/status", connectorApi.Status)
	}
}

// ConversationNameRoutes exposes the integration-key KV endpoints behind the
// minted-JWT guard.
func ConversationNameRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	tokens *internal_auth.TokenService, store *internal_names.Store) {
	logger.Info("Conversation-name routes added to engine.")
	nameApi := connectorApi.NewConversationNameApi(logger, store)
	guarded := engine.Group("", internal_auth.TokenRequired(logger, tokens))
	{
		guarded.POST("/conversation-name", nameApi.Set)
		guarded.GET("/conversation-name", nameApi.Get)
		guarded.DELETE("/conversation-name", nameApi.Delete)
	}
}

// DialogflowProxyRoutes forwards versioned Dialogflow REST calls behind the
// minted-JWT guard.
func DialogflowProxyRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	tokens *internal_auth.TokenService, proxy *internal_proxy.Proxy) {
	logger.Info("Dialogflow proxy routes added to engine.")
	guarded := engine.Group("", internal_auth.TokenRequired(logger, tokens))
	{
		guarded.GET("/:version/projects/*dialogflowPath", proxy.Forward)
		guarded.POST("/:version/projects/*dialogflowPath", proxy.Forward)
		guarded.PATCH("/:version/projects/*dialogflowPath", proxy.Forward)
	}
}

func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, redis connectors.RedisConnector) {
	logger.Info("Internal HealthCheckRoutes and Connectors added to engine.")
	apiv1 := engine.Group("")
	hcApi := healthCheckApi.New(cfg.Name, cfg.Version, logger, redis)
	{
		apiv1.GET("/readiness/", hcApi.Readiness)
		apiv1.GET("/healthz/", hcApi.Healthz)
	}
}

func MetricsRoutes(engine *gin.Engine, logger commons.Logger) {
	logger.Info("Prometheus metrics route added to engine.")
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
}
