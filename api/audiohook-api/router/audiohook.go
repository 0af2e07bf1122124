// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package audiohook_routers

import (
	"github.com/gin-gonic/gin"

	audiohookApi "github.com/meshvox/agent-assist/api/audiohook-api/api"
	"github.com/meshvox/agent-assist/api/audiohook-api/config"
	internal_dialogflow "github.com/meshvox/agent-assist/internal/audiohook-api/dialogflow"
	internal_publisher "github.com/meshvox/agent-assist/internal/audiohook-api/publisher"
	internal_session "github.com/meshvox/agent-assist/internal/audiohook-api/session"
	healthCheckApi "github.com/meshvox/agent-assist/api/health-check-api"
	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/connectors"
	"github.com/meshvox/agent-assist/pkg/metrics"
	"github.com/meshvox/agent-assist/pkg/routing"
)

func AudiohookRoutes(
	cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	ai internal_dialogflow.Client,
	router *routing.Router,
	durable internal_publisher.Publisher,
	registrar internal_session.Registrar,
) {
	logger.Info("Audiohook ingress routes added to engine.")
	hookApi := audiohookApi.NewAudiohookApi(cfg, logger, ai, router, durable, registrar)
	apiv1 := engine.Group("")
	{
		apiv1.GET("/connect", hookApi.Connect)
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
