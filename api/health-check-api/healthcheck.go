// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package health_check_api serves liveness and readiness for every service
// in the repository. Liveness only proves the process answers; readiness
// additionally pings the event broker both services depend on.
package health_check_api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/connectors"
)

const readinessTimeout = 2 * time.Second

type HealthCheckApi struct {
	service string
	version string
	logger  commons.Logger
	redis   connectors.RedisConnector
}

func New(service, version string, logger commons.Logger, redis connectors.RedisConnector) *HealthCheckApi {
	return &HealthCheckApi{
		service: service,
		version: version,
		logger:  logger,
		redis:   redis,
	}
}

// Healthz answers as long as the process is serving requests.
func (h *HealthCheckApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.service,
		"version": h.version,
	})
}

// Readiness answers only while the broker is reachable; a service that
// cannot route events should not receive traffic.
func (h *HealthCheckApi) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	if err := h.redis.Ping(ctx); err != nil {
		h.logger.Warnw("readiness check failed", "error", err.Error())
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"service": h.service,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": h.service,
		"version": h.version,
	})
}
