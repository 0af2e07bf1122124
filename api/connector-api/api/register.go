// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package connector_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meshvox/agent-assist/pkg/commons"

	"github.com/meshvox/agent-assist/api/connector-api/config"
	internal_auth "github.com/meshvox/agent-assist/internal/connector-api/auth"
)

// RegisterApi exchanges identity-provider credentials for the service's own
// JWT. Agent desktops call /register with their provider token; backend
// integrations call /register-app with the shared API key.
type RegisterApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	verifier internal_auth.Verifier
	tokens   *internal_auth.TokenService
}

func NewRegisterApi(cfg *config.AppConfig, logger commons.Logger, verifier internal_auth.Verifier, tokens *internal_auth.TokenService) *RegisterApi {
	return &RegisterApi{
		cfg:      cfg,
		logger:   logger,
		verifier: verifier,
		tokens:   tokens,
	}
}

// Register validates the Authorization bearer against the configured
// identity provider and mints a JWT carrying any claims from the request
// body.
func (a *RegisterApi) Register(c *gin.Context) {
	token := internal_auth.BearerToken(c.GetHeader("Authorization"))
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "could not authenticate user"})
		return
	}
	if err := a.verifier.Verify(c.Request.Context(), token); err != nil {
		a.logger.Warnw("registration rejected", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "could not authenticate user"})
		return
	}

	claims := map[string]interface{}{}
	// the body is optional; whatever it carries rides along as claims
	_ = c.ShouldBindJSON(&claims)

	minted, err := a.tokens.Mint(claims)
	if err != nil {
		a.logger.Errorw("failed to mint token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": minted})
}

// RegisterApp authenticates with the shared API key carried in the request
// body instead of a user credential.
func (a *RegisterApi) RegisterApp(c *gin.Context) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "could not authenticate application"})
		return
	}
	apiKey, _ := body["apiKey"].(string)
	if a.cfg.ApiKey == "" || apiKey != a.cfg.ApiKey {
		a.logger.Warnw("application registration rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "could not authenticate application"})
		return
	}

	claims := make(map[string]interface{}, len(body))
	for key, value := range body {
		if key == "apiKey" {
			continue
		}
		claims[key] = value
	}

	minted, err := a.tokens.Mint(claims)
	if err != nil {
		a.logger.Errorw("failed to mint application token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": minted})
}
