// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package internal_auth owns both halves of the connector's authentication:
// verifying identity-provider tokens presented at registration, and minting
// and checking the service's own HS256 JWTs used on every call after that.
package internal_auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/meshvox/agent-assist/pkg/commons"
)

const bearerPrefix = "Bearer "

var ErrInvalidToken = errors.New("invalid token")

// TokenService mints and validates the JWTs agent UIs carry after
// registration.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		expiry: expiry,
	}
}

// Mint issues a token with iat/exp plus the caller-provided claims. Callers
// cannot override the expiry bookkeeping.
func (s *TokenService) Mint(claims map[string]interface{}) (string, error) {
	now := time.Now()
	tokenClaims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(s.expiry).Unix(),
	}
	for key, value := range claims {
		if key == "iat" || key == "exp" {
			continue
		}
		tokenClaims[key] = value
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry of a minted token.
func (s *TokenService) Verify(tokenString string) error {
	_, err := jwt.Parse(tokenString,
		func(token *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	}
	return strings.TrimSpace(header)
}

// TokenRequired guards REST routes with a minted JWT.
func TokenRequired(logger commons.Logger, tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "valid token required"})
			return
		}
		if err := tokens.Verify(token); err != nil {
			logger.Warnw("rejecting request with invalid token",
				"path", c.FullPath(), "error", err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "valid token required"})
			return
		}
		c.Next()
	}
}
