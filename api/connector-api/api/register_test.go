// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package connector_api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshvox/agent-assist/pkg/commons"

	"github.com/meshvox/agent-assist/api/connector-api/config"
	internal_auth "github.com/meshvox/agent-assist/internal/connector-api/auth"
)

const (
	testSecret = "register-test-secret"
	testApiKey = "shared-api-key"
)

func testLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.WithLogLevel("error"))
	require.NoError(t, err)
	return logger
}

// fakeVerifier accepts exactly one provider credential.
type fakeVerifier struct {
	accepted string
}

func (f *fakeVerifier) Verify(_ context.Context, token string) error {
	if token == f.accepted {
		return nil
	}
	return errors.New("provider rejected token")
}

func registerEngine(t *testing.T) (*gin.Engine, *internal_auth.TokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{ApiKey: testApiKey}
	tokens := internal_auth.NewTokenService(testSecret, time.Minute)
	api := NewRegisterApi(cfg, testLogger(t), &fakeVerifier{accepted: "provider-token"}, tokens)

	engine := gin.New()
	engine.POST("/register", api.Register)
	engine.POST("/register-app", api.RegisterApp)
	return engine, tokens
}

func postJSON(t *testing.T, engine *gin.Engine, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(http.MethodPost, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func mintedToken(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func tokenClaims(t *testing.T, token string) jwt.MapClaims {
	t.Helper()
	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	return claims
}

// ============================================================================
// /register
// ============================================================================

func TestRegisterMintsTokenForValidProviderCredential(t *testing.T) {
	engine, tokens := registerEngine(t)

	rec := postJSON(t, engine, "/register", `{"agent":"a-113"}`,
		map[string]string{"Authorization": "Bearer provider-token"})

	require.Equal(t, http.StatusOK, rec.Code)
	token := mintedToken(t, rec)
	assert.NoError(t, tokens.Verify(token))
	assert.Equal(t, "a-113", tokenClaims(t, token)["agent"])
}

func TestRegisterWorksWithoutBody(t *testing.T) {
	engine, tokens := registerEngine(t)

	rec := postJSON(t, engine, "/register", "",
		map[string]string{"Authorization": "Bearer provider-token"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, tokens.Verify(mintedToken(t, rec)))
}

func TestRegisterRejectsMissingAuthorization(t *testing.T) {
	engine, _ := registerEngine(t)

	rec := postJSON(t, engine, "/register", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not authenticate user")
}

func TestRegisterRejectsInvalidProviderCredential(t *testing.T) {
	engine, _ := registerEngine(t)

	rec := postJSON(t, engine, "/register", "",
		map[string]string{"Authorization": "Bearer stolen-token"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ============================================================================
// /register-app
// ============================================================================

func TestRegisterAppMintsTokenForApiKey(t *testing.T) {
	engine, tokens := registerEngine(t)

	rec := postJSON(t, engine, "/register-app",
		`{"apiKey":"shared-api-key","integration":"audiohook"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	token := mintedToken(t, rec)
	assert.NoError(t, tokens.Verify(token))

	claims := tokenClaims(t, token)
	assert.Equal(t, "audiohook", claims["integration"])
	assert.NotContains(t, claims, "apiKey", "the shared key must not leak into claims")
}

func TestRegisterAppRejectsWrongKey(t *testing.T) {
	engine, _ := registerEngine(t)

	rec := postJSON(t, engine, "/register-app", `{"apiKey":"guessed"}`, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not authenticate application")
}

func TestRegisterAppRejectsMissingBody(t *testing.T) {
	engine, _ := registerEngine(t)

	rec := postJSON(t, engine, "/register-app", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ============================================================================
// /status
// ============================================================================

func TestStatusProbe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/status", Status)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello, cross-origin-world!", rec.Body.String())
}
