// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package connector_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/utils"

	internal_names "github.com/meshvox/agent-assist/internal/connector-api/names"
)

// ConversationNameApi lets agent desktops resolve a Dialogflow conversation
// name from a call-side integration key (a phone number, a platform
// conversation id) when the name cannot reach the desktop directly.
type ConversationNameApi struct {
	logger commons.Logger
	store  *internal_names.Store
}

func NewConversationNameApi(logger commons.Logger, store *internal_names.Store) *ConversationNameApi {
	return &ConversationNameApi{logger: logger, store: store}
}

type conversationNameBody struct {
	ConversationIntegrationKey string `json:"conversationIntegrationKey"`
	ConversationName           string `json:"conversationName"`
}

// Set stores integrationKey → conversationName.
func (a *ConversationNameApi) Set(c *gin.Context) {
	var body conversationNameBody
	if err := c.ShouldBindJSON(&body); err != nil ||
		utils.TrimmedLen(body.ConversationIntegrationKey) == 0 ||
		utils.TrimmedLen(body.ConversationName) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "conversationIntegrationKey and conversationName are required",
		})
		return
	}

	if err := a.store.Set(c.Request.Context(),
		body.ConversationIntegrationKey, body.ConversationName); err != nil {
		a.logger.Errorw("failed to store conversation name", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{body.ConversationIntegrationKey: body.ConversationName})
}

// Get resolves the conversation name for an integration key. An unknown key
// yields an empty name, not an error; desktops poll this while the call is
// being set up.
func (a *ConversationNameApi) Get(c *gin.Context) {
	key := c.Query("conversationIntegrationKey")
	if utils.TrimmedLen(key) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationIntegrationKey is required"})
		return
	}

	name, err := a.store.Get(c.Request.Context(), key)
	if err != nil {
		a.logger.Errorw("failed to load conversation name", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversationName": name})
}

// Delete removes the mapping; deleting an unknown key is a 404.
func (a *ConversationNameApi) Delete(c *gin.Context) {
	key := c.Query("conversationIntegrationKey")
	if utils.TrimmedLen(key) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationIntegrationKey is required"})
		return
	}

	removed, err := a.store.Delete(c.Request.Context(), key)
	if err != nil {
		a.logger.Errorw("failed to delete conversation name", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
