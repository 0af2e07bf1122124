// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package connector_api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Status answers the canary probe agent desktops fire to test that
// cross-origin access to the service works at all.
func Status(c *gin.Context) {
	c.String(http.StatusOK, "Hello, cross-origin-world!")
}
