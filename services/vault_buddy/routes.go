// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vault_buddy

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianVault/pkg/extensions"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/telemetry"
)

// RegisterRoutes registers all Vault Buddy routes with the router.
//
// Description:
//
//	Registers the health, metrics, and /v1 API surface. The router
//	should already carry any shared middleware.
//
// Session Endpoints:
//
//	POST  /v1/sessions - Create an agent session
//	POST  /v1/sessions/note-chat - Get or create a note chat
//	GET   /v1/sessions - List sessions
//	GET   /v1/sessions/:id - Get one session
//	GET   /v1/sessions/:id/history - Get the transcript
//	POST  /v1/sessions/:id/chat - Run one chat turn
//	GET   /v1/sessions/:id/chat/ws - Chat over WebSocket
//	POST  /v1/sessions/:id/rename - Rename (relocates history)
//	POST  /v1/sessions/:id/clear - Clear history
//	POST  /v1/sessions/:id/archive - Archive the session
//	PUT   /v1/sessions/:id/permissions - Update grants
//	PUT   /v1/sessions/:id/model - Replace model overrides
//	PATCH /v1/sessions/:id/metadata - Merge metadata
//	POST  /v1/sessions/:id/context - Attach a context file
//
// Vault Endpoints:
//
//	GET /v1/vault/events - Vault change stream over WebSocket
//
// Tool and Archive Endpoints:
//
//	GET  /v1/tools - List registered tools
//	POST /v1/archive/export - Export history archive
//	POST /v1/archive/import - Import history archive
//
// Operational Endpoints:
//
//	GET /healthz - Health check
//	GET /metrics - Prometheus metrics (when the exporter is active)
func RegisterRoutes(router *gin.Engine, h *Handlers) {
	router.GET("/healthz", h.HandleHealth)
	router.GET("/metrics", func(c *gin.Context) {
		handler := telemetry.MetricsHandler()
		if handler == nil {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "metrics exporter is not active",
				Code:  "METRICS_DISABLED",
			})
			return
		}
		handler.ServeHTTP(c.Writer, c.Request)
	})

	v1 := router.Group("/v1")
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", h.HandleCreateSession)
			sessions.POST("/note-chat", h.HandleNoteChat)
			sessions.GET("", h.HandleListSessions)
			sessions.GET("/:id", h.HandleGetSession)
			sessions.GET("/:id/history", h.HandleGetHistory)
			sessions.POST("/:id/chat", h.HandleChat)
			sessions.GET("/:id/chat/ws", h.HandleChatSocket)
			sessions.POST("/:id/rename", h.HandleRename)
			sessions.POST("/:id/clear", h.HandleClearHistory)
			sessions.POST("/:id/archive", h.HandleArchive)
			sessions.PUT("/:id/permissions", h.HandlePermissions)
			sessions.PUT("/:id/model", h.HandleOverrides)
			sessions.PATCH("/:id/metadata", h.HandleMetadata)
			sessions.POST("/:id/context", h.HandleAddContext)
		}

		v1.GET("/vault/events", h.HandleEventSocket)
		v1.GET("/tools", h.HandleListTools)

		archive := v1.Group("/archive")
		{
			archive.POST("/export", h.HandleExport)
			archive.POST("/import", h.HandleImport)
		}
	}
}

// authMiddleware authenticates every request through the configured
// TokenAuthenticator and attaches the principal to the request
// context. The open source LocalAuthenticator accepts everything, so
// local deployments see no behavior change.
func authMiddleware(auth extensions.TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		principal, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "authentication failed",
				Code:  "UNAUTHORIZED",
			})
			return
		}
		ctx := extensions.WithPrincipal(c.Request.Context(), principal)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// metricsMiddleware records request counts, durations, and in-flight
// gauge on the service instruments. The route template, not the raw
// URL, keys the counters so path parameters do not explode
// cardinality.
func metricsMiddleware(m *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		m.HTTPActiveRequests.Add(ctx, 1)
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", path),
			attribute.Int("status", c.Writer.Status()),
		)
		m.HTTPActiveRequests.Add(ctx, -1)
		m.HTTPRequestsTotal.Add(ctx, 1, attrs)
		m.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
