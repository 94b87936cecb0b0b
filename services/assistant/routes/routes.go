// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianDrive/services/assistant/handlers"
	"github.com/AleutianAI/AleutianDrive/services/assistant/middleware"
	"github.com/AleutianAI/AleutianDrive/services/assistant/observability"
	"github.com/AleutianAI/AleutianDrive/services/assistant/services"
	"github.com/AleutianAI/AleutianDrive/services/entitlement"
	"github.com/AleutianAI/AleutianDrive/services/identity"
	"github.com/AleutianAI/AleutianDrive/services/profile"
)

// Deps carries everything the route table needs.
type Deps struct {
	Conversation *services.Conversation
	Resolver     *profile.Resolver
	Store        profile.Store
	Validator    identity.Validator
	Metrics      *observability.ChatMetrics
	Limits       entitlement.Limits
	RateLimiter  *middleware.RateLimiter
}

// SetupRoutes registers the assistant's HTTP surface.
//
// All /v1 routes run the auth middleware so handlers see the caller's
// identity when a valid token is present; anonymous requests still get
// through to the entitlement gate. /health and /metrics are unguarded.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(otelgin.Middleware("aleutiandrive-assistant"))

	router.GET("/health", handlers.HandleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.Authenticate(deps.Validator))
	if deps.RateLimiter != nil {
		v1.Use(deps.RateLimiter.Middleware())
	}
	{
		v1.POST("/chat", handlers.HandleChat(deps.Conversation, deps.Metrics))
		v1.GET("/chat/history", middleware.RequireIdentity(), handlers.HandleGetHistory(deps.Store))
		v1.GET("/profile", middleware.RequireIdentity(), handlers.HandleGetProfile(deps.Resolver, deps.Limits))
		v1.PATCH("/profile", middleware.RequireIdentity(), handlers.HandleUpdateProfile(deps.Store, deps.Resolver, deps.Limits))
	}
}
