// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDrive/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianDrive/services/assistant/middleware"
	"github.com/AleutianAI/AleutianDrive/services/entitlement"
	"github.com/AleutianAI/AleutianDrive/services/profile"
)

// HandleGetProfile returns the caller's profile with their current
// quota standing. Routes using it must also use RequireIdentity.
func HandleGetProfile(resolver *profile.Resolver, limits entitlement.Limits) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleGetProfile")
		defer span.End()

		ident := middleware.GetIdentity(c)
		p, err := resolver.Resolve(ctx, ident)
		if err != nil {
			span.RecordError(err)
			slog.Error("profile resolution failed", "user_id", ident.ID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "profile unavailable"})
			return
		}

		c.JSON(http.StatusOK, datatypes.ProfileResponse{
			ID:           p.ID,
			Email:        p.Email,
			Name:         p.Name,
			Tier:         string(p.Tier),
			Status:       p.Status,
			MessagesUsed: p.MessagesUsed,
			MessageLimit: limitValue(limits.ForTier(p.Tier)),
		})
	}
}

// HandleUpdateProfile applies a display-name change and returns the
// refreshed profile. Routes using it must also use RequireIdentity.
func HandleUpdateProfile(store profile.Store, resolver *profile.Resolver, limits entitlement.Limits) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleUpdateProfile")
		defer span.End()

		var req datatypes.UpdateProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		ident := middleware.GetIdentity(c)
		// Resolve first so a brand-new caller gets their row created
		// before the patch lands.
		if _, err := resolver.Resolve(ctx, ident); err != nil {
			span.RecordError(err)
			slog.Error("profile resolution failed", "user_id", ident.ID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "profile unavailable"})
			return
		}
		if err := store.Update(ctx, ident.ID, profile.Patch{Name: &req.Name}); err != nil {
			span.RecordError(err)
			slog.Error("profile update failed", "user_id", ident.ID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "profile update failed"})
			return
		}

		p, err := resolver.Resolve(ctx, ident)
		if err != nil {
			span.RecordError(err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "profile unavailable"})
			return
		}
		c.JSON(http.StatusOK, datatypes.ProfileResponse{
			ID:           p.ID,
			Email:        p.Email,
			Name:         p.Name,
			Tier:         string(p.Tier),
			Status:       p.Status,
			MessagesUsed: p.MessagesUsed,
			MessageLimit: limitValue(limits.ForTier(p.Tier)),
		})
	}
}

// limitValue maps the premium sentinel to the wire string "unlimited".
func limitValue(limit int) any {
	if limit == entitlement.Unlimited {
		return "unlimited"
	}
	return limit
}
