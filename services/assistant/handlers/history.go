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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDrive/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianDrive/services/assistant/middleware"
	"github.com/AleutianAI/AleutianDrive/services/profile"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HandleGetHistory returns the caller's recent conversation turns,
// oldest first. Routes using it must also use RequireIdentity.
func HandleGetHistory(store profile.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleGetHistory")
		defer span.End()

		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "limit must be a positive integer"})
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		ident := middleware.GetIdentity(c)
		messages, err := store.History(ctx, ident.ID, limit)
		if err != nil {
			span.RecordError(err)
			slog.Error("history fetch failed", "user_id", ident.ID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "history unavailable"})
			return
		}

		out := make([]datatypes.HistoryMessage, 0, len(messages))
		for _, m := range messages {
			out = append(out, datatypes.HistoryMessage{
				ID:        m.ID,
				SessionID: m.SessionID,
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, datatypes.HistoryResponse{Messages: out})
	}
}
