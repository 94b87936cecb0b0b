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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianDrive/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianDrive/services/assistant/middleware"
	"github.com/AleutianAI/AleutianDrive/services/assistant/observability"
	"github.com/AleutianAI/AleutianDrive/services/assistant/services"
)

var chatTracer = otel.Tracer("aleutiandrive.assistant.handlers")

// HandleChat runs one conversational exchange.
//
// The caller's identity comes from the auth middleware, never from the
// request body. Anonymous callers must claim the guest path with
// isGuestMessage, which the server re-checks against its own guest
// ledger. The guest-trial key is the client-supplied session id when
// present, else the client IP.
func HandleChat(conv *services.Conversation, metrics *observability.ChatMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			respondError(c, metrics, http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			respondError(c, metrics, http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		ident := middleware.GetIdentity(c)
		clientKey := req.SessionID
		if clientKey == "" {
			clientKey = c.ClientIP()
		}

		result, err := conv.Converse(ctx, req, ident, clientKey)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			switch {
			case errors.Is(err, services.ErrAuthenticationRequired):
				respondError(c, metrics, http.StatusUnauthorized, datatypes.ErrorResponse{
					Error:     "authentication required",
					NeedsAuth: true,
				})
			case errors.Is(err, services.ErrQuotaExceeded):
				respondError(c, metrics, http.StatusForbidden, datatypes.ErrorResponse{
					Error: "message quota exceeded",
				})
			default:
				slog.Error("conversation failed", "error", err)
				respondError(c, metrics, http.StatusInternalServerError, datatypes.ErrorResponse{
					Error: "assistant unavailable",
				})
			}
			return
		}

		countStatus(metrics, http.StatusOK)
		c.JSON(http.StatusOK, datatypes.ChatResponse{
			Message:          result.Reply,
			IsGuestMessage:   result.GuestExchange,
			NeedsAuthForNext: result.GuestExchange,
			Usage:            result.Usage,
		})
	}
}

func respondError(c *gin.Context, metrics *observability.ChatMetrics, status int, body datatypes.ErrorResponse) {
	countStatus(metrics, status)
	c.JSON(status, body)
}

func countStatus(metrics *observability.ChatMetrics, status int) {
	if metrics != nil {
		metrics.RequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}
