// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the assistant service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header, validates it with the identity provider, and stores the
// resulting Identity in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	Authenticate
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► validator.Validate(ctx, token)
//	   │
//	   └─► Store Identity in context (or nothing, if anonymous)
//	           │
//	           ▼
//	       Handler (retrieves via GetIdentity)
//
// # Anonymous Requests
//
// A missing or invalid token does NOT reject the request. The caller
// proceeds as anonymous and the entitlement gate decides what an
// anonymous caller may do (one guest trial message). Aborting here
// would make the guest flow impossible.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDrive/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianDrive/services/identity"
)

// =============================================================================
// Context Keys
// =============================================================================

// identityKey is the context key for storing the caller's Identity.
// Using a dedicated key prevents collisions with other context values.
const identityKey = "drive_identity"

// =============================================================================
// Context Helpers
// =============================================================================

// SetIdentity stores the authenticated caller in the Gin context.
//
// # Description
//
// Called by Authenticate after successful token validation. Handlers
// retrieve the value via GetIdentity.
//
// # Inputs
//
//   - c: Gin context. Must not be nil.
//   - ident: Validated identity. Must not be nil.
func SetIdentity(c *gin.Context, ident *identity.Identity) {
	c.Set(identityKey, ident)
}

// GetIdentity retrieves the authenticated caller from the Gin context.
//
// # Description
//
// Returns nil for anonymous requests: a missing or invalid token, or
// no Authenticate middleware on the route. Handlers must treat nil as
// "anonymous", not as an error.
//
// # Inputs
//
//   - c: Gin context. Must not be nil.
//
// # Outputs
//
//   - *identity.Identity: The caller, or nil when anonymous.
func GetIdentity(c *gin.Context) *identity.Identity {
	if v, exists := c.Get(identityKey); exists {
		if ident, ok := v.(*identity.Identity); ok {
			return ident
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// Authenticate creates a Gin middleware that resolves the caller's
// identity from a bearer token.
//
// # Description
//
// Extracts the bearer token from the Authorization header and validates
// it with the identity provider. On success the Identity is stored in
// the context. On a missing or invalid token the request continues as
// anonymous; the entitlement gate downstream decides whether an
// anonymous caller gets through. Provider outages are logged and also
// degrade to anonymous rather than failing the request.
//
// # Inputs
//
//   - validator: Token validator backed by the identity provider.
//     Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use with Gin.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func Authenticate(validator identity.Validator) gin.HandlerFunc {
	log := slog.Default().With("component", "auth_middleware")
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		ident, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			// Expired and garbage tokens land here too. The caller sent
			// credentials that bought nothing; let the gate tell them so
			// with a proper entitlement answer instead of a bare 401.
			log.Debug("token validation failed, continuing as anonymous", "error", err)
			c.Next()
			return
		}

		SetIdentity(c, ident)
		c.Next()
	}
}

// RequireIdentity creates a Gin middleware that rejects anonymous
// requests with 401. Used on routes that make no sense without a
// caller, like the profile endpoint.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetIdentity(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.ErrorResponse{
				Error:     "authentication required",
				NeedsAuth: true,
			})
			return
		}
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
// Returns empty string if the header is missing or malformed. The
// "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
