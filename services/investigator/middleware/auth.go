// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides the HTTP middleware of the investigator
// service. Authentication is delegated to the pluggable AuthProvider from
// pkg/extensions; the open source default admits every request as the
// local analyst, so running without an identity gateway still works.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/investigator-ai/investigator/pkg/extensions"
)

// authInfoKey is the gin context key holding the request's AuthInfo.
const authInfoKey = "investigator_auth_info"

// Auth validates the request's bearer token through the provider and
// stores the resulting identity in the context. Failed validation ends
// the request with 401 using the service's standard error envelope.
func Auth(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))

		info, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			code := "unauthorized"
			if !errors.Is(err, extensions.ErrUnauthorized) {
				// Provider infrastructure failure, not a bad credential.
				status = http.StatusServiceUnavailable
				code = "auth_unavailable"
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error": gin.H{"code": code, "message": "authentication failed"},
			})
			return
		}

		c.Set(authInfoKey, info)
		c.Next()
	}
}

// bearerToken extracts the credential from an Authorization header.
// Returns "" when the header is absent or not a bearer scheme; the
// provider decides whether an empty token is acceptable.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// AuthInfo returns the identity the Auth middleware attached to the
// request, or nil when the route skipped authentication.
func AuthInfo(c *gin.Context) *extensions.AuthInfo {
	v, ok := c.Get(authInfoKey)
	if !ok {
		return nil
	}
	info, _ := v.(*extensions.AuthInfo)
	return info
}

// Subject returns the user id owning the request, falling back to the
// local subject on unauthenticated routes.
func Subject(c *gin.Context) string {
	if info := AuthInfo(c); info != nil && info.UserID != "" {
		return info.UserID
	}
	return extensions.LocalSubject
}
