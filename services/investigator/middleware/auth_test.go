// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/investigator-ai/investigator/pkg/extensions"
)

type tokenProvider struct {
	accept string
}

func (p *tokenProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	if token != p.accept {
		return nil, fmt.Errorf("bad token: %w", extensions.ErrUnauthorized)
	}
	return &extensions.AuthInfo{UserID: "analyst-7"}, nil
}

type brokenProvider struct{}

func (brokenProvider) Validate(_ context.Context, _ string) (*extensions.AuthInfo, error) {
	return nil, errors.New("idp timeout")
}

func authRouter(provider extensions.AuthProvider) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", Auth(provider), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": Subject(c)})
	})
	return r
}

func TestAuthDefaultProviderAdmits(t *testing.T) {
	r := authRouter(&extensions.NopAuthProvider{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), extensions.LocalSubject)
}

func TestAuthValidToken(t *testing.T) {
	r := authRouter(&tokenProvider{accept: "sekret"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "analyst-7")
}

func TestAuthRejectsBadToken(t *testing.T) {
	r := authRouter(&tokenProvider{accept: "sekret"})

	for _, header := range []string{"", "Bearer wrong", "Basic dXNlcg=="} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
		assert.Contains(t, w.Body.String(), "unauthorized")
	}
}

func TestAuthProviderFailureIs503(t *testing.T) {
	r := authRouter(brokenProvider{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "auth_unavailable")
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer abc"))
	assert.Equal(t, "", bearerToken(""))
	assert.Equal(t, "", bearerToken("Basic abc"))
	assert.Equal(t, "", bearerToken("Bearer"))
}

func TestSubjectWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, extensions.LocalSubject, Subject(c))
}
