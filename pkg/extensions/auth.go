// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when credential validation fails.
// Implementations should wrap it so errors.Is keeps working:
//
//	return nil, fmt.Errorf("token expired: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity attached to a request after validation.
// UserID is the only field the core relies on; it becomes the owner_id
// of investigations created by the request.
type AuthInfo struct {
	// UserID uniquely identifies the user. Never empty on success.
	UserID string

	// Email is the user's address when the provider knows it.
	Email string

	// Roles lists role memberships for deployments that gate features.
	// The open source core does not interpret them.
	Roles []string

	// Metadata carries provider-specific claims without changing this
	// struct.
	Metadata map[string]string
}

// AuthProvider validates request credentials and resolves an identity.
//
// The token is whatever followed "Bearer " in the Authorization header;
// it may be empty when the client sent none. The format is
// implementation-specific (JWT, API key, session id).
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// LocalSubject is the identity the open source build stamps on every
// request.
const LocalSubject = "local-analyst"

// NopAuthProvider admits every request as the local analyst. This is the
// open source default: the service is expected to run on a trusted host
// or behind a deployment-provided gateway.
type NopAuthProvider struct{}

// Validate always succeeds with the local identity.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: LocalSubject}, nil
}
