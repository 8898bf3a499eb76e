// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the injection points hosted deployments use
// to plug their own infrastructure into the open source service.
//
// The open source build ships no authentication of its own: every request
// is attributed to a local analyst identity. A deployment that fronts the
// service with real identity infrastructure provides an AuthProvider and
// passes it through ServiceOptions at construction time; nothing in the
// core imports anything heavier than this package.
package extensions

// ServiceOptions carries the pluggable implementations a deployment may
// inject. A nil options value (or any nil field) falls back to the
// open source default.
type ServiceOptions struct {
	// AuthProvider validates request credentials.
	// Default: NopAuthProvider, which admits every request as the local
	// analyst.
	AuthProvider AuthProvider
}

// DefaultOptions returns the open source defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
	}
}

// WithAuth returns a copy of opts using the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// Normalize fills nil fields with defaults so callers can pass a
// partially populated (or nil) ServiceOptions.
func Normalize(opts *ServiceOptions) ServiceOptions {
	out := DefaultOptions()
	if opts == nil {
		return out
	}
	if opts.AuthProvider != nil {
		out.AuthProvider = opts.AuthProvider
	}
	return out
}
