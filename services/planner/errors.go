// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"errors"
	"fmt"
)

// ExternalServiceError reports a failed call to a model provider.
//
// Retryable distinguishes transient provider trouble (rate limits, 5xx,
// timeouts, garbled output) from permanent failures (bad credentials,
// unknown model). The engine retries only retryable errors.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// IsExternal reports whether err is (or wraps) an ExternalServiceError.
func IsExternal(err error) bool {
	var ese *ExternalServiceError
	return errors.As(err, &ese)
}

// IsRetryable reports whether err is an external error worth retrying.
// Non-external errors are not retryable here; callers own those.
func IsRetryable(err error) bool {
	var ese *ExternalServiceError
	if errors.As(err, &ese) {
		return ese.Retryable
	}
	return false
}

// retryableStatus classifies HTTP statuses from providers.
// 429 and all 5xx are transient; everything else is caller error.
func retryableStatus(status int) bool {
	return status == 429 || status >= 500
}
