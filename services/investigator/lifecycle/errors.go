// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or out-of-range caller input.
// Handlers map it to HTTP 400 with code "validation_failed".
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a field-scoped validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError reports a well-formed request that the state machine
// refuses in the current state (pausing a pending investigation, claiming
// a claimed task). Handlers map it to HTTP 409 with code
// "invalid_transition".
type TransitionError struct {
	Reason string
}

func (e *TransitionError) Error() string { return e.Reason }

// MergeConflict reports an edit that would collide with an existing row's
// identity, such as renaming an entity onto another entity's normalized
// name and type. Handlers map it to HTTP 409 with code "merge_conflict".
type MergeConflict struct {
	Reason string
}

func (e *MergeConflict) Error() string { return e.Reason }

// NewMergeConflict builds a merge conflict error from a format string.
func NewMergeConflict(format string, args ...any) error {
	return &MergeConflict{Reason: fmt.Sprintf(format, args...)}
}

// ConsistencyViolation reports a write that would corrupt the graph, such
// as a relationship whose endpoints live in another investigation. The
// write is always rejected before anything persists. Handlers map it to
// HTTP 422 with code "consistency_violation".
type ConsistencyViolation struct {
	Reason string
}

func (e *ConsistencyViolation) Error() string { return e.Reason }

// NewConsistencyViolation builds a consistency error from a format string.
func NewConsistencyViolation(format string, args ...any) error {
	return &ConsistencyViolation{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransition reports whether err is (or wraps) a TransitionError.
func IsTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// IsMergeConflict reports whether err is (or wraps) a MergeConflict.
func IsMergeConflict(err error) bool {
	var mc *MergeConflict
	return errors.As(err, &mc)
}

// IsConsistency reports whether err is (or wraps) a ConsistencyViolation.
func IsConsistency(err error) bool {
	var cv *ConsistencyViolation
	return errors.As(err, &cv)
}
