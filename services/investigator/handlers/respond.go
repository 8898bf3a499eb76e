// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the REST and WebSocket handlers of the
// investigator service. Handlers are closures over their dependencies
// (store, engine, hub) and do no business logic of their own: they bind,
// delegate, and translate errors into the stable wire envelope.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
	"github.com/investigator-ai/investigator/services/investigator/store"
	"github.com/investigator-ai/investigator/services/planner"
)

// Stable machine codes of the error envelope. Clients switch on these;
// messages are for humans and may change.
const (
	CodeValidationFailed     = "validation_failed"
	CodeNotFound             = "not_found"
	CodeInvalidTransition    = "invalid_transition"
	CodeMergeConflict        = "merge_conflict"
	CodeConsistencyViolation = "consistency_violation"
	CodePlannerUnavailable   = "planner_unavailable"
	CodeInternal             = "internal_error"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// respondError translates a domain error into the wire envelope. Unknown
// errors become a generic 500 and keep their detail in the log only.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, errorEnvelope{Error: errorBody{
			Code: CodeNotFound, Message: "resource not found",
		}})
	case lifecycle.IsValidation(err):
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: errorBody{
			Code: CodeValidationFailed, Message: err.Error(),
		}})
	case lifecycle.IsTransition(err):
		c.JSON(http.StatusConflict, errorEnvelope{Error: errorBody{
			Code: CodeInvalidTransition, Message: err.Error(),
		}})
	case lifecycle.IsMergeConflict(err):
		c.JSON(http.StatusConflict, errorEnvelope{Error: errorBody{
			Code: CodeMergeConflict, Message: err.Error(),
		}})
	case lifecycle.IsConsistency(err):
		c.JSON(http.StatusUnprocessableEntity, errorEnvelope{Error: errorBody{
			Code: CodeConsistencyViolation, Message: err.Error(),
		}})
	case planner.IsExternal(err):
		c.JSON(http.StatusBadGateway, errorEnvelope{Error: errorBody{
			Code: CodePlannerUnavailable, Message: "planner backend unavailable",
		}})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, errorEnvelope{Error: errorBody{
			Code: CodeInternal, Message: "internal error",
		}})
	}
}

// respondBindError reports a body that failed binding or validation,
// listing the offending fields when the validator knows them.
func respondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]gin.H, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, gin.H{"field": fe.Field(), "rule": fe.Tag()})
		}
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: errorBody{
			Code:    CodeValidationFailed,
			Message: "request validation failed",
			Detail:  fields,
		}})
		return
	}
	c.JSON(http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Code: CodeValidationFailed, Message: err.Error(),
	}})
}
