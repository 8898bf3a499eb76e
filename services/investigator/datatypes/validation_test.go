// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engine(t *testing.T) *validator.Validate {
	t.Helper()
	v, ok := binding.Validator.Engine().(*validator.Validate)
	require.True(t, ok)
	return v
}

func TestNotblank(t *testing.T) {
	v := engine(t)

	tests := []struct {
		name    string
		title   string
		wantErr bool
	}{
		{"plain text passes", "Map ownership of X", false},
		{"whitespace only fails", "   \t ", true},
		{"leading space passes", "  x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(CreateInvestigationRequest{Title: tt.title})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMaxbytesCountsBytesNotRunes(t *testing.T) {
	v := engine(t)

	// 170 three-byte runes: 170 runes but 510 bytes, over the 500 cap.
	title := strings.Repeat("語", 170)
	err := v.Struct(CreateInvestigationRequest{Title: title})
	assert.Error(t, err)

	err = v.Struct(CreateInvestigationRequest{Title: strings.Repeat("a", 500)})
	assert.NoError(t, err)
}

func TestConfidenceBounds(t *testing.T) {
	v := engine(t)

	assert.NoError(t, v.Struct(ConfidenceRequest{Confidence: 0}))
	assert.NoError(t, v.Struct(ConfidenceRequest{Confidence: 1}))
	assert.Error(t, v.Struct(ConfidenceRequest{Confidence: 1.01}))
	assert.Error(t, v.Struct(ConfidenceRequest{Confidence: -0.2}))
}

func TestEnumMembership(t *testing.T) {
	v := engine(t)

	req := CreateEntityRequest{Name: "Acme Corp", EntityType: "organization"}
	assert.NoError(t, v.Struct(req))

	req.EntityType = "megacorp"
	assert.Error(t, v.Struct(req))

	rel := CreateRelationshipRequest{
		SourceEntityID:   "0b34b086-98eb-4ed9-a326-9b9241e2c2ef",
		TargetEntityID:   "15b2b0fd-06fa-4a9f-9f72-bd05f47a1a6d",
		RelationshipType: "owns",
	}
	assert.NoError(t, v.Struct(rel))

	rel.RelationshipType = "besties_with"
	assert.Error(t, v.Struct(rel))
}

func TestFocusAreasDive(t *testing.T) {
	v := engine(t)

	req := CreateInvestigationRequest{
		Title:      "t",
		FocusAreas: []string{"offshore holdings", "   "},
	}
	assert.Error(t, v.Struct(req))
}
