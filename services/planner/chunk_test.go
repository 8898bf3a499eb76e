// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFitContextPassthrough(t *testing.T) {
	text := "short finding"
	assert.Equal(t, text, FitContext(text, 1000))
}

func TestFitContextTruncatesLongText(t *testing.T) {
	paragraph := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	text := strings.Repeat(paragraph+"\n\n", 20)

	budget := 2000
	got := FitContext(text, budget)

	assert.LessOrEqual(t, len(got), budget+len("\n[context truncated]"))
	assert.Contains(t, got, "[context truncated]")
	// Earliest findings survive.
	assert.True(t, strings.HasPrefix(got, "The quick brown fox"))
}

func TestFitContextZeroBudgetUsesDefault(t *testing.T) {
	text := "finding"
	assert.Equal(t, text, FitContext(text, 0))
}

func TestJoinFindings(t *testing.T) {
	got := JoinFindings([]string{"first", "", "  second  "})
	assert.Contains(t, got, "- first")
	assert.Contains(t, got, "- second")
	assert.NotContains(t, got, "- \n")
}

func TestSplitDocumentShortContent(t *testing.T) {
	assert.Nil(t, SplitDocument("   "))
	assert.Equal(t, []string{"one small doc"}, SplitDocument("one small doc"))
}

func TestSplitDocumentChunksLongContent(t *testing.T) {
	paragraph := strings.Repeat("Relevant sentence about the subject. ", 60)
	doc := strings.Repeat(paragraph+"\n\n", 10)

	chunks := SplitDocument(doc)
	assert.Greater(t, len(chunks), 1)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), analysisChunkSize, "chunk %d exceeds the analysis budget", i)
		assert.NotEmpty(t, chunk)
	}
}
