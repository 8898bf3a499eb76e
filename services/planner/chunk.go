// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// defaultContextBudget caps how many characters of accumulated
	// findings are embedded into a prompt. Roughly 3k tokens.
	defaultContextBudget = 12000

	// analysisChunkSize bounds how much of one document goes into a
	// single analysis prompt.
	analysisChunkSize = 8000

	chunkOverlap = 200
)

// SplitDocument breaks document content into analysis-sized chunks on
// semantic boundaries (paragraphs, then sentences). Content that fits in
// one prompt comes back as a single chunk; empty content yields none.
func SplitDocument(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= analysisChunkSize {
		return []string{content}
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(analysisChunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	chunks, err := splitter.SplitText(content)
	if err != nil || len(chunks) == 0 {
		// Splitter refusal leaves fixed-width cuts as the floor.
		var out []string
		for len(content) > analysisChunkSize {
			out = append(out, content[:analysisChunkSize])
			content = content[analysisChunkSize:]
		}
		return append(out, content)
	}
	return chunks
}

// FitContext trims accumulated findings to a prompt-sized digest.
//
// Text within budget passes through unchanged. Oversized text is split on
// semantic boundaries (paragraphs, then sentences) and rejoined from the
// front until the budget is spent, so the earliest findings survive and a
// truncation notice marks the cut.
func FitContext(text string, budget int) string {
	if budget <= 0 {
		budget = defaultContextBudget
	}
	text = strings.TrimSpace(text)
	if len(text) <= budget {
		return text
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(budget/4),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)

	chunks, err := splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		// Splitter refusal leaves a hard cut as the floor.
		return text[:budget]
	}

	var b strings.Builder
	for _, chunk := range chunks {
		if b.Len()+len(chunk)+1 > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(chunk)
	}
	if b.Len() == 0 {
		return text[:budget]
	}

	b.WriteString("\n[context truncated]")
	return b.String()
}

// JoinFindings renders a list of finding summaries as a bulleted digest,
// bounded by the default context budget.
func JoinFindings(findings []string) string {
	var b strings.Builder
	for _, f := range findings {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	return FitContext(b.String(), defaultContextBudget)
}
