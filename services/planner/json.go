// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when no JSON document can be located in model output.
var ErrNoJSON = errors.New("no JSON document in model output")

// ExtractJSON pulls a JSON document out of raw model output.
//
// Models asked for JSON still decorate it: markdown fences (``` or
// ```json), leading prose ("Here is the plan:"), trailing commentary.
// ExtractJSON handles the common cases:
//
//  1. Strip a surrounding markdown code fence if present.
//  2. If the remainder does not start with '{' or '[', slice from the
//     first opening brace/bracket to the matching last closing one.
//  3. Validate the slice parses as JSON.
//
// The returned bytes are the trimmed document, suitable for json.Unmarshal.
func ExtractJSON(out string) ([]byte, error) {
	text := strings.TrimSpace(out)
	if text == "" {
		return nil, ErrNoJSON
	}

	text = stripFence(text)

	if !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "[") {
		text = sliceToDocument(text)
		if text == "" {
			return nil, ErrNoJSON
		}
	}

	doc := []byte(text)
	if !json.Valid(doc) {
		// Fenced output sometimes carries trailing prose after the close.
		if inner := sliceToDocument(text); inner != "" && json.Valid([]byte(inner)) {
			return []byte(inner), nil
		}
		return nil, ErrNoJSON
	}
	return doc, nil
}

// stripFence removes one surrounding markdown code fence, tolerating a
// language tag on the opening line and prose before the fence.
func stripFence(text string) string {
	start := strings.Index(text, "```")
	if start == -1 {
		return text
	}

	rest := text[start+3:]
	// Drop the language tag line ("json", "JSON", or empty).
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		first := strings.TrimSpace(rest[:nl])
		if first == "" || strings.EqualFold(first, "json") {
			rest = rest[nl+1:]
		}
	}

	if end := strings.LastIndex(rest, "```"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// sliceToDocument slices text from the first '{' or '[' to the final
// matching '}' or ']'. Returns "" when no plausible document exists.
func sliceToDocument(text string) string {
	objStart := strings.IndexByte(text, '{')
	arrStart := strings.IndexByte(text, '[')

	start := objStart
	closing := byte('}')
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start = arrStart
		closing = ']'
	}
	if start == -1 {
		return ""
	}

	end := strings.LastIndexByte(text, closing)
	if end <= start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}
