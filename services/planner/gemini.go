// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiSecretPath     = "/run/secrets/gemini_api_key"
)

// --- Wire Types ---

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiAPIError   `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// --- Client Implementation ---

// geminiModel talks to the Google Generative Language REST API directly.
// The official SDK pulls in a large dependency tree for what is one POST
// endpoint, so this client stays hand-rolled.
type geminiModel struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	maxTokens   int
	temperature float32
}

func newGeminiModel(cfg Config) (*geminiModel, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")

	// Containerized deployments mount the key as a secret file.
	if apiKey == "" {
		if content, err := os.ReadFile(geminiSecretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Gemini API key from container secrets")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is missing")
	}

	baseURL := strings.TrimRight(os.Getenv("GEMINI_BASE_URL"), "/")
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}

	return &geminiModel{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		apiKey:      apiKey,
		model:       cfg.Model,
		baseURL:     baseURL,
		maxTokens:   cfg.MaxOutputTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (g *geminiModel) name() string { return "gemini" }

func (g *geminiModel) generate(ctx context.Context, system, prompt string) (string, error) {
	reqPayload := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: &geminiGenConfig{
			Temperature:     g.temperature,
			MaxOutputTokens: g.maxTokens,
		},
	}
	if system != "" {
		reqPayload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-goog-api-key", g.apiKey)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Gemini", "model", g.model)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &ExternalServiceError{
			Service:   "gemini",
			Message:   err.Error(),
			Retryable: true,
		}
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		message := strings.TrimSpace(string(bodyBytes))
		var envelope geminiResponse
		if json.Unmarshal(bodyBytes, &envelope) == nil && envelope.Error != nil {
			message = fmt.Sprintf("%s: %s", envelope.Error.Status, envelope.Error.Message)
		}
		return "", &ExternalServiceError{
			Service:    "gemini",
			StatusCode: resp.StatusCode,
			Message:    message,
			Retryable:  retryableStatus(resp.StatusCode),
		}
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", &ExternalServiceError{
			Service:   "gemini",
			Message:   fmt.Sprintf("failed to parse response JSON: %v", err),
			Retryable: true,
		}
	}

	if apiResp.Error != nil {
		return "", &ExternalServiceError{
			Service:    "gemini",
			StatusCode: apiResp.Error.Code,
			Message:    fmt.Sprintf("%s: %s", apiResp.Error.Status, apiResp.Error.Message),
			Retryable:  retryableStatus(apiResp.Error.Code),
		}
	}

	if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
		return "", &ExternalServiceError{
			Service:   "gemini",
			Message:   "response contained no candidates",
			Retryable: true,
		}
	}

	var text strings.Builder
	for _, part := range apiResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

var _ textModel = (*geminiModel)(nil)
