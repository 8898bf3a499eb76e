// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const openaiSecretPath = "/run/secrets/openai_api_key"

// openaiModel backs the planner with OpenAI chat completions.
type openaiModel struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func newOpenAIModel(cfg Config) (*openaiModel, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")

	if apiKey == "" {
		if content, err := os.ReadFile(openaiSecretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read OpenAI API key from container secrets")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is missing")
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	return &openaiModel{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxOutputTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (o *openaiModel) name() string { return "openai" }

func (o *openaiModel) generate(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	slog.Debug("Sending chat completion request to OpenAI", "model", o.model)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &ExternalServiceError{
				Service:    "openai",
				StatusCode: apiErr.HTTPStatusCode,
				Message:    apiErr.Message,
				Retryable:  retryableStatus(apiErr.HTTPStatusCode),
			}
		}
		return "", &ExternalServiceError{
			Service:   "openai",
			Message:   err.Error(),
			Retryable: true,
		}
	}

	if len(resp.Choices) == 0 {
		return "", &ExternalServiceError{
			Service:   "openai",
			Message:   "response contained no choices",
			Retryable: true,
		}
	}
	return resp.Choices[0].Message.Content, nil
}

var _ textModel = (*openaiModel)(nil)
