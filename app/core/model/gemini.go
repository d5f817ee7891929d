package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient is the deep-reasoning tier, backed by the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey string, modelName string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = "gemini-2.5-pro"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		model:  modelName,
	}, nil
}

func (c *GeminiClient) Tag() string {
	return c.model
}

func (c *GeminiClient) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.Temperature)),
		TopP:            genai.Ptr(float32(p.TopP)),
		TopK:            genai.Ptr(float32(p.TopK)),
		MaxOutputTokens: int32(p.MaxTokens),
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", classifyGeminiErr(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &TransientError{Cause: fmt.Errorf("empty generation response")}
	}
	return text, nil
}

func classifyGeminiErr(err error) error {
	if ctxErr := classifyCtxErr(err); ctxErr != nil {
		return ctxErr
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403 || apiErr.Code == 400:
			return &FatalError{Cause: err}
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return &TransientError{Cause: err}
		}
	}
	return &TransientError{Cause: err}
}
