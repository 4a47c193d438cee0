package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Retries     int
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator calls the Gemini API through the genai SDK.
type GeminiGenerator struct {
	models      contentGenerator
	model       string
	temperature float32
	timeout     time.Duration
	retries     int
}

func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiGenerator(client.Models, cfg), nil
}

func newGeminiGenerator(models contentGenerator, cfg GeminiConfig) *GeminiGenerator {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiGenerator{
		models:      models,
		model:       model,
		temperature: float32(cfg.Temperature),
		timeout:     timeout,
		retries:     cfg.Retries,
	}
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(g.temperature),
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}
	return generateWithRetry(ctx, "gemini", g.retries, g.timeout, func(ctx context.Context) (string, error) {
		resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
		if err != nil {
			var apiErr genai.APIError
			if errors.As(err, &apiErr) && isTransientStatus(apiErr.Code) {
				return "", transientError{fmt.Errorf("generate content: %w", err)}
			}
			return "", fmt.Errorf("generate content: %w", err)
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("model returned empty content")
		}
		return text, nil
	})
}
