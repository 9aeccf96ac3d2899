package oracle

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"quorum/internal/unit"
)

// GeminiConfig holds configuration for the Gemini-backed oracle.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

// GeminiOracle is an Oracle backed by the Google GenAI SDK. Useful when the
// rename oracle should run against a hosted model instead of a local one.
type GeminiOracle struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGeminiOracle creates a Gemini-backed oracle.
func NewGeminiOracle(ctx context.Context, cfg GeminiConfig) (*GeminiOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: GenAI API key is required", ErrUnavailable)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 4096
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create GenAI client: %v", ErrUnavailable, err)
	}
	return &GeminiOracle{client: client, cfg: cfg}, nil
}

// Sample requests exactly one completion for the unit. The response is
// forced to JSON via the response MIME type, mirroring the json mode the
// chat client requests.
func (g *GeminiOracle) Sample(ctx context.Context, u *unit.Context) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(g.cfg.Temperature)),
		MaxOutputTokens:  int32(g.cfg.MaxOutputTokens),
		ResponseMIMEType: "application/json",
	}
	if u.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(u.SystemPrompt, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model,
		genai.Text(u.Prompt), genCfg)
	if err != nil {
		return "", fmt.Errorf("GenAI request failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	return strings.TrimSpace(text), nil
}
