// Package extract reads the text on a captured page with a Gemini vision model.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

// DefaultPrompt asks the model for the verbatim text of the page.
const DefaultPrompt = "Assume you are an AI designed for an assistive reading device for the visually impaired. " +
	"Extract the exact text in this image. Do NOT add any additional words."

// ErrAPIKeyEmpty indicates a missing Gemini API key.
var ErrAPIKeyEmpty = errors.New("gemini api key cannot be empty")

// ContentGenerator is the part of the genai client the extractor needs.
type ContentGenerator interface {
	GenerateContent(
		ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Config configures a Gemini extractor.
type Config struct {
	APIKey string
	Model  string
	Prompt string
}

// Gemini implements core.Extractor.
type Gemini struct {
	generator ContentGenerator
	model     string
	prompt    string
	log       *logger.Logger
}

// NewGemini creates an extractor backed by the Gemini API.
func NewGemini(ctx context.Context, cfg Config, log *logger.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyEmpty
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return NewWithGenerator(client.Models, cfg, log), nil
}

// NewWithGenerator creates an extractor on top of an existing generator.
func NewWithGenerator(generator ContentGenerator, cfg Config, log *logger.Logger) *Gemini {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}

	return &Gemini{
		generator: generator,
		model:     cfg.Model,
		prompt:    cfg.Prompt,
		log:       log,
	}
}

// Extract sends the image and the prompt and returns the text of the first
// candidate. An empty string means the model found nothing to read.
func (g *Gemini) Extract(ctx context.Context, image core.Image) (string, error) {
	data, err := os.ReadFile(image.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %w", image.Path, err)
	}

	mimeType := image.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	resp, err := g.generator.GenerateContent(ctx, g.model, []*genai.Content{
		{
			Parts: []*genai.Part{
				genai.NewPartFromBytes(data, mimeType),
				{Text: g.prompt},
			},
			Role: "user",
		},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate: %w", core.ErrExtractionTransient, err)
	}

	var sb strings.Builder

	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}

	if g.log != nil {
		g.log.Info("Extracted %d characters from %s", sb.Len(), image.Path)
	}

	return sb.String(), nil
}
