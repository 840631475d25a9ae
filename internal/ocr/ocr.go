// Package ocr implements best-effort image transcription through Google's
// Gemini API. The engine uses it to annotate episode images before
// persistence; failures are reported to the caller and never retried beyond
// the configured bound.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/parrotbot/internal/config"
)

const transcribePrompt = "Transcribe all visible text in this image. " +
	"Reply with the text only, without commentary. Reply with an empty string if the image contains no text."

// Client transcribes image bytes to text.
type Client interface {
	Transcribe(ctx context.Context, mimeType string, data []byte) (string, error)
}

type sdkClient struct {
	genaiClient *genai.Client
	log         *slog.Logger
	modelName   string
	maxRetries  int
	retryDelay  time.Duration
}

// NewClient creates a new Gemini-backed transcription client.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if log == nil {
		log = slog.Default()
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := log.With("component", "ocr_client")
	logger.Info("Gemini OCR client initialized successfully", "model", cfg.ModelName)
	return &sdkClient{
		genaiClient: gi,
		log:         logger,
		modelName:   cfg.ModelName,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}, nil
}

// Transcribe sends the image inline and returns the extracted text, trimmed.
func (c *sdkClient) Transcribe(ctx context.Context, mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image data is empty")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	contents := []*genai.Content{
		{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
				{Text: transcribePrompt},
			},
		},
	}

	var resp *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, nil)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return "", err
		}
		c.log.WarnContext(ctx, "Gemini OCR call failed",
			"attempt", attempt+1, "max_retries", c.maxRetries, "error", err)
		if attempt < c.maxRetries {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("gemini transcription failed after %d attempts: %w", c.maxRetries+1, err)
	}

	return strings.TrimSpace(resp.Text()), nil
}
