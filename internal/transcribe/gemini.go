package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/chatscribe/internal/config"
)

const providerName = "gemini"

const transcribePrompt = "Transcribe the spoken audio in this file verbatim. " +
	"Return only the transcript text, without commentary or formatting."

type geminiEngine struct {
	client     *genai.Client
	log        *slog.Logger
	model      string
	maxRetries int
	retryDelay time.Duration
}

// NewGeminiEngine creates a transcription engine backed by the Gemini
// API. It validates credentials and sets up the client once at startup.
func NewGeminiEngine(ctx context.Context, cfg config.TranscriberConfig, log *slog.Logger) (Engine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("transcriber API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := log.With("component", "transcriber")
	logger.Info("Transcription engine initialized", "provider", providerName, "model", cfg.Model)
	return &geminiEngine{
		client:     client,
		log:        logger,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (e *geminiEngine) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("transcription request has no data")
	}
	if req.MimeType == "" {
		return nil, fmt.Errorf("transcription request has no mime type")
	}

	prompt := transcribePrompt
	if req.Language != "" {
		prompt += fmt.Sprintf(" The audio is in %s.", req.Language)
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{MIMEType: req.MimeType, Data: req.Data}},
		},
	}}

	resp, err := e.generateWithRetries(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("transcription failed for %s: %w", req.Filename, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("transcription produced empty text for %s", req.Filename)
	}

	e.log.InfoContext(ctx, "Transcription completed",
		"filename", req.Filename, "model", e.model, "text_length", len(text))
	return &Result{
		Text:     text,
		Language: req.Language,
		Provider: providerName,
	}, nil
}

func (e *geminiEngine) generateWithRetries(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= e.maxRetries; i++ {
		resp, err = e.client.Models.GenerateContent(ctx, e.model, contents, nil)
		if err == nil {
			return resp, nil
		}

		e.log.WarnContext(ctx, "Gemini API call failed, checking for retry",
			"attempt", i+1, "max_retries", e.maxRetries, "error", err)

		if i == e.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.retryDelay):
		}
	}

	return nil, fmt.Errorf("gemini API call failed after %d attempts: %w", e.maxRetries+1, err)
}
