package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const (
	GeminiID     = "gemini"
	DefaultModel = "gemini-2.0-flash"
)

// ErrPromptBlocked is returned when Gemini refuses the prompt outright.
var ErrPromptBlocked = errors.New("prompt blocked")

type GeminiClient struct {
	model  string
	client *genai.Client
}

// GeminiOption adjusts the genai client configuration.
type GeminiOption func(*genai.ClientConfig)

func WithHTTPClient(c *http.Client) GeminiOption {
	return func(cfg *genai.ClientConfig) {
		cfg.HTTPClient = c
	}
}

// WithBaseURL points the client at a different Gemini API endpoint.
func WithBaseURL(url string) GeminiOption {
	return func(cfg *genai.ClientConfig) {
		cfg.HTTPOptions.BaseURL = url
	}
}

// NewGeminiClient creates a client for the Gemini API.
// Model defaults to DefaultModel if empty.
func NewGeminiClient(ctx context.Context, apiKey, model string, opts ...GeminiOption) (*GeminiClient, error) {
	if model == "" {
		model = DefaultModel
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiClient{
		model:  model,
		client: client,
	}, nil
}

// GeminiFactory returns a ClientFactory producing GeminiClients.
func GeminiFactory(opts ...GeminiOption) ClientFactory {
	return func(ctx context.Context, apiKey, model string) (Client, error) {
		return NewGeminiClient(ctx, apiKey, model, opts...)
	}
}

func (c *GeminiClient) ID() string {
	return GeminiID
}

func (c *GeminiClient) Model() string {
	return c.model
}

func (c *GeminiClient) Send(ctx context.Context, req Request) (Response, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), nil)
	if err != nil {
		return Response{}, fmt.Errorf("gemini API: %w", err)
	}

	if len(resp.Candidates) == 0 && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		reason := string(resp.PromptFeedback.BlockReason)
		if msg := resp.PromptFeedback.BlockReasonMessage; msg != "" {
			reason += " (" + msg + ")"
		}
		return Response{}, fmt.Errorf("%w: %s", ErrPromptBlocked, reason)
	}

	return Response{Text: resp.Text()}, nil
}

// ListModels returns the short names (without the "models/" prefix) of every
// model the credential can use, following pagination to the end.
func (c *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.client.Models.List(ctx, nil)
	var names []string
	for {
		if errors.Is(err, genai.ErrPageDone) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("listing gemini models: %w", err)
		}
		for _, model := range page.Items {
			if model == nil || model.Name == "" {
				continue
			}
			names = append(names, strings.TrimPrefix(model.Name, "models/"))
		}
		page, err = page.Next(ctx)
	}
}
