package llm

import "context"

// Request carries a single prompt. Content is not validated; empty is allowed.
type Request struct {
	Prompt string
}

// Response is the provider's generated text for one Request.
type Response struct {
	Text string
}

// Client is one text-generation provider bound to a credential and model.
type Client interface {
	ID() string
	Send(ctx context.Context, req Request) (Response, error)
}

// ClientFactory builds a provider client for a credential and model.
type ClientFactory func(ctx context.Context, apiKey, model string) (Client, error)
