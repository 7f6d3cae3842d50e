package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrCredentialNotSet is the failure reason when no API key was supplied.
var ErrCredentialNotSet = errors.New("credential not set")

type ResponderConfig struct {
	APIKey string
	Model  string
}

// Responder turns one prompt into one Result. It holds no per-call state.
type Responder struct {
	apiKey  string
	model   string
	factory ClientFactory
	diag    io.Writer
	logger  zerolog.Logger
}

type ResponderOption func(*Responder)

func WithClientFactory(factory ClientFactory) ResponderOption {
	return func(r *Responder) {
		r.factory = factory
	}
}

// WithDiagnostics sets where the human-readable failure line is written.
func WithDiagnostics(w io.Writer) ResponderOption {
	return func(r *Responder) {
		r.diag = w
	}
}

func WithLogger(logger zerolog.Logger) ResponderOption {
	return func(r *Responder) {
		r.logger = logger
	}
}

func NewResponder(cfg ResponderConfig, opts ...ResponderOption) *Responder {
	r := &Responder{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   cfg.Model,
		factory: GeminiFactory(),
		diag:    os.Stdout,
		logger:  log.Logger,
	}
	if r.model == "" {
		r.model = DefaultModel
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.diag == nil {
		r.diag = io.Discard
	}
	return r
}

func (r *Responder) Model() string {
	return r.model
}

// Respond sends prompt to the provider and blocks until it answers.
// Every failure, including a panic inside the provider client, is returned
// as a failed Result after a diagnostic line is written.
func (r *Responder) Respond(ctx context.Context, prompt string) (res Result) {
	reqLog := r.logger.With().
		Str("request_id", uuid.NewString()).
		Str("model", r.model).
		Logger()

	defer func() {
		if p := recover(); p != nil {
			res = r.fail(reqLog, fmt.Errorf("provider panic: %v", p))
		}
	}()

	if r.apiKey == "" {
		return r.fail(reqLog, ErrCredentialNotSet)
	}

	client, err := r.factory(ctx, r.apiKey, r.model)
	if err != nil {
		return r.fail(reqLog, err)
	}

	reqLog.Debug().Str("provider", client.ID()).Int("prompt_len", len(prompt)).Msg("sending prompt")

	resp, err := client.Send(ctx, Request{Prompt: prompt})
	if err != nil {
		return r.fail(reqLog, err)
	}

	reqLog.Debug().Int("text_len", len(resp.Text)).Msg("prompt answered")
	return Success(resp.Text)
}

func (r *Responder) fail(reqLog zerolog.Logger, err error) Result {
	reqLog.Error().Err(err).Msg("prompt failed")
	fmt.Fprintf(r.diag, "An error occurred: %v\n", err)
	return Failure(err)
}
