package services

import (
	context2 "context"
	"errors"

	"github.com/requiem-ai/gemprompt/config"
	"github.com/requiem-ai/gemprompt/context"
	"github.com/requiem-ai/gemprompt/llm"
	"github.com/rs/zerolog/log"
)

// ResponderService owns the prompt responder shared by the frontends.
type ResponderService struct {
	context.DefaultService

	cfg       *config.Config
	opts      []llm.ResponderOption
	responder *llm.Responder
}

const RESPONDER_SVC = "responder_svc"

func NewResponderService(cfg *config.Config, opts ...llm.ResponderOption) *ResponderService {
	return &ResponderService{
		cfg:  cfg,
		opts: opts,
	}
}

func (svc ResponderService) Id() string {
	return RESPONDER_SVC
}

func (svc *ResponderService) Configure(ctx *context.Context) error {
	if err := svc.DefaultService.Configure(ctx); err != nil {
		return err
	}
	if svc.cfg == nil {
		return errors.New("responder service requires a config")
	}

	svc.responder = llm.NewResponder(llm.ResponderConfig{
		APIKey: svc.cfg.APIKey,
		Model:  svc.cfg.Model,
	}, svc.opts...)

	log.Debug().
		Str("model", svc.responder.Model()).
		Bool("credential_set", svc.cfg.APIKey != "").
		Msg("responder configured")

	return nil
}

func (svc *ResponderService) Respond(ctx context2.Context, prompt string) llm.Result {
	if svc.responder == nil {
		return llm.Failure(errors.New("responder service not configured"))
	}
	return svc.responder.Respond(ctx, prompt)
}

func responderFrom(svc *context.DefaultService) (*ResponderService, error) {
	found := svc.Service(RESPONDER_SVC)
	if found == nil {
		return nil, errors.New("responder service not available")
	}
	responder, ok := found.(*ResponderService)
	if !ok {
		return nil, errors.New("responder service has unexpected type")
	}
	return responder, nil
}
