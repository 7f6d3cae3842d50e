package context

import context2 "context"

// Service is a unit managed by a Context. Configure runs for every service
// before any Start, and Shutdown runs in reverse start order.
type Service interface {
	Id() string
	Configure(ctx *Context) error
	Start(ctx context2.Context) error
	Shutdown()
}

// DefaultService provides no-op lifecycle methods and access to sibling
// services. Embed it and override what is needed.
type DefaultService struct {
	ctx *Context
}

func (svc *DefaultService) Configure(ctx *Context) error {
	svc.ctx = ctx
	return nil
}

func (svc *DefaultService) Start(ctx context2.Context) error {
	return nil
}

func (svc *DefaultService) Shutdown() {}

// Service returns a sibling service by id, or nil when the service was not
// configured or the id is unknown.
func (svc *DefaultService) Service(id string) Service {
	if svc.ctx == nil {
		return nil
	}
	return svc.ctx.Service(id)
}
