package context

import (
	context2 "context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
)

// Context is a small service wrapper that handles the startup/shutdown of services.
// Services are started in the order they were registered and shut down in reverse.
// Provides cross-service access while still maintaining separation of concerns
type Context struct {
	startOrder []string
	serviceMap map[string]Service
}

// NewCtx Create a new context containing the given services.
func NewCtx(svcs ...Service) (*Context, error) {
	ctx := Context{
		startOrder: make([]string, 0, len(svcs)),
		serviceMap: make(map[string]Service, len(svcs)),
	}

	for _, s := range svcs {
		if err := ctx.Register(s); err != nil {
			return nil, err
		}
	}

	return &ctx, nil
}

// Register a new service into the context and preserve the order passed
func (ctx *Context) Register(service Service) error {
	if _, ok := ctx.serviceMap[service.Id()]; ok {
		return fmt.Errorf("service %s already registered", service.Id())
	}

	ctx.startOrder = append(ctx.startOrder, service.Id())
	ctx.serviceMap[service.Id()] = service

	return nil
}

// Service Returns the given service.
// Note: once returned the service must be cast to the correct service
// Example: ctx.Service(RESPONDER_SVC).(*ResponderService)
func (ctx *Context) Service(id string) Service {
	return ctx.serviceMap[id]
}

// Run configures every service, then starts them in order.
// Start may block (e.g. a long poller or a read from stdin); SIGINT, SIGTERM
// or cancelling parent cancels the context passed to Start and shuts the
// services down, and a blocked Start must return on either. Services are
// always shut down once before Run returns.
func (ctx *Context) Run(parent context2.Context) error {
	runCtx, cancel := context2.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			for i := len(ctx.startOrder) - 1; i >= 0; i-- {
				svcId := ctx.startOrder[i]
				log.Debug().Str("service", svcId).Msg("Shutting down")
				ctx.serviceMap[svcId].Shutdown()
			}
		})
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("Received signal. Shutting down")
		case <-runCtx.Done():
		case <-done:
			return
		}
		cancel()
		shutdown()
	}()

	for _, svcId := range ctx.startOrder {
		if err := ctx.Configure(ctx.serviceMap[svcId]); err != nil {
			log.Error().Err(err).Str("service", svcId).Msg("Context Configure Error")
			return fmt.Errorf("configure %s: %w", svcId, err)
		}
	}

	defer shutdown()
	for _, svcId := range ctx.startOrder {
		if err := ctx.Start(runCtx, ctx.serviceMap[svcId]); err != nil {
			if errors.Is(err, context2.Canceled) {
				log.Debug().Str("service", svcId).Msg("Context Start cancelled")
			} else {
				log.Error().Err(err).Str("service", svcId).Msg("Context Start Error")
			}
			return fmt.Errorf("start %s: %w", svcId, err)
		}
	}

	return nil
}

// Configure the given service
func (ctx *Context) Configure(svc Service) error {
	log.Debug().Str("service", svc.Id()).Msg("Context Configure")

	return svc.Configure(ctx)
}

// Start the given service
func (ctx *Context) Start(runCtx context2.Context, svc Service) error {
	log.Debug().Str("service", svc.Id()).Msg("Context Start")

	return svc.Start(runCtx)
}

// Services returns the registered service ids in start order.
func (ctx *Context) Services() []string {
	out := make([]string, len(ctx.startOrder))
	copy(out, ctx.startOrder)
	return out
}
