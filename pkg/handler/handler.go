package handler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/comet/pkg/log"
	"github.com/cuemby/comet/pkg/metrics"
	"github.com/cuemby/comet/pkg/types"
)

// Handler acts on an accepted event. Errors are reported to the pipeline,
// which logs them; they never reach the connection that delivered the event.
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev *types.Event) error
}

// Func adapts a plain function to the Handler interface
type Func struct {
	name string
	fn   func(ctx context.Context, ev *types.Event) error
}

// NewFunc returns a named Handler backed by fn
func NewFunc(name string, fn func(ctx context.Context, ev *types.Event) error) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Handle(ctx context.Context, ev *types.Event) error {
	return f.fn(ctx, ev)
}

// Pipeline invokes every handler in order for each accepted event
type Pipeline struct {
	handlers []Handler
	logger   zerolog.Logger
}

// NewPipeline creates a pipeline from the given handlers, in order
func NewPipeline(handlers ...Handler) *Pipeline {
	return &Pipeline{
		handlers: handlers,
		logger:   log.WithComponent("handler"),
	}
}

// Append adds handlers to the end of the pipeline. It must not be called
// once the pipeline is in use.
func (p *Pipeline) Append(handlers ...Handler) {
	p.handlers = append(p.handlers, handlers...)
}

// Names returns the handler names in execution order
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.handlers))
	for _, h := range p.handlers {
		names = append(names, h.Name())
	}
	return names
}

// Run invokes every handler with ev, including those after a handler that
// failed or panicked, and returns the number of failures.
func (p *Pipeline) Run(ctx context.Context, ev *types.Event) int {
	failed := 0
	for _, h := range p.handlers {
		if err := p.invoke(ctx, h, ev); err != nil {
			failed++
			metrics.HandlerFailuresTotal.WithLabelValues(h.Name()).Inc()
			lg := log.WithIVORN(p.logger, ev.IVORN)
			lg.Error().
				Err(err).
				Str("handler", h.Name()).
				Msg("Event handler failed")
		}
	}
	return failed
}

func (p *Pipeline) invoke(ctx context.Context, h Handler, ev *types.Event) (err error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.HandlerDuration, h.Name())

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}
