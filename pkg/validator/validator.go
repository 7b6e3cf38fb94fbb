package validator

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/cuemby/comet/pkg/log"
	"github.com/cuemby/comet/pkg/metrics"
	"github.com/cuemby/comet/pkg/storage"
	"github.com/cuemby/comet/pkg/types"
)

// ErrDuplicate is the rejection returned for an IVORN the broker has already seen
var ErrDuplicate = errors.New("duplicate")

// Validator decides whether an event is accepted. A nil error accepts the
// event; any other error rejects it and its message becomes the nak reason.
type Validator interface {
	Name() string
	Validate(ctx context.Context, ev *types.Event) error
}

// Func adapts a plain function to the Validator interface
type Func struct {
	name string
	fn   func(ctx context.Context, ev *types.Event) error
}

// NewFunc returns a named Validator backed by fn
func NewFunc(name string, fn func(ctx context.Context, ev *types.Event) error) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Validate(ctx context.Context, ev *types.Event) error {
	return f.fn(ctx, ev)
}

// Result is the outcome of a pipeline run
type Result struct {
	Accepted  bool
	Validator string // Name of the rejecting validator
	Reason    string
}

// Pipeline runs validators in order and stops at the first rejection
type Pipeline struct {
	validators []Validator
}

// NewPipeline creates a pipeline from the given validators, in order
func NewPipeline(validators ...Validator) *Pipeline {
	return &Pipeline{validators: validators}
}

// Append adds validators to the end of the pipeline. It must not be called
// once the pipeline is in use.
func (p *Pipeline) Append(validators ...Validator) {
	p.validators = append(p.validators, validators...)
}

// Names returns the validator names in execution order
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.validators))
	for _, v := range p.validators {
		names = append(names, v.Name())
	}
	return names
}

// Run validates ev. Validators after a rejecting one are not invoked.
func (p *Pipeline) Run(ctx context.Context, ev *types.Event) Result {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ValidationDuration)

	for _, v := range p.validators {
		if err := v.Validate(ctx, ev); err != nil {
			return Result{
				Accepted:  false,
				Validator: v.Name(),
				Reason:    err.Error(),
			}
		}
	}
	return Result{Accepted: true}
}

// PreviouslySeen rejects events whose IVORN is already in the ledger and
// records the IVORN of every event it lets through.
type PreviouslySeen struct {
	ledger storage.Ledger
	logger zerolog.Logger
}

// CheckPreviouslySeen returns the deduplication validator backed by ledger
func CheckPreviouslySeen(ledger storage.Ledger) *PreviouslySeen {
	return &PreviouslySeen{
		ledger: ledger,
		logger: log.WithComponent("validator"),
	}
}

func (p *PreviouslySeen) Name() string { return "previously-seen" }

// Validate checks and records ev.IVORN in a single ledger transaction. A
// ledger failure is logged and the event treated as not yet recorded.
func (p *PreviouslySeen) Validate(_ context.Context, ev *types.Event) error {
	first, err := p.ledger.CheckAndRecord(ev.IVORN)
	if err != nil {
		metrics.LedgerErrorsTotal.Inc()
		p.logger.Warn().
			Err(err).
			Str("ivorn", ev.IVORN).
			Msg("Ledger check failed, accepting event")
		return nil
	}
	if !first {
		p.logger.Debug().Str("ivorn", ev.IVORN).Msg("Duplicate event")
		return ErrDuplicate
	}
	return nil
}
