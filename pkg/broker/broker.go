package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/comet/pkg/api"
	"github.com/cuemby/comet/pkg/config"
	"github.com/cuemby/comet/pkg/handler"
	"github.com/cuemby/comet/pkg/log"
	"github.com/cuemby/comet/pkg/metrics"
	"github.com/cuemby/comet/pkg/publisher"
	"github.com/cuemby/comet/pkg/receiver"
	"github.com/cuemby/comet/pkg/storage"
	"github.com/cuemby/comet/pkg/subscriber"
	"github.com/cuemby/comet/pkg/types"
	"github.com/cuemby/comet/pkg/validator"
	"github.com/cuemby/comet/pkg/whitelist"
)

const (
	collectInterval = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Broker wires the ledger, pipelines, receiver, publisher and remote
// subscriptions into one service
type Broker struct {
	cfg     *config.Config
	version string

	authorWhitelist     *whitelist.Whitelist
	subscriberWhitelist *whitelist.Whitelist
	remotes             []config.Remote

	extraValidators []validator.Validator
	extraHandlers   []handler.Handler
	plugins         []handler.Handler

	ledger     storage.Ledger
	validators *validator.Pipeline
	handlers   *handler.Pipeline
	publisher  *publisher.Publisher
	receiver   *receiver.Receiver
	clients    []*subscriber.Client
	collector  *metrics.Collector
	health     *api.HealthServer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	done     chan struct{}
	logger   zerolog.Logger
}

// Option customises a Broker
type Option func(*Broker)

// WithValidators appends validators after the built-in deduplication and
// schema checks
func WithValidators(v ...validator.Validator) Option {
	return func(b *Broker) {
		b.extraValidators = append(b.extraValidators, v...)
	}
}

// WithHandlers appends handlers after the built-in event relay
func WithHandlers(h ...handler.Handler) Option {
	return func(b *Broker) {
		b.extraHandlers = append(b.extraHandlers, h...)
	}
}

// WithVersion sets the version reported by the health endpoint
func WithVersion(version string) Option {
	return func(b *Broker) {
		b.version = version
	}
}

// New validates cfg and prepares a broker. Nothing is opened or bound until
// Start.
func New(cfg *config.Config, opts ...Option) (*Broker, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	authorWL, err := whitelist.New(cfg.Whitelist)
	if err != nil {
		return nil, fmt.Errorf("invalid whitelist: %w", err)
	}
	subscriberWL, err := whitelist.New(cfg.SubscriberWhitelist)
	if err != nil {
		return nil, fmt.Errorf("invalid subscriber whitelist: %w", err)
	}
	remotes, err := cfg.RemoteTargets()
	if err != nil {
		return nil, err
	}
	plugins, err := loadPlugins(cfg)
	if err != nil {
		return nil, err
	}

	b := &Broker{
		cfg:                 cfg,
		version:             "dev",
		authorWhitelist:     authorWL,
		subscriberWhitelist: subscriberWL,
		remotes:             remotes,
		plugins:             plugins,
		done:                make(chan struct{}),
		logger:              log.WithComponent("broker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Start opens the ledger and brings up every configured component. Failing
// to open the ledger or bind a listener is fatal; anything already started
// is stopped again. Cancelling ctx stops the broker.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("broker already started")
	}
	b.started = true
	b.mu.Unlock()

	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.start(); err != nil {
		b.Stop()
		return err
	}

	go func() {
		select {
		case <-b.ctx.Done():
			b.Stop()
		case <-b.done:
		}
	}()

	b.logger.Info().
		Str("local_ivo", b.cfg.LocalIVO).
		Strs("validators", b.validators.Names()).
		Strs("handlers", b.handlers.Names()).
		Int("remotes", len(b.remotes)).
		Msg("Broker started")
	return nil
}

func (b *Broker) start() error {
	ledger, err := storage.NewBoltLedger(b.cfg.IVORNDB)
	if err != nil {
		metrics.RegisterComponent(metrics.ComponentLedger, false, err.Error())
		return fmt.Errorf("failed to open IVORN ledger: %w", err)
	}
	b.ledger = ledger
	metrics.RegisterComponent(metrics.ComponentLedger, true, ledger.Path())

	b.validators = b.buildValidators()

	b.handlers = handler.NewPipeline()
	if b.cfg.PublisherAddr != "" {
		b.publisher = publisher.New(publisher.Config{
			ListenAddr:        b.cfg.PublisherAddr,
			LocalIVO:          b.cfg.LocalIVO,
			Whitelist:         b.subscriberWhitelist,
			KeepaliveInterval: b.cfg.Publisher.KeepaliveInterval,
			WriteTimeout:      b.cfg.Publisher.WriteTimeout,
			QueueSize:         b.cfg.Publisher.QueueSize,
		})
		if err := b.publisher.Start(); err != nil {
			metrics.RegisterComponent(metrics.ComponentPublisher, false, err.Error())
			return err
		}
		metrics.RegisterComponent(metrics.ComponentPublisher, true, b.publisher.Addr().String())
		b.handlers.Append(handler.NewEventRelay(b.publisher))
	} else {
		metrics.RegisterComponent(metrics.ComponentPublisher, true, "disabled")
	}
	b.handlers.Append(b.extraHandlers...)
	b.handlers.Append(b.plugins...)

	if b.cfg.ReceiverAddr != "" {
		b.receiver = receiver.New(receiver.Config{
			ListenAddr:  b.cfg.ReceiverAddr,
			LocalIVO:    b.cfg.LocalIVO,
			Whitelist:   b.authorWhitelist,
			IdleTimeout: b.cfg.Receiver.IdleTimeout,
			RateLimit:   b.cfg.Receiver.RateLimit,
			Burst:       b.cfg.Receiver.Burst,
		}, b.validators, b.handlers)
		if err := b.receiver.Start(b.ctx); err != nil {
			metrics.RegisterComponent(metrics.ComponentReceiver, false, err.Error())
			return err
		}
		metrics.RegisterComponent(metrics.ComponentReceiver, true, b.receiver.Addr().String())
	} else {
		metrics.RegisterComponent(metrics.ComponentReceiver, true, "disabled")
	}

	for _, remote := range b.remotes {
		client := subscriber.New(subscriber.Config{
			Remote:      remote.Address(),
			LocalIVO:    b.cfg.LocalIVO,
			IdleTimeout: b.cfg.Subscriber.IdleTimeout,
			MinBackoff:  b.cfg.Subscriber.MinBackoff,
			MaxBackoff:  b.cfg.Subscriber.MaxBackoff,
			DialTimeout: b.cfg.Subscriber.DialTimeout,
		}, b.validators, b.handlers)
		client.Start(b.ctx)
		b.clients = append(b.clients, client)
	}

	b.collector = metrics.NewCollector(b, collectInterval)
	b.collector.Start()

	if b.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", b.cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", b.cfg.MetricsAddr, err)
		}
		b.health = api.NewHealthServer(b, b.version)
		go func() {
			if err := b.health.Serve(ln); err != nil {
				b.logger.Error().Err(err).Msg("Health server failed")
			}
		}()
		b.logger.Info().Str("address", ln.Addr().String()).Msg("Health and metrics endpoint listening")
	}
	return nil
}

// buildValidators orders deduplication and the schema check as configured,
// then appends any extra validators
func (b *Broker) buildValidators() *validator.Pipeline {
	dedup := validator.CheckPreviouslySeen(b.ledger)
	schema := validator.NewSchemaValidator()

	p := validator.NewPipeline(dedup, schema)
	if b.cfg.Validation.SchemaFirst {
		p = validator.NewPipeline(schema, dedup)
	}
	p.Append(b.extraValidators...)
	return p
}

// Stop shuts down remote subscriptions, the receiver, the publisher, the
// HTTP server and finally the ledger. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		defer close(b.done)

		for _, c := range b.clients {
			c.Stop()
		}
		if b.receiver != nil {
			b.receiver.Stop()
			metrics.UpdateComponent(metrics.ComponentReceiver, false, "stopped")
		}
		if b.publisher != nil {
			b.publisher.Stop()
			metrics.UpdateComponent(metrics.ComponentPublisher, false, "stopped")
		}
		if b.health != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := b.health.Shutdown(ctx); err != nil {
				b.logger.Warn().Err(err).Msg("Health server shutdown failed")
			}
			cancel()
		}
		if b.collector != nil {
			b.collector.Stop()
		}
		if b.cancel != nil {
			b.cancel()
		}
		if b.ledger != nil {
			if err := b.ledger.Close(); err != nil {
				b.logger.Warn().Err(err).Msg("Failed to close IVORN ledger")
			}
			metrics.UpdateComponent(metrics.ComponentLedger, false, "closed")
		}

		b.logger.Info().Msg("Broker stopped")
	})
}

// Wait blocks until the broker has stopped
func (b *Broker) Wait() {
	<-b.done
}

// ReceiverAddr returns the bound author address, or nil when disabled
func (b *Broker) ReceiverAddr() net.Addr {
	if b.receiver == nil {
		return nil
	}
	return b.receiver.Addr()
}

// PublisherAddr returns the bound subscriber address, or nil when disabled
func (b *Broker) PublisherAddr() net.Addr {
	if b.publisher == nil {
		return nil
	}
	return b.publisher.Addr()
}

// LedgerCount returns the number of IVORNs recorded
func (b *Broker) LedgerCount() (int, error) {
	if b.ledger == nil {
		return 0, fmt.Errorf("ledger not open")
	}
	return b.ledger.Count()
}

// SubscriberCount returns the number of connected subscribers
func (b *Broker) SubscriberCount() int {
	if b.publisher == nil {
		return 0
	}
	return b.publisher.SubscriberCount()
}

// RemoteStates returns the connection state of every remote subscription
func (b *Broker) RemoteStates() map[string]types.ConnState {
	states := make(map[string]types.ConnState, len(b.clients))
	for _, c := range b.clients {
		states[c.Remote()] = c.State()
	}
	return states
}
