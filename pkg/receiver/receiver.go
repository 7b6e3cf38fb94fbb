package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cuemby/comet/pkg/handler"
	"github.com/cuemby/comet/pkg/log"
	"github.com/cuemby/comet/pkg/metrics"
	"github.com/cuemby/comet/pkg/protocol"
	"github.com/cuemby/comet/pkg/types"
	"github.com/cuemby/comet/pkg/validator"
	"github.com/cuemby/comet/pkg/whitelist"
)

const (
	// DefaultListenAddr is the conventional VOEvent author port
	DefaultListenAddr = ":8098"

	DefaultIdleTimeout  = 5 * time.Minute
	DefaultWriteTimeout = 10 * time.Second
)

// Config holds receiver configuration
type Config struct {
	ListenAddr   string               // Address authors connect to (default: :8098)
	LocalIVO     string               // Responder stamped into acks
	Whitelist    *whitelist.Whitelist // nil admits every author
	IdleTimeout  time.Duration        // Close connections silent for this long; zero disables
	WriteTimeout time.Duration
	RateLimit    float64 // Events per second per connection; zero disables
	Burst        int
	MaxFrameSize int
}

// Receiver accepts author connections and submits their events to the
// validation and handler pipelines
type Receiver struct {
	cfg        Config
	validators *validator.Pipeline
	handlers   *handler.Pipeline
	listener   net.Listener

	// baseCtx is the broker lifetime context handed to handlers
	baseCtx context.Context
	// waitCtx is cancelled by Stop to release rate limiter waits
	waitCtx    context.Context
	waitCancel context.CancelFunc

	mu    sync.Mutex
	conns map[string]net.Conn

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// New creates a receiver that runs every submitted event through validators
// and every accepted event through handlers
func New(cfg Config, validators *validator.Pipeline, handlers *handler.Pipeline) *Receiver {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if validators == nil {
		validators = validator.NewPipeline()
	}
	if handlers == nil {
		handlers = handler.NewPipeline()
	}

	return &Receiver{
		cfg:        cfg,
		validators: validators,
		handlers:   handlers,
		conns:      make(map[string]net.Conn),
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("receiver"),
	}
}

// Start binds the listener and begins accepting authors. ctx bounds the
// lifetime of handler invocations; closing a connection never cancels it.
func (r *Receiver) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.cfg.ListenAddr, err)
	}
	r.listener = ln
	r.baseCtx = ctx
	r.waitCtx, r.waitCancel = context.WithCancel(ctx)

	r.logger.Info().
		Str("address", ln.Addr().String()).
		Bool("whitelist", !r.cfg.Whitelist.Empty()).
		Msg("Receiver listening for authors")

	r.wg.Add(1)
	go r.acceptLoop()
	return nil
}

// Addr returns the bound listener address, or nil before Start
func (r *Receiver) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// ActiveConnections returns the number of open author connections
func (r *Receiver) ActiveConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Stop closes the listener and all author connections and waits for their
// goroutines to finish. It is safe to call more than once.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.waitCancel != nil {
			r.waitCancel()
		}
		if r.listener != nil {
			_ = r.listener.Close()
		}

		r.mu.Lock()
		for _, conn := range r.conns {
			_ = conn.Close()
		}
		r.mu.Unlock()

		r.wg.Wait()
		r.logger.Info().Msg("Receiver stopped")
	})
}

func (r *Receiver) acceptLoop() {
	defer r.wg.Done()
	failures := 0
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}

			failures++
			delay := protocol.AcceptBackoff(failures)
			r.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Failed to accept author connection")
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-r.stopCh:
				timer.Stop()
				return
			}
			continue
		}
		failures = 0

		id := uuid.New().String()
		logger := log.WithRemote("receiver", conn.RemoteAddr().String(), id)
		logger.Debug().Str("state", string(types.ConnStateConnected)).Msg("Connection opened")

		if !r.cfg.Whitelist.Admit(conn.RemoteAddr()) {
			metrics.ConnectionsTotal.WithLabelValues(string(types.ConnRoleAuthor), "rejected").Inc()
			logger.Info().
				Str("state", string(types.ConnStateClosed)).
				Msg("Author not in whitelist, closing connection")
			_ = conn.Close()
			continue
		}
		metrics.ConnectionsTotal.WithLabelValues(string(types.ConnRoleAuthor), "accepted").Inc()
		logger.Debug().Str("state", string(types.ConnStateAuthenticating)).Msg("Author admitted by whitelist")

		if !r.track(id, conn) {
			_ = conn.Close()
			return
		}

		r.wg.Add(1)
		go r.serve(id, conn, logger)
	}
}

// track registers conn unless the receiver is stopping
func (r *Receiver) track(id string, conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.stopCh:
		return false
	default:
	}
	r.conns[id] = conn
	return true
}

func (r *Receiver) untrack(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// serve handles one author connection: every VOEvent frame is answered with
// exactly one ack or nak before the next frame is read.
func (r *Receiver) serve(id string, conn net.Conn, logger zerolog.Logger) {
	defer r.wg.Done()
	defer r.untrack(id)
	defer conn.Close()

	role := string(types.ConnRoleAuthor)
	metrics.ConnectionsActive.WithLabelValues(role).Inc()
	defer metrics.ConnectionsActive.WithLabelValues(role).Dec()

	active := false

	var limiter *rate.Limiter
	if r.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.RateLimit), r.cfg.Burst)
	}

	for {
		if r.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(r.cfg.IdleTimeout))
		}

		frame, err := protocol.ReadFrame(conn, r.cfg.MaxFrameSize)
		if err != nil {
			r.logClose(logger, err)
			return
		}
		if !active {
			active = true
			logger.Info().Str("state", string(types.ConnStateActive)).Msg("Author connected")
		}

		if limiter != nil {
			if err := limiter.Wait(r.waitCtx); err != nil {
				logger.Debug().Err(err).Msg("Rate limiter wait aborted")
				return
			}
		}

		if !r.handleFrame(conn, frame, logger) {
			logger.Debug().Str("state", string(types.ConnStateClosed)).Msg("Connection closed after failed write")
			return
		}
	}
}

// handleFrame processes one frame and reports whether the connection is
// still usable
func (r *Receiver) handleFrame(conn net.Conn, frame []byte, logger zerolog.Logger) bool {
	kind, err := protocol.Classify(frame)
	if err != nil {
		logger.Warn().Err(err).Msg("Unparseable document from author")
		return r.reply(conn, types.Ack{Reason: "unparseable document: " + err.Error()}, logger)
	}
	if kind == protocol.KindTransport {
		logger.Debug().Msg("Ignoring transport message from author")
		return true
	}

	ev, err := protocol.ParseEvent(frame, conn.RemoteAddr().String(), time.Now().UTC())
	if err != nil {
		logger.Warn().Err(err).Msg("Unparseable VOEvent from author")
		return r.reply(conn, types.Ack{Reason: "unparseable document: " + err.Error()}, logger)
	}

	source := metrics.SourceAuthor
	metrics.EventsReceivedTotal.WithLabelValues(source).Inc()

	result := r.validators.Run(r.baseCtx, ev)
	ack := types.Ack{
		IVORN:    ev.IVORN,
		Accepted: result.Accepted,
		Reason:   result.Reason,
	}

	if !result.Accepted {
		metrics.EventsRejectedTotal.WithLabelValues(source, result.Validator).Inc()
		logger.Info().
			Str("ivorn", ev.IVORN).
			Str("validator", result.Validator).
			Str("reason", result.Reason).
			Msg("Event rejected")
		return r.reply(conn, ack, logger)
	}

	metrics.EventsAcceptedTotal.WithLabelValues(source).Inc()
	logger.Info().
		Str("ivorn", ev.IVORN).
		Str("role", string(ev.Role)).
		Bool("retraction", ev.IsRetraction()).
		Msg("Event accepted")

	ok := r.reply(conn, ack, logger)
	r.handlers.Run(r.baseCtx, ev)
	return ok
}

// reply sends an ack or nak stamped with the local IVO
func (r *Receiver) reply(conn net.Conn, ack types.Ack, logger zerolog.Logger) bool {
	ack.Responder = r.cfg.LocalIVO
	ack.Timestamp = time.Now().UTC()

	_ = conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	if err := protocol.WriteFrame(conn, protocol.NewAckMessage(ack)); err != nil {
		logger.Warn().Err(err).Str("ivorn", ack.IVORN).Msg("Failed to send acknowledgement")
		return false
	}
	return true
}

func (r *Receiver) logClose(logger zerolog.Logger, err error) {
	logger = logger.With().Str("state", string(types.ConnStateClosed)).Logger()
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug().Msg("Author disconnected")
	case protocol.IsProtocolViolation(err):
		metrics.ProtocolErrorsTotal.WithLabelValues(string(types.ConnRoleAuthor)).Inc()
		logger.Warn().Err(err).Msg("Protocol violation, closing connection")
	case errors.Is(err, os.ErrDeadlineExceeded):
		logger.Info().Msg("Author idle, closing connection")
	default:
		logger.Debug().Err(err).Msg("Connection closed")
	}
}
