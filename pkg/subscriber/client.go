package subscriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cuemby/comet/pkg/handler"
	"github.com/cuemby/comet/pkg/log"
	"github.com/cuemby/comet/pkg/metrics"
	"github.com/cuemby/comet/pkg/protocol"
	"github.com/cuemby/comet/pkg/types"
	"github.com/cuemby/comet/pkg/validator"
)

const (
	DefaultIdleTimeout  = 150 * time.Second
	DefaultMinBackoff   = time.Second
	DefaultMaxBackoff   = 60 * time.Second
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Config holds the settings for one remote subscription
type Config struct {
	Remote       string        // host:port of the remote broker's publisher
	LocalIVO     string        // Responder stamped into acks and keepalive replies
	IdleTimeout  time.Duration // Reconnect when the remote is silent this long; zero disables
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int
}

// Client subscribes to a remote broker and feeds its events into the local
// validation and handler pipelines. It reconnects with exponential backoff
// until stopped.
type Client struct {
	cfg        Config
	validators *validator.Pipeline
	handlers   *handler.Pipeline

	mu    sync.RWMutex
	state types.ConnState
	conn  net.Conn

	ctx      context.Context // Cancelled by Stop
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// New creates a client for cfg.Remote. Call Start to connect.
func New(cfg Config, validators *validator.Pipeline, handlers *handler.Pipeline) *Client {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = DefaultMaxBackoff
		if cfg.MaxBackoff < cfg.MinBackoff {
			cfg.MaxBackoff = cfg.MinBackoff
		}
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if validators == nil {
		validators = validator.NewPipeline()
	}
	if handlers == nil {
		handlers = handler.NewPipeline()
	}

	return &Client{
		cfg:        cfg,
		validators: validators,
		handlers:   handlers,
		state:      types.ConnStateDisconnected,
		done:       make(chan struct{}),
		logger: log.Logger.With().
			Str("component", "subscriber").
			Str("remote", cfg.Remote).
			Logger(),
	}
}

// Remote returns the address of the remote broker
func (c *Client) Remote() string {
	return c.cfg.Remote
}

// State returns the current connection state
func (c *Client) State() types.ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Start runs the connect loop in the background. ctx bounds handler
// invocations; Stop, not ctx, is the normal way to end the loop.
func (c *Client) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx, c.ctx)
}

// Stop ends the connect loop, closes the live connection and waits for the
// loop to exit. It is safe to call more than once, but Start must not be
// called after Stop.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			close(c.done)
			return
		}
		c.cancel()

		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()

		<-c.done
		c.logger.Info().Msg("Subscription stopped")
	})
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.MinBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0 // Retry forever
	b.Reset()
	return b
}

func (c *Client) run(baseCtx, ctx context.Context) {
	defer close(c.done)
	defer c.setState(types.ConnStateDisconnected, nil)

	component := metrics.RemoteComponent(c.cfg.Remote)
	metrics.RegisterComponent(component, false, string(types.ConnStateConnecting))
	defer metrics.RemoveComponent(component)

	b := c.newBackOff()
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}

	for {
		c.setState(types.ConnStateConnecting, nil)
		metrics.RemoteConnectAttemptsTotal.WithLabelValues(c.cfg.Remote).Inc()

		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Remote)
		if err == nil {
			if !c.setState(types.ConnStateActive, conn) {
				_ = conn.Close()
				return
			}
			b.Reset()
			metrics.RemoteConnected.WithLabelValues(c.cfg.Remote).Set(1)
			metrics.UpdateComponent(component, true, string(types.ConnStateActive))
			c.logger.Info().Msg("Subscribed to remote broker")

			err = c.session(baseCtx, conn)

			metrics.RemoteConnected.WithLabelValues(c.cfg.Remote).Set(0)
			_ = conn.Close()
		}
		reason := string(types.ConnStateDisconnected)
		if err != nil {
			reason = err.Error()
		}
		metrics.UpdateComponent(component, false, reason)

		c.setState(types.ConnStateDisconnected, nil)
		if ctx.Err() != nil {
			return
		}

		wait := b.NextBackOff()
		c.logger.Warn().
			Err(err).
			Dur("retry_in", wait).
			Msg("Connection to remote broker lost")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// setState records the state and the live connection. Moving to Active is
// refused once Stop has begun.
func (c *Client) setState(state types.ConnState, conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state == types.ConnStateActive && c.ctx.Err() != nil {
		return false
	}
	c.state = state
	c.conn = conn
	return true
}

// session reads frames until the connection fails. It always returns a
// non-nil error describing why the session ended.
func (c *Client) session(ctx context.Context, conn net.Conn) error {
	for {
		if c.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}

		frame, err := protocol.ReadFrame(conn, c.cfg.MaxFrameSize)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return fmt.Errorf("remote closed the connection")
			case errors.Is(err, os.ErrDeadlineExceeded):
				return fmt.Errorf("no traffic for %s", c.cfg.IdleTimeout)
			case protocol.IsProtocolViolation(err):
				metrics.ProtocolErrorsTotal.WithLabelValues(string(types.ConnRoleRemote)).Inc()
			}
			return err
		}

		if err := c.handleFrame(ctx, conn, frame); err != nil {
			return err
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, conn net.Conn, frame []byte) error {
	kind, err := protocol.Classify(frame)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Unparseable document from remote")
		return c.reply(conn, protocol.NewAckMessage(c.stamp(types.Ack{Reason: "unparseable document: " + err.Error()})))
	}

	if kind == protocol.KindTransport {
		msg, err := protocol.ParseTransport(frame)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Ignoring malformed transport message")
			return nil
		}
		if msg.Role == protocol.TransportIAmAlive {
			c.logger.Debug().Str("origin", msg.Origin).Msg("Keepalive from remote")
			return c.reply(conn, protocol.NewIAmAliveReply(msg.Origin, c.cfg.LocalIVO))
		}
		return nil
	}

	ev, err := protocol.ParseEvent(frame, c.cfg.Remote, time.Now().UTC())
	if err != nil {
		c.logger.Warn().Err(err).Msg("Unparseable VOEvent from remote")
		return c.reply(conn, protocol.NewAckMessage(c.stamp(types.Ack{Reason: "unparseable document: " + err.Error()})))
	}

	source := metrics.SourceRemote
	metrics.EventsReceivedTotal.WithLabelValues(source).Inc()

	result := c.validators.Run(ctx, ev)
	ack := c.stamp(types.Ack{IVORN: ev.IVORN, Accepted: result.Accepted, Reason: result.Reason})

	if !result.Accepted {
		metrics.EventsRejectedTotal.WithLabelValues(source, result.Validator).Inc()
		c.logger.Debug().
			Str("ivorn", ev.IVORN).
			Str("validator", result.Validator).
			Str("reason", result.Reason).
			Msg("Event from remote rejected")
		return c.reply(conn, protocol.NewAckMessage(ack))
	}

	metrics.EventsAcceptedTotal.WithLabelValues(source).Inc()
	c.logger.Info().Str("ivorn", ev.IVORN).Msg("Event from remote accepted")

	err = c.reply(conn, protocol.NewAckMessage(ack))
	c.handlers.Run(ctx, ev)
	return err
}

func (c *Client) stamp(ack types.Ack) types.Ack {
	ack.Responder = c.cfg.LocalIVO
	ack.Timestamp = time.Now().UTC()
	return ack
}

func (c *Client) reply(conn net.Conn, payload []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := protocol.WriteFrame(conn, payload); err != nil {
		return fmt.Errorf("failed to reply to remote: %w", err)
	}
	return nil
}
