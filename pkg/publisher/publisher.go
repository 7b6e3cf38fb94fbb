package publisher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/comet/pkg/log"
	"github.com/cuemby/comet/pkg/metrics"
	"github.com/cuemby/comet/pkg/protocol"
	"github.com/cuemby/comet/pkg/types"
	"github.com/cuemby/comet/pkg/whitelist"
)

const (
	// DefaultListenAddr is the conventional VOEvent subscriber port
	DefaultListenAddr = ":8099"

	DefaultKeepaliveInterval = 60 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultQueueSize         = 64

	// relayBuffer bounds the events waiting for the run loop
	relayBuffer = 100
)

// Reasons a subscriber is removed, used as metric labels
const (
	DropQueueFull    = "queue_full"
	DropWriteError   = "write_error"
	DropDisconnected = "disconnected"
	DropShutdown     = "shutdown"
)

// ErrStopped is returned by Publish once the publisher has been stopped
var ErrStopped = errors.New("publisher stopped")

// Config holds publisher configuration
type Config struct {
	ListenAddr        string               // Address subscribers connect to (default: :8099)
	LocalIVO          string               // Stamped into keepalives
	Whitelist         *whitelist.Whitelist // nil admits every subscriber
	KeepaliveInterval time.Duration        // Zero disables keepalives
	WriteTimeout      time.Duration
	QueueSize         int // Frames buffered per subscriber before it is dropped
	MaxFrameSize      int
}

// Publisher fans accepted events out to every connected subscriber
type Publisher struct {
	cfg      Config
	listener net.Listener

	mu    sync.RWMutex
	peers map[string]*peer

	relayCh  chan *types.Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// New creates a publisher. Call Start to begin accepting subscribers.
func New(cfg Config) *Publisher {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	return &Publisher{
		cfg:     cfg,
		peers:   make(map[string]*peer),
		relayCh: make(chan *types.Event, relayBuffer),
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("publisher"),
	}
}

// Start binds the listener and starts the accept, relay and keepalive loops
func (p *Publisher) Start() error {
	ln, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.ListenAddr, err)
	}
	p.listener = ln

	p.logger.Info().
		Str("address", ln.Addr().String()).
		Msg("Publisher listening for subscribers")

	p.wg.Add(2)
	go p.acceptLoop()
	go p.run()

	if p.cfg.KeepaliveInterval > 0 {
		p.wg.Add(1)
		go p.keepaliveLoop()
	}
	return nil
}

// Addr returns the bound listener address, or nil before Start
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop closes the listener and every subscriber connection. It is safe to
// call more than once.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.listener != nil {
			_ = p.listener.Close()
		}

		p.mu.Lock()
		peers := make([]*peer, 0, len(p.peers))
		for _, pr := range p.peers {
			peers = append(peers, pr)
		}
		p.mu.Unlock()

		for _, pr := range peers {
			p.remove(pr, DropShutdown)
		}
		p.wg.Wait()

		p.logger.Info().Msg("Publisher stopped")
	})
}

// Publish queues ev for broadcast by the run loop. It blocks while the relay
// buffer is full, until ctx is done or the publisher stops.
func (p *Publisher) Publish(ctx context.Context, ev *types.Event) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}

	select {
	case p.relayCh <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrStopped
	}
}

// Broadcast sends ev to every subscriber connected at the time of the call
// and returns how many it was queued for. A subscriber whose queue is full
// is dropped without affecting the others.
func (p *Publisher) Broadcast(ev *types.Event) int {
	metrics.BroadcastsTotal.Inc()
	sent := p.broadcastFrame(ev.Raw)

	p.logger.Debug().
		Str("ivorn", ev.IVORN).
		Int("subscribers", sent).
		Msg("Event broadcast")
	return sent
}

// SubscriberCount returns the number of connected subscribers
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.peers)
}

func (p *Publisher) broadcastFrame(frame []byte) int {
	p.mu.RLock()
	snapshot := make([]*peer, 0, len(p.peers))
	for _, pr := range p.peers {
		snapshot = append(snapshot, pr)
	}
	p.mu.RUnlock()

	sent := 0
	for _, pr := range snapshot {
		if pr.enqueue(frame) {
			sent++
			continue
		}
		p.remove(pr, DropQueueFull)
	}
	return sent
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.relayCh:
			p.Broadcast(ev)
		case <-p.stopCh:
			if n := p.discardPending(); n > 0 {
				p.logger.Warn().Int("events", n).Msg("Discarded relayed events at shutdown")
			}
			return
		}
	}
}

// discardPending empties the relay channel and returns how many events it
// held
func (p *Publisher) discardPending() int {
	n := 0
	for {
		select {
		case <-p.relayCh:
			n++
		default:
			return n
		}
	}
}

func (p *Publisher) keepaliveLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.broadcastFrame(protocol.NewIAmAlive(p.cfg.LocalIVO))
		case <-p.stopCh:
			return
		}
	}
}

func (p *Publisher) acceptLoop() {
	defer p.wg.Done()
	failures := 0
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}

			failures++
			delay := protocol.AcceptBackoff(failures)
			p.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Failed to accept subscriber")
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-p.stopCh:
				timer.Stop()
				return
			}
			continue
		}
		failures = 0

		if !p.cfg.Whitelist.Admit(conn.RemoteAddr()) {
			metrics.ConnectionsTotal.WithLabelValues(string(types.ConnRoleSubscriber), "rejected").Inc()
			p.logger.Info().
				Str("remote", conn.RemoteAddr().String()).
				Msg("Subscriber not in whitelist, closing connection")
			_ = conn.Close()
			continue
		}

		metrics.ConnectionsTotal.WithLabelValues(string(types.ConnRoleSubscriber), "accepted").Inc()
		p.addPeer(conn)
	}
}

// addPeer registers conn as a subscriber and starts its writer and reader.
// It returns nil, closing conn, once the publisher is stopping.
func (p *Publisher) addPeer(conn net.Conn) *peer {
	id := uuid.New().String()
	pr := &peer{
		id:     id,
		conn:   conn,
		queue:  make(chan []byte, p.cfg.QueueSize),
		done:   make(chan struct{}),
		logger: log.WithRemote("publisher", conn.RemoteAddr().String(), id),
	}

	p.mu.Lock()
	select {
	case <-p.stopCh:
		p.mu.Unlock()
		_ = conn.Close()
		return nil
	default:
	}
	p.peers[id] = pr
	p.mu.Unlock()

	metrics.ConnectionsActive.WithLabelValues(string(types.ConnRoleSubscriber)).Inc()
	pr.logger.Info().Msg("Subscriber connected")

	p.wg.Add(2)
	go p.writeLoop(pr)
	go p.readLoop(pr)
	return pr
}

// remove drops pr from the subscriber set and closes its connection
func (p *Publisher) remove(pr *peer, reason string) {
	p.mu.Lock()
	current, ok := p.peers[pr.id]
	if ok && current == pr {
		delete(p.peers, pr.id)
	}
	p.mu.Unlock()

	if !ok || current != pr {
		return
	}

	pr.close()
	metrics.ConnectionsActive.WithLabelValues(string(types.ConnRoleSubscriber)).Dec()
	metrics.SubscribersDroppedTotal.WithLabelValues(reason).Inc()
	pr.logger.Info().Str("reason", reason).Msg("Subscriber removed")
}

func (p *Publisher) writeLoop(pr *peer) {
	defer p.wg.Done()
	for {
		select {
		case frame := <-pr.queue:
			_ = pr.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
			if err := protocol.WriteFrame(pr.conn, frame); err != nil {
				pr.logger.Warn().Err(err).Msg("Failed to write to subscriber")
				p.remove(pr, DropWriteError)
				return
			}
		case <-pr.done:
			return
		}
	}
}

// readLoop consumes what the subscriber sends back. Acks and keepalive
// replies are logged only; the subscriber leaving ends the loop.
func (p *Publisher) readLoop(pr *peer) {
	defer p.wg.Done()
	for {
		frame, err := protocol.ReadFrame(pr.conn, p.cfg.MaxFrameSize)
		if err != nil {
			if protocol.IsProtocolViolation(err) {
				metrics.ProtocolErrorsTotal.WithLabelValues(string(types.ConnRoleSubscriber)).Inc()
				pr.logger.Warn().Err(err).Msg("Protocol violation from subscriber")
			}
			p.remove(pr, DropDisconnected)
			return
		}

		msg, err := protocol.ParseTransport(frame)
		if err != nil {
			pr.logger.Debug().Err(err).Msg("Ignoring unexpected document from subscriber")
			continue
		}

		switch msg.Role {
		case protocol.TransportAck:
			pr.logger.Debug().Str("ivorn", msg.Origin).Msg("Subscriber acknowledged event")
		case protocol.TransportNak:
			pr.logger.Debug().Str("ivorn", msg.Origin).Str("reason", msg.Result).Msg("Subscriber rejected event")
		case protocol.TransportIAmAlive:
			pr.logger.Debug().Str("responder", msg.Response).Msg("Subscriber is alive")
		}
	}
}
