package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/comet/pkg/protocol"
	"github.com/cuemby/comet/pkg/types"
)

// DefaultTimeout bounds a single submission round trip
const DefaultTimeout = 30 * time.Second

// Client submits VOEvents to a broker's receiver port as an author
type Client struct {
	conn    net.Conn
	timeout time.Duration
}

// NewClient connects to the receiver at addr
func NewClient(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

// WithTimeout sets the round trip timeout for each submission
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Submit sends one VOEvent document and waits for the broker's ack or nak.
// A nak is not an error: inspect Ack.Accepted.
func (c *Client) Submit(ctx context.Context, payload []byte) (types.Ack, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return types.Ack{}, err
	}

	// Unblock the read if ctx is cancelled before the broker answers
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		return types.Ack{}, fmt.Errorf("failed to send event: %w", err)
	}

	for {
		frame, err := protocol.ReadFrame(c.conn, 0)
		if err != nil {
			if ctx.Err() != nil {
				return types.Ack{}, ctx.Err()
			}
			return types.Ack{}, fmt.Errorf("failed to read acknowledgement: %w", err)
		}

		msg, err := protocol.ParseTransport(frame)
		if err != nil {
			return types.Ack{}, fmt.Errorf("unexpected reply from broker: %w", err)
		}
		if msg.Role == protocol.TransportIAmAlive {
			continue
		}
		return msg.Ack(), nil
	}
}

// Send connects to addr, submits payload and disconnects
func Send(ctx context.Context, addr string, payload []byte) (types.Ack, error) {
	c, err := NewClient(ctx, addr)
	if err != nil {
		return types.Ack{}, err
	}
	defer c.Close()
	return c.Submit(ctx, payload)
}
