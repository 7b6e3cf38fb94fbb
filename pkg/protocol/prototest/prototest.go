// Package prototest provides VOEvent fixtures and wire helpers for tests.
package prototest

import (
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/comet/pkg/protocol"
	"github.com/cuemby/comet/pkg/types"
)

// VOEvent returns a minimal schema-valid VOEvent 2.0 document
func VOEvent(ivorn string, role types.Role) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<voe:VOEvent xmlns:voe="http://www.ivoa.net/xml/VOEvent/v2.0" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" ivorn="%s" role="%s" version="2.0">
  <Who>
    <AuthorIVORN>ivo://test/author</AuthorIVORN>
    <Date>2026-10-19T12:00:00</Date>
  </Who>
  <What>
    <Param name="snr" value="12.3"/>
    <Group name="event parameters">
      <Param name="dm" value="556.1" unit="pc/cm^3"/>
    </Group>
  </What>
  <WhereWhen/>
  <Description>test event</Description>
</voe:VOEvent>
`, ivorn, role))
}

// Send writes one framed payload to conn, failing the test on error
func Send(t testing.TB, conn net.Conn, payload []byte) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := protocol.WriteFrame(conn, payload); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

// Receive reads one frame from conn with a timeout, failing the test on error
func Receive(t testing.TB, conn net.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	frame, err := protocol.ReadFrame(conn, 0)
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return frame
}

// ReceiveAck reads one frame and decodes it as an ack or nak
func ReceiveAck(t testing.TB, conn net.Conn) types.Ack {
	t.Helper()
	msg, err := protocol.ParseTransport(Receive(t, conn))
	if err != nil {
		t.Fatalf("expected transport message: %v", err)
	}
	if msg.Role != protocol.TransportAck && msg.Role != protocol.TransportNak {
		t.Fatalf("expected ack or nak, got %q", msg.Role)
	}
	return msg.Ack()
}

// FailingListener is a net.Listener whose Accept always fails with Err
type FailingListener struct {
	Err   error
	calls atomic.Int64
}

func (l *FailingListener) Accept() (net.Conn, error) {
	l.calls.Add(1)
	return nil, l.Err
}

func (l *FailingListener) Close() error { return nil }

func (l *FailingListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

// Calls returns how many times Accept has been called
func (l *FailingListener) Calls() int64 {
	return l.calls.Load()
}
