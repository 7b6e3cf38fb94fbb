package publisher

import (
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// peer is one connected subscriber. Frames are written by its own goroutine
// so a slow subscriber never blocks a broadcast.
type peer struct {
	id        string
	conn      net.Conn
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

// enqueue queues frame without blocking and reports whether it fit
func (pr *peer) enqueue(frame []byte) bool {
	select {
	case <-pr.done:
		return false
	default:
	}

	select {
	case pr.queue <- frame:
		return true
	default:
		return false
	}
}

func (pr *peer) close() {
	pr.closeOnce.Do(func() {
		close(pr.done)
		_ = pr.conn.Close()
	})
}
