package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/gluk-w/codelive/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 512
	maxFrameSize   = 4 << 20
)

// Conn is one client channel. Its ProjectID is fixed at connect time; the
// active room is owned by the Hub.
type Conn struct {
	ID        string
	Identity  auth.Identity
	ProjectID string

	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter

	closeOnce sync.Once

	// guarded by Hub.mu
	room string
}

func newConn(id string, identity auth.Identity, projectID string, limiter *rate.Limiter) *Conn {
	return &Conn{
		ID:        id,
		Identity:  identity,
		ProjectID: projectID,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		limiter:   limiter,
	}
}

// enqueue queues a frame without blocking. A full buffer drops the frame.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump reads frames until the socket fails or ctx ends. Frames over the
// rate limit are dropped.
func (c *Conn) readPump(ctx context.Context, handle func(Envelope), dropped func(reason string)) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		if c.limiter != nil && !c.limiter.Allow() {
			dropped("rate_limited")
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			dropped("malformed")
			continue
		}
		handle(env)
	}
}

// writePump is the only writer of the socket, so frames reach the client in
// the order they were queued.
func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case frame := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
