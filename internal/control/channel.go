package control

import (
	"context"
	"encoding/json"
	"sync"
)

// Request is one raw message submitted to the channel, paired with the
// port its reply goes to. The port is closed when no reply will be sent.
type Request struct {
	Raw   []byte
	Reply chan<- []byte
}

// Channel pumps raw control requests through a handler. Malformed and
// unhandled messages are dropped at this boundary: their reply port is
// closed without a value and the engine never sees them.
type Channel struct {
	handler  *Handler
	requests chan Request

	mu     sync.Mutex
	closed bool
}

// NewChannel creates a control channel with a small request buffer.
func NewChannel(handler *Handler) *Channel {
	return &Channel{
		handler:  handler,
		requests: make(chan Request, 16),
	}
}

// Submit queues a raw message for dispatch. It returns false, closing
// the reply port, once the channel has shut down or when the buffer is
// full.
func (c *Channel) Submit(req Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(req.Reply)
		return false
	}
	select {
	case c.requests <- req:
		return true
	default:
		close(req.Reply)
		return false
	}
}

// Serve dispatches requests until ctx is cancelled. Each valid message
// gets exactly one JSON reply on its port. On shutdown, requests still
// buffered have their reply ports closed so callers fail fast.
func (c *Channel) Serve(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			c.shutdown()
			return
		}
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case req := <-c.requests:
			c.dispatch(ctx, req)
		}
	}
}

// shutdown stops intake, then closes the reply port of every request
// left in the buffer. Submit holds the same mutex for its send, so no
// request can slip in after the drain.
func (c *Channel) shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	for {
		select {
		case req := <-c.requests:
			close(req.Reply)
		default:
			return
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, req Request) {
	msg, err := DecodeMessage(req.Raw)
	if err != nil {
		c.handler.logger.Debug("dropping undecodable control message", "error", err)
		close(req.Reply)
		return
	}
	reply, err := c.handler.Handle(ctx, msg)
	if err != nil {
		c.handler.logger.Error("control message failed", "type", msg.Type, "error", err)
		close(req.Reply)
		return
	}
	encoded, err := json.Marshal(reply)
	if err != nil {
		c.handler.logger.Error("control reply encode failed", "type", msg.Type, "error", err)
		close(req.Reply)
		return
	}
	req.Reply <- encoded
	close(req.Reply)
}
