package marionette

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/skarab42/pantin/internal/types"
)

// callResult is what the reader goroutine hands back to a waiting Call:
// either a decoded response or a fatal transport error.
type callResult struct {
	resp *response
	err  error
}

// Conn is a TCP socket to 127.0.0.1:<port> plus a monotonically
// increasing message id counter and an in-flight id -> waiter map (§3).
// Invariant: a single reader goroutine owns the socket read half; all
// callers serialize writes through writeMu.
type Conn struct {
	sock   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
	nextID  atomic.Int32

	mu      sync.Mutex
	waiters map[int32]chan callResult
	closed  bool
	lostErr error
}

// Connect opens a TCP connection to addr, reads the unsolicited
// handshake frame, and validates marionetteProtocol: 3 (§4.B).
func Connect(ctx context.Context, addr string, handshakeTimeout time.Duration) (*Conn, error) {
	dialer := net.Dialer{}
	sock, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("marionette: dial %s: %w", addr, err)
	}

	c := &Conn{
		sock:    sock,
		reader:  bufio.NewReader(sock),
		waiters: make(map[int32]chan callResult),
	}

	sock.SetReadDeadline(time.Now().Add(handshakeTimeout))
	payload, err := DecodeFrame(c.reader)
	sock.SetReadDeadline(time.Time{})
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("marionette: read handshake: %w", err)
	}

	var hs handshake
	if err := json.Unmarshal(payload, &hs); err != nil {
		sock.Close()
		return nil, fmt.Errorf("marionette: decode handshake: %w", err)
	}
	if hs.MarionetteProtocol != 3 {
		sock.Close()
		return nil, types.NewUnsupportedProtocolError(hs.MarionetteProtocol)
	}

	go c.readLoop()
	return c, nil
}

// Call allocates a message id, writes `[0, id, name, params]`, and
// blocks until the matching response arrives, ctx is cancelled, or the
// connection is lost.
func (c *Conn) Call(ctx context.Context, name string, params interface{}) (gson.JSON, error) {
	id := c.nextID.Add(1)
	ch := make(chan callResult, 1)

	c.mu.Lock()
	if c.closed {
		err := c.lostErr
		c.mu.Unlock()
		return gson.JSON{}, err
	}
	c.waiters[id] = ch
	c.mu.Unlock()

	req := request{id: id, name: name, params: params}
	frame, err := req.encode()
	if err != nil {
		c.removeWaiter(id)
		return gson.JSON{}, fmt.Errorf("marionette: encode %s: %w", name, err)
	}

	c.writeMu.Lock()
	_, werr := c.sock.Write(frame)
	c.writeMu.Unlock()
	if werr != nil {
		c.removeWaiter(id)
		return gson.JSON{}, fmt.Errorf("%w: %v", types.ErrConnectionLost, werr)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return gson.JSON{}, res.err
		}
		if !res.resp.ok {
			return gson.JSON{}, res.resp.err
		}
		return res.resp.result, nil

	case <-ctx.Done():
		// Cancellation correctness (§9): deregister before returning so
		// no zombie waiter is left for a response that may still arrive.
		c.removeWaiter(id)
		return gson.JSON{}, ctx.Err()
	}
}

func (c *Conn) removeWaiter(id int32) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}

// readLoop is the single background reader task (§4.B): it owns the
// socket read half, parses frames, and routes each response to the
// waiter registered under its msg_id. On exit, every pending waiter is
// failed with ConnectionLost.
func (c *Conn) readLoop() {
	for {
		payload, err := DecodeFrame(c.reader)
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", types.ErrConnectionLost, err))
			return
		}

		resp, err := parseResponse(payload)
		if err != nil {
			log.Warn().Err(err).Msg("marionette: dropping malformed frame")
			continue
		}

		c.mu.Lock()
		ch, ok := c.waiters[resp.id]
		if ok {
			delete(c.waiters, resp.id)
		}
		c.mu.Unlock()

		if ok {
			ch <- callResult{resp: resp}
		}
	}
}

// fail marks the connection closed and fails every pending waiter. Each
// call(id) resolves exactly once (§8): a waiter is either delivered a
// response above, or failed here, never both, since both paths delete
// the map entry before sending.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.lostErr = err
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- callResult{err: err}
	}
}

// Close tears down the socket. Safe to call once the connection is no
// longer needed; any in-flight Call will observe ConnectionLost.
func (c *Conn) Close() error {
	c.fail(types.ErrConnectionLost)
	return c.sock.Close()
}
