package onebot

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected reports a write attempted while the socket is down.
var ErrNotConnected = errors.New("onebot: not connected")

// ConnState is the lifecycle state of a Conn.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

const (
	dialTimeout    = 10 * time.Second
	maxBackoff     = 60 * time.Second
	eventQueueSize = 256
)

// Conn maintains one persistent WebSocket to a OneBot backend. It reconnects
// with capped exponential backoff until Stop is called; Stop is terminal.
//
// The read loop routes echo-correlated responses to the response handler
// before anything else, so an in-flight call can complete while event
// processing is stalled. Heartbeat meta events only refresh the liveness
// timestamp. Everything else is queued on Events; when the queue is full the
// frame is dropped with a warning rather than blocking the read loop.
type Conn struct {
	url         string
	accessToken string
	log         *zap.SugaredLogger

	// mu guards ws and serializes writes; gorilla allows one writer at a time.
	mu sync.Mutex
	ws *websocket.Conn

	state         atomic.Int32
	attempts      atomic.Int32 // consecutive failed dials
	lastHeartbeat atomic.Int64

	onResponse   func(apiResponse)
	onDisconnect func()

	events chan RawEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewConn builds a connection for the given endpoint. Start must be called
// before any traffic flows.
func NewConn(url, accessToken string, log *zap.SugaredLogger) *Conn {
	return &Conn{
		url:         url,
		accessToken: accessToken,
		log:         log,
		events:      make(chan RawEvent, eventQueueSize),
		done:        make(chan struct{}),
	}
}

// Events yields inbound event frames in arrival order.
func (c *Conn) Events() <-chan RawEvent { return c.events }

// State reports the current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Connected reports whether the socket is open.
func (c *Conn) Connected() bool { return c.State() == StateOpen }

// LastHeartbeat returns the arrival time of the most recent heartbeat, or
// the zero time if none has arrived on the current connection.
func (c *Conn) LastHeartbeat() time.Time {
	ns := c.lastHeartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Start launches the connect/read loop.
func (c *Conn) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop tears the connection down permanently.
func (c *Conn) Stop() {
	c.state.Store(int32(StateClosing))
	close(c.done)
	c.mu.Lock()
	if c.ws != nil {
		_ = c.ws.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	c.state.Store(int32(StateDisconnected))
}

// WriteJSON sends one frame. It fails fast with ErrNotConnected while the
// socket is down instead of queueing.
func (c *Conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil || c.State() != StateOpen {
		return ErrNotConnected
	}
	return c.ws.WriteJSON(v)
}

func (c *Conn) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.state.Store(int32(StateConnecting))
		ws, err := c.dial()
		if err != nil {
			c.state.Store(int32(StateDisconnected))
			delay := backoffDelay(int(c.attempts.Load()))
			n := c.attempts.Add(1)
			c.log.Warnf("connect %s failed (attempt %d, retry in %s): %v", c.url, n, delay, err)
			timer := time.NewTimer(delay)
			select {
			case <-c.done:
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		c.attempts.Store(0)
		c.lastHeartbeat.Store(0)
		c.mu.Lock()
		select {
		case <-c.done:
			// Stop raced the dial and already swept a nil socket.
			c.mu.Unlock()
			_ = ws.Close()
			return
		default:
		}
		c.ws = ws
		c.mu.Unlock()
		if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
			c.mu.Lock()
			c.ws = nil
			c.mu.Unlock()
			_ = ws.Close()
			return
		}
		c.log.Infof("connected to %s", c.url)

		c.readLoop(ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		_ = ws.Close()
		if c.State() != StateClosing {
			c.state.Store(int32(StateDisconnected))
		}
		if c.onDisconnect != nil {
			c.onDisconnect()
		}

		select {
		case <-c.done:
			return
		default:
			c.log.Warnf("connection to %s lost, reconnecting", c.url)
		}
	}
}

func (c *Conn) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}
	ws, resp, err := dialer.Dial(c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return ws, err
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.State() != StateClosing {
				c.log.Warnf("read: %v", err)
			}
			return
		}
		c.routeFrame(data)
	}
}

// frameProbe distinguishes action responses from events without a full decode.
type frameProbe struct {
	Echo     string `json:"echo"`
	PostType string `json:"post_type"`
}

func (c *Conn) routeFrame(data []byte) {
	var probe frameProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		c.log.Warnf("malformed frame: %v", err)
		return
	}

	// Responses first: a blocked event pipeline must never starve a waiter.
	if probe.PostType == "" {
		if probe.Echo == "" {
			return
		}
		var resp apiResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.log.Warnf("malformed response frame: %v", err)
			return
		}
		if c.onResponse != nil {
			c.onResponse(resp)
		}
		return
	}

	var ev RawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Warnf("malformed event frame: %v", err)
		return
	}

	if ev.PostType == "meta_event" && ev.MetaEventType == "heartbeat" {
		c.lastHeartbeat.Store(time.Now().UnixNano())
		return
	}

	select {
	case c.events <- ev:
	default:
		c.log.Warnf("event queue full, dropping %s/%s from %d", ev.PostType, ev.MessageType, ev.UserID.Int64())
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt >= 6 {
		return maxBackoff
	}
	d := time.Second << uint(attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
