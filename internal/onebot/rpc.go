package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTimeout reports an action whose response never arrived.
var ErrTimeout = errors.New("onebot: action timed out")

// RemoteError is a response the backend explicitly failed.
type RemoteError struct {
	Action  string
	RetCode int
	Msg     string
}

func (e *RemoteError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("onebot: %s failed (retcode %d): %s", e.Action, e.RetCode, e.Msg)
	}
	return fmt.Sprintf("onebot: %s failed (retcode %d)", e.Action, e.RetCode)
}

const callTimeout = 5 * time.Second

// Caller issues OneBot actions over a Conn and matches responses back to
// waiters by echo token. A lost connection fails every in-flight call
// immediately instead of letting them ride out the timeout.
type Caller struct {
	conn    *Conn
	log     *zap.SugaredLogger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan apiResponse

	latency *latencyWindow
}

// NewCaller wires a caller to conn. It takes over the connection's response
// and disconnect hooks, so build it before conn.Start.
func NewCaller(conn *Conn, log *zap.SugaredLogger) *Caller {
	c := &Caller{
		conn:    conn,
		log:     log,
		timeout: callTimeout,
		pending: make(map[string]chan apiResponse),
		latency: newLatencyWindow(),
	}
	conn.onResponse = c.dispatch
	conn.onDisconnect = c.failAll
	return c
}

// Call sends an action and waits for its correlated response. The returned
// data is the raw response payload for the caller to decode. Errors are
// ErrNotConnected, ErrTimeout, ctx.Err(), or *RemoteError.
func (c *Caller) Call(ctx context.Context, action string, params any) (json.RawMessage, error) {
	echo := uuid.NewString()
	ch := make(chan apiResponse, 1)

	c.mu.Lock()
	c.pending[echo] = ch
	c.mu.Unlock()

	start := time.Now()
	if err := c.conn.WriteJSON(apiRequest{Action: action, Params: params, Echo: echo}); err != nil {
		c.drop(echo)
		return nil, fmt.Errorf("%s: %w", action, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: %w", action, ErrNotConnected)
		}
		c.latency.Record(time.Since(start))
		if resp.Status == "failed" || resp.RetCode > 1 {
			msg := resp.Msg
			if msg == "" {
				msg = resp.Wording
			}
			return nil, &RemoteError{Action: action, RetCode: resp.RetCode, Msg: msg}
		}
		return resp.Data, nil
	case <-timer.C:
		c.drop(echo)
		return nil, fmt.Errorf("%s: %w", action, ErrTimeout)
	case <-ctx.Done():
		c.drop(echo)
		return nil, ctx.Err()
	}
}

// Notify sends an action without an echo token and does not wait.
func (c *Caller) Notify(action string, params any) error {
	if err := c.conn.WriteJSON(apiRequest{Action: action, Params: params}); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	return nil
}

// Stats summarizes in-flight and recent call activity.
type CallStats struct {
	Pending    int           `json:"pending"`
	AvgLatency time.Duration `json:"avgLatency"`
	Samples    int           `json:"samples"`
}

func (c *Caller) Stats() CallStats {
	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()
	return CallStats{
		Pending:    pending,
		AvgLatency: c.latency.Avg(),
		Samples:    c.latency.Count(),
	}
}

func (c *Caller) dispatch(resp apiResponse) {
	c.mu.Lock()
	ch, ok := c.pending[resp.Echo]
	if ok {
		delete(c.pending, resp.Echo)
	}
	c.mu.Unlock()
	if !ok {
		// Late response after timeout or a frame we never asked for.
		c.log.Debugf("unmatched response echo=%s status=%s", resp.Echo, resp.Status)
		return
	}
	ch <- resp
}

// failAll closes every pending waiter when the connection drops.
func (c *Caller) failAll() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan apiResponse)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	if len(pending) > 0 {
		c.log.Warnf("connection lost, failed %d pending calls", len(pending))
	}
}

func (c *Caller) drop(echo string) {
	c.mu.Lock()
	delete(c.pending, echo)
	c.mu.Unlock()
}
