package onebot

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testLog() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestConnDeliversEventsAndTracksHeartbeat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(
			`{"post_type":"meta_event","meta_event_type":"heartbeat","time":1700000000,"self_id":99999}`)))
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(
			`{"post_type":"message","message_type":"private","time":1700000001,"self_id":99999,"user_id":10001,"message_id":7,"raw_message":"hi","message":"hi"}`)))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn := NewConn(wsURL(srv), "", testLog())
	conn.Start()
	defer conn.Stop()

	select {
	case ev := <-conn.Events():
		assert.Equal(t, "message", ev.PostType)
		assert.Equal(t, int64(10001), ev.UserID.Int64())
	case <-time.After(3 * time.Second):
		t.Fatal("no event delivered")
	}

	// The heartbeat was consumed for liveness, not queued as an event.
	assert.Empty(t, conn.Events())
	assert.Eventually(t, func() bool {
		return !conn.LastHeartbeat().IsZero()
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, conn.Connected())
}

func TestConnSendsBearerToken(t *testing.T) {
	var mu sync.Mutex
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn := NewConn(wsURL(srv), "secret-token", testLog())
	conn.Start()
	defer conn.Stop()

	assert.Eventually(t, conn.Connected, 3*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestConnRoutesResponsesBeforeEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(
			`{"status":"ok","retcode":0,"data":{"message_id":42},"echo":"abc"}`)))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn := NewConn(wsURL(srv), "", testLog())
	got := make(chan apiResponse, 1)
	conn.onResponse = func(resp apiResponse) { got <- resp }
	conn.Start()
	defer conn.Stop()

	select {
	case resp := <-got:
		assert.Equal(t, "abc", resp.Echo)
		assert.Equal(t, "ok", resp.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("response not routed")
	}
	// Response frames never reach the event queue.
	assert.Empty(t, conn.Events())
}

func TestConnWriteWhileDown(t *testing.T) {
	conn := NewConn("ws://127.0.0.1:1/ws", "", testLog())
	err := conn.WriteJSON(apiRequest{Action: "send_msg"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnReconnects(t *testing.T) {
	var mu sync.Mutex
	connects := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connects++
		n := connects
		mu.Unlock()
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		if n == 1 {
			// Drop the first connection immediately.
			ws.Close()
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn := NewConn(wsURL(srv), "", testLog())
	disconnected := make(chan struct{}, 4)
	conn.onDisconnect = func() { disconnected <- struct{}{} }
	conn.Start()
	defer conn.Stop()

	select {
	case <-disconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("first connection never dropped")
	}
	assert.Eventually(t, conn.Connected, 5*time.Second, 20*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, connects, 2)
}

func TestConnAttemptResetOnConnect(t *testing.T) {
	var mu sync.Mutex
	rejects := 1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reject := rejects > 0
		if reject {
			rejects--
		}
		mu.Unlock()
		if reject {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn := NewConn(wsURL(srv), "", testLog())
	conn.Start()
	defer conn.Stop()

	// The rejected dial counts, and the one-second backoff holds it visible.
	require.Eventually(t, func() bool { return conn.attempts.Load() == 1 },
		time.Second, 5*time.Millisecond)
	require.Eventually(t, conn.Connected, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, conn.attempts.Load())
}

func TestConnStopIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn := NewConn(wsURL(srv), "", testLog())
	conn.Start()
	assert.Eventually(t, conn.Connected, 3*time.Second, 10*time.Millisecond)

	conn.Stop()
	assert.Equal(t, StateDisconnected, conn.State())
	assert.ErrorIs(t, conn.WriteJSON(apiRequest{Action: "send_msg"}), ErrNotConnected)
}

func TestConnStopDuringDial(t *testing.T) {
	dialing := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(dialing)
		// Stall the handshake so Stop lands while the dial is in flight.
		time.Sleep(500 * time.Millisecond)
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn := NewConn(wsURL(srv), "", testLog())
	conn.Start()

	select {
	case <-dialing:
	case <-time.After(3 * time.Second):
		t.Fatal("dial never reached the server")
	}

	stopped := make(chan struct{})
	go func() {
		conn.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatalf("Stop hung; state=%v", conn.State())
	}
	assert.Equal(t, StateDisconnected, conn.State())
	assert.ErrorIs(t, conn.WriteJSON(apiRequest{Action: "send_msg"}), ErrNotConnected)
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}
