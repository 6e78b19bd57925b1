package onebot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend plays the OneBot server side: it announces an identity on
// connect, pushes scripted event frames, answers actions, and records every
// action it sees.
type fakeBackend struct {
	srv  *httptest.Server
	push chan string

	mu      sync.Mutex
	actions []apiRequest
}

func newFakeBackend(t *testing.T, respond func(action string, params map[string]any) any) *fakeBackend {
	t.Helper()
	b := &fakeBackend{push: make(chan string, 32)}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		var wmu sync.Mutex
		writeText := func(s string) {
			wmu.Lock()
			defer wmu.Unlock()
			_ = ws.WriteMessage(websocket.TextMessage, []byte(s))
		}
		writeText(`{"post_type":"meta_event","meta_event_type":"lifecycle","sub_type":"connect","time":1700000000,"self_id":99999}`)
		go func() {
			for s := range b.push {
				writeText(s)
			}
		}()
		for {
			var req apiRequest
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			b.mu.Lock()
			b.actions = append(b.actions, req)
			b.mu.Unlock()
			if req.Echo == "" {
				continue
			}
			var data any
			if respond != nil {
				params, _ := req.Params.(map[string]any)
				data = respond(req.Action, params)
			}
			resp := map[string]any{"status": "ok", "retcode": 0, "echo": req.Echo}
			if data != nil {
				resp["data"] = data
			}
			wmu.Lock()
			_ = ws.WriteJSON(resp)
			wmu.Unlock()
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) actionsOf(action string) []apiRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []apiRequest
	for _, req := range b.actions {
		if req.Action == action {
			out = append(out, req)
		}
	}
	return out
}

func startAccount(t *testing.T, b *fakeBackend, cfg AccountConfig) (*Account, chan Context) {
	t.Helper()
	cfg.URL = wsURL(b.srv)
	if cfg.ID == "" {
		cfg.ID = "main"
	}
	cfg.MediaDir = t.TempDir()
	got := make(chan Context, 8)
	acct := NewAccount(cfg, func(c Context) { got <- c }, testLog())
	acct.Start()
	t.Cleanup(acct.Stop)
	require.Eventually(t, func() bool { return acct.SelfID() == 99999 }, 3*time.Second, 10*time.Millisecond)
	return acct, got
}

func waitContext(t *testing.T, got chan Context) Context {
	t.Helper()
	select {
	case c := <-got:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no message handed off")
		return Context{}
	}
}

func TestAccountDirectMessageEndToEnd(t *testing.T) {
	b := newFakeBackend(t, nil)
	_, got := startAccount(t, b, AccountConfig{RequireMention: true, ChunkSize: 3000})

	b.push <- `{"post_type":"message","message_type":"private","time":1700000100,"self_id":99999,` +
		`"user_id":10001,"message_id":501,"raw_message":"你好",` +
		`"message":[{"type":"text","data":{"text":"你好"}}],` +
		`"sender":{"user_id":10001,"nickname":"小明"}}`

	c := waitContext(t, got)
	assert.Equal(t, "direct", c.ChatType)
	assert.Equal(t, "10001", c.Target.String())
	assert.Equal(t, "你好", c.Text)
	assert.Equal(t, "你好", c.RawText)
	assert.Equal(t, "小明", c.SenderName)
	assert.Equal(t, int64(99999), c.SelfID)
	assert.Equal(t, "501", c.MessageID)
}

func TestAccountGroupKeywordEndToEnd(t *testing.T) {
	b := newFakeBackend(t, func(action string, _ map[string]any) any {
		if action == "get_group_member_info" {
			return map[string]any{"card": "老王", "nickname": "王先生"}
		}
		return nil
	})
	_, got := startAccount(t, b, AccountConfig{
		RequireMention: false,
		TriggerWords:   []string{"help"},
		ChunkSize:      3000,
	})

	b.push <- `{"post_type":"message","message_type":"group","time":1700000200,"self_id":99999,` +
		`"user_id":10001,"group_id":20002,"message_id":502,` +
		`"message":[{"type":"at","data":{"qq":"10002"}},{"type":"text","data":{"text":" help"}}],` +
		`"sender":{"user_id":10001,"nickname":"小明"}}`

	c := waitContext(t, got)
	assert.Equal(t, "group:20002", c.Target.String())
	assert.Equal(t, "@老王 help", c.Text)

	// Exactly one handoff for one frame.
	select {
	case extra := <-got:
		t.Fatalf("unexpected second handoff: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAccountMentionGate(t *testing.T) {
	b := newFakeBackend(t, nil)
	_, got := startAccount(t, b, AccountConfig{RequireMention: true, ChunkSize: 3000})

	plain := `{"post_type":"message","message_type":"group","time":1700000300,"self_id":99999,` +
		`"user_id":10001,"group_id":20002,"message_id":503,` +
		`"message":[{"type":"text","data":{"text":"随便聊聊"}}],"sender":{"user_id":10001,"nickname":"小明"}}`
	mentioned := `{"post_type":"message","message_type":"group","time":1700000301,"self_id":99999,` +
		`"user_id":10001,"group_id":20002,"message_id":504,` +
		`"message":[{"type":"at","data":{"qq":"99999"}},{"type":"text","data":{"text":" 在吗"}}],` +
		`"sender":{"user_id":10001,"nickname":"小明"}}`

	b.push <- plain
	b.push <- mentioned

	c := waitContext(t, got)
	// The unmentioned message was skipped; only the mention came through.
	assert.Equal(t, "504", c.MessageID)
	assert.Equal(t, "在吗", c.Text)
}

func TestAccountSendTextChunksWithMention(t *testing.T) {
	b := newFakeBackend(t, nil)
	acct, _ := startAccount(t, b, AccountConfig{ChunkSize: 5})

	err := acct.SendText(context.Background(), "group:20002", "一二三四五六七", 10001, false)
	require.NoError(t, err)

	sends := b.actionsOf("send_group_msg")
	require.Len(t, sends, 2)

	first := sends[0].Params.(map[string]any)
	assert.Equal(t, float64(20002), first["group_id"])
	segs := first["message"].([]any)
	require.Len(t, segs, 3)
	assert.Equal(t, "at", segs[0].(map[string]any)["type"])

	second := sends[1].Params.(map[string]any)
	segs2 := second["message"].([]any)
	require.Len(t, segs2, 1)
	assert.Equal(t, "text", segs2[0].(map[string]any)["type"])
}

func TestAccountSendMedia(t *testing.T) {
	b := newFakeBackend(t, nil)
	acct, _ := startAccount(t, b, AccountConfig{ChunkSize: 3000})

	require.NoError(t, acct.SendMedia(context.Background(), "group:20002", "/tmp/out/chart.png"))
	sends := b.actionsOf("send_group_msg")
	require.Len(t, sends, 1)
	segs := sends[0].Params.(map[string]any)["message"].([]any)
	seg := segs[0].(map[string]any)
	assert.Equal(t, "image", seg["type"])
	assert.Equal(t, "file:///tmp/out/chart.png", seg["data"].(map[string]any)["file"])

	require.NoError(t, acct.SendMedia(context.Background(), "group:20002", "/tmp/out/report.pdf"))
	uploads := b.actionsOf("upload_group_file")
	require.Len(t, uploads, 1)
	params := uploads[0].Params.(map[string]any)
	assert.Equal(t, "report.pdf", params["name"])

	require.NoError(t, acct.SendMedia(context.Background(), "10001", "/tmp/out/report.pdf"))
	require.Len(t, b.actionsOf("upload_private_file"), 1)

	err := acct.SendMedia(context.Background(), "guild:g1:c2", "/tmp/out/report.pdf")
	assert.Error(t, err)
}

func TestAccountVoiceReply(t *testing.T) {
	b := newFakeBackend(t, nil)
	acct, _ := startAccount(t, b, AccountConfig{ChunkSize: 3000, VoiceReply: true, VoiceMaxRunes: 50})

	require.NoError(t, acct.SendText(context.Background(), "group:20002", "好的，马上处理", 0, false))
	require.Eventually(t, func() bool {
		return len(b.actionsOf("send_group_ai_record")) == 1
	}, 3*time.Second, 10*time.Millisecond)

	voice := b.actionsOf("send_group_ai_record")[0]
	assert.Empty(t, voice.Echo)
	assert.Equal(t, "好的，马上处理", voice.Params.(map[string]any)["text"])

	// Long replies skip the voice rendition.
	long := make([]rune, 0, 60)
	for i := 0; i < 60; i++ {
		long = append(long, '字')
	}
	require.NoError(t, acct.SendText(context.Background(), "group:20002", string(long), 0, false))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, b.actionsOf("send_group_ai_record"), 1)
}

func TestAccountVoicePerMessage(t *testing.T) {
	b := newFakeBackend(t, nil)
	acct, _ := startAccount(t, b, AccountConfig{ChunkSize: 3000, VoiceReply: false, VoiceMaxRunes: 300})

	// The account default is off, but a single reply can ask for voice.
	require.NoError(t, acct.SendText(context.Background(), "group:20002", "念出来", 0, true))
	require.Eventually(t, func() bool {
		return len(b.actionsOf("send_group_ai_record")) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestAccountDeleteMessage(t *testing.T) {
	b := newFakeBackend(t, nil)
	acct, _ := startAccount(t, b, AccountConfig{ChunkSize: 3000})

	require.NoError(t, acct.DeleteMessage(context.Background(), "601"))
	dels := b.actionsOf("delete_msg")
	require.Len(t, dels, 1)
	assert.Equal(t, float64(601), dels[0].Params.(map[string]any)["message_id"])
}

func TestAccountGuildSend(t *testing.T) {
	b := newFakeBackend(t, nil)
	acct, _ := startAccount(t, b, AccountConfig{ChunkSize: 3000})

	require.NoError(t, acct.SendText(context.Background(), "guild:g100:c200", "收到", 0, false))
	sends := b.actionsOf("send_guild_channel_msg")
	require.Len(t, sends, 1)
	params := sends[0].Params.(map[string]any)
	assert.Equal(t, "g100", params["guild_id"])
	assert.Equal(t, "c200", params["channel_id"])
}

func TestAccountStats(t *testing.T) {
	b := newFakeBackend(t, nil)
	acct, _ := startAccount(t, b, AccountConfig{ChunkSize: 3000})

	stats := acct.Stats()
	assert.Equal(t, "main", stats.ID)
	assert.Equal(t, "open", stats.State)
	assert.Equal(t, int64(99999), stats.SelfID)
}
