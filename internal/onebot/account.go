package onebot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// AccountConfig carries everything one bot account connection needs.
type AccountConfig struct {
	ID          string
	URL         string
	AccessToken string

	TriggerWords   []string
	RequireMention bool
	AllowFrom      []string
	AllowedGroups  []int64
	BlockedUsers   []int64

	ChunkSize       int
	FlattenMarkdown bool
	AntiThrottle    bool
	VoiceReply      bool
	VoiceMaxRunes   int

	MediaDir string
}

// Context is the normalized inbound record handed to the reply-producing
// layer once a message passes trigger evaluation.
type Context struct {
	AccountID  string
	SelfID     int64
	Target     Target
	ChatType   string
	SenderID   int64
	SenderName string
	MessageID  string
	Text       string
	RawText    string
	ReplyToID  string
	ReplyText  string
	Media      []string
	Time       time.Time
}

// Account runs the full inbound pipeline for one bot connection: classify,
// resolve, evaluate, then hand off. One worker drains the event queue, so
// per-account state (name cache, dedup set) needs no external coordination
// and events finish processing in arrival order.
type Account struct {
	cfg  AccountConfig
	log  *zap.SugaredLogger
	conn *Conn

	caller   *Caller
	resolver *Resolver
	eval     *Evaluator
	fmtr     Formatter

	selfID    atomic.Int64
	onMessage func(Context)

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAccount builds the pipeline for cfg. onMessage receives every
// triggered message; it runs on the account worker, so a slow consumer
// backpressures this account only.
func NewAccount(cfg AccountConfig, onMessage func(Context), log *zap.SugaredLogger) *Account {
	log = log.With("account", cfg.ID)
	conn := NewConn(cfg.URL, cfg.AccessToken, log)
	caller := NewCaller(conn, log)
	a := &Account{
		cfg:      cfg,
		log:      log,
		conn:     conn,
		caller:   caller,
		resolver: NewResolver(caller, NewDownloader(cfg.MediaDir, log), log),
		eval: NewEvaluator(TriggerRules{
			TriggerWords:   cfg.TriggerWords,
			RequireMention: cfg.RequireMention,
			AllowFrom:      cfg.AllowFrom,
			AllowedGroups:  cfg.AllowedGroups,
			BlockedUsers:   cfg.BlockedUsers,
		}),
		fmtr: Formatter{
			FlattenMarkdown: cfg.FlattenMarkdown,
			AntiThrottle:    cfg.AntiThrottle,
			ChunkSize:       cfg.ChunkSize,
		},
		onMessage: onMessage,
		done:      make(chan struct{}),
	}
	return a
}

// ID returns the configured account id.
func (a *Account) ID() string { return a.cfg.ID }

// SelfID returns the bot's own user id, zero until the backend announces it.
func (a *Account) SelfID() int64 { return a.selfID.Load() }

// Start connects and begins processing events.
func (a *Account) Start() {
	a.conn.Start()
	a.wg.Add(1)
	go a.worker()
}

// Stop shuts the pipeline down. Terminal.
func (a *Account) Stop() {
	close(a.done)
	a.conn.Stop()
	a.wg.Wait()
}

func (a *Account) worker() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case ev := <-a.conn.Events():
			a.handleEvent(ev)
		}
	}
}

func (a *Account) handleEvent(ev RawEvent) {
	if id := ev.SelfID.Int64(); id != 0 {
		a.selfID.Store(id)
	}
	if ev.PostType == "meta_event" && ev.MetaEventType == "lifecycle" && ev.SubType == "connect" {
		a.log.Infof("online as %d", ev.SelfID.Int64())
		return
	}

	selfID := a.selfID.Load()
	in := Classify(ev, selfID)
	if in == nil {
		return
	}

	ctx := context.Background()
	res := a.resolver.Resolve(ctx, in, selfID)
	decision := a.eval.Evaluate(in, res)
	if !decision.Trigger {
		a.log.Debugf("skip %s from %d: %s", in.Target, in.SenderID, decision.Reason)
		return
	}
	a.log.Infof("trigger (%s) %s from %d(%s)", decision.Reason, in.Target, in.SenderID, in.SenderName)

	if a.onMessage != nil {
		a.onMessage(Context{
			AccountID:  a.cfg.ID,
			SelfID:     selfID,
			Target:     in.Target,
			ChatType:   in.Target.Kind,
			SenderID:   in.SenderID,
			SenderName: in.SenderName,
			MessageID:  in.MessageID,
			Text:       res.Text,
			RawText:    PlainText(in.Segments),
			ReplyToID:  res.ReplyToID,
			ReplyText:  res.ReplyText,
			Media:      res.MediaPaths,
			Time:       in.Time,
		})
	}
}

// SendText delivers text to a target, applying the formatting pipeline.
// atUser, when nonzero, mentions that user on the first chunk of a group
// reply; later chunks carry no mention. voice requests a synthesized voice
// rendition of the first chunk on top of the account's own setting.
func (a *Account) SendText(ctx context.Context, target, text string, atUser int64, voice bool) error {
	t, err := ParseTarget(target)
	if err != nil {
		return err
	}
	chunks := a.fmtr.Render(text)
	for i, chunk := range chunks {
		var segs []Segment
		if i == 0 && atUser != 0 && t.Kind == ChatGroup {
			segs = append(segs, AtSeg{Target: strconv.FormatInt(atUser, 10)}, TextSeg{Text: " "})
		}
		segs = append(segs, TextSeg{Text: chunk})
		if err := a.sendSegments(ctx, t, segs); err != nil {
			return fmt.Errorf("send to %s: %w", target, err)
		}
		if i == 0 && (voice || a.cfg.VoiceReply) {
			a.maybeVoice(t, chunk)
		}
	}
	return nil
}

// maybeVoice attaches a synthesized voice rendition to short group replies.
func (a *Account) maybeVoice(t Target, chunk string) {
	if t.Kind != ChatGroup {
		return
	}
	if utf8.RuneCountInString(chunk) > a.cfg.VoiceMaxRunes {
		return
	}
	if err := a.caller.Notify("send_group_ai_record", map[string]any{
		"group_id": t.GroupID,
		"text":     chunk,
	}); err != nil {
		a.log.Warnf("voice reply to group %d: %v", t.GroupID, err)
	}
}

// SendMedia delivers a local file or URL. Images inline into a message;
// anything else goes through the platform's file upload action.
func (a *Account) SendMedia(ctx context.Context, target, path string) error {
	t, err := ParseTarget(target)
	if err != nil {
		return err
	}
	if IsImagePath(path) {
		if err := a.sendSegments(ctx, t, []Segment{ImageSeg{File: fileURI(path)}}); err != nil {
			return fmt.Errorf("send image to %s: %w", target, err)
		}
		return nil
	}

	name := filepath.Base(path)
	var action string
	params := map[string]any{"file": path, "name": name}
	switch t.Kind {
	case ChatGroup:
		action = "upload_group_file"
		params["group_id"] = t.GroupID
	case ChatDirect:
		action = "upload_private_file"
		params["user_id"] = t.UserID
	default:
		return errors.New("file upload is not supported in guild channels")
	}
	if _, err := a.caller.Call(ctx, action, params); err != nil {
		return fmt.Errorf("upload %s to %s: %w", name, target, err)
	}
	return nil
}

// DeleteMessage recalls a message by id.
func (a *Account) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := a.caller.Call(ctx, "delete_msg", map[string]any{"message_id": messageIDParam(messageID)})
	return err
}

func (a *Account) sendSegments(ctx context.Context, t Target, segs []Segment) error {
	var action string
	params := map[string]any{"message": wireSegmentsOut(segs)}
	switch t.Kind {
	case ChatGroup:
		action = "send_group_msg"
		params["group_id"] = t.GroupID
	case ChatGuild:
		action = "send_guild_channel_msg"
		params["guild_id"] = t.GuildID
		params["channel_id"] = t.ChannelID
	default:
		action = "send_private_msg"
		params["user_id"] = t.UserID
	}
	_, err := a.caller.Call(ctx, action, params)
	return err
}

// AccountStats is a point-in-time snapshot for status reporting.
type AccountStats struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	SelfID        int64     `json:"selfId"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Calls         CallStats `json:"calls"`
}

// Stats reports connection and call health.
func (a *Account) Stats() AccountStats {
	return AccountStats{
		ID:            a.cfg.ID,
		State:         a.conn.State().String(),
		SelfID:        a.selfID.Load(),
		LastHeartbeat: a.conn.LastHeartbeat(),
		Calls:         a.caller.Stats(),
	}
}

// fileURI rewrites a local path into the file URI form send actions accept.
// URLs and base64 payloads pass through untouched.
func fileURI(path string) string {
	for _, prefix := range []string{"http://", "https://", "file://", "base64://"} {
		if strings.HasPrefix(path, prefix) {
			return path
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return "file://" + abs
	}
	return path
}
