package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	neturl "net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

var errNoMedia = errors.New("no media source")

// User-visible placeholders for non-text content.
const (
	imageText   = "[图片]"
	voiceText   = "[语音]"
	videoText   = "[视频]"
	fileText    = "[文件]"
	faceText    = "[表情]"
	cardText    = "[卡片]"
	forwardText = "[转发消息]"
	atAllText   = "@全体成员"
)

const (
	nameCacheSize = 2048
	nameCacheTTL  = time.Hour
	replyMaxRunes = 200
	forwardMaxMsg = 10
)

// actionCaller is the slice of Caller the resolver needs.
type actionCaller interface {
	Call(ctx context.Context, action string, params any) (json.RawMessage, error)
}

// mediaFetcher is the slice of Downloader the resolver needs.
type mediaFetcher interface {
	Fetch(ctx context.Context, src, name string) (string, error)
}

// Resolved is a message flattened to text plus everything trigger evaluation
// and the reply path need to know about its structure.
type Resolved struct {
	Text         string
	ReplyToID    string
	ReplyText    string
	ReplyToSelf  bool
	MentionsSelf bool
	MentionsAll  bool
	MediaPaths   []string
}

type nameKey struct {
	group int64
	user  int64
}

// Resolver turns segment sequences into plain text, chasing the references
// a segment carries: member names for mentions, quoted messages for replies,
// bundled messages for forwards, and download URLs for media. Every lookup
// is best effort; a failed segment degrades to its placeholder instead of
// failing the message.
type Resolver struct {
	caller actionCaller
	fetch  mediaFetcher
	names  *expirable.LRU[nameKey, string]
	log    *zap.SugaredLogger
}

// NewResolver builds a resolver on top of an action caller and a media
// fetcher.
func NewResolver(caller actionCaller, fetch mediaFetcher, log *zap.SugaredLogger) *Resolver {
	return &Resolver{
		caller: caller,
		fetch:  fetch,
		names:  expirable.NewLRU[nameKey, string](nameCacheSize, nil, nameCacheTTL),
		log:    log,
	}
}

// Resolve flattens in's segments. selfID distinguishes mentions of this
// account from mentions of others.
func (r *Resolver) Resolve(ctx context.Context, in *Incoming, selfID int64) Resolved {
	var out Resolved
	var b strings.Builder

	for _, seg := range in.Segments {
		switch s := seg.(type) {
		case TextSeg:
			b.WriteString(s.Text)

		case AtSeg:
			switch {
			case s.Target == "all":
				out.MentionsAll = true
				b.WriteString(atAllText)
			case s.Target == strconv.FormatInt(selfID, 10) && selfID != 0:
				// A mention of this account is routing, not content.
				out.MentionsSelf = true
			default:
				b.WriteString("@" + r.displayName(ctx, in.Target, s.Target))
			}

		case ImageSeg:
			r.fetchMedia(ctx, &out, s.URL, s.File, "")
			b.WriteString(imageText)

		case RecordSeg:
			if s.Text != "" {
				b.WriteString(voiceText + "（" + s.Text + "）")
				break
			}
			r.fetchMedia(ctx, &out, s.URL, s.File, "")
			b.WriteString(voiceText)

		case VideoSeg:
			r.fetchMedia(ctx, &out, s.URL, s.File, "")
			b.WriteString(videoText)

		case FileSeg:
			b.WriteString(r.resolveFile(ctx, &out, in.Target, s))

		case ReplySeg:
			text, fromSelf := r.resolveReply(ctx, s.ID, selfID)
			out.ReplyToID = s.ID
			out.ReplyText = text
			out.ReplyToSelf = fromSelf

		case ForwardSeg:
			b.WriteString(r.resolveForward(ctx, s.ID))

		case FaceSeg:
			b.WriteString(faceText)

		case JSONSeg:
			b.WriteString(cardText)

		case UnknownSeg:
			r.log.Debugf("skipping unsupported segment type %q", s.Type)
		}
	}

	out.Text = strings.TrimSpace(b.String())
	return out
}

// displayName resolves a mentioned user id to a human name, consulting the
// cache first. Lookups only exist for groups; elsewhere the id stands in.
func (r *Resolver) displayName(ctx context.Context, target Target, userID string) string {
	if target.Kind != ChatGroup {
		return userID
	}
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return userID
	}
	key := nameKey{group: target.GroupID, user: uid}
	if name, ok := r.names.Get(key); ok {
		return name
	}

	data, err := r.caller.Call(ctx, "get_group_member_info", map[string]any{
		"group_id": target.GroupID,
		"user_id":  uid,
	})
	if err != nil {
		r.log.Warnf("member lookup %d in group %d: %v", uid, target.GroupID, err)
		return userID
	}
	var info struct {
		Card     string `json:"card"`
		Nickname string `json:"nickname"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return userID
	}
	name := info.Card
	if name == "" {
		name = info.Nickname
	}
	if name == "" {
		return userID
	}
	r.names.Add(key, name)
	return name
}

// msgInfo is the get_msg response shape.
type msgInfo struct {
	Sender     *Sender         `json:"sender"`
	Message    json.RawMessage `json:"message"`
	RawMessage string          `json:"raw_message"`
}

// resolveReply fetches the quoted message and reports whether this account
// wrote it.
func (r *Resolver) resolveReply(ctx context.Context, id string, selfID int64) (string, bool) {
	if id == "" {
		return "", false
	}
	data, err := r.caller.Call(ctx, "get_msg", map[string]any{"message_id": messageIDParam(id)})
	if err != nil {
		r.log.Warnf("reply lookup %s: %v", id, err)
		return "", false
	}
	var info msgInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return "", false
	}
	text := summarizeSegments(ParseMessage(info.Message, info.RawMessage))
	fromSelf := info.Sender != nil && info.Sender.UserID.Int64() == selfID && selfID != 0
	return truncateRunes(text, replyMaxRunes), fromSelf
}

// resolveForward renders a forwarded bundle as quoted lines, capped so a
// huge bundle cannot flood the text.
func (r *Resolver) resolveForward(ctx context.Context, id string) string {
	if id == "" {
		return forwardText
	}
	data, err := r.caller.Call(ctx, "get_forward_msg", map[string]any{"id": id})
	if err != nil {
		r.log.Warnf("forward lookup %s: %v", id, err)
		return forwardText
	}
	var bundle struct {
		Messages []struct {
			Sender  *Sender         `json:"sender"`
			Content json.RawMessage `json:"content"`
			Message json.RawMessage `json:"message"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &bundle); err != nil || len(bundle.Messages) == 0 {
		return forwardText
	}

	var lines []string
	for i, m := range bundle.Messages {
		if i == forwardMaxMsg {
			lines = append(lines, fmt.Sprintf("……（共%d条）", len(bundle.Messages)))
			break
		}
		raw := m.Content
		if len(raw) == 0 {
			raw = m.Message
		}
		text := summarizeSegments(ParseMessage(raw, ""))
		name := m.Sender.Name()
		if name == "" {
			name = "匿名"
		}
		lines = append(lines, name+": "+truncateRunes(text, replyMaxRunes))
	}
	return forwardText + "\n" + strings.Join(lines, "\n")
}

// resolveFile renders a file segment, annotating the filename with the
// download outcome so the text alone says whether content is available.
func (r *Resolver) resolveFile(ctx context.Context, out *Resolved, target Target, seg FileSeg) string {
	name := fileDisplayName(seg)
	url := r.fileURL(ctx, target, seg)
	if url == "" {
		return fmt.Sprintf("[文件:%s 未能解析]", name)
	}
	path, err := r.fetchMedia(ctx, out, url, "", name)
	if err != nil {
		return fmt.Sprintf("[文件:%s 下载失败]", name)
	}
	return fmt.Sprintf("[文件:%s -> %s]", name, path)
}

// fileDisplayName picks something human-readable for the placeholder. The
// raw file field may hold a bare filename or a full link.
func fileDisplayName(seg FileSeg) string {
	name := seg.Name
	if name == "" {
		name = seg.File
	}
	if isHTTPURL(name) {
		if u, err := neturl.Parse(name); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "." || name == "/" {
		name = "未命名文件"
	}
	return name
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// fileURL chases the download URL for a file segment: an explicit URL wins,
// then the id-based lookups, then a raw file field that is itself a link.
func (r *Resolver) fileURL(ctx context.Context, target Target, seg FileSeg) string {
	if seg.URL != "" {
		return seg.URL
	}
	if u := r.lookupFileURL(ctx, target, seg); u != "" {
		return u
	}
	if isHTTPURL(seg.File) {
		return seg.File
	}
	return ""
}

func (r *Resolver) lookupFileURL(ctx context.Context, target Target, seg FileSeg) string {
	if seg.FileID == "" {
		return ""
	}

	if target.Kind == ChatGroup {
		data, err := r.caller.Call(ctx, "get_group_file_url", map[string]any{
			"group_id": target.GroupID,
			"file_id":  seg.FileID,
			"busid":    seg.BusID,
		})
		if err != nil {
			r.log.Warnf("group file url %s: %v", seg.FileID, err)
			return ""
		}
		var out struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(data, &out) == nil {
			return out.URL
		}
		return ""
	}

	data, err := r.caller.Call(ctx, "get_file", map[string]any{"file_id": seg.FileID})
	if err != nil {
		r.log.Warnf("file url %s: %v", seg.FileID, err)
		return ""
	}
	var out struct {
		URL  string `json:"url"`
		File string `json:"file"`
	}
	if json.Unmarshal(data, &out) != nil {
		return ""
	}
	if out.URL != "" {
		return out.URL
	}
	return out.File
}

// fetchMedia downloads one media reference and records the local path.
func (r *Resolver) fetchMedia(ctx context.Context, out *Resolved, url, file, name string) (string, error) {
	src := url
	if src == "" {
		src = file
	}
	if src == "" || r.fetch == nil {
		return "", errNoMedia
	}
	path, err := r.fetch.Fetch(ctx, src, name)
	if err != nil {
		r.log.Warnf("fetch media %s: %v", src, err)
		return "", err
	}
	out.MediaPaths = append(out.MediaPaths, path)
	return path, nil
}

// summarizeSegments renders segments as display text without chasing any
// references. Used for quoted and forwarded content.
func summarizeSegments(segs []Segment) string {
	var b strings.Builder
	for _, seg := range segs {
		switch s := seg.(type) {
		case TextSeg:
			b.WriteString(s.Text)
		case AtSeg:
			if s.Target == "all" {
				b.WriteString(atAllText)
			} else {
				b.WriteString("@" + s.Target)
			}
		case ImageSeg:
			b.WriteString(imageText)
		case RecordSeg:
			b.WriteString(voiceText)
		case VideoSeg:
			b.WriteString(videoText)
		case FileSeg:
			b.WriteString(fileText)
		case FaceSeg:
			b.WriteString(faceText)
		case JSONSeg:
			b.WriteString(cardText)
		case ForwardSeg:
			b.WriteString(forwardText)
		}
	}
	return strings.TrimSpace(b.String())
}

// messageIDParam keeps numeric ids numeric on the wire; guild backends use
// opaque strings.
func messageIDParam(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "……"
}
