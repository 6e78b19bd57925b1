// Package onebot implements a OneBot v11 client: WebSocket transport with
// echo-correlated RPC, event normalization, reference resolution, trigger
// evaluation, and outbound message construction.
package onebot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Int64 decodes a JSON value that some backends send as a number and others
// as a string (user ids, group ids, message ids).
type Int64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (v *Int64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*v = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*v = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parse int64 %q: %w", s, err)
		}
		*v = Int64(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = Int64(n)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Int64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(v), 10)), nil
}

// Int64 returns the plain integer value.
func (v Int64) Int64() int64 { return int64(v) }

// String returns the decimal representation.
func (v Int64) String() string { return strconv.FormatInt(int64(v), 10) }

// FlexID decodes an identifier that may arrive as a JSON number or string
// and preserves its textual form. Group message ids are numeric; guild
// message ids are opaque strings.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (v *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*v = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = FlexID(s)
		return nil
	}
	*v = FlexID(data)
	return nil
}

func (v FlexID) String() string { return string(v) }

// Int64 parses the id as an integer, returning 0 when it is not numeric.
func (v FlexID) Int64() int64 {
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// apiRequest is an outbound action frame.
type apiRequest struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo,omitempty"`
}

// apiResponse is an inbound frame correlated to a request by echo.
type apiResponse struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Msg     string          `json:"msg"`
	Wording string          `json:"wording"`
	Echo    string          `json:"echo"`
}

// RawEvent is an inbound event frame, decoded only far enough to classify.
// Kind-specific payloads stay raw until the classifier picks them apart.
type RawEvent struct {
	PostType      string `json:"post_type"`
	MetaEventType string `json:"meta_event_type"`
	NoticeType    string `json:"notice_type"`
	SubType       string `json:"sub_type"`
	MessageType   string `json:"message_type"`

	Time   int64 `json:"time"`
	SelfID Int64 `json:"self_id"`

	UserID    Int64  `json:"user_id"`
	GroupID   Int64  `json:"group_id"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	TargetID  Int64  `json:"target_id"`

	MessageID  FlexID          `json:"message_id"`
	Message    json.RawMessage `json:"message"`
	RawMessage string          `json:"raw_message"`
	Sender     *Sender         `json:"sender"`
	File       *NoticeFile     `json:"file"`
}

// Sender is the sender block attached to message events.
type Sender struct {
	UserID   Int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
	Role     string `json:"role"`
}

// Name returns the group card when set, otherwise the nickname.
func (s *Sender) Name() string {
	if s == nil {
		return ""
	}
	if s.Card != "" {
		return s.Card
	}
	return s.Nickname
}

// NoticeFile is the file block of offline_file / group_upload notices.
type NoticeFile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Size  Int64  `json:"size"`
	URL   string `json:"url"`
	BusID Int64  `json:"busid"`
}

// Segment is one atomic unit of a structured message. The concrete types
// below form a closed union; consumers type-switch exhaustively.
type Segment interface {
	segKind() string
}

// TextSeg is a plain text run.
type TextSeg struct{ Text string }

// AtSeg mentions a user id, or "all" for an everyone-mention.
type AtSeg struct{ Target string }

// ImageSeg is an inline image.
type ImageSeg struct{ File, URL string }

// RecordSeg is a voice clip; Text carries a backend transcript when present.
type RecordSeg struct{ File, URL, Text string }

// VideoSeg is a video clip.
type VideoSeg struct{ File, URL string }

// ReplySeg references the quoted message.
type ReplySeg struct{ ID string }

// ForwardSeg references a forwarded-message bundle.
type ForwardSeg struct{ ID string }

// FileSeg is a file attachment. File carries the raw wire value, which some
// backends fill with a direct download link.
type FileSeg struct {
	Name   string
	File   string
	FileID string
	URL    string
	BusID  int64
}

// FaceSeg is a built-in emoticon.
type FaceSeg struct{ ID string }

// JSONSeg is a structured card payload.
type JSONSeg struct{ Data string }

// UnknownSeg preserves segment kinds this client does not interpret.
type UnknownSeg struct{ Type string }

func (TextSeg) segKind() string    { return "text" }
func (AtSeg) segKind() string      { return "at" }
func (ImageSeg) segKind() string   { return "image" }
func (RecordSeg) segKind() string  { return "record" }
func (VideoSeg) segKind() string   { return "video" }
func (ReplySeg) segKind() string   { return "reply" }
func (ForwardSeg) segKind() string { return "forward" }
func (FileSeg) segKind() string    { return "file" }
func (FaceSeg) segKind() string    { return "face" }
func (JSONSeg) segKind() string    { return "json" }
func (UnknownSeg) segKind() string { return "unknown" }

// wireSegment is the array form of one segment on the wire.
type wireSegment struct {
	Type string                     `json:"type"`
	Data map[string]json.RawMessage `json:"data"`
}

func rawString(data map[string]json.RawMessage, key string) string {
	raw, ok := data[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	// Numbers and other scalars: use the literal text.
	return strings.Trim(string(raw), `"`)
}

func rawInt64(data map[string]json.RawMessage, key string) int64 {
	raw, ok := data[key]
	if !ok {
		return 0
	}
	var v Int64
	if v.UnmarshalJSON(raw) == nil {
		return v.Int64()
	}
	return 0
}

// ParseMessage decodes the message field of an event into segments. Array
// payloads decode per-segment; string payloads (and the raw_message
// fallback) parse as inline CQ codes. Both forms yield the same
// representation.
func ParseMessage(raw json.RawMessage, fallback string) []Segment {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 {
		switch raw[0] {
		case '[':
			var wire []wireSegment
			if err := json.Unmarshal(raw, &wire); err == nil {
				return parseWireSegments(wire)
			}
		case '"':
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				return ParseCQString(s)
			}
		}
	}
	if fallback != "" {
		return ParseCQString(fallback)
	}
	return nil
}

func parseWireSegments(wire []wireSegment) []Segment {
	segs := make([]Segment, 0, len(wire))
	for _, w := range wire {
		segs = append(segs, decodeSegment(w.Type, func(key string) string {
			return rawString(w.Data, key)
		}, func(key string) int64 {
			return rawInt64(w.Data, key)
		}))
	}
	return segs
}

func decodeSegment(typ string, str func(string) string, num func(string) int64) Segment {
	switch typ {
	case "text":
		return TextSeg{Text: str("text")}
	case "at":
		return AtSeg{Target: str("qq")}
	case "image":
		return ImageSeg{File: str("file"), URL: str("url")}
	case "record":
		return RecordSeg{File: str("file"), URL: str("url"), Text: str("text")}
	case "video":
		return VideoSeg{File: str("file"), URL: str("url")}
	case "reply":
		return ReplySeg{ID: str("id")}
	case "forward":
		return ForwardSeg{ID: str("id")}
	case "file":
		return FileSeg{Name: str("name"), File: str("file"), FileID: str("file_id"), URL: str("url"), BusID: num("busid")}
	case "face":
		return FaceSeg{ID: str("id")}
	case "json":
		return JSONSeg{Data: str("data")}
	default:
		return UnknownSeg{Type: typ}
	}
}

// cqPattern matches one inline CQ code: [CQ:type,k=v,k=v].
var cqPattern = regexp.MustCompile(`\[CQ:([a-zA-Z0-9_]+)(?:,([^\]]*))?\]`)

// ParseCQString parses legacy inline CQ-coded text into segments.
func ParseCQString(s string) []Segment {
	var segs []Segment
	last := 0
	for _, m := range cqPattern.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			segs = append(segs, TextSeg{Text: unescapeCQText(s[last:m[0]])})
		}
		typ := s[m[2]:m[3]]
		params := map[string]string{}
		if m[4] >= 0 {
			for _, kv := range strings.Split(s[m[4]:m[5]], ",") {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					continue
				}
				params[k] = unescapeCQValue(v)
			}
		}
		segs = append(segs, decodeSegment(typ, func(key string) string {
			return params[key]
		}, func(key string) int64 {
			n, _ := strconv.ParseInt(params[key], 10, 64)
			return n
		}))
		last = m[1]
	}
	if last < len(s) {
		segs = append(segs, TextSeg{Text: unescapeCQText(s[last:])})
	}
	return segs
}

func unescapeCQText(s string) string {
	s = strings.ReplaceAll(s, "&#91;", "[")
	s = strings.ReplaceAll(s, "&#93;", "]")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}

func unescapeCQValue(s string) string {
	s = strings.ReplaceAll(s, "&#44;", ",")
	return unescapeCQText(s)
}

// PlainText concatenates the text runs of a segment sequence.
func PlainText(segs []Segment) string {
	var b strings.Builder
	for _, seg := range segs {
		if t, ok := seg.(TextSeg); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// wireSegmentsOut encodes segments into the array form used by send actions.
func wireSegmentsOut(segs []Segment) []map[string]any {
	out := make([]map[string]any, 0, len(segs))
	for _, seg := range segs {
		switch s := seg.(type) {
		case TextSeg:
			out = append(out, map[string]any{"type": "text", "data": map[string]any{"text": s.Text}})
		case AtSeg:
			out = append(out, map[string]any{"type": "at", "data": map[string]any{"qq": s.Target}})
		case ImageSeg:
			file := s.File
			if file == "" {
				file = s.URL
			}
			out = append(out, map[string]any{"type": "image", "data": map[string]any{"file": file}})
		case ReplySeg:
			out = append(out, map[string]any{"type": "reply", "data": map[string]any{"id": s.ID}})
		case RecordSeg:
			file := s.File
			if file == "" {
				file = s.URL
			}
			out = append(out, map[string]any{"type": "record", "data": map[string]any{"file": file}})
		}
	}
	return out
}
