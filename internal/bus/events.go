// Package bus provides the async message bus between the QQ channel and the
// reply-producing host.
package bus

import "time"

// InboundMessage is the normalized context for one triggered chat event.
// It is created once by the channel pipeline and consumed read-only.
type InboundMessage struct {
	Channel    string         `json:"channel"`
	Account    string         `json:"account"`
	SenderID   string         `json:"sender_id"`
	SenderName string         `json:"sender_name,omitempty"`
	ChatID     string         `json:"chat_id"` // target string: "<id>" | "group:<id>" | "guild:<g>:<c>"
	ChatType   string         `json:"chat_type"`
	Content    string         `json:"content"` // resolved body
	RawContent string         `json:"raw_content,omitempty"`
	MessageID  string         `json:"message_id,omitempty"`
	ReplyToID  string         `json:"reply_to_id,omitempty"`
	ReplyText  string         `json:"reply_text,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Media      []string       `json:"media,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SessionKey returns the unique key for session identification.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is a reply payload routed back to a chat channel.
type OutboundMessage struct {
	Channel  string         `json:"channel"`
	Account  string         `json:"account,omitempty"`
	ChatID   string         `json:"chat_id"` // target string
	Content  string         `json:"content"`
	At       string         `json:"at,omitempty"` // sender mentioned on the first chunk of a group reply
	Media    []string       `json:"media,omitempty"`
	Voice    bool           `json:"voice,omitempty"` // synthesize voice for the first chunk when supported
	Metadata map[string]any `json:"metadata,omitempty"`
}
