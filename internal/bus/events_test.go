package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInboundMessage_SessionKey(t *testing.T) {
	msg := InboundMessage{Channel: "qq", ChatID: "123456"}
	assert.Equal(t, "qq:123456", msg.SessionKey())
}

func TestInboundMessage_SessionKey_Group(t *testing.T) {
	msg := InboundMessage{Channel: "qq", ChatID: "group:778899"}
	assert.Equal(t, "qq:group:778899", msg.SessionKey())
}

func TestInboundMessage_JSON_RoundTrip(t *testing.T) {
	original := InboundMessage{
		Channel:    "qq",
		Account:    "main",
		SenderID:   "10001",
		SenderName: "张三",
		ChatID:     "group:778899",
		ChatType:   "group",
		Content:    "@张三 帮我看看这个",
		RawContent: "[CQ:at,qq=999] 帮我看看这个",
		MessageID:  "msg-1",
		Timestamp:  time.Now().Truncate(time.Second),
		Media:      []string{"/tmp/qqbridge/report.pdf"},
		Metadata:   map[string]any{"key": "value"},
	}

	data, err := json.Marshal(original)
	assert.NoError(t, err)

	var decoded InboundMessage
	err = json.Unmarshal(data, &decoded)
	assert.NoError(t, err)

	assert.Equal(t, original.Channel, decoded.Channel)
	assert.Equal(t, original.Account, decoded.Account)
	assert.Equal(t, original.SenderID, decoded.SenderID)
	assert.Equal(t, original.SenderName, decoded.SenderName)
	assert.Equal(t, original.ChatType, decoded.ChatType)
	assert.Equal(t, original.Content, decoded.Content)
	assert.Equal(t, original.RawContent, decoded.RawContent)
	assert.Equal(t, original.SessionKey(), decoded.SessionKey())
}

func TestOutboundMessage_JSON_RoundTrip(t *testing.T) {
	original := OutboundMessage{
		Channel: "qq",
		Account: "main",
		ChatID:  "group:778899",
		Content: "已处理",
		At:      "10001",
		Voice:   true,
	}

	data, err := json.Marshal(original)
	assert.NoError(t, err)

	var decoded OutboundMessage
	err = json.Unmarshal(data, &decoded)
	assert.NoError(t, err)

	assert.Equal(t, original.Channel, decoded.Channel)
	assert.Equal(t, original.ChatID, decoded.ChatID)
	assert.Equal(t, original.Content, decoded.Content)
	assert.Equal(t, original.At, decoded.At)
	assert.True(t, decoded.Voice)
}
