package onebot

import (
	"fmt"
	"strconv"
	"strings"
)

// Chat scopes. Guild channels use string ids; everything else is numeric.
const (
	ChatDirect = "direct"
	ChatGroup  = "group"
	ChatGuild  = "guild"
)

// Target identifies one conversation. Its string form doubles as the ChatID
// carried on bus messages: "<userId>" for direct chats, "group:<groupId>"
// for groups, "guild:<guildId>:<channelId>" for guild channels.
type Target struct {
	Kind      string
	UserID    int64
	GroupID   int64
	GuildID   string
	ChannelID string
}

// DirectTarget addresses a private chat.
func DirectTarget(userID int64) Target {
	return Target{Kind: ChatDirect, UserID: userID}
}

// GroupTarget addresses a group.
func GroupTarget(groupID int64) Target {
	return Target{Kind: ChatGroup, GroupID: groupID}
}

// GuildTarget addresses a channel within a guild.
func GuildTarget(guildID, channelID string) Target {
	return Target{Kind: ChatGuild, GuildID: guildID, ChannelID: channelID}
}

// String renders the canonical target form. It round-trips with ParseTarget.
func (t Target) String() string {
	switch t.Kind {
	case ChatGroup:
		return "group:" + strconv.FormatInt(t.GroupID, 10)
	case ChatGuild:
		return "guild:" + t.GuildID + ":" + t.ChannelID
	default:
		return strconv.FormatInt(t.UserID, 10)
	}
}

// ParseTarget parses the canonical target form.
func ParseTarget(s string) (Target, error) {
	switch {
	case strings.HasPrefix(s, "group:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(s, "group:"), 10, 64)
		if err != nil {
			return Target{}, fmt.Errorf("invalid group target %q: %w", s, err)
		}
		return GroupTarget(id), nil
	case strings.HasPrefix(s, "guild:"):
		rest := strings.TrimPrefix(s, "guild:")
		guildID, channelID, ok := strings.Cut(rest, ":")
		if !ok || guildID == "" || channelID == "" {
			return Target{}, fmt.Errorf("invalid guild target %q", s)
		}
		return GuildTarget(guildID, channelID), nil
	default:
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Target{}, fmt.Errorf("invalid direct target %q: %w", s, err)
		}
		return DirectTarget(id), nil
	}
}
