package onebot

import (
	"fmt"
	"time"
)

// pokeText is the user-visible placeholder a poke turns into.
const pokeText = "[戳一戳]"

// Incoming is one normalized inbound message. Message events, pokes aimed at
// this account, and file notices all funnel into this shape so the rest of
// the pipeline handles a single vocabulary.
type Incoming struct {
	Target     Target
	SenderID   int64
	SenderName string
	MessageID  string
	Segments   []Segment
	IsPoke     bool
	Time       time.Time
}

// Classify normalizes a raw event. Frames the pipeline does not act on
// return nil: lifecycle and request frames, notices other than pokes and
// file deliveries, pokes aimed at someone else, and this account's own
// messages. selfID may be zero before the first frame announces it.
func Classify(ev RawEvent, selfID int64) *Incoming {
	switch ev.PostType {
	case "message":
		return classifyMessage(ev, selfID)
	case "notice":
		return classifyNotice(ev, selfID)
	default:
		return nil
	}
}

func classifyMessage(ev RawEvent, selfID int64) *Incoming {
	if selfID != 0 && ev.UserID.Int64() == selfID {
		return nil
	}

	var target Target
	switch ev.MessageType {
	case "private":
		target = DirectTarget(ev.UserID.Int64())
	case "group":
		target = GroupTarget(ev.GroupID.Int64())
	case "guild":
		if ev.GuildID == "" || ev.ChannelID == "" {
			return nil
		}
		target = GuildTarget(ev.GuildID, ev.ChannelID)
	default:
		return nil
	}

	segs := ParseMessage(ev.Message, ev.RawMessage)
	if len(segs) == 0 {
		return nil
	}
	return &Incoming{
		Target:     target,
		SenderID:   ev.UserID.Int64(),
		SenderName: ev.Sender.Name(),
		MessageID:  ev.MessageID.String(),
		Segments:   segs,
		Time:       eventTime(ev),
	}
}

func classifyNotice(ev RawEvent, selfID int64) *Incoming {
	switch ev.NoticeType {
	case "notify":
		if ev.SubType != "poke" {
			return nil
		}
		// Only pokes aimed at this account count, and never our own.
		if selfID == 0 || ev.TargetID.Int64() != selfID || ev.UserID.Int64() == selfID {
			return nil
		}
		target := DirectTarget(ev.UserID.Int64())
		if ev.GroupID.Int64() != 0 {
			target = GroupTarget(ev.GroupID.Int64())
		}
		return &Incoming{
			Target:    target,
			SenderID:  ev.UserID.Int64(),
			MessageID: fmt.Sprintf("poke:%d:%d", ev.UserID.Int64(), ev.Time),
			Segments:  []Segment{TextSeg{Text: pokeText}},
			IsPoke:    true,
			Time:      eventTime(ev),
		}

	case "offline_file", "group_upload":
		if ev.File == nil {
			return nil
		}
		if selfID != 0 && ev.UserID.Int64() == selfID {
			return nil
		}
		target := DirectTarget(ev.UserID.Int64())
		if ev.NoticeType == "group_upload" {
			target = GroupTarget(ev.GroupID.Int64())
		}
		seg := FileSeg{
			Name:   ev.File.Name,
			FileID: ev.File.ID,
			URL:    ev.File.URL,
			BusID:  ev.File.BusID.Int64(),
		}
		return &Incoming{
			Target:    target,
			SenderID:  ev.UserID.Int64(),
			MessageID: fmt.Sprintf("file:%s:%d", ev.File.ID, ev.Time),
			Segments:  []Segment{seg},
			Time:      eventTime(ev),
		}

	default:
		return nil
	}
}

func eventTime(ev RawEvent) time.Time {
	if ev.Time > 0 {
		return time.Unix(ev.Time, 0)
	}
	return time.Now()
}
