package onebot

import (
	"strings"
	"sync"
)

// seenLimit bounds the dedup set; past it the set resets wholesale. Replays
// arrive close together, so a cleared set still catches them.
const seenLimit = 1024

// TriggerRules configures when a message deserves an answer.
type TriggerRules struct {
	TriggerWords   []string
	RequireMention bool
	AllowFrom      []string
	AllowedGroups  []int64
	BlockedUsers   []int64
}

// Decision is the outcome of trigger evaluation. Reason feeds logs only.
type Decision struct {
	Trigger bool
	Reason  string
}

// Evaluator applies trigger rules to classified messages. Deduplication runs
// before everything else so a replayed frame never re-enters the pipeline,
// whatever the rules say.
type Evaluator struct {
	rules TriggerRules

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewEvaluator builds an evaluator with its own dedup state.
func NewEvaluator(rules TriggerRules) *Evaluator {
	return &Evaluator{
		rules: rules,
		seen:  make(map[string]struct{}),
	}
}

// Evaluate decides whether in should be answered, given its resolved form.
func (e *Evaluator) Evaluate(in *Incoming, res Resolved) Decision {
	if e.isDuplicate(in.MessageID) {
		return Decision{Reason: "duplicate"}
	}
	if e.isBlocked(in.SenderID) {
		return Decision{Reason: "blocked"}
	}
	if !e.senderAllowed(in.SenderID) {
		return Decision{Reason: "sender not allowed"}
	}
	if in.Target.Kind == ChatGroup && !e.groupAllowed(in.Target.GroupID) {
		return Decision{Reason: "group not allowed"}
	}

	if in.Target.Kind == ChatDirect {
		return Decision{Trigger: true, Reason: "direct"}
	}
	if in.IsPoke {
		return Decision{Trigger: true, Reason: "poke"}
	}
	if word := e.matchKeyword(res.Text); word != "" {
		return Decision{Trigger: true, Reason: "keyword " + word}
	}
	if res.ReplyToSelf {
		return Decision{Trigger: true, Reason: "reply"}
	}
	if !e.rules.RequireMention {
		return Decision{Trigger: true, Reason: "open"}
	}
	if res.MentionsSelf || res.MentionsAll {
		return Decision{Trigger: true, Reason: "mention"}
	}
	return Decision{Reason: "no trigger"}
}

func (e *Evaluator) isDuplicate(id string) bool {
	if id == "" {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.seen[id]; ok {
		return true
	}
	if len(e.seen) >= seenLimit {
		e.seen = make(map[string]struct{})
	}
	e.seen[id] = struct{}{}
	return false
}

func (e *Evaluator) isBlocked(userID int64) bool {
	for _, id := range e.rules.BlockedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func (e *Evaluator) senderAllowed(userID int64) bool {
	if len(e.rules.AllowFrom) == 0 {
		return true
	}
	uid := Int64(userID).String()
	for _, allowed := range e.rules.AllowFrom {
		if allowed == uid {
			return true
		}
	}
	return false
}

func (e *Evaluator) groupAllowed(groupID int64) bool {
	if len(e.rules.AllowedGroups) == 0 {
		return true
	}
	for _, id := range e.rules.AllowedGroups {
		if id == groupID {
			return true
		}
	}
	return false
}

// matchKeyword returns the first trigger word found in text, ignoring case.
func (e *Evaluator) matchKeyword(text string) string {
	if len(e.rules.TriggerWords) == 0 || text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, word := range e.rules.TriggerWords {
		if word == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(word)) {
			return word
		}
	}
	return ""
}
