package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AccountSpec defines one bot account (from accounts.yaml). Unset fields
// inherit from the OneBotConfig defaults in config.json.
type AccountSpec struct {
	ID          string `yaml:"id" json:"id"`
	URL         string `yaml:"url,omitempty" json:"url,omitempty"`
	AccessToken string `yaml:"access_token,omitempty" json:"accessToken,omitempty"`

	TriggerWords   []string `yaml:"trigger_words,omitempty" json:"triggerWords,omitempty"`
	RequireMention *bool    `yaml:"require_mention,omitempty" json:"requireMention,omitempty"`
	AllowedGroups  []int64  `yaml:"allowed_groups,omitempty" json:"allowedGroups,omitempty"`
	BlockedUsers   []int64  `yaml:"blocked_users,omitempty" json:"blockedUsers,omitempty"`

	ChunkSize       int   `yaml:"chunk_size,omitempty" json:"chunkSize,omitempty"`
	FlattenMarkdown *bool `yaml:"flatten_markdown,omitempty" json:"flattenMarkdown,omitempty"`
	AntiThrottle    *bool `yaml:"anti_throttle,omitempty" json:"antiThrottle,omitempty"`
	VoiceReply      *bool `yaml:"voice_reply,omitempty" json:"voiceReply,omitempty"`
	VoiceMaxRunes   int   `yaml:"voice_max_runes,omitempty" json:"voiceMaxRunes,omitempty"`
}

// accountsFile is the top-level structure of accounts.yaml.
type accountsFile struct {
	Accounts []AccountSpec `yaml:"accounts"`
}

// LoadAccountSpecs reads and parses an accounts.yaml file.
func LoadAccountSpecs(path string) ([]AccountSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // no accounts.yaml → single-account mode
		}
		return nil, fmt.Errorf("read accounts.yaml: %w", err)
	}

	var f accountsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse accounts.yaml: %w", err)
	}
	return f.Accounts, nil
}

// Account is one fully-resolved bot account: spec values merged over the
// OneBotConfig defaults.
type Account struct {
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

	ReportErrors    bool
	CodeImageScript string
	MediaDir        string
}

// ResolveAccounts merges account specs over the shared OneBot defaults.
// With no specs, a single account is built from the defaults alone
// (ID "default"). Accounts without an endpoint URL are skipped.
func (c *OneBotConfig) ResolveAccounts(specs []AccountSpec) []Account {
	if len(specs) == 0 {
		specs = []AccountSpec{{ID: "default"}}
	}

	var out []Account
	for _, spec := range specs {
		a := Account{
			ID:          spec.ID,
			URL:         c.URL,
			AccessToken: c.AccessToken,

			TriggerWords:   c.TriggerWords,
			RequireMention: boolOr(c.RequireMention, true),
			AllowFrom:      c.AllowFrom,
			AllowedGroups:  c.AllowedGroups,
			BlockedUsers:   c.BlockedUsers,

			ChunkSize:       intOr(c.ChunkSize, 3000),
			FlattenMarkdown: boolOr(c.FlattenMarkdown, true),
			AntiThrottle:    c.AntiThrottle,
			VoiceReply:      c.VoiceReply,
			VoiceMaxRunes:   intOr(c.VoiceMaxRunes, 300),

			ReportErrors:    boolOr(c.ReportErrors, true),
			CodeImageScript: c.CodeImageScript,
			MediaDir:        c.MediaDir,
		}
		if a.ID == "" {
			a.ID = "default"
		}

		if spec.URL != "" {
			a.URL = spec.URL
		}
		if spec.AccessToken != "" {
			a.AccessToken = spec.AccessToken
		}
		if len(spec.TriggerWords) > 0 {
			a.TriggerWords = spec.TriggerWords
		}
		if spec.RequireMention != nil {
			a.RequireMention = *spec.RequireMention
		}
		if len(spec.AllowedGroups) > 0 {
			a.AllowedGroups = spec.AllowedGroups
		}
		if len(spec.BlockedUsers) > 0 {
			a.BlockedUsers = spec.BlockedUsers
		}
		if spec.ChunkSize > 0 {
			a.ChunkSize = spec.ChunkSize
		}
		if spec.FlattenMarkdown != nil {
			a.FlattenMarkdown = *spec.FlattenMarkdown
		}
		if spec.AntiThrottle != nil {
			a.AntiThrottle = *spec.AntiThrottle
		}
		if spec.VoiceReply != nil {
			a.VoiceReply = *spec.VoiceReply
		}
		if spec.VoiceMaxRunes > 0 {
			a.VoiceMaxRunes = spec.VoiceMaxRunes
		}

		if a.URL == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
