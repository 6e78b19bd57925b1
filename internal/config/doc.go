// Package config handles configuration loading, saving, and schema definition.
package config

// Config is the top-level qqbridge configuration.
// Uses json tags in camelCase to match the JSON config file format.
type Config struct {
	Channel ChannelConfig `json:"channel"`
	Host    HostConfig    `json:"host"`
	Redis   RedisConfig   `json:"redis"`
	Log     LogConfig     `json:"log"`
}

// ChannelConfig holds per-channel settings.
type ChannelConfig struct {
	OneBot *OneBotConfig `json:"onebot,omitempty"`
}

// OneBotConfig holds the OneBot v11 connection defaults. A deployment with a
// single bot account configures url/accessToken here directly; multi-account
// deployments list accounts in accounts.yaml and these fields act as the
// shared defaults each account spec may override.
type OneBotConfig struct {
	URL         string   `json:"url,omitempty"`
	AccessToken string   `json:"accessToken,omitempty"`
	AllowFrom   []string `json:"allowFrom,omitempty"`

	// Trigger behavior.
	TriggerWords   []string `json:"triggerWords,omitempty"`
	RequireMention *bool    `json:"requireMention,omitempty"` // nil → true
	AllowedGroups  []int64  `json:"allowedGroups,omitempty"`
	BlockedUsers   []int64  `json:"blockedUsers,omitempty"`

	// Outbound formatting.
	ChunkSize       int   `json:"chunkSize,omitempty"`       // 0 → 3000
	FlattenMarkdown *bool `json:"flattenMarkdown,omitempty"` // nil → true
	AntiThrottle    bool  `json:"antiThrottle,omitempty"`
	VoiceReply      bool  `json:"voiceReply,omitempty"`
	VoiceMaxRunes   int   `json:"voiceMaxRunes,omitempty"` // 0 → 300

	// Failure reporting back to the chat.
	ReportErrors *bool `json:"reportErrors,omitempty"` // nil → true

	// Optional external renderer for fenced code blocks.
	CodeImageScript string `json:"codeImageScript,omitempty"`

	// Directory downloaded media is written to. Empty → ~/.qqbridge/media.
	MediaDir string `json:"mediaDir,omitempty"`
}

// HostConfig holds the agent host (reply producer) connection settings.
type HostConfig struct {
	APIURL  string `json:"apiUrl,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
	Timeout int    `json:"timeout,omitempty"` // seconds, whole chat round-trip

	// Per-session lane behavior for host calls.
	Mode          string `json:"mode,omitempty"`          // followup | collect | interrupt
	CollectWindow int    `json:"collectWindow,omitempty"` // seconds
}

// RedisConfig holds optional Redis settings for session state snapshots.
type RedisConfig struct {
	URL      string `json:"url,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Debug bool `json:"debug,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host: HostConfig{
			Timeout:       120,
			Mode:          "collect",
			CollectWindow: 2,
		},
	}
}
