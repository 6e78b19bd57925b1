package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Schema Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 120, cfg.Host.Timeout)
	assert.Equal(t, "collect", cfg.Host.Mode)
	assert.Equal(t, 2, cfg.Host.CollectWindow)
	assert.Nil(t, cfg.Channel.OneBot)
}

func TestConfig_JSON_RoundTrip(t *testing.T) {
	requireMention := false
	original := Config{
		Channel: ChannelConfig{
			OneBot: &OneBotConfig{
				URL:            "ws://127.0.0.1:3001",
				AccessToken:    "tok123",
				TriggerWords:   []string{"帮我", "help"},
				RequireMention: &requireMention,
			},
		},
		Host: HostConfig{
			APIURL: "http://127.0.0.1:3000",
			APIKey: "k1",
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Config
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, "ws://127.0.0.1:3001", decoded.Channel.OneBot.URL)
	assert.Equal(t, "tok123", decoded.Channel.OneBot.AccessToken)
	assert.Equal(t, []string{"帮我", "help"}, decoded.Channel.OneBot.TriggerWords)
	require.NotNil(t, decoded.Channel.OneBot.RequireMention)
	assert.False(t, *decoded.Channel.OneBot.RequireMention)
	assert.Equal(t, "http://127.0.0.1:3000", decoded.Host.APIURL)
}

func TestConfig_CamelCaseJSON(t *testing.T) {
	jsonStr := `{
		"channel": {
			"onebot": {
				"url": "ws://localhost:3001",
				"accessToken": "abc",
				"allowedGroups": [111, 222],
				"chunkSize": 1500,
				"voiceReply": true
			}
		},
		"host": {"apiUrl": "http://localhost:3000", "collectWindow": 5},
		"redis": {"url": "redis://localhost:6379", "db": 2}
	}`

	var cfg Config
	err := json.Unmarshal([]byte(jsonStr), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:3001", cfg.Channel.OneBot.URL)
	assert.Equal(t, "abc", cfg.Channel.OneBot.AccessToken)
	assert.Equal(t, []int64{111, 222}, cfg.Channel.OneBot.AllowedGroups)
	assert.Equal(t, 1500, cfg.Channel.OneBot.ChunkSize)
	assert.True(t, cfg.Channel.OneBot.VoiceReply)
	assert.Equal(t, "http://localhost:3000", cfg.Host.APIURL)
	assert.Equal(t, 5, cfg.Host.CollectWindow)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, 2, cfg.Redis.DB)
}

// --- Loader Tests ---

func TestLoad_FileNotExist(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"channel": {"onebot": {"url": "ws://bot:3001"}}, "host": {"apiUrl": "http://h:3000"}}`
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://bot:3001", cfg.Channel.OneBot.URL)
	assert.Equal(t, "http://h:3000", cfg.Host.APIURL)
	// Defaults should be preserved for unset fields
	assert.Equal(t, 120, cfg.Host.Timeout)
	assert.Equal(t, "collect", cfg.Host.Mode)
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	err := os.WriteFile(path, []byte("{invalid json}"), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	assert.Error(t, err)
	// Should return defaults on error
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSave_And_Load_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.json")

	cfg := DefaultConfig()
	cfg.Channel.OneBot = &OneBotConfig{URL: "ws://saved:3001", AccessToken: "test-token"}

	err := Save(cfg, path)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://saved:3001", loaded.Channel.OneBot.URL)
	assert.Equal(t, "test-token", loaded.Channel.OneBot.AccessToken)
}

func TestSave_CreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "config.json")

	err := Save(DefaultConfig(), path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

// --- Account Spec Tests ---

func TestLoadAccountSpecs_Missing(t *testing.T) {
	specs, err := LoadAccountSpecs(filepath.Join(t.TempDir(), "accounts.yaml"))
	require.NoError(t, err)
	assert.Nil(t, specs)
}

func TestLoadAccountSpecs_Valid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.yaml")
	content := `accounts:
  - id: main
    url: ws://127.0.0.1:3001
    access_token: t1
    trigger_words: ["小助手"]
    require_mention: false
  - id: backup
    url: ws://127.0.0.1:3002
    allowed_groups: [123, 456]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	specs, err := LoadAccountSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "main", specs[0].ID)
	assert.Equal(t, "ws://127.0.0.1:3001", specs[0].URL)
	assert.Equal(t, []string{"小助手"}, specs[0].TriggerWords)
	require.NotNil(t, specs[0].RequireMention)
	assert.False(t, *specs[0].RequireMention)
	assert.Equal(t, []int64{123, 456}, specs[1].AllowedGroups)
}

func TestLoadAccountSpecs_BadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - ["), 0644))

	_, err := LoadAccountSpecs(path)
	assert.Error(t, err)
}

func TestResolveAccounts_Defaults(t *testing.T) {
	ob := &OneBotConfig{URL: "ws://bot:3001", AccessToken: "shared"}

	accounts := ob.ResolveAccounts(nil)
	require.Len(t, accounts, 1)
	a := accounts[0]
	assert.Equal(t, "default", a.ID)
	assert.Equal(t, "ws://bot:3001", a.URL)
	assert.Equal(t, "shared", a.AccessToken)
	assert.True(t, a.RequireMention)
	assert.True(t, a.FlattenMarkdown)
	assert.True(t, a.ReportErrors)
	assert.False(t, a.AntiThrottle)
	assert.Equal(t, 3000, a.ChunkSize)
	assert.Equal(t, 300, a.VoiceMaxRunes)
}

func TestResolveAccounts_SpecOverrides(t *testing.T) {
	noMention := false
	voice := true
	ob := &OneBotConfig{
		URL:          "ws://bot:3001",
		TriggerWords: []string{"help"},
		ChunkSize:    2000,
	}
	specs := []AccountSpec{
		{
			ID:             "alt",
			URL:            "ws://alt:3001",
			RequireMention: &noMention,
			VoiceReply:     &voice,
			ChunkSize:      500,
		},
	}

	accounts := ob.ResolveAccounts(specs)
	require.Len(t, accounts, 1)
	a := accounts[0]
	assert.Equal(t, "alt", a.ID)
	assert.Equal(t, "ws://alt:3001", a.URL)
	assert.Equal(t, []string{"help"}, a.TriggerWords) // inherited
	assert.False(t, a.RequireMention)
	assert.True(t, a.VoiceReply)
	assert.Equal(t, 500, a.ChunkSize)
}

func TestResolveAccounts_SkipsMissingURL(t *testing.T) {
	ob := &OneBotConfig{}
	accounts := ob.ResolveAccounts([]AccountSpec{{ID: "nourl"}, {ID: "ok", URL: "ws://x:1"}})
	require.Len(t, accounts, 1)
	assert.Equal(t, "ok", accounts[0].ID)
}
