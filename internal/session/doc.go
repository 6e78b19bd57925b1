// Package session persists per-chat transcripts as JSONL files.
//
// Each transcript lives in its own file under <dataDir>/sessions, named
// after the session key with ":" flattened to "_". The first line is a
// metadata record, every following line is one conversation turn. Writes
// go through a temp file and rename, so a crash mid-save never leaves a
// half-written transcript behind.
package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dayuer/qqbridge/internal/utils"
)

const (
	cacheSize = 256
	cacheTTL  = 30 * time.Minute
)

// Message is one recorded conversation turn.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp string         `json:"timestamp,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"` // sender metadata for group chats

	// Internal marker for metadata lines in JSONL.
	Type string `json:"_type,omitempty"`
}

// metaRecord is the first line of every transcript file.
type metaRecord struct {
	Type      string `json:"_type"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Session holds one chat's transcript.
type Session struct {
	Key       string    `json:"key"`
	Messages  []Message `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AddMessage appends a turn to the transcript.
func (s *Session) AddMessage(role, content string) {
	s.AddMessageExtra(role, content, nil)
}

// AddMessageExtra appends a turn carrying channel metadata.
func (s *Session) AddMessageExtra(role, content string, extra map[string]any) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().Format(time.RFC3339),
		Extra:     extra,
	})
	s.UpdatedAt = time.Now()
}

// Manager loads, caches, and saves session transcripts. Recently touched
// sessions stay in a bounded in-memory cache; everything else is read back
// from disk on demand.
type Manager struct {
	dir   string
	mu    sync.Mutex
	cache *expirable.LRU[string, *Session]
}

// NewManager creates a session manager rooted at dataDir/sessions.
func NewManager(dataDir string) *Manager {
	dir, _ := utils.EnsureDir(filepath.Join(dataDir, "sessions"))
	if dir == "" {
		dir = filepath.Join(dataDir, "sessions")
	}
	return &Manager{
		dir:   dir,
		cache: expirable.NewLRU[string, *Session](cacheSize, nil, cacheTTL),
	}
}

// GetOrCreate returns the cached session for key, loading it from disk or
// starting a fresh one.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache.Get(key); ok {
		return s
	}

	s, err := m.load(key)
	if err != nil {
		now := time.Now()
		s = &Session{Key: key, CreatedAt: now, UpdatedAt: now}
	}
	m.cache.Add(key, s)
	return s
}

// Save writes the session to disk as JSONL: one metadata line, then one
// line per message. The write is atomic.
func (m *Manager) Save(s *Session) error {
	path := m.pathFor(s.Key)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.Encode(metaRecord{
		Type:      "metadata",
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	})
	for _, msg := range s.Messages {
		enc.Encode(msg)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	m.mu.Lock()
	m.cache.Add(s.Key, s)
	m.mu.Unlock()
	return nil
}

// Invalidate drops a session from the in-memory cache. The next
// GetOrCreate rereads it from disk.
func (m *Manager) Invalidate(key string) {
	m.mu.Lock()
	m.cache.Remove(key)
	m.mu.Unlock()
}

// Info describes one transcript on disk.
type Info struct {
	Key       string
	Path      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// List describes every transcript on disk, most recently updated first.
func (m *Manager) List() []Info {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil
	}

	var out []Info
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		path := filepath.Join(m.dir, name)
		meta, ok := readMeta(path)
		if !ok {
			continue
		}
		info := Info{
			Key:  strings.ReplaceAll(strings.TrimSuffix(name, ".jsonl"), "_", ":"),
			Path: path,
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339, meta.CreatedAt)
		info.UpdatedAt, _ = time.Parse(time.RFC3339, meta.UpdatedAt)
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// readMeta parses the metadata line of a transcript file.
func readMeta(path string) (metaRecord, bool) {
	f, err := os.Open(path)
	if err != nil {
		return metaRecord{}, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return metaRecord{}, false
	}
	var meta metaRecord
	if json.Unmarshal(scanner.Bytes(), &meta) != nil || meta.Type != "metadata" {
		return metaRecord{}, false
	}
	return meta, true
}

// pathFor maps a session key to its transcript file.
func (m *Manager) pathFor(key string) string {
	safe := utils.SafeFilename(strings.ReplaceAll(key, ":", "_"))
	return filepath.Join(m.dir, safe+".jsonl")
}

// load reads a transcript back. Lines that fail to parse are skipped, so
// one corrupt record never takes the whole session down.
func (m *Manager) load(key string) (*Session, error) {
	f, err := os.Open(m.pathFor(key))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s := &Session{Key: key}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var probe struct {
			Type string `json:"_type"`
		}
		if json.Unmarshal([]byte(line), &probe) != nil {
			continue
		}

		if probe.Type == "metadata" {
			var meta metaRecord
			if json.Unmarshal([]byte(line), &meta) == nil {
				s.CreatedAt, _ = time.Parse(time.RFC3339, meta.CreatedAt)
				s.UpdatedAt, _ = time.Parse(time.RFC3339, meta.UpdatedAt)
			}
			continue
		}

		var msg Message
		if json.Unmarshal([]byte(line), &msg) == nil {
			s.Messages = append(s.Messages, msg)
		}
	}

	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	return s, nil
}
