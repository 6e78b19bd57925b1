// Package lane serializes host calls per chat session.
//
// Rapid-fire messages from one session would otherwise race each other to
// the host and come back interleaved. Each session key gets its own lane
// with one of three strategies:
//
//   - followup:  process every message in arrival order
//   - collect:   hold a short window and merge a burst into one request
//   - interrupt: drop queued messages, process only the latest
package lane

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dayuer/qqbridge/internal/bus"
	"github.com/dayuer/qqbridge/internal/logger"
)

// Mode is the lane processing strategy.
type Mode string

const (
	ModeFollowup  Mode = "followup"
	ModeCollect   Mode = "collect"
	ModeInterrupt Mode = "interrupt"
)

// ParseMode maps a config string to a Mode, defaulting to collect.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeFollowup, ModeCollect, ModeInterrupt:
		return Mode(s)
	default:
		return ModeCollect
	}
}

// Describe returns a one-line description of the mode.
func (mode Mode) Describe() string {
	switch mode {
	case ModeFollowup:
		return "process each message sequentially"
	case ModeCollect:
		return "wait and merge rapid-fire messages"
	case ModeInterrupt:
		return "discard old, process only latest"
	default:
		return string(mode)
	}
}

// Handler processes one (possibly merged) inbound message. Errors are the
// handler's to surface to the user; the lane only logs them.
type Handler func(ctx context.Context, msg bus.InboundMessage) error

const (
	laneQueueSize = 100
	workerTTL     = 5 * time.Minute
)

// lane owns a single session's queue.
type lane struct {
	key           string
	mode          Mode
	collectWindow time.Duration
	queue         chan bus.InboundMessage

	mu         sync.Mutex
	idle       bool
	lastActive time.Time
}

// Manager routes messages to per-session lanes and runs their workers.
type Manager struct {
	mu    sync.RWMutex
	lanes map[string]*lane

	handler         Handler
	mode            Mode
	collectWindow   time.Duration
	maxLanes        int
	cleanupInterval time.Duration
	stopCh          chan struct{}
	log             *zap.SugaredLogger
}

// ManagerConfig configures a lane Manager.
type ManagerConfig struct {
	Handler         Handler
	Mode            Mode
	CollectWindow   time.Duration // default 2s
	MaxLanes        int           // default 1000
	CleanupInterval time.Duration // default 10m
}

// NewManager creates a lane manager and starts its idle-lane reaper.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Mode == "" {
		cfg.Mode = ModeCollect
	}
	if cfg.CollectWindow == 0 {
		cfg.CollectWindow = 2 * time.Second
	}
	if cfg.MaxLanes == 0 {
		cfg.MaxLanes = 1000
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}

	m := &Manager{
		lanes:           make(map[string]*lane),
		handler:         cfg.Handler,
		mode:            cfg.Mode,
		collectWindow:   cfg.CollectWindow,
		maxLanes:        cfg.MaxLanes,
		cleanupInterval: cfg.CleanupInterval,
		stopCh:          make(chan struct{}),
		log:             logger.Named("lane"),
	}

	go m.periodicCleanup()
	return m
}

// Submit queues a message on its session's lane and returns immediately.
// A full lane drops the message rather than stall the inbound loop.
func (m *Manager) Submit(msg bus.InboundMessage) {
	l := m.getOrCreateLane(msg.SessionKey())
	select {
	case l.queue <- msg:
	default:
		m.log.Warnf("lane %s full, dropping message", l.key)
	}
}

func (m *Manager) getOrCreateLane(key string) *lane {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.lanes[key]; ok {
		return l
	}

	if len(m.lanes) >= m.maxLanes {
		m.cleanupIdleLanes()
	}

	l := &lane{
		key:           key,
		mode:          m.mode,
		collectWindow: m.collectWindow,
		queue:         make(chan bus.InboundMessage, laneQueueSize),
		idle:          true,
		lastActive:    time.Now(),
	}
	m.lanes[key] = l

	go m.runWorker(l)
	return l
}

// runWorker drains one lane. Workers exit after sitting idle for
// workerTTL; the lane entry goes with them.
func (m *Manager) runWorker(l *lane) {
	for {
		select {
		case msg := <-l.queue:
			l.setIdle(false)
			switch l.mode {
			case ModeCollect:
				m.processCollect(l, msg)
			case ModeInterrupt:
				m.processInterrupt(l, msg)
			default:
				m.handle(msg)
			}
			l.setIdle(true)

		case <-time.After(workerTTL):
			m.mu.Lock()
			delete(m.lanes, l.key)
			m.mu.Unlock()
			return

		case <-m.stopCh:
			return
		}
	}
}

// processCollect holds the window open, merging everything that arrives
// into one request. The first message keeps its identity; later contents
// join with newlines and their media ride along.
func (m *Manager) processCollect(l *lane, msg bus.InboundMessage) {
	timer := time.NewTimer(l.collectWindow)
	defer timer.Stop()

	contents := []string{msg.Content}
	media := msg.Media
	for collecting := true; collecting; {
		select {
		case extra := <-l.queue:
			contents = append(contents, extra.Content)
			media = append(media, extra.Media...)
		case <-timer.C:
			collecting = false
		}
	}

	if len(contents) > 1 {
		m.log.Infof("merged %d messages for session %s", len(contents), l.key)
		msg.Content = strings.Join(contents, "\n")
		msg.Media = media
	}
	m.handle(msg)
}

// processInterrupt drops everything queued behind the newest message.
func (m *Manager) processInterrupt(l *lane, msg bus.InboundMessage) {
	latest := msg
	dropped := 0
	for {
		select {
		case newer := <-l.queue:
			dropped++
			latest = newer
		default:
			if dropped > 0 {
				m.log.Debugf("session %s: %d stale message(s) superseded", l.key, dropped)
			}
			m.handle(latest)
			return
		}
	}
}

func (m *Manager) handle(msg bus.InboundMessage) {
	if m.handler == nil {
		return
	}
	if err := m.handler(context.Background(), msg); err != nil {
		m.log.Errorf("session %s: %v", msg.SessionKey(), err)
	}
}

func (l *lane) setIdle(idle bool) {
	l.mu.Lock()
	l.idle = idle
	l.lastActive = time.Now()
	l.mu.Unlock()
}

// cleanupIdleLanes removes long-idle lanes. Caller holds m.mu.
func (m *Manager) cleanupIdleLanes() {
	threshold := time.Now().Add(-10 * time.Minute)
	for key, l := range m.lanes {
		l.mu.Lock()
		if l.idle && l.lastActive.Before(threshold) {
			delete(m.lanes, key)
		}
		l.mu.Unlock()
	}
}

func (m *Manager) periodicCleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			m.cleanupIdleLanes()
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}

// Stop shuts down all lane workers.
func (m *Manager) Stop() {
	close(m.stopCh)
}

// Stats is a point-in-time lane census.
type Stats struct {
	Total  int    `json:"totalLanes"`
	Active int    `json:"activeLanes"`
	Mode   string `json:"mode"`
}

// Stats reports how many lanes exist and how many are mid-request.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := 0
	for _, l := range m.lanes {
		l.mu.Lock()
		if !l.idle {
			active++
		}
		l.mu.Unlock()
	}
	return Stats{Total: len(m.lanes), Active: active, Mode: string(m.mode)}
}
