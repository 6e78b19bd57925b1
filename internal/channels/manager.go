package channels

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dayuer/qqbridge/internal/bus"
	"github.com/dayuer/qqbridge/internal/logger"
)

// Manager owns the registered channels and routes outbound bus traffic to
// them.
type Manager struct {
	Bus *bus.MessageBus

	mu       sync.RWMutex
	channels map[string]Channel
	log      *zap.SugaredLogger
}

// NewManager creates a channel manager.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		Bus:      msgBus,
		channels: make(map[string]Channel),
		log:      logger.Named("channels"),
	}
}

// Register adds a channel and wires its outbound subscription. Outbound
// messages addressed to the channel's name land in its Send.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	m.channels[ch.Name()] = ch
	m.mu.Unlock()

	name := ch.Name()
	m.Bus.Subscribe(name, func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.log.Errorf("send via %s: %v", name, err)
		}
	})
}

// Get returns a channel by name, or nil.
func (m *Manager) Get(name string) Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[name]
}

// Names returns the registered channel names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll runs the outbound dispatcher and every channel until ctx is
// cancelled. Blocks; one channel failing does not stop the others.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	running := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		running = append(running, ch)
	}
	m.mu.RUnlock()

	if len(running) == 0 {
		m.log.Infof("no channels enabled")
		return nil
	}

	go m.Bus.DispatchOutbound(ctx)

	var wg sync.WaitGroup
	for _, ch := range running {
		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			m.log.Infof("starting %s channel", c.Name())
			if err := c.Start(ctx); err != nil {
				m.log.Errorf("channel %s: %v", c.Name(), err)
			}
		}(ch)
	}
	wg.Wait()
	return nil
}

// StopAll stops every channel.
func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			m.log.Errorf("stop %s: %v", name, err)
		}
	}
}

// Status reports the running state of every channel.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.IsRunning()
	}
	return status
}
