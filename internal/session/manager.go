package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Manager hands out one Controller per device and reclaims the ones
// nobody has touched for a while. Controllers are in-memory session
// state; the flags they persist survive a restart, the phase itself
// does not need to.
type Manager struct {
	flags  FlagStore
	logger *slog.Logger

	mu          sync.Mutex
	controllers map[string]*Controller

	maxIdle time.Duration
	stopCh  chan struct{}
}

// NewManager creates a Manager and starts its background cleanup.
func NewManager(flags FlagStore, logger *slog.Logger) *Manager {
	m := &Manager{
		flags:       flags,
		logger:      logger,
		controllers: make(map[string]*Controller),
		maxIdle:     30 * time.Minute,
		stopCh:      make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Get returns the controller for the device, creating it on first
// contact.
func (m *Manager) Get(ctx context.Context, deviceID string) *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.controllers[deviceID]; ok {
		return c
	}
	c := NewController(ctx, deviceID, m.flags, m.logger)
	m.controllers[deviceID] = c
	return c
}

// Broadcast delivers an identity change to the device's controller if
// one exists. Devices without a live controller pick the identity up
// on their next Get.
func (m *Manager) Broadcast(ctx context.Context, deviceID, userID, name string, confirmed bool) {
	m.mu.Lock()
	c, ok := m.controllers[deviceID]
	m.mu.Unlock()
	if ok {
		c.OnIdentityChanged(ctx, userID, name, confirmed)
	}
}

// Count reports how many controllers are live, for the metrics gauge.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.controllers)
}

// Stop shuts down the cleanup goroutine and closes every controller.
func (m *Manager) Stop() {
	close(m.stopCh)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.controllers {
		c.Close()
		delete(m.controllers, id)
	}
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

func (m *Manager) reap() {
	cutoff := time.Now().Add(-m.maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.controllers {
		if c.idleSince().Before(cutoff) {
			c.Close()
			delete(m.controllers, id)
		}
	}
}
