package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/zwkere/KatelyaTV/internal/log"
	"github.com/zwkere/KatelyaTV/internal/metrics"
)

const (
	reviveBase    = time.Second
	reviveCeiling = 30 * time.Second
	probeTimeout  = 5 * time.Second
)

// ClientManager owns one long-lived client handle per TCP backend per
// process. Handles are dialed lazily on first use and reused for the process
// lifetime; the retry wrapper is the only caller allowed to force a
// reconnect probe. Teardown is explicit via Close.
type ClientManager struct {
	mu      sync.Mutex
	clients map[string]*redis.Client
	backoff map[string]*reviveState
	group   singleflight.Group
	logger  zerolog.Logger

	probes atomic.Int64 // probes actually executed, for tests and metrics
}

type reviveState struct {
	failures int
	next     time.Time
}

// NewClientManager returns an empty manager. Production code shares
// defaultClientManager; tests build their own.
func NewClientManager() *ClientManager {
	return &ClientManager{
		clients: make(map[string]*redis.Client),
		backoff: make(map[string]*reviveState),
		logger:  log.WithComponent("storage.clients"),
	}
}

// defaultClientManager holds the process-wide handles, standing in for the
// global client singletons of earlier deployments.
var defaultClientManager = NewClientManager()

// Client returns the cached handle for name, dialing it on first access.
// Acquisition is idempotent: a second caller never creates a second handle.
func (m *ClientManager) Client(name string, dial func() *redis.Client) *redis.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[name]; ok {
		return c
	}
	c := dial()
	m.clients[name] = c
	m.backoff[name] = &reviveState{}
	m.logger.Info().Str("backend", name).Msg("client handle created")
	return c
}

// Revive probes the handle for name so its pool can re-establish dead
// connections. Concurrent callers share a single probe, and consecutive
// failed probes are rate-limited with capped exponential backoff so a dead
// backend is not hammered by every failing operation.
func (m *ClientManager) Revive(ctx context.Context, name string) error {
	m.mu.Lock()
	c, ok := m.clients[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("storage: no client handle registered for %q", name)
	}
	state := m.backoff[name]
	if time.Now().Before(state.next) {
		m.mu.Unlock()
		return nil // still inside the backoff window, let the caller retry the op
	}
	m.mu.Unlock()

	_, err, _ := m.group.Do(name, func() (any, error) {
		m.probes.Add(1)
		metrics.StorageReconnectProbes.Inc()

		// Detached from the caller's context: the probe result is shared
		// with concurrent callers whose contexts differ.
		probeCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		err := c.Ping(probeCtx).Err()

		m.mu.Lock()
		defer m.mu.Unlock()
		if err != nil {
			state.failures++
			delay := reviveBase << (state.failures - 1)
			if delay > reviveCeiling || delay <= 0 {
				delay = reviveCeiling
			}
			state.next = time.Now().Add(delay)
			m.logger.Warn().
				Err(err).
				Str("backend", name).
				Int("consecutive_failures", state.failures).
				Dur("next_probe_in", delay).
				Msg("reconnect probe failed")
			return nil, err
		}
		if state.failures > 0 {
			m.logger.Info().Str("backend", name).Msg("backend reachable again")
		}
		state.failures = 0
		state.next = time.Time{}
		return nil, nil
	})
	return err
}

// CloseClient tears down one handle. Subsequent Client calls dial afresh.
func (m *ClientManager) CloseClient(name string) error {
	m.mu.Lock()
	c, ok := m.clients[name]
	delete(m.clients, name)
	delete(m.backoff, name)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

// Close tears down every handle the manager owns.
func (m *ClientManager) Close() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*redis.Client)
	m.backoff = make(map[string]*reviveState)
	m.mu.Unlock()

	var errs []error
	for name, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
