package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shehryarbajwa/chart-renderer/internal/browser"
	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

// DefaultKey is the session every request uses unless a key is resolved
const DefaultKey = "default"

// Manager hands out one Actor per session key. Actors for different keys
// share nothing, so they render in parallel.
type Manager struct {
	mu      sync.Mutex
	actors  map[string]*Actor
	factory browser.Factory
	opts    Options
	closed  bool
}

// NewManager creates a new session manager
func NewManager(factory browser.Factory, opts Options) *Manager {
	return &Manager{
		actors:  make(map[string]*Actor),
		factory: factory,
		opts:    opts,
	}
}

// Actor returns the actor for key, creating it on first use
func (m *Manager) Actor(key string) (*Actor, error) {
	if key == "" {
		key = DefaultKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrSessionClosed
	}

	actor, exists := m.actors[key]
	if !exists {
		if m.opts.MaxSessions > 0 && len(m.actors) >= m.opts.MaxSessions {
			m.pruneLocked()
			if len(m.actors) >= m.opts.MaxSessions {
				return nil, ErrTooManySessions
			}
		}
		actor = NewActor(key, m.factory, m.opts)
		m.actors[key] = actor
	}
	return actor, nil
}

// pruneLocked drops actors whose engine was evicted or never started
func (m *Manager) pruneLocked() {
	for key, actor := range m.actors {
		if actor.retireIfIdle() {
			delete(m.actors, key)
		}
	}
}

// Render routes spec to the actor for key. An actor retired by pruning
// between lookup and render is replaced once.
func (m *Manager) Render(ctx context.Context, key string, spec models.ChartSpec) (*models.RenderResult, error) {
	for attempt := 0; ; attempt++ {
		actor, err := m.Actor(key)
		if err != nil {
			return nil, err
		}
		res, err := actor.Render(ctx, spec)
		if errors.Is(err, ErrSessionClosed) && attempt == 0 && !m.isClosed() {
			continue
		}
		return res, err
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Keys returns the session keys seen so far
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.actors))
	for key := range m.actors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close shuts down every actor, waiting for in-flight renders
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	actors := make([]*Actor, 0, len(m.actors))
	for _, actor := range m.actors {
		actors = append(actors, actor)
	}
	m.mu.Unlock()

	var errs []error
	for _, actor := range actors {
		if err := actor.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
