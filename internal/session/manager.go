package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"track-svr/internal/observability"
	"track-svr/internal/scheduler"
)

// Manager owns the open sessions. Each session gets its own Loop.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open starts a session whose lifetime is bounded by ctx.
func (m *Manager) Open(ctx context.Context, sink Sink) *Session {
	id := uuid.NewString()
	s := New(ctx, id, m.cfg, scheduler.NewLoop(ctx), sink, m.logger)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	observability.ActiveSessions.Inc()
	m.logger.Info("session opened", "session", id)
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close disposes a session. Unknown ids are ignored.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Dispose()
	observability.ActiveSessions.Dec()
	m.logger.Info("session closed", "session", id)
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id)
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
