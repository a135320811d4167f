package session

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

const DefaultMaxSessions = 64

// Manager tracks live sessions. A chat channel holds at most one session.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byChannel map[string]string

	max       int
	log       *slog.Logger
	observers []Observer
}

// NewManager returns a manager capped at max sessions. Every observer is
// attached to each session it creates.
func NewManager(max int, logger *slog.Logger, observers ...Observer) *Manager {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		byChannel: make(map[string]string),
		max:       max,
		log:       logger,
		observers: observers,
	}
}

// Create builds and registers a session. The loop is not started.
func (m *Manager) Create(opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = m.log
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.max {
		return nil, ErrFull
	}
	if opts.ChannelID != "" {
		if _, ok := m.byChannel[opts.ChannelID]; ok {
			return nil, ErrChannelBusy
		}
	}

	s, err := New(uuid.NewString(), opts)
	if err != nil {
		return nil, err
	}
	for _, o := range m.observers {
		s.AddObserver(o)
	}
	m.sessions[s.ID] = s
	if s.ChannelID != "" {
		m.byChannel[s.ChannelID] = s.ID
	}
	m.log.Info("session created", "session", s.ID, "mode", opts.Mode.String(), "channel", opts.ChannelID)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Join hands a snake in session id to a human. It holds the manager lock so
// that Release cannot drop the session between lookup and join.
func (m *Manager) Join(id, name string) (*Session, Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, Participant{}, ErrNotFound
	}
	p, err := s.Join(name)
	if err != nil {
		return nil, Participant{}, err
	}
	return s, p, nil
}

// Release takes player pid out of session id and removes the session when no
// human is left in it. It reports whether the session was removed.
func (m *Manager) Release(id, pid string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	s.Leave(pid)
	removed := s.Connected() == 0
	if removed {
		m.forgetLocked(s)
	}
	m.mu.Unlock()

	if removed {
		s.Close()
		m.log.Info("session removed", "session", id, "reason", "empty")
	}
	return removed
}

// RemoveIdle removes session id if no human holds a snake in it.
func (m *Manager) RemoveIdle(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	idle := ok && s.Connected() == 0
	if idle {
		m.forgetLocked(s)
	}
	m.mu.Unlock()

	if idle {
		s.Close()
		m.log.Info("session removed", "session", id, "reason", "idle")
	}
	return idle
}

func (m *Manager) forgetLocked(s *Session) {
	delete(m.sessions, s.ID)
	if s.ChannelID != "" && m.byChannel[s.ChannelID] == s.ID {
		delete(m.byChannel, s.ChannelID)
	}
}

// ForChannel returns the session bound to a channel.
func (m *Manager) ForChannel(channelID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byChannel[channelID]
	if !ok {
		return nil, false
	}
	return m.sessions[id], true
}

// Remove stops and forgets a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		m.forgetLocked(s)
	}
	m.mu.Unlock()

	if ok {
		s.Close()
		m.log.Info("session removed", "session", id)
	}
}

// List returns every session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll stops every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.byChannel = make(map[string]string)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
