package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// closedRetention is how long a closed session stays visible so late frames
// get ErrInvalidState instead of ErrSessionNotFound.
const closedRetention = time.Hour

type managedSession struct {
	mu      sync.Mutex
	session *Session
}

// Manager owns the open sessions of a process. All mutation of one session is
// serialised by its own mutex; different sessions proceed independently.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*managedSession

	rosters     RosterSource
	recorder    Recorder
	now         func() time.Time
	maxDuration time.Duration
}

type ManagerOption func(*Manager)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithMaxDuration closes sessions automatically once they are older than d.
func WithMaxDuration(d time.Duration) ManagerOption {
	return func(m *Manager) { m.maxDuration = d }
}

func NewManager(rosters RosterSource, recorder Recorder, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*managedSession),
		rosters:  rosters,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) get(id string) (*managedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ms, nil
}

// Open starts a session for lessonID. The lesson roster is loaded up front so
// observations of students who are not enrolled can be reported immediately.
func (m *Manager) Open(ctx context.Context, lessonID string) (Info, error) {
	if lessonID == "" {
		return Info{}, ErrEmptyLessonID
	}

	roster, err := m.rosters.Roster(ctx, lessonID)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrRosterUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ms := range m.sessions {
		ms.mu.Lock()
		busy := ms.session.LessonID() == lessonID && ms.session.State() == StateOpen
		ms.mu.Unlock()
		if busy {
			return Info{}, ErrSessionExists
		}
	}

	now := m.now()
	s := NewSession(uuid.NewString(), lessonID, roster, now)
	if m.maxDuration > 0 {
		s.deadline = now.Add(m.maxDuration)
	}
	m.sessions[s.ID()] = &managedSession{session: s}
	metrics.SessionsOpen.Inc()

	logging.Info().Str("session", s.ID()).Str("lesson", lessonID).Int("roster", len(roster)).Msg("attendance session opened")
	return s.Info(), nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(id string) (Info, error) {
	ms, err := m.get(id)
	if err != nil {
		return Info{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.session.Info(), nil
}

// List returns all sessions the manager knows, newest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	all := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		all = append(all, ms)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(all))
	for _, ms := range all {
		ms.mu.Lock()
		infos = append(infos, ms.session.Info())
		ms.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].OpenedAt.After(infos[j].OpenedAt) })
	return infos
}

// Observe applies the labels of one frame to the session.
func (m *Manager) Observe(ctx context.Context, id string, labels []string) ([]Outcome, error) {
	ms, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.session.ObserveAll(labels, m.now())
}

// Close reloads the roster, emits the session's records and marks it closed.
func (m *Manager) Close(ctx context.Context, id string) ([]Record, error) {
	ms, err := m.get(id)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.session.State() != StateOpen {
		return nil, ErrInvalidState
	}

	roster, err := m.rosters.Roster(ctx, ms.session.LessonID())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRosterUnavailable, err)
	}

	records, err := ms.session.Close(ctx, roster, m.recorder, m.now())
	if err != nil {
		return nil, err
	}

	metrics.SessionsOpen.Dec()
	present := 0
	for _, r := range records {
		metrics.RecordsEmitted.WithLabelValues(string(r.Status)).Inc()
		if r.Status == StatusPresent {
			present++
		}
	}
	logging.Info().Str("session", id).Str("lesson", ms.session.LessonID()).
		Int("present", present).Int("absent", len(records)-present).Msg("attendance session closed")

	return records, nil
}

// CloseExpired closes open sessions past their deadline and forgets closed
// sessions after the retention period. It returns the number closed.
func (m *Manager) CloseExpired(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	var expired []string
	for id, ms := range m.sessions {
		ms.mu.Lock()
		s := ms.session
		switch {
		case s.State() == StateOpen && !s.deadline.IsZero() && !now.Before(s.deadline):
			expired = append(expired, id)
		case s.State() == StateClosed && now.Sub(s.closedAt) > closedRetention:
			delete(m.sessions, id)
		}
		ms.mu.Unlock()
	}
	m.mu.Unlock()

	closed := 0
	for _, id := range expired {
		if _, err := m.Close(ctx, id); err != nil {
			logging.Error().Err(err).Str("session", id).Msg("failed to auto-close session")
			continue
		}
		closed++
	}
	return closed
}

// CloseAll closes every open session, used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) error {
	var firstErr error
	for _, info := range m.List() {
		if info.State != StateOpen {
			continue
		}
		if _, err := m.Close(ctx, info.ID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing session %s: %w", info.ID, err)
		}
	}
	return firstErr
}
