// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// MockBackend is an in-memory implementation of database.Backend
type MockBackend struct {
	mu      sync.RWMutex
	lessons map[string]database.Lesson
	rosters map[string]attendance.Roster
	records []attendance.Record
	gallery *facematch.Gallery

	// Error injection
	CreateLessonError error
	GetLessonError    error
	ListLessonsError  error
	DeleteLessonError error
	SetRosterError    error
	RosterError       error
	RecordError       error
	ListRecordsError  error
	SaveError         error
	LoadError         error

	RecordCalls int
}

var _ database.Backend = (*MockBackend)(nil)

// NewMockBackend creates a new mock backend
func NewMockBackend() *MockBackend {
	return &MockBackend{
		lessons: make(map[string]database.Lesson),
		rosters: make(map[string]attendance.Roster),
	}
}

// AddLesson stores a lesson with its roster, bypassing error injection
func (m *MockBackend) AddLesson(lesson database.Lesson, roster attendance.Roster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if roster == nil {
		roster = attendance.Roster{}
	}
	m.lessons[lesson.ID] = lesson
	m.rosters[lesson.ID] = roster
}

// Records returns a copy of every stored record
func (m *MockBackend) Records() []attendance.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]attendance.Record, len(m.records))
	copy(out, m.records)
	return out
}

func (m *MockBackend) CreateLesson(ctx context.Context, lesson database.Lesson) error {
	if m.CreateLessonError != nil {
		return m.CreateLessonError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lessons[lesson.ID]; ok {
		return database.ErrLessonExists
	}
	for _, l := range m.lessons {
		if l.Teacher == lesson.Teacher && l.Name == lesson.Name {
			return database.ErrLessonExists
		}
	}
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = time.Now()
	}
	m.lessons[lesson.ID] = lesson
	m.rosters[lesson.ID] = attendance.Roster{}
	return nil
}

func (m *MockBackend) GetLesson(ctx context.Context, id string) (*database.Lesson, error) {
	if m.GetLessonError != nil {
		return nil, m.GetLessonError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lessons[id]
	if !ok {
		return nil, database.ErrLessonNotFound
	}
	return &l, nil
}

func (m *MockBackend) ListLessons(ctx context.Context, teacher string) ([]database.Lesson, error) {
	if m.ListLessonsError != nil {
		return nil, m.ListLessonsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Lesson
	for _, l := range m.lessons {
		if teacher == "" || l.Teacher == teacher {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockBackend) DeleteLesson(ctx context.Context, id string) error {
	if m.DeleteLessonError != nil {
		return m.DeleteLessonError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lessons[id]; !ok {
		return database.ErrLessonNotFound
	}
	delete(m.lessons, id)
	delete(m.rosters, id)
	return nil
}

func (m *MockBackend) SetRoster(ctx context.Context, lessonID string, roster attendance.Roster) error {
	if m.SetRosterError != nil {
		return m.SetRosterError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lessons[lessonID]; !ok {
		return database.ErrLessonNotFound
	}
	m.rosters[lessonID] = append(attendance.Roster{}, roster...)
	return nil
}

func (m *MockBackend) Roster(ctx context.Context, lessonID string) (attendance.Roster, error) {
	if m.RosterError != nil {
		return nil, m.RosterError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rosters[lessonID]
	if !ok {
		return nil, database.ErrLessonNotFound
	}
	return append(attendance.Roster{}, r...), nil
}

func (m *MockBackend) Record(ctx context.Context, records []attendance.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordCalls++
	if m.RecordError != nil {
		return m.RecordError
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *MockBackend) ListByLesson(ctx context.Context, lessonID string) ([]attendance.Record, error) {
	return m.filter(func(r attendance.Record) bool { return r.LessonID == lessonID })
}

func (m *MockBackend) ListBySession(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	return m.filter(func(r attendance.Record) bool { return r.SessionID == sessionID })
}

func (m *MockBackend) filter(keep func(attendance.Record) bool) ([]attendance.Record, error) {
	if m.ListRecordsError != nil {
		return nil, m.ListRecordsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Record
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockBackend) Save(ctx context.Context, g *facematch.Gallery) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gallery = g
	return nil
}

func (m *MockBackend) Load(ctx context.Context) (*facematch.Gallery, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.gallery == nil {
		return nil, gallery.ErrNotFound
	}
	return m.gallery, nil
}

func (m *MockBackend) Close() error { return nil }
