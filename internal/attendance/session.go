package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Outcome describes what an observation did to the session.
type Outcome string

const (
	OutcomeRecorded    Outcome = "recorded"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeUnknown     Outcome = "unknown"
	OutcomeNotEnrolled Outcome = "not_enrolled"
)

type observation struct {
	label     string
	member    *Member
	timestamp time.Time
}

// Session collects the students seen during one run of a lesson. It moves
// from open to closed exactly once. A Session is not safe for concurrent use;
// Manager serialises access.
type Session struct {
	id       string
	lessonID string
	state    State
	openedAt time.Time
	closedAt time.Time
	deadline time.Time

	// roster is the enrolment known at open; nil means every known label counts.
	roster Roster

	seen  map[string]observation
	order []string
}

// NewSession opens a session. roster may be nil when enrolment is not known
// up front; it is then only applied at Close.
func NewSession(id, lessonID string, roster Roster, openedAt time.Time) *Session {
	return &Session{
		id:       id,
		lessonID: lessonID,
		state:    StateOpen,
		openedAt: openedAt,
		roster:   roster,
		seen:     make(map[string]observation),
	}
}

func (s *Session) ID() string       { return s.id }
func (s *Session) LessonID() string { return s.lessonID }
func (s *Session) State() State     { return s.state }

// key returns the dedup key of label and the member it belongs to, if known.
func (s *Session) key(label string) (string, *Member, bool) {
	if s.roster == nil {
		return facematch.NormalizeLabel(label), nil, true
	}
	m, ok := s.roster.Lookup(label)
	if !ok {
		return "", nil, false
	}
	return "id:" + m.StudentID, &m, true
}

func (s *Session) observe(label string, ts time.Time) Outcome {
	if label == "" || label == facematch.Unknown {
		return OutcomeUnknown
	}
	key, member, ok := s.key(label)
	if !ok {
		return OutcomeNotEnrolled
	}
	if _, dup := s.seen[key]; dup {
		return OutcomeDuplicate
	}
	s.seen[key] = observation{label: label, member: member, timestamp: ts}
	s.order = append(s.order, key)
	return OutcomeRecorded
}

// Observe marks label as present at ts. Only the first sighting of a student
// is kept; later sightings report OutcomeDuplicate.
func (s *Session) Observe(label string, ts time.Time) (Outcome, error) {
	if s.state != StateOpen {
		return "", ErrInvalidState
	}
	return s.observe(label, ts), nil
}

// ObserveAll applies every label of one frame with a shared timestamp. The
// state is checked once, so a frame is applied completely or not at all.
func (s *Session) ObserveAll(labels []string, ts time.Time) ([]Outcome, error) {
	if s.state != StateOpen {
		return nil, ErrInvalidState
	}
	outcomes := make([]Outcome, len(labels))
	for i, label := range labels {
		outcomes[i] = s.observe(label, ts)
	}
	return outcomes, nil
}

// Present returns the observations recorded so far in first-seen order.
func (s *Session) Present() []Record {
	records := make([]Record, 0, len(s.order))
	for _, key := range s.order {
		obs := s.seen[key]
		r := Record{
			SessionID:   s.id,
			LessonID:    s.lessonID,
			StudentID:   obs.label,
			StudentName: obs.label,
			Timestamp:   obs.timestamp,
			Status:      StatusPresent,
		}
		if obs.member != nil {
			r.StudentID, r.StudentName = obs.member.StudentID, memberName(*obs.member)
		}
		records = append(records, r)
	}
	return records
}

// Close builds one record per roster member, present with the first sighting
// time or absent with the close time, and hands the set to recorder once.
// Observed labels outside the roster produce no record. If the recorder fails
// the session stays open and Close may be retried.
func (s *Session) Close(ctx context.Context, roster Roster, recorder Recorder, now time.Time) ([]Record, error) {
	if s.state != StateOpen {
		return nil, ErrInvalidState
	}

	present := make(map[string]observation, len(s.order))
	for _, key := range s.order {
		obs := s.seen[key]
		m, ok := roster.Lookup(obs.label)
		if !ok {
			continue
		}
		if _, dup := present[m.StudentID]; !dup {
			present[m.StudentID] = obs
		}
	}

	records := make([]Record, 0, len(roster))
	emitted := make(map[string]bool, len(roster))
	for _, m := range roster {
		if emitted[m.StudentID] {
			continue
		}
		emitted[m.StudentID] = true

		r := Record{
			SessionID:   s.id,
			LessonID:    s.lessonID,
			StudentID:   m.StudentID,
			StudentName: memberName(m),
			Timestamp:   now,
			Status:      StatusAbsent,
		}
		if obs, ok := present[m.StudentID]; ok {
			r.Timestamp = obs.timestamp
			r.Status = StatusPresent
		}
		records = append(records, r)
	}

	if recorder != nil {
		if err := recorder.Record(ctx, records); err != nil {
			return nil, fmt.Errorf("recording attendance: %w", err)
		}
	}

	s.state = StateClosed
	s.closedAt = now
	return records, nil
}

func memberName(m Member) string {
	if m.Name != "" {
		return m.Name
	}
	return m.StudentID
}

// Info is a read-only view of a session.
type Info struct {
	ID       string     `json:"id"`
	LessonID string     `json:"lesson_id"`
	State    State      `json:"state"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	Deadline *time.Time `json:"deadline,omitempty"`
	Present  []Record   `json:"present"`
}

func (s *Session) Info() Info {
	return Info{
		ID:       s.id,
		LessonID: s.lessonID,
		State:    s.state,
		OpenedAt: s.openedAt,
		ClosedAt: timePtr(s.closedAt),
		Deadline: timePtr(s.deadline),
		Present:  s.Present(),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
