// Package attendance turns identified faces into per-lesson attendance records.
package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

var (
	ErrInvalidState      = errors.New("session is not open")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("lesson already has an open session")
	ErrEmptyLessonID     = errors.New("lesson id must not be empty")
	ErrRosterUnavailable = errors.New("roster unavailable")
)

// Status is the attendance outcome of one student in one session.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// Record is the attendance of one student in one lesson session.
type Record struct {
	SessionID   string    `json:"session_id"`
	LessonID    string    `json:"lesson_id"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	Timestamp   time.Time `json:"timestamp"`
	Status      Status    `json:"status"`
}

// Member is one enrolled student of a lesson.
type Member struct {
	StudentID string `json:"student_id" yaml:"id" validate:"required"`
	Name      string `json:"name" yaml:"name"`
}

// Roster lists the students expected at a lesson, in reporting order.
type Roster []Member

// Lookup finds the member a gallery label refers to. Labels are compared after
// facematch.NormalizeLabel against both the student id and the name.
func (r Roster) Lookup(label string) (Member, bool) {
	key := facematch.NormalizeLabel(label)
	if key == "" {
		return Member{}, false
	}
	for _, m := range r {
		if facematch.NormalizeLabel(m.StudentID) == key || (m.Name != "" && facematch.NormalizeLabel(m.Name) == key) {
			return m, true
		}
	}
	return Member{}, false
}

// Recorder is the durable sink for closed sessions. Record receives the whole
// set of a session at once and must persist all of it or none of it.
type Recorder interface {
	Record(ctx context.Context, records []Record) error
}

// RosterSource returns the roster of a lesson.
type RosterSource interface {
	Roster(ctx context.Context, lessonID string) (Roster, error)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, records []Record) error

func (f RecorderFunc) Record(ctx context.Context, records []Record) error {
	return f(ctx, records)
}

// StaticRoster serves a fixed roster for every lesson. Used by offline runs.
type StaticRoster Roster

func (s StaticRoster) Roster(context.Context, string) (Roster, error) {
	return Roster(s), nil
}
