package database

import (
	"context"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// LessonReader provides read-only access to lessons and their rosters
type LessonReader interface {
	// GetLesson returns ErrLessonNotFound for unknown ids
	GetLesson(ctx context.Context, id string) (*Lesson, error)
	// ListLessons returns lessons ordered by id; an empty teacher lists all
	ListLessons(ctx context.Context, teacher string) ([]Lesson, error)
	// Roster returns the enrolled students of a lesson in enrollment order.
	// Unknown lessons yield ErrLessonNotFound.
	Roster(ctx context.Context, lessonID string) (attendance.Roster, error)
}

// LessonWriter provides write access to lessons
type LessonWriter interface {
	LessonReader

	// CreateLesson returns ErrLessonExists when the id is taken
	CreateLesson(ctx context.Context, lesson Lesson) error
	// DeleteLesson removes the lesson and its roster; stored records are kept
	DeleteLesson(ctx context.Context, id string) error
	// SetRoster replaces the roster of a lesson
	SetRoster(ctx context.Context, lessonID string, roster attendance.Roster) error
}

// RecordReader provides access to emitted attendance records
type RecordReader interface {
	// ListByLesson returns all records of a lesson, oldest session first
	ListByLesson(ctx context.Context, lessonID string) ([]attendance.Record, error)
	// ListBySession returns the records of one session in emission order
	ListBySession(ctx context.Context, sessionID string) ([]attendance.Record, error)
}

// RecordWriter persists emitted records. Record stores a whole batch or nothing.
type RecordWriter interface {
	RecordReader
	attendance.Recorder
}

// Backend bundles everything a storage backend provides.
type Backend interface {
	LessonWriter
	RecordWriter
	gallery.Store

	Close() error
}

var (
	_ attendance.RosterSource = LessonReader(nil)
)
