package database

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var (
	ErrLessonNotFound = errors.New("lesson not found")
	ErrLessonExists   = errors.New("lesson already exists")
)

// Lesson is a scheduled class students are expected to attend.
type Lesson struct {
	ID        string    `json:"id" yaml:"id" validate:"required,max=64,excludesall=:/"`
	Name      string    `json:"name" yaml:"name" validate:"required,max=255"`
	Teacher   string    `json:"teacher,omitempty" yaml:"teacher" validate:"max=255"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Validate checks the field constraints of a lesson. Backends call it
// before storing so every entry point gets the same rules.
func (l Lesson) Validate() error {
	return validate.Struct(l)
}

// LessonSummary aggregates the stored attendance of one lesson.
type LessonSummary struct {
	LessonID string `json:"lesson_id"`
	Sessions int    `json:"sessions"`
	Present  int    `json:"present"`
	Absent   int    `json:"absent"`
}
