// Package roster imports lessons and their enrolled students from YAML files.
//
// The file format is:
//
//	lessons:
//	  - id: math-1a
//	    name: Mathematics 1.A
//	    teacher: novak
//	    students:
//	      - id: s-001
//	        name: Jan Novák
package roster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// LessonRoster is one lesson entry of an import file.
type LessonRoster struct {
	database.Lesson `yaml:",inline"`
	Students        []attendance.Member `yaml:"students" validate:"dive"`
}

type File struct {
	Lessons []LessonRoster `yaml:"lessons" validate:"required,dive"`
}

var validate = validator.New()

// Parse decodes and validates an import file. Unknown keys are rejected so
// typos do not silently drop data.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("roster file is empty")
		}
		return nil, fmt.Errorf("decoding roster file: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid roster file: %w", err)
	}

	lessons := make(map[string]struct{}, len(f.Lessons))
	for _, l := range f.Lessons {
		if _, dup := lessons[l.ID]; dup {
			return nil, fmt.Errorf("lesson %s listed twice", l.ID)
		}
		lessons[l.ID] = struct{}{}

		students := make(map[string]struct{}, len(l.Students))
		for _, s := range l.Students {
			if _, dup := students[s.StudentID]; dup {
				return nil, fmt.Errorf("lesson %s lists student %s twice", l.ID, s.StudentID)
			}
			students[s.StudentID] = struct{}{}
		}
	}
	return &f, nil
}

// ParseFile reads and parses the file at path.
func ParseFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening roster file: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// Result reports what an import changed.
type Result struct {
	Created  []string
	Updated  []string
	Students int
}

// Import creates missing lessons and replaces the roster of every lesson in f.
// Existing lessons keep their name and teacher.
func Import(ctx context.Context, store database.LessonWriter, f *File) (*Result, error) {
	res := &Result{}
	for _, l := range f.Lessons {
		err := store.CreateLesson(ctx, l.Lesson)
		switch {
		case err == nil:
			res.Created = append(res.Created, l.ID)
		case errors.Is(err, database.ErrLessonExists):
			// The conflict may be the teacher's name, not the id.
			if _, getErr := store.GetLesson(ctx, l.ID); getErr != nil {
				return res, fmt.Errorf("creating lesson %s: name %q: %w", l.ID, l.Name, err)
			}
			res.Updated = append(res.Updated, l.ID)
		default:
			return res, fmt.Errorf("creating lesson %s: %w", l.ID, err)
		}

		students := attendance.Roster(l.Students)
		if students == nil {
			students = attendance.Roster{}
		}
		if err := store.SetRoster(ctx, l.ID, students); err != nil {
			return res, fmt.Errorf("setting roster of %s: %w", l.ID, err)
		}
		res.Students += len(students)
	}
	return res, nil
}
