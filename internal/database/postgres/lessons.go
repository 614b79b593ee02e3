package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint failure.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// LessonRepository provides PostgreSQL-backed lesson and roster storage
type LessonRepository struct {
	pool *Pool
}

// NewLessonRepository creates a new PostgreSQL lesson repository
func NewLessonRepository(pool *Pool) *LessonRepository {
	return &LessonRepository{pool: pool}
}

// CreateLesson maps both a taken id and a duplicate (teacher, name) pair to
// ErrLessonExists.
func (r *LessonRepository) CreateLesson(ctx context.Context, lesson database.Lesson) error {
	if err := lesson.Validate(); err != nil {
		return fmt.Errorf("invalid lesson: %w", err)
	}
	query := `
		INSERT INTO lessons (id, name, teacher, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = time.Now()
	}

	_, err := r.pool.Exec(ctx, query, lesson.ID, lesson.Name, lesson.Teacher, lesson.CreatedAt)
	if isUniqueViolation(err) {
		return database.ErrLessonExists
	}
	if err != nil {
		return fmt.Errorf("create lesson: %w", err)
	}
	return nil
}

func (r *LessonRepository) GetLesson(ctx context.Context, id string) (*database.Lesson, error) {
	var l database.Lesson
	err := r.pool.QueryRow(ctx,
		"SELECT id, name, teacher, created_at FROM lessons WHERE id = $1", id,
	).Scan(&l.ID, &l.Name, &l.Teacher, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	return &l, nil
}

func (r *LessonRepository) ListLessons(ctx context.Context, teacher string) ([]database.Lesson, error) {
	query := `
		SELECT id, name, teacher, created_at
		FROM lessons
		WHERE $1 = '' OR teacher = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, teacher)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()

	var lessons []database.Lesson
	for rows.Next() {
		var l database.Lesson
		if err := rows.Scan(&l.ID, &l.Name, &l.Teacher, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		lessons = append(lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lessons: %w", err)
	}
	return lessons, nil
}

func (r *LessonRepository) DeleteLesson(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, "DELETE FROM lessons WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrLessonNotFound
	}
	return nil
}

// SetRoster replaces the roster in a single transaction. Members are inserted
// with one statement by unnesting parallel arrays.
func (r *LessonRepository) SetRoster(ctx context.Context, lessonID string, roster attendance.Roster) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx, "SELECT id FROM lessons WHERE id = $1 FOR UPDATE", lessonID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrLessonNotFound
	}
	if err != nil {
		return fmt.Errorf("lock lesson: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM roster_members WHERE lesson_id = $1", lessonID); err != nil {
		return fmt.Errorf("clear roster: %w", err)
	}

	if len(roster) > 0 {
		ids := make([]string, len(roster))
		names := make([]string, len(roster))
		for i, m := range roster {
			ids[i] = m.StudentID
			names[i] = m.Name
		}
		query := `
			INSERT INTO roster_members (lesson_id, position, student_id, student_name)
			SELECT $1, m.ord, m.student_id, m.student_name
			FROM unnest($2::text[], $3::text[]) WITH ORDINALITY AS m(student_id, student_name, ord)
		`
		if _, err := tx.ExecContext(ctx, query, lessonID, pq.Array(ids), pq.Array(names)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("roster of %s lists a student twice: %w", lessonID, err)
			}
			return fmt.Errorf("insert roster: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit roster: %w", err)
	}
	return nil
}

func (r *LessonRepository) Roster(ctx context.Context, lessonID string) (attendance.Roster, error) {
	if _, err := r.GetLesson(ctx, lessonID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		"SELECT student_id, student_name FROM roster_members WHERE lesson_id = $1 ORDER BY position", lessonID)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	roster := attendance.Roster{}
	for rows.Next() {
		var m attendance.Member
		if err := rows.Scan(&m.StudentID, &m.Name); err != nil {
			return nil, fmt.Errorf("scan roster member: %w", err)
		}
		roster = append(roster, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return roster, nil
}
