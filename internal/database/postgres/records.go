package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// RecordRepository stores emitted attendance records
type RecordRepository struct {
	pool *Pool
}

// NewRecordRepository creates a new PostgreSQL record repository
func NewRecordRepository(pool *Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// Record writes the batch in one transaction. Re-emitting a session
// overwrites its earlier rows, so a retried close does not duplicate records.
func (r *RecordRepository) Record(ctx context.Context, records []attendance.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attendance_records (session_id, lesson_id, student_id, student_name, status, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			lesson_id = EXCLUDED.lesson_id,
			student_name = EXCLUDED.student_name,
			status = EXCLUDED.status,
			recorded_at = EXCLUDED.recorded_at
	`)
	if err != nil {
		return fmt.Errorf("prepare record insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.SessionID, rec.LessonID, rec.StudentID, rec.StudentName, string(rec.Status), rec.Timestamp,
		); err != nil {
			return fmt.Errorf("insert record for %s: %w", rec.StudentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	return nil
}

func (r *RecordRepository) ListByLesson(ctx context.Context, lessonID string) ([]attendance.Record, error) {
	query := `
		SELECT session_id, lesson_id, student_id, student_name, status, recorded_at
		FROM attendance_records
		WHERE lesson_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, lessonID)
	if err != nil {
		return nil, fmt.Errorf("query records by lesson: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (r *RecordRepository) ListBySession(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	query := `
		SELECT session_id, lesson_id, student_id, student_name, status, recorded_at
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query records by session: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]attendance.Record, error) {
	var records []attendance.Record
	for rows.Next() {
		var rec attendance.Record
		var status string
		if err := rows.Scan(&rec.SessionID, &rec.LessonID, &rec.StudentID, &rec.StudentName, &status, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Status = attendance.Status(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
