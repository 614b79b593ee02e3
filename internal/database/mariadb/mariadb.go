// Package mariadb reads lesson rosters from a school information system
// that keeps enrolment in MariaDB/MySQL.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// DefaultRosterQuery selects the enrolled students of one lesson in
// enrolment order.
const DefaultRosterQuery = `
	SELECT s.student_id, s.full_name
	FROM enrolments e
	JOIN students s ON s.student_id = e.student_id
	WHERE e.lesson_id = ?
	ORDER BY e.enrolled_at, s.student_id`

// Pool manages a MariaDB connection pool.
type Pool struct {
	db    *sql.DB
	query string
}

// NewPool creates a new MariaDB connection pool. An empty query uses
// DefaultRosterQuery; a custom one must take the lesson id as its only
// placeholder and return (student id, name) rows.
func NewPool(ctx context.Context, dsn, query string) (*Pool, error) {
	if dsn == "" {
		return nil, errors.New("MariaDB DSN is required")
	}
	if query == "" {
		query = DefaultRosterQuery
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db, query: query}, nil
}

// NewPoolFromDB wraps an existing handle, mainly for tests.
func NewPoolFromDB(db *sql.DB, query string) *Pool {
	if query == "" {
		query = DefaultRosterQuery
	}
	return &Pool{db: db, query: query}
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Roster implements attendance.RosterSource. Students listed twice by the
// SIS are kept once, at their first position.
func (p *Pool) Roster(ctx context.Context, lessonID string) (attendance.Roster, error) {
	rows, err := p.db.QueryContext(ctx, p.query, lessonID)
	if err != nil {
		return nil, fmt.Errorf("query SIS roster: %w", err)
	}
	defer rows.Close()

	roster := attendance.Roster{}
	seen := make(map[string]struct{})
	for rows.Next() {
		var id string
		var name sql.NullString
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan SIS roster row: %w", err)
		}
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		roster = append(roster, attendance.Member{StudentID: id, Name: name.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate SIS roster: %w", err)
	}
	return roster, nil
}
