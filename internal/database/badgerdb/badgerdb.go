// Package badgerdb is the embedded storage backend used when no PostgreSQL
// database is configured.
package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// Key prefixes
const (
	lessonKeyPrefix  = "lesson:"
	rosterKeyPrefix  = "roster:"
	recordKeyPrefix  = "record:"  // record:<len>:<lesson>:<len>:<session>:<seq>
	sessionKeyPrefix = "session:" // session:<session> -> lesson id
	galleryKey       = "gallery"
)

// Store implements database.Backend on top of BadgerDB.
type Store struct {
	db *badger.DB
}

var _ database.Backend = (*Store)(nil)

// Open opens (or creates) the database in dir. An empty dir keeps
// everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing badger: %w", err)
	}
	return nil
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// scanPrefix calls fn with the value of every key under prefix in key order.
func scanPrefix(txn *badger.Txn, prefix string, fn func(key string, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		key := string(item.Key())
		if err := item.Value(func(val []byte) error { return fn(key, val) }); err != nil {
			return err
		}
	}
	return nil
}

// CreateLesson rejects a taken id and a name the same teacher already uses.
func (s *Store) CreateLesson(ctx context.Context, lesson database.Lesson) error {
	if err := lesson.Validate(); err != nil {
		return fmt.Errorf("invalid lesson: %w", err)
	}
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = time.Now()
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := lessonKeyPrefix + lesson.ID
		_, err := txn.Get([]byte(key))
		if err == nil {
			return database.ErrLessonExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check lesson: %w", err)
		}
		err = scanPrefix(txn, lessonKeyPrefix, func(_ string, val []byte) error {
			var l database.Lesson
			if err := json.Unmarshal(val, &l); err != nil {
				return err
			}
			if l.Teacher == lesson.Teacher && l.Name == lesson.Name {
				return database.ErrLessonExists
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := setJSON(txn, key, lesson); err != nil {
			return err
		}
		return setJSON(txn, rosterKeyPrefix+lesson.ID, attendance.Roster{})
	})
}

func (s *Store) GetLesson(ctx context.Context, id string) (*database.Lesson, error) {
	var lesson database.Lesson
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, lessonKeyPrefix+id, &lesson)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, database.ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	return &lesson, nil
}

func (s *Store) ListLessons(ctx context.Context, teacher string) ([]database.Lesson, error) {
	var lessons []database.Lesson
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, lessonKeyPrefix, func(_ string, val []byte) error {
			var l database.Lesson
			if err := json.Unmarshal(val, &l); err != nil {
				return err
			}
			if teacher == "" || l.Teacher == teacher {
				lessons = append(lessons, l)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return lessons, nil
}

func (s *Store) DeleteLesson(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(lessonKeyPrefix + id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return database.ErrLessonNotFound
		} else if err != nil {
			return fmt.Errorf("get lesson: %w", err)
		}
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("delete lesson: %w", err)
		}
		if err := txn.Delete([]byte(rosterKeyPrefix + id)); err != nil {
			return fmt.Errorf("delete roster: %w", err)
		}
		return nil
	})
}

func (s *Store) SetRoster(ctx context.Context, lessonID string, roster attendance.Roster) error {
	seen := make(map[string]struct{}, len(roster))
	for _, m := range roster {
		if _, dup := seen[m.StudentID]; dup {
			return fmt.Errorf("roster of %s lists student %s twice", lessonID, m.StudentID)
		}
		seen[m.StudentID] = struct{}{}
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(lessonKeyPrefix + lessonID)); errors.Is(err, badger.ErrKeyNotFound) {
			return database.ErrLessonNotFound
		} else if err != nil {
			return fmt.Errorf("get lesson: %w", err)
		}
		if roster == nil {
			roster = attendance.Roster{}
		}
		return setJSON(txn, rosterKeyPrefix+lessonID, roster)
	})
}

func (s *Store) Roster(ctx context.Context, lessonID string) (attendance.Roster, error) {
	var roster attendance.Roster
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, rosterKeyPrefix+lessonID, &roster)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, database.ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get roster: %w", err)
	}
	return roster, nil
}

// Ids are length-prefixed so one lesson's prefix never matches another's,
// whatever characters the ids contain.
func lessonRecordPrefix(lessonID string) string {
	return fmt.Sprintf("%s%d:%s:", recordKeyPrefix, len(lessonID), lessonID)
}

func recordPrefix(lessonID, sessionID string) string {
	return fmt.Sprintf("%s%d:%s:", lessonRecordPrefix(lessonID), len(sessionID), sessionID)
}

// Record stores the batch in one transaction. A session emitted again
// replaces its previous records.
func (s *Store) Record(ctx context.Context, records []attendance.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		sessions := make(map[string]string)
		for _, r := range records {
			sessions[r.SessionID] = r.LessonID
		}
		for sessionID, lessonID := range sessions {
			var stale [][]byte
			err := scanPrefix(txn, recordPrefix(lessonID, sessionID), func(key string, _ []byte) error {
				stale = append(stale, []byte(key))
				return nil
			})
			if err != nil {
				return err
			}
			for _, key := range stale {
				if err := txn.Delete(key); err != nil {
					return fmt.Errorf("delete stale record: %w", err)
				}
			}
			if err := txn.Set([]byte(sessionKeyPrefix+sessionID), []byte(lessonID)); err != nil {
				return fmt.Errorf("index session: %w", err)
			}
		}

		for i, r := range records {
			key := fmt.Sprintf("%s%06d", recordPrefix(r.LessonID, r.SessionID), i)
			if err := setJSON(txn, key, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) listRecords(prefix string) ([]attendance.Record, error) {
	var records []attendance.Record
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, prefix, func(_ string, val []byte) error {
			var r attendance.Record
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// ListByLesson orders sessions by when they were emitted.
func (s *Store) ListByLesson(ctx context.Context, lessonID string) ([]attendance.Record, error) {
	records, err := s.listRecords(lessonRecordPrefix(lessonID))
	if err != nil {
		return nil, err
	}
	// Keys sort by session id; restore chronological order per session.
	start := make(map[string]time.Time)
	for _, r := range records {
		if first, ok := start[r.SessionID]; !ok || r.Timestamp.Before(first) {
			start[r.SessionID] = r.Timestamp
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return start[records[i].SessionID].Before(start[records[j].SessionID])
	})
	return records, nil
}

func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	var lessonID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + sessionID))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		lessonID = string(val)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	return s.listRecords(recordPrefix(lessonID, sessionID))
}

// Save stores the gallery document under a single key, so readers see
// either the previous gallery or the new one.
func (s *Store) Save(ctx context.Context, g *facematch.Gallery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, galleryKey, gallery.NewDocument(g))
	})
}

func (s *Store) Load(ctx context.Context) (*facematch.Gallery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc gallery.Document
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, galleryKey, &doc)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, gallery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}
	return doc.Gallery()
}
