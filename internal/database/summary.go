package database

import "github.com/kozaktomas/face-attendance/internal/attendance"

// SummarizeLesson counts sessions and statuses over the records of one lesson.
func SummarizeLesson(lessonID string, records []attendance.Record) LessonSummary {
	sessions := make(map[string]struct{})
	s := LessonSummary{LessonID: lessonID}
	for _, r := range records {
		if r.LessonID != lessonID {
			continue
		}
		sessions[r.SessionID] = struct{}{}
		switch r.Status {
		case attendance.StatusPresent:
			s.Present++
		case attendance.StatusAbsent:
			s.Absent++
		}
	}
	s.Sessions = len(sessions)
	return s
}
