package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
)

var reportCmd = &cobra.Command{
	Use:   "report <lesson-id>",
	Short: "Show the stored attendance of a lesson",
	Long: `Show the stored attendance of a lesson: one line per session with its
present and absent counts, followed by the attendance rate of every student.

With --session only the records of that session are listed.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("session", "", "Only show the records of this session")
	reportCmd.Flags().Bool("json", false, "Output as JSON")
}

// studentAttendance is the attendance rate of one student over a lesson's sessions.
type studentAttendance struct {
	StudentID string  `json:"student_id"`
	Name      string  `json:"name"`
	Present   int     `json:"present"`
	Sessions  int     `json:"sessions"`
	Rate      float64 `json:"rate"`
}

// sessionAttendance is the outcome of one recorded session.
type sessionAttendance struct {
	SessionID string    `json:"session_id"`
	ClosedAt  time.Time `json:"closed_at"`
	Present   int       `json:"present"`
	Absent    int       `json:"absent"`
}

// aggregateAttendance groups records by session (oldest first) and by student
// (by id).
func aggregateAttendance(records []attendance.Record) ([]sessionAttendance, []studentAttendance) {
	var sessions []sessionAttendance
	sessionIdx := make(map[string]int)
	studentIdx := make(map[string]int)
	var students []studentAttendance

	for _, r := range records {
		i, ok := sessionIdx[r.SessionID]
		if !ok {
			i = len(sessions)
			sessionIdx[r.SessionID] = i
			sessions = append(sessions, sessionAttendance{SessionID: r.SessionID})
		}
		j, ok := studentIdx[r.StudentID]
		if !ok {
			j = len(students)
			studentIdx[r.StudentID] = j
			students = append(students, studentAttendance{StudentID: r.StudentID, Name: r.StudentName})
		}

		students[j].Sessions++
		switch r.Status {
		case attendance.StatusPresent:
			sessions[i].Present++
			students[j].Present++
		case attendance.StatusAbsent:
			sessions[i].Absent++
			// Absent records carry the close time.
			if r.Timestamp.After(sessions[i].ClosedAt) {
				sessions[i].ClosedAt = r.Timestamp
			}
		}
	}

	for j := range students {
		students[j].Rate = float64(students[j].Present) / float64(students[j].Sessions)
	}
	sort.Slice(students, func(a, b int) bool { return students[a].StudentID < students[b].StudentID })
	return sessions, students
}

func runReport(cmd *cobra.Command, args []string) error {
	lessonID := args[0]
	sessionID := mustGetString(cmd, "session")
	jsonOutput := mustGetBool(cmd, "json")

	return withBackend(cmd, func(ctx context.Context, backend database.Backend) error {
		if _, err := backend.GetLesson(ctx, lessonID); err != nil {
			return fmt.Errorf("lesson %s: %w", lessonID, err)
		}

		if sessionID != "" {
			records, err := backend.ListBySession(ctx, sessionID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]any{
					"summary": attendance.Summarize(records),
					"records": records,
				})
			}
			printAttendance(records, frameStats{}, false)
			return nil
		}

		records, err := backend.ListByLesson(ctx, lessonID)
		if err != nil {
			return err
		}
		summary := database.SummarizeLesson(lessonID, records)
		sessions, students := aggregateAttendance(records)

		if jsonOutput {
			return printJSON(map[string]any{
				"summary":  summary,
				"sessions": sessions,
				"students": students,
			})
		}

		fmt.Printf("Lesson %s: %d sessions, %d present, %d absent\n\n",
			lessonID, summary.Sessions, summary.Present, summary.Absent)
		if len(sessions) == 0 {
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tCLOSED\tPRESENT\tABSENT")
		for _, s := range sessions {
			closed := "-"
			if !s.ClosedAt.IsZero() {
				closed = s.ClosedAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.SessionID, closed, s.Present, s.Absent)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "STUDENT\tNAME\tPRESENT\tRATE")
		for _, s := range students {
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%.0f%%\n", s.StudentID, s.Name, s.Present, s.Sessions, s.Rate*100)
		}
		return w.Flush()
	})
}
