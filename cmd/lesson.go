package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/roster"
)

var lessonCmd = &cobra.Command{
	Use:   "lesson",
	Short: "Manage lessons and their rosters",
}

var lessonAddCmd = &cobra.Command{
	Use:   "add <id> <name>",
	Short: "Create a lesson with an empty roster",
	Args:  cobra.ExactArgs(2),
	RunE:  runLessonAdd,
}

var lessonDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a lesson and its roster (stored attendance is kept)",
	Args:  cobra.ExactArgs(1),
	RunE:  runLessonDelete,
}

var lessonListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lessons",
	Args:  cobra.NoArgs,
	RunE:  runLessonList,
}

var lessonRosterCmd = &cobra.Command{
	Use:   "roster <id>",
	Short: "Show or replace the students enrolled in a lesson",
	Long: `Without --student the current roster is printed. With one or more
--student flags the roster is replaced by the given students, in order.

A gallery label matches a student when it equals the student id or name,
compared ignoring case, accents and dashes.

Examples:
  face-attendance lesson roster math-1a
  face-attendance lesson roster math-1a --student "s-001:Jan Novák" --student "s-002:Eva Dvořáková"`,
	Args: cobra.ExactArgs(1),
	RunE: runLessonRoster,
}

var lessonImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create lessons and replace rosters from a YAML file",
	Long: `Import lessons and rosters from a YAML file:

  lessons:
    - id: math-1a
      name: Mathematics 1.A
      teacher: novak
      students:
        - id: s-001
          name: Jan Novák

Missing lessons are created; every listed lesson gets its roster replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: runLessonImport,
}

func init() {
	rootCmd.AddCommand(lessonCmd)
	lessonCmd.AddCommand(lessonAddCmd, lessonDeleteCmd, lessonListCmd, lessonRosterCmd, lessonImportCmd)

	lessonAddCmd.Flags().String("teacher", "", "Teacher of the lesson")
	lessonListCmd.Flags().String("teacher", "", "Only list lessons of this teacher")
	lessonRosterCmd.Flags().StringArray("student", nil, "Student as id:name (repeatable); replaces the roster")
}

// withBackend runs fn against the configured backend.
func withBackend(cmd *cobra.Command, fn func(ctx context.Context, backend database.Backend) error) error {
	cfg := loadConfig(cmd)
	ctx := context.Background()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend(backend)
	return fn(ctx, backend)
}

func runLessonAdd(cmd *cobra.Command, args []string) error {
	lesson := database.Lesson{ID: args[0], Name: args[1], Teacher: mustGetString(cmd, "teacher")}
	if err := lesson.Validate(); err != nil {
		return fmt.Errorf("invalid lesson: %w", err)
	}
	return withBackend(cmd, func(ctx context.Context, backend database.Backend) error {
		if err := backend.CreateLesson(ctx, lesson); err != nil {
			return fmt.Errorf("creating lesson %s: %w", lesson.ID, err)
		}
		fmt.Printf("Created lesson %s (%s)\n", lesson.ID, lesson.Name)
		return nil
	})
}

func runLessonDelete(cmd *cobra.Command, args []string) error {
	return withBackend(cmd, func(ctx context.Context, backend database.Backend) error {
		if err := backend.DeleteLesson(ctx, args[0]); err != nil {
			return fmt.Errorf("deleting lesson %s: %w", args[0], err)
		}
		fmt.Printf("Deleted lesson %s\n", args[0])
		return nil
	})
}

func runLessonList(cmd *cobra.Command, args []string) error {
	return withBackend(cmd, func(ctx context.Context, backend database.Backend) error {
		lessons, err := backend.ListLessons(ctx, mustGetString(cmd, "teacher"))
		if err != nil {
			return err
		}
		if len(lessons) == 0 {
			fmt.Println("No lessons")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTEACHER\tCREATED")
		for _, l := range lessons {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.ID, l.Name, l.Teacher, l.CreatedAt.Local().Format("2006-01-02"))
		}
		return w.Flush()
	})
}

// parseStudents parses id:name pairs. The name is optional.
func parseStudents(values []string) (attendance.Roster, error) {
	students := make(attendance.Roster, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		id, name, _ := strings.Cut(v, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("invalid student %q, expected id:name", v)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("student %s listed twice", id)
		}
		seen[id] = struct{}{}
		students = append(students, attendance.Member{StudentID: id, Name: strings.TrimSpace(name)})
	}
	return students, nil
}

func runLessonRoster(cmd *cobra.Command, args []string) error {
	lessonID := args[0]
	values := mustGetStringArray(cmd, "student")

	return withBackend(cmd, func(ctx context.Context, backend database.Backend) error {
		if len(values) > 0 {
			students, err := parseStudents(values)
			if err != nil {
				return err
			}
			if err := backend.SetRoster(ctx, lessonID, students); err != nil {
				return fmt.Errorf("setting roster of %s: %w", lessonID, err)
			}
			fmt.Printf("Roster of %s set to %d students\n", lessonID, len(students))
		}

		students, err := backend.Roster(ctx, lessonID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STUDENT\tNAME")
		for _, s := range students {
			fmt.Fprintf(w, "%s\t%s\n", s.StudentID, s.Name)
		}
		return w.Flush()
	})
}

func runLessonImport(cmd *cobra.Command, args []string) error {
	f, err := roster.ParseFile(args[0])
	if err != nil {
		return err
	}

	return withBackend(cmd, func(ctx context.Context, backend database.Backend) error {
		res, err := roster.Import(ctx, backend, f)
		if err != nil {
			return err
		}
		fmt.Printf("Created %d lessons, updated %d, %d students enrolled\n",
			len(res.Created), len(res.Updated), res.Students)
		return nil
	})
}
