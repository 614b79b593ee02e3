package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/roster"
)

var attendCmd = &cobra.Command{
	Use:   "attend <lesson-id> <frame>...",
	Short: "Record attendance of a lesson from a set of photos",
	Long: `Run one attendance session offline: open a session for the lesson, submit
every photo as a camera frame and close the session.

Closing emits one record per enrolled student, present if their face was
seen in any frame and absent otherwise. Records are stored in the database
unless --dry-run is given.

Examples:
  # Record attendance from the photos of this morning's lesson
  face-attendance attend math-1a frames/*.jpg

  # Use a roster file instead of the stored roster and only print the result
  face-attendance attend math-1a frames/*.jpg --roster rosters.yaml --dry-run

  # Also write the records as JSON
  face-attendance attend math-1a frames/*.jpg --out attendance.json`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAttend,
}

func init() {
	rootCmd.AddCommand(attendCmd)

	addMatchingFlags(attendCmd)
	attendCmd.Flags().Int("workers", 0, "Concurrent embedding requests; overrides WORKER_POOL_SIZE")
	attendCmd.Flags().String("roster", "", "YAML roster file to take the lesson's students from")
	attendCmd.Flags().String("out", "", "Write the emitted records as JSON to this file (- for stdout)")
	attendCmd.Flags().Bool("dry-run", false, "Do not store records in the database")
}

// frameStats counts what happened to the submitted frames.
type frameStats struct {
	Frames  int
	NoFace  int
	Invalid int
	Unknown int
}

func runAttend(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	lessonID, frames := args[0], args[1:]
	dryRun := mustGetBool(cmd, "dry-run")

	matcher, _, err := newMatcher(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	holder, backend, err := openGallery(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend(backend)

	var rosters attendance.RosterSource
	if path := mustGetString(cmd, "roster"); path != "" {
		r, err := rosterFromFile(path, lessonID)
		if err != nil {
			return err
		}
		rosters = r
	} else {
		source, closeRosters, err := rosterSource(ctx, cfg, backend)
		if err != nil {
			return err
		}
		defer closeRosters()
		rosters = source
	}

	var recorders []attendance.Recorder
	if !dryRun {
		recorders = append(recorders, backend)
	}
	out, closeOut, err := openOutput(mustGetString(cmd, "out"))
	if err != nil {
		return err
	}
	defer closeOut()
	if out != nil {
		recorders = append(recorders, attendance.NewJSONRecorder(out, true))
	}

	manager := attendance.NewManager(rosters, fanOut(recorders))
	service := attendance.NewService(newProvider(cfg), holder, matcher, manager,
		attendance.NewWorkerPool(cfg.Embedding.Workers), cfg.Matching.Threshold)

	info, err := manager.Open(ctx, lessonID)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}

	stats, err := submitFrames(ctx, service, info.ID, frames)
	if err != nil {
		return err
	}

	records, err := manager.Close(ctx, info.ID)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}

	printAttendance(records, stats, dryRun)
	return nil
}

// submitFrames feeds every file to the session. Frames without a face or that
// cannot be decoded are counted and skipped; any other failure aborts the run.
func submitFrames(ctx context.Context, service *attendance.Service, sessionID string, frames []string) (frameStats, error) {
	stats := frameStats{Frames: len(frames)}
	bar := progressbar.NewOptions(len(frames),
		progressbar.OptionSetDescription("Submitting frames"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)
	defer func() {
		_ = bar.Finish()
		fmt.Println()
	}()

	for _, path := range frames {
		image, err := os.ReadFile(path)
		if err != nil {
			return stats, fmt.Errorf("reading %s: %w", path, err)
		}

		result, err := service.SubmitFrame(ctx, sessionID, image, 0)
		switch {
		case errors.Is(err, embedding.ErrNoFaceDetected):
			stats.NoFace++
		case errors.Is(err, embedding.ErrInvalidImage):
			logging.Warn().Str("frame", path).Err(err).Msg("skipping unreadable frame")
			stats.Invalid++
		case err != nil:
			return stats, fmt.Errorf("submitting %s: %w", path, err)
		default:
			for _, f := range result.Faces {
				if f.Outcome == attendance.OutcomeUnknown {
					stats.Unknown++
				}
			}
		}
		_ = bar.Add(1)
	}
	return stats, nil
}

// rosterFromFile returns the students of lessonID from a roster import file.
func rosterFromFile(path, lessonID string) (attendance.StaticRoster, error) {
	f, err := roster.ParseFile(path)
	if err != nil {
		return nil, err
	}
	for _, l := range f.Lessons {
		if l.ID == lessonID {
			return attendance.StaticRoster(l.Students), nil
		}
	}
	return nil, fmt.Errorf("lesson %s is not listed in %s", lessonID, path)
}

// openOutput opens the --out destination. An empty path returns a nil writer.
func openOutput(path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		return os.Stdout, func() {}, nil
	}
	fh, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return fh, func() {
		if err := fh.Close(); err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("closing output file")
		}
	}, nil
}

// fanOut hands records to every recorder in order and stops at the first
// failure. The database recorder goes first so a failed store writes no file.
func fanOut(recorders []attendance.Recorder) attendance.Recorder {
	return attendance.RecorderFunc(func(ctx context.Context, records []attendance.Record) error {
		for _, r := range recorders {
			if err := r.Record(ctx, records); err != nil {
				return err
			}
		}
		return nil
	})
}

func printAttendance(records []attendance.Record, stats frameStats, dryRun bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT\tNAME\tSTATUS\tSEEN")
	for _, r := range records {
		seen := "-"
		if r.Status == attendance.StatusPresent {
			seen = r.Timestamp.Local().Format("15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.StudentID, r.StudentName, r.Status, seen)
	}
	_ = w.Flush()

	summary := attendance.Summarize(records)
	fmt.Printf("\nPresent: %d  Absent: %d\n", summary.Present, summary.Absent)
	fmt.Printf("Frames: %d (no face %d, unreadable %d), unrecognised faces: %d\n",
		stats.Frames, stats.NoFace, stats.Invalid, stats.Unknown)
	if dryRun {
		fmt.Println("Dry run: records were not stored")
	}
}
