package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/gallery"
)

var trainCmd = &cobra.Command{
	Use:   "train [dataset-dir]",
	Short: "Build the face gallery from a directory of labelled photos",
	Long: `Build the face gallery from a directory tree and save it.

The directory holds one subdirectory per student; the subdirectory name is
the label matched faces are reported under:

  dataset/
    s-001/  photo1.jpg photo2.jpg
    s-002/  photo1.jpg

Every photo contributes the embedding of its first detected face. Photos
without a face or that cannot be read are skipped and listed in the report.
The previous gallery stays in place if no embedding was produced.

Examples:
  # Build from GALLERY_ROOT (default ./dataset)
  face-attendance train

  # Build from another directory with 16 parallel requests
  face-attendance train ./photos --workers 16`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().Int("workers", 0, "Concurrent embedding requests; overrides WORKER_POOL_SIZE")
	trainCmd.Flags().Bool("json", false, "Output the build report as JSON")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	jsonOutput := mustGetBool(cmd, "json")

	root := cfg.Gallery.Root
	if len(args) == 1 {
		root = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend(backend)

	var bar *progressbar.ProgressBar
	opts := []gallery.BuilderOption{
		gallery.WithWorkers(cfg.Embedding.Workers),
		gallery.WithModel(cfg.Embedding.Model),
		gallery.WithDim(cfg.Embedding.Dim),
	}
	if !jsonOutput {
		opts = append(opts, gallery.WithProgress(func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Embedding photos"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("photos"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			_ = bar.Set(done)
		}))
	}

	holder := newHolder(cfg, backend)
	report, err := holder.Rebuild(ctx, gallery.NewBuilder(newProvider(cfg), opts...), root)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		if report != nil && !jsonOutput {
			printBuildReport(report)
		}
		return fmt.Errorf("training gallery from %s: %w", root, err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printBuildReport(report)
	return nil
}

func printBuildReport(report *gallery.BuildReport) {
	fmt.Printf("Labels:   %d\n", report.Labels)
	fmt.Printf("Images:   %d\n", report.Images)
	fmt.Printf("Embedded: %d\n", report.Embedded)
	fmt.Printf("Skipped:  %d\n", len(report.Skipped))
	fmt.Printf("Duration: %s\n", report.Duration.Round(time.Millisecond))

	if len(report.Skipped) == 0 {
		return
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tFILE\tREASON")
	for _, s := range report.Skipped {
		reason := string(s.Reason)
		if s.Error != "" {
			reason += ": " + s.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Label, s.Path, reason)
	}
	_ = w.Flush()
}
