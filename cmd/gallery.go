package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect the stored face gallery",
}

var galleryInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the labels and embedding counts of the gallery",
	Args:  cobra.NoArgs,
	RunE:  runGalleryInfo,
}

var galleryCalibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Compare same-student and cross-student distances",
	Long: `Compute the distances between embeddings of the same student (genuine)
and of different students (impostor) and suggest a match threshold.

With --threshold the false accept and false reject rates at that
threshold are reported as well. Needs at least two students and one
student with two or more photos.`,
	Args: cobra.NoArgs,
	RunE: runGalleryCalibrate,
}

var galleryMatchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Identify the faces in an image without recording attendance",
	Args:  cobra.ExactArgs(1),
	RunE:  runGalleryMatch,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	galleryCmd.AddCommand(galleryInfoCmd, galleryCalibrateCmd, galleryMatchCmd)

	galleryInfoCmd.Flags().Bool("json", false, "Output as JSON")

	addMatchingFlags(galleryCalibrateCmd)
	galleryCalibrateCmd.Flags().Bool("json", false, "Output as JSON")

	addMatchingFlags(galleryMatchCmd)
	galleryMatchCmd.Flags().Bool("json", false, "Output as JSON")
}

// openGallery opens the backend and loads the stored gallery into a holder.
// The caller closes the backend.
func openGallery(ctx context.Context, cfg *config.Config) (*gallery.Holder, database.Backend, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	holder := newHolder(cfg, backend)
	if err := holder.Load(ctx); err != nil {
		closeBackend(backend)
		if errors.Is(err, gallery.ErrNotFound) {
			return nil, nil, errors.New("no gallery stored yet, run 'face-attendance train' first")
		}
		return nil, nil, fmt.Errorf("loading gallery: %w", err)
	}
	return holder, backend, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runGalleryInfo(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	ctx := context.Background()

	holder, backend, err := openGallery(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend(backend)

	g, err := holder.Current()
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		labels := make(map[string]int, g.Len())
		for _, e := range g.Entries() {
			labels[e.Label] = len(e.Embeddings)
		}
		return printJSON(map[string]any{
			"labels":     labels,
			"embeddings": g.Size(),
			"dim":        g.Dim(),
			"model":      g.Metadata().Model,
			"built_at":   g.Metadata().BuiltAt,
		})
	}

	meta := g.Metadata()
	fmt.Printf("Labels:     %d\n", g.Len())
	fmt.Printf("Embeddings: %d (dim %d)\n", g.Size(), g.Dim())
	if meta.Model != "" {
		fmt.Printf("Model:      %s\n", meta.Model)
	}
	if !meta.BuiltAt.IsZero() {
		fmt.Printf("Built:      %s\n", meta.BuiltAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tEMBEDDINGS")
	for _, e := range g.Entries() {
		fmt.Fprintf(w, "%s\t%d\n", e.Label, len(e.Embeddings))
	}
	return w.Flush()
}

func runGalleryCalibrate(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	ctx := context.Background()

	_, metric, err := newMatcher(cfg)
	if err != nil {
		return err
	}

	holder, backend, err := openGallery(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend(backend)

	g, err := holder.Current()
	if err != nil {
		return err
	}
	cal, err := facematch.Calibrate(g, metric)
	if err != nil {
		return err
	}
	far, frr := cal.ErrorRates(cfg.Matching.Threshold)

	if mustGetBool(cmd, "json") {
		return printJSON(map[string]any{
			"calibration":       cal,
			"threshold":         cfg.Matching.Threshold,
			"false_accept_rate": far,
			"false_reject_rate": frr,
		})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Metric: %s\n\n", cal.Metric)
	fmt.Fprintln(w, "\tPAIRS\tMEAN\tSTDDEV\tMIN\tP05\tP50\tP95\tMAX")
	for _, row := range []struct {
		name  string
		stats facematch.DistanceStats
	}{
		{"genuine", cal.Genuine},
		{"impostor", cal.Impostor},
	} {
		s := row.stats
		fmt.Fprintf(w, "%s\t%d\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\n",
			row.name, s.Pairs, s.Mean, s.StdDev, s.Min, s.P05, s.P50, s.P95, s.Max)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nSuggested threshold: %.3f\n", cal.SuggestedThreshold)
	fmt.Printf("At threshold %.3f: false accept %.1f%%, false reject %.1f%%\n",
		cfg.Matching.Threshold, far*100, frr*100)
	return nil
}

func runGalleryMatch(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	ctx := context.Background()

	matcher, _, err := newMatcher(cfg)
	if err != nil {
		return err
	}

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	holder, backend, err := openGallery(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend(backend)

	service := attendance.NewService(newProvider(cfg), holder, matcher, nil,
		attendance.NewWorkerPool(1), cfg.Matching.Threshold)
	faces, err := service.Identify(ctx, image, 0)
	if errors.Is(err, embedding.ErrNoFaceDetected) {
		fmt.Println("No faces found")
		return nil
	}
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return printJSON(map[string]any{"faces": faces})
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tLABEL\tDISTANCE\tBOX")
	for i, f := range faces {
		fmt.Fprintf(w, "%d\t%s\t%.3f\t%.0f\n", i+1, f.Label, f.Distance, f.BBox)
	}
	return w.Flush()
}
