package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <label> <image>...",
	Short: "Add photos of one student to the gallery",
	Long: `Embed the first face of each photo and append it to the student's
gallery entry. A label not yet in the gallery is added at the end, so the
order of existing students (and tie-breaks between them) is unchanged.

Photos without a face are reported and skipped; the gallery is saved after
every accepted photo.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	ctx := context.Background()
	label := args[0]

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend(backend)

	holder := newHolder(cfg, backend)
	if err := holder.Load(ctx); err != nil && !errors.Is(err, gallery.ErrNotFound) {
		return fmt.Errorf("loading gallery: %w", err)
	}

	provider := newProvider(cfg)
	accepted := 0
	for _, path := range args[1:] {
		image, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("  %s: %v\n", path, err)
			continue
		}

		g, err := holder.Enroll(ctx, provider, label, image)
		switch {
		case errors.Is(err, embedding.ErrNoFaceDetected):
			fmt.Printf("  %s: no face found, skipped\n", path)
			continue
		case err != nil:
			return fmt.Errorf("enrolling %s: %w", path, err)
		}

		embeddings, _ := g.Embeddings(label)
		fmt.Printf("  %s: enrolled (%d embeddings for %s)\n", path, len(embeddings), label)
		accepted++
	}

	if accepted == 0 {
		return fmt.Errorf("no photo of %s could be enrolled", label)
	}
	fmt.Printf("Enrolled %d of %d photos\n", accepted, len(args)-1)
	return nil
}
