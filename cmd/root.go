package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "face-attendance",
	Short: "Record classroom attendance by recognising faces",
	Long: `Face Attendance matches faces seen by a classroom camera against a gallery
of enrolled students and records who was present in each lesson.

The gallery is built from a directory of labelled photos (one directory per
student). Embeddings are computed by an external face embedding service.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	cfg := config.Load()
	level := cfg.Log.Level
	if flag := rootCmd.PersistentFlags().Lookup("log-level"); flag != nil && flag.Value.String() != "" {
		level = flag.Value.String()
	}
	logging.Init(logging.Config{Level: level, Format: cfg.Log.Format})
}
