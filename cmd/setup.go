package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/badgerdb"
	"github.com/kozaktomas/face-attendance/internal/database/mariadb"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

// addMatchingFlags registers the flags shared by commands that resolve identities.
func addMatchingFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("threshold", constants.DefaultDistanceThreshold, "Maximum distance for a match (lower = stricter); overrides MATCH_THRESHOLD")
	cmd.Flags().String("metric", "euclidean", "Distance metric: euclidean or cosine; overrides MATCH_METRIC")
	cmd.Flags().String("index", "linear", "Nearest-neighbour index: linear or hnsw; overrides MATCH_INDEX")
}

// loadConfig reads the environment and applies the matching flags a command defines.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.Load()
	if cmd.Flags().Lookup("threshold") != nil {
		overrideFloat64(cmd, "threshold", &cfg.Matching.Threshold)
		overrideString(cmd, "metric", &cfg.Matching.Metric)
		overrideString(cmd, "index", &cfg.Matching.Index)
	}
	if cmd.Flags().Lookup("workers") != nil {
		overrideInt(cmd, "workers", &cfg.Embedding.Workers)
	}
	return cfg
}

// openBackend connects to PostgreSQL when DATABASE_URL is set and falls back
// to the embedded Badger store otherwise.
func openBackend(ctx context.Context, cfg *config.Config) (database.Backend, error) {
	if cfg.Database.IsConfigured() {
		store, err := postgres.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		logging.Info().Msg("using PostgreSQL backend")
		return store, nil
	}

	store, err := badgerdb.Open(cfg.Badger.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %s: %w", cfg.Badger.Path, err)
	}
	logging.Info().Str("path", cfg.Badger.Path).Msg("using embedded badger backend")
	return store, nil
}

// galleryStore keeps the gallery in a gob file when GALLERY_PATH is set and
// in the backend otherwise.
func galleryStore(cfg *config.Config, backend database.Backend) gallery.Store {
	if cfg.Gallery.Path != "" {
		return gallery.NewFileStore(cfg.Gallery.Path)
	}
	return backend
}

// newHolder returns a gallery holder that only accepts embeddings of the
// configured dimension.
func newHolder(cfg *config.Config, backend database.Backend) *gallery.Holder {
	return gallery.NewHolder(galleryStore(cfg, backend), gallery.WithExpectedDim(cfg.Embedding.Dim))
}

// loadGallery publishes the stored gallery. A missing gallery is not an error
// for the server, which can train one later.
func loadGallery(ctx context.Context, holder *gallery.Holder) error {
	err := holder.Load(ctx)
	if errors.Is(err, gallery.ErrNotFound) {
		logging.Warn().Msg("no gallery stored yet, matching is unavailable until one is trained")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading gallery: %w", err)
	}
	return nil
}

// rosterSource returns the external student directory when SIS_DATABASE_URL
// is set and the backend otherwise. The returned close func is never nil.
func rosterSource(ctx context.Context, cfg *config.Config, backend database.Backend) (attendance.RosterSource, func(), error) {
	if cfg.SIS.DatabaseURL == "" {
		return backend, func() {}, nil
	}

	pool, err := mariadb.NewPool(ctx, cfg.SIS.DatabaseURL, cfg.SIS.RosterQuery)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to student directory: %w", err)
	}
	logging.Info().Msg("rosters are read from the student directory")
	return pool, func() {
		if err := pool.Close(); err != nil {
			logging.Warn().Err(err).Msg("closing student directory")
		}
	}, nil
}

// newProvider builds the provider chain: preprocessing, circuit breaker, HTTP client.
func newProvider(cfg *config.Config) embedding.Provider {
	client := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Timeout)
	breaker := embedding.NewBreakerProvider(client, embedding.BreakerSettings{Name: "embedding"})
	return embedding.NewPreprocessingProvider(breaker, embedding.Preprocessor{
		Scale:   cfg.Embedding.FrameResize,
		MaxSize: constants.MaxImageSize,
	})
}

// newMatcher parses the configured metric and index strategy.
func newMatcher(cfg *config.Config) (*facematch.Matcher, facematch.Metric, error) {
	metric, err := facematch.ParseMetric(cfg.Matching.Metric)
	if err != nil {
		return nil, "", err
	}
	kind, err := facematch.ParseIndexKind(cfg.Matching.Index)
	if err != nil {
		return nil, "", err
	}
	if cfg.Matching.Threshold <= 0 {
		return nil, "", facematch.ErrInvalidThreshold
	}
	return facematch.NewMatcher(metric, kind), metric, nil
}

// closeBackend closes the backend and logs a failure.
func closeBackend(backend database.Backend) {
	if err := backend.Close(); err != nil {
		logging.Warn().Err(err).Msg("closing backend")
	}
}
