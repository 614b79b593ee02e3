package facematch

import (
	"errors"
	"math"
	"testing"

	json "github.com/goccy/go-json"
)

func TestCalibrate_SeparatesGenuineFromImpostor(t *testing.T) {
	g := mustGallery(t,
		entry("alice", Embedding{0, 0}, Embedding{0.1, 0}, Embedding{0, 0.2}),
		entry("bob", Embedding{5, 5}, Embedding{5.1, 5}),
		entry("carol", Embedding{-5, 5}, Embedding{-5, 5.3}),
	)

	c, err := Calibrate(g, MetricEuclidean)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	if c.Genuine.Pairs != 5 {
		t.Errorf("genuine pairs = %d, want 5", c.Genuine.Pairs)
	}
	if c.Impostor.Pairs != 3*2+3*2+2*2 {
		t.Errorf("impostor pairs = %d, want 16", c.Impostor.Pairs)
	}
	if c.Genuine.Mean >= c.Impostor.Mean {
		t.Errorf("genuine mean %v should be below impostor mean %v", c.Genuine.Mean, c.Impostor.Mean)
	}
	if c.SuggestedThreshold <= c.Genuine.Max || c.SuggestedThreshold >= c.Impostor.Min {
		t.Errorf("suggested threshold %v should separate %v and %v",
			c.SuggestedThreshold, c.Genuine.Max, c.Impostor.Min)
	}

	far, frr := c.ErrorRates(c.SuggestedThreshold)
	if far != 0 || frr != 0 {
		t.Errorf("expected perfect separation, got FAR=%v FRR=%v", far, frr)
	}
}

func TestCalibration_ErrorRates(t *testing.T) {
	g := mustGallery(t,
		entry("alice", Embedding{0}, Embedding{1}),
		entry("bob", Embedding{3}),
	)
	c, err := Calibrate(g, MetricEuclidean)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	// genuine: {1}; impostor: {2, 3}
	far, frr := c.ErrorRates(1)
	if far != 0 || frr != 1 {
		t.Errorf("threshold 1: FAR=%v FRR=%v, want 0 and 1 (strict comparison)", far, frr)
	}
	far, frr = c.ErrorRates(2.5)
	if far != 0.5 || frr != 0 {
		t.Errorf("threshold 2.5: FAR=%v FRR=%v, want 0.5 and 0", far, frr)
	}
}

func TestCalibrate_InsufficientData(t *testing.T) {
	single := mustGallery(t, entry("alice", Embedding{0}, Embedding{1}))
	if _, err := Calibrate(single, MetricEuclidean); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}

	if _, err := Calibrate(nil, MetricEuclidean); !errors.Is(err, ErrGalleryMissing) {
		t.Errorf("expected ErrGalleryMissing, got %v", err)
	}
}

func TestCalibrate_SinglePairIsEncodable(t *testing.T) {
	g := mustGallery(t,
		entry("alice", Embedding{0, 0}, Embedding{0.1, 0.1}),
		entry("bob", Embedding{10, 0}),
	)

	c, err := Calibrate(g, MetricEuclidean)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if c.Genuine.Pairs != 1 {
		t.Fatalf("genuine pairs = %d, want 1", c.Genuine.Pairs)
	}
	for name, s := range map[string]DistanceStats{"genuine": c.Genuine, "impostor": c.Impostor} {
		if math.IsNaN(s.StdDev) || s.StdDev != 0 && s.Pairs < 2 {
			t.Errorf("%s std dev = %v with %d pairs, want 0", name, s.StdDev, s.Pairs)
		}
	}
	if _, err := json.Marshal(c); err != nil {
		t.Errorf("calibration does not encode: %v", err)
	}
}
