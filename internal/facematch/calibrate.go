package facematch

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when a gallery cannot produce both genuine
// and impostor pairs (it needs a label with two embeddings and two labels).
var ErrInsufficientData = errors.New("gallery needs at least two labels and one label with two embeddings")

// DistanceStats summarises a set of pairwise distances.
type DistanceStats struct {
	Pairs  int     `json:"pairs"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	P05    float64 `json:"p05"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
}

// Calibration compares same-label (genuine) and cross-label (impostor)
// distances in a gallery and proposes an acceptance threshold.
type Calibration struct {
	Metric             Metric        `json:"metric"`
	Genuine            DistanceStats `json:"genuine"`
	Impostor           DistanceStats `json:"impostor"`
	SuggestedThreshold float64       `json:"suggested_threshold"`

	genuine  []float64
	impostor []float64
}

// Calibrate computes genuine and impostor distance distributions for g.
func Calibrate(g *Gallery, metric Metric) (*Calibration, error) {
	if g.IsEmpty() {
		return nil, ErrGalleryMissing
	}

	var genuine, impostor []float64
	for i, a := range g.entries {
		for x := range a.Embeddings {
			for y := x + 1; y < len(a.Embeddings); y++ {
				genuine = append(genuine, metric.Distance(a.Embeddings[x], a.Embeddings[y]))
			}
		}
		for _, b := range g.entries[i+1:] {
			for _, ea := range a.Embeddings {
				for _, eb := range b.Embeddings {
					impostor = append(impostor, metric.Distance(ea, eb))
				}
			}
		}
	}

	if len(genuine) == 0 || len(impostor) == 0 {
		return nil, ErrInsufficientData
	}

	sort.Float64s(genuine)
	sort.Float64s(impostor)

	c := &Calibration{
		Metric:   metric,
		Genuine:  summarize(genuine),
		Impostor: summarize(impostor),
		genuine:  genuine,
		impostor: impostor,
	}
	c.SuggestedThreshold = c.bestThreshold()
	return c, nil
}

func summarize(sorted []float64) DistanceStats {
	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) < 2 {
		// the sample deviation of a single pair is undefined
		std = 0
	}
	return DistanceStats{
		Pairs:  len(sorted),
		Mean:   mean,
		StdDev: std,
		Min:    sorted[0],
		P05:    stat.Quantile(0.05, stat.Empirical, sorted, nil),
		P50:    stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Max:    sorted[len(sorted)-1],
	}
}

// ErrorRates returns the false accept rate (impostor pairs strictly below
// threshold) and false reject rate (genuine pairs at or above threshold).
func (c *Calibration) ErrorRates(threshold float64) (far, frr float64) {
	accepted := sort.SearchFloat64s(c.impostor, threshold)
	rejected := len(c.genuine) - sort.SearchFloat64s(c.genuine, threshold)
	return float64(accepted) / float64(len(c.impostor)), float64(rejected) / float64(len(c.genuine))
}

// bestThreshold scans midpoints between observed distances and returns the one
// minimising FAR+FRR. Ties keep the smaller (stricter) threshold.
func (c *Calibration) bestThreshold() float64 {
	all := make([]float64, 0, len(c.genuine)+len(c.impostor))
	all = append(all, c.genuine...)
	all = append(all, c.impostor...)
	sort.Float64s(all)

	candidates := make([]float64, 0, len(all))
	for i := 1; i < len(all); i++ {
		if all[i] > all[i-1] {
			candidates = append(candidates, (all[i]+all[i-1])/2)
		}
	}
	candidates = append(candidates, all[len(all)-1]+1e-6)

	best := candidates[0]
	bestCost := 2.0
	for _, t := range candidates {
		far, frr := c.ErrorRates(t)
		if cost := far + frr; cost < bestCost {
			best, bestCost = t, cost
		}
	}
	return best
}
