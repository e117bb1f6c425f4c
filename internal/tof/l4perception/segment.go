package l4perception

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
)

// Segmenter splits a denoised residual into background (0) and foreground
// (1). Implementations must leave label 0 on the larger group.
type Segmenter interface {
	Segment(residual *l1frames.DepthFrame) *Mask
}

// Segmenter names accepted by NewSegmenter.
const (
	SegmenterKMeans    = "kmeans"
	SegmenterThreshold = "otsu"
)

// NewSegmenter returns the segmenter registered under name, or false. seed
// and maxIter only apply to k-means; maxIter 0 uses DefaultKMeansMaxIter.
func NewSegmenter(name string, seed uint64, maxIter int) (Segmenter, bool) {
	switch name {
	case SegmenterKMeans, "":
		return &KMeansSegmenter{Seed: seed, MaxIter: maxIter}, true
	case SegmenterThreshold:
		return ThresholdSegmenter{}, true
	}
	return nil, false
}

// Default k-means stopping criteria.
const (
	DefaultKMeansMaxIter   = 300
	DefaultKMeansTolerance = 1e-4
)

// KMeansSegmenter clusters the residual values into two groups with k-means
// (k-means++ seeding, Lloyd iterations). The same Seed always produces the
// same mask for the same input.
type KMeansSegmenter struct {
	Seed      uint64
	MaxIter   int     // 0 means DefaultKMeansMaxIter
	Tolerance float64 // centroid shift; 0 means DefaultKMeansTolerance
}

// Segment implements Segmenter.
func (s *KMeansSegmenter) Segment(residual *l1frames.DepthFrame) *Mask {
	mask := MaskLike(residual)
	n := len(residual.Data)
	if n == 0 {
		return mask
	}
	lo, hi := floats.Min(residual.Data), floats.Max(residual.Data)
	if !(hi > lo) {
		return mask
	}

	maxIter := s.MaxIter
	if maxIter <= 0 {
		maxIter = DefaultKMeansMaxIter
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = DefaultKMeansTolerance
	}

	// In one dimension the nearest-centroid assignment is a split of the
	// sorted values at the centroid midpoint, so each Lloyd step is a
	// binary search over prefix sums.
	sorted := make([]float64, n)
	copy(sorted, residual.Data)
	sort.Float64s(sorted)
	cum := make([]float64, n)
	floats.CumSum(cum, sorted)
	mean := func(from, to int) float64 {
		sum := cum[to-1]
		if from > 0 {
			sum -= cum[from-1]
		}
		return sum / float64(to-from)
	}

	c0, c1 := s.seed(residual.Data)
	if c0 > c1 {
		c0, c1 = c1, c0
	}
	split := -1
	for iter := 0; iter < maxIter; iter++ {
		mid := (c0 + c1) / 2
		// First index assigned to the upper centroid; ties go to the lower.
		next := sort.Search(n, func(i int) bool { return sorted[i] > mid })
		if next == 0 || next == n {
			break
		}
		n0, n1 := mean(0, next), mean(next, n)
		shift := math.Max(math.Abs(n0-c0), math.Abs(n1-c1))
		c0, c1 = n0, n1
		if next == split || shift <= tol {
			split = next
			break
		}
		split = next
	}

	threshold := (c0 + c1) / 2
	upper := 0
	for _, v := range residual.Data {
		if v > threshold {
			upper++
		}
	}
	// The upper group is foreground unless it is strictly larger.
	fgIsUpper := upper <= n-upper
	for i, v := range residual.Data {
		if (v > threshold) == fgIsUpper {
			mask.Data[i] = 1
		}
	}
	diagf("kmeans: centroids=(%.4f, %.4f) foreground=%d/%d", c0, c1, mask.Count(), n)
	return mask
}

// seed picks two initial centroids with k-means++: the first uniformly, the
// second with probability proportional to squared distance from the first.
func (s *KMeansSegmenter) seed(values []float64) (float64, float64) {
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	first := values[rng.IntN(len(values))]

	var total float64
	for _, v := range values {
		d := v - first
		total += d * d
	}
	if total == 0 {
		return first, first
	}
	target := rng.Float64() * total
	for _, v := range values {
		d := v - first
		target -= d * d
		if target < 0 && d != 0 {
			return first, v
		}
	}
	// Rounding left target just above zero; take the farthest value.
	far := values[0]
	for _, v := range values {
		if math.Abs(v-first) > math.Abs(far-first) {
			far = v
		}
	}
	return first, far
}

// ThresholdSegmenter splits the residual with Otsu's method over a 256-bin
// histogram spanning the value range.
type ThresholdSegmenter struct{}

// otsuBins is the histogram resolution for ThresholdSegmenter.
const otsuBins = 256

// Segment implements Segmenter.
func (ThresholdSegmenter) Segment(residual *l1frames.DepthFrame) *Mask {
	mask := MaskLike(residual)
	n := len(residual.Data)
	if n == 0 {
		return mask
	}
	lo, hi := floats.Min(residual.Data), floats.Max(residual.Data)
	if !(hi > lo) {
		return mask
	}

	width := (hi - lo) / otsuBins
	bin := func(v float64) int {
		b := int((v - lo) / width)
		if b >= otsuBins {
			b = otsuBins - 1
		}
		return b
	}
	var hist [otsuBins]float64
	for _, v := range residual.Data {
		hist[bin(v)]++
	}

	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i) * c
	}
	var (
		w0, sum0 float64
		best     = -1.0
		cut      = 0
	)
	for t := 0; t < otsuBins-1; t++ {
		w0 += hist[t]
		sum0 += float64(t) * hist[t]
		w1 := float64(n) - w0
		if w0 == 0 || w1 == 0 {
			continue
		}
		m0, m1 := sum0/w0, (sumAll-sum0)/w1
		between := w0 * w1 * (m0 - m1) * (m0 - m1)
		if between > best {
			best, cut = between, t
		}
	}

	upper := 0
	for _, v := range residual.Data {
		if bin(v) > cut {
			upper++
		}
	}
	fgIsUpper := upper <= n-upper
	for i, v := range residual.Data {
		if (bin(v) > cut) == fgIsUpper {
			mask.Data[i] = 1
		}
	}
	return mask
}
