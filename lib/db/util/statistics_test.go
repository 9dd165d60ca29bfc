package util

import "testing"

func TestSizeHistogramEstimates(t *testing.T) {
	h := NewSizeHistogram()
	if h.MedianEstimate() != 0 || h.AverageSize() != 0 {
		t.Fatal("Empty histogram should report zero estimates")
	}

	for i := 0; i < 10; i++ {
		h.AddSample(100) // bucket (64, 256]
	}
	h.AddSample(1 << 28) // overflow bucket

	if h.GetCount() != 11 {
		t.Errorf("Expected 11 samples, got %d", h.GetCount())
	}
	if got := h.MedianEstimate(); got != (64+256)/2 {
		t.Errorf("Expected median estimate %d, got %d", (64+256)/2, got)
	}
	if got := h.PercentileEstimate(100); got != sizeBoundaries[len(sizeBoundaries)-1]*2 {
		t.Errorf("Expected overflow estimate for p100, got %d", got)
	}
	if got := h.PercentileEstimate(101); got != 0 {
		t.Errorf("Expected 0 for invalid percentile, got %d", got)
	}
}

func TestDistributionStats(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10, 10})
	if even.DistributionQuality != 1.0 {
		t.Errorf("Expected quality 1.0 for an even spread, got %f", even.DistributionQuality)
	}

	skewed := NewDistributionStats([]float64{40, 0, 0, 0})
	if skewed.DistributionQuality >= even.DistributionQuality {
		t.Errorf("Skewed spread should rate worse than even spread (%f >= %f)",
			skewed.DistributionQuality, even.DistributionQuality)
	}
}

func TestShardIndexInRange(t *testing.T) {
	seed := GenerateSeed()
	for _, key := range []string{"", "a", "policy/authz", "k-123456789"} {
		idx := ShardIndex(HashString(key, seed), 7)
		if idx < 0 || idx >= 7 {
			t.Errorf("Shard index %d out of range for key %q", idx, key)
		}
	}
}
