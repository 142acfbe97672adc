// Package accuracy decides, deterministically, which completed samples
// have their response payloads copied into the accuracy log. The decision
// is a pure function of (seed, query_id, sample_id), so two runs with the
// same seed sample the same subset regardless of completion order or
// thread interleaving.
package accuracy

// Sampler selects samples for accuracy logging with the configured
// probability. Safe for concurrent use; it holds no mutable state.
type Sampler struct {
	seed        uint64
	probability float64
}

// NewSampler returns a Sampler logging each sample with the given
// probability. probability 0 disables logging entirely, 1 logs everything.
func NewSampler(seed uint64, probability float64) *Sampler {
	return &Sampler{seed: seed, probability: probability}
}

// ShouldLog reports whether the (queryID, sampleID) pair is selected.
func (s *Sampler) ShouldLog(queryID, sampleID uint64) bool {
	if s.probability <= 0 {
		return false
	}
	if s.probability >= 1 {
		return true
	}
	h := mix(s.seed ^ mix(queryID) ^ mix(sampleID^0x9E3779B97F4A7C15))
	u := float64(h>>11) / (1 << 53)
	return u < s.probability
}

func mix(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
