package logging

// ProgressSampler throttles progress log lines to one per percentage bucket.
// A sampler belongs to a single job; construct a new one per transfer.
type ProgressSampler struct {
	step float64
	last int
}

// NewProgressSampler returns a sampler that logs the first sample and then
// whenever the percentage enters a new bucket of the given width (default 10).
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 || step > 100 {
		step = 10
	}
	return &ProgressSampler{step: step, last: -1}
}

// ShouldLog reports whether the sample at percent deserves a log line.
// Negative percentages mean the total is unknown and never log.
func (s *ProgressSampler) ShouldLog(percent float64) bool {
	if s == nil {
		return true
	}
	if percent < 0 {
		return false
	}
	bucket := int(min(percent, 100) / s.step)
	if bucket <= s.last {
		return false
	}
	s.last = bucket
	return true
}
