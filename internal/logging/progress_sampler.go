package logging

import "sync"

// ProgressSampler suppresses repetitive progress reports while preserving
// signal when the percentage crosses a bucket boundary. It is safe for
// concurrent use.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 5%).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// Allow reports whether a progress update at percent (0-100) should be emitted.
func (s *ProgressSampler) Allow(percent float64) bool {
	if s == nil {
		return true
	}
	if percent < 0 {
		return false
	}
	bucket := int(percent / s.bucketSize)
	if percent >= 100 {
		bucket = int(100 / s.bucketSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket <= s.lastBucket {
		return false
	}
	s.lastBucket = bucket
	return true
}

// Reset clears the sampler state.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.lastBucket = -1
	s.mu.Unlock()
}
