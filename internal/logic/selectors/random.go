package selectors

import (
	"math/rand"
	"sync"
)

// RandomStrategy draws uniformly at random from the pool. It keeps no serving
// history: no repetition avoidance, frequency capping or pacing.
type RandomStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand // nil uses the process-wide source
}

// NewRandomStrategy returns a uniform strategy. A non-zero seed makes the
// sequence of draws reproducible, which tests rely on.
func NewRandomStrategy(seed int64) *RandomStrategy {
	if seed == 0 {
		return &RandomStrategy{}
	}
	return &RandomStrategy{rng: rand.New(rand.NewSource(seed))}
}

// Pick returns one element of pool chosen uniformly at random.
func (s *RandomStrategy) Pick(pool []string) (string, error) {
	if len(pool) == 0 {
		return "", ErrEmptyPool
	}
	if s == nil || s.rng == nil {
		return pool[rand.Intn(len(pool))], nil
	}
	// rand.Rand is not safe for concurrent use
	s.mu.Lock()
	i := s.rng.Intn(len(pool))
	s.mu.Unlock()
	return pool[i], nil
}
