package s4u

import "sync"

const (
	defaultInterest    = 1.0
	defaultDecayFactor = 0.95
)

// InterestTracker keeps a decaying affinity score per sender.
// Scores are only decayed through DecayAll, once per admitted message,
// so every sender cools down as the conversation moves on.
type InterestTracker struct {
	mu     sync.Mutex
	scores map[string]float64
	factor float64
}

// NewInterestTracker returns a tracker that decays by factor; factor outside
// (0,1] falls back to 0.95.
func NewInterestTracker(factor float64) *InterestTracker {
	if factor <= 0 || factor > 1 {
		factor = defaultDecayFactor
	}
	return &InterestTracker{scores: make(map[string]float64), factor: factor}
}

// Get returns the sender's score, 1.0 for unknown senders.
func (t *InterestTracker) Get(sender string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.scores[sender]; ok {
		return s
	}
	return defaultInterest
}

// Touch starts tracking sender at the default score if it is not tracked yet.
func (t *InterestTracker) Touch(sender string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.scores[sender]; !ok {
		t.scores[sender] = defaultInterest
	}
}

// Bump adds delta to the sender's score.
func (t *InterestTracker) Bump(sender string, delta float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.scores[sender]
	if !ok {
		s = defaultInterest
	}
	t.scores[sender] = s + delta
}

// DecayAll multiplies every tracked score by the decay factor.
func (t *InterestTracker) DecayAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range t.scores {
		t.scores[k] = v * t.factor
	}
}

// Len returns the number of tracked senders.
func (t *InterestTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.scores)
}
