package envelope

import "sync"

// SystemStatus is the UI-facing health pair, both in [0,1].
type SystemStatus struct {
	Health    float64 `json:"health"`
	Stability float64 `json:"stability"`
}

// Penalty weights for the health computation.
const (
	penaltyInvalid      = 0.5
	penaltySubstitution = 0.3
	penaltyLoop         = 0.2
)

// StatusTracker recomputes SystemStatus each tick from the trailing
// envelope window. Stability is an exponential moving average of the
// window's valid share, so a single bad tick dents it instead of crashing
// it. Not persisted anywhere.
type StatusTracker struct {
	mu     sync.Mutex
	window int
	alpha  float64

	stability float64
	seeded    bool
	current   SystemStatus
}

// NewStatusTracker builds a tracker over the given trailing window size.
// alpha is the EMA smoothing factor in (0,1].
func NewStatusTracker(window int, alpha float64) *StatusTracker {
	if window < 1 {
		window = 1
	}
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &StatusTracker{
		window:  window,
		alpha:   alpha,
		current: SystemStatus{Health: 1, Stability: 1},
	}
}

// Window returns the trailing window size.
func (t *StatusTracker) Window() int { return t.window }

// Update recomputes status from the trailing window. loopsInWindow is the
// count of loop detections recorded over the same span; loops are events,
// not envelopes, so they arrive separately.
func (t *StatusTracker) Update(recent []Envelope, loopsInWindow int) SystemStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(recent) == 0 {
		return t.current
	}
	if len(recent) > t.window {
		recent = recent[len(recent)-t.window:]
	}

	var invalid, substituted int
	for _, e := range recent {
		if !e.Validation.SchemaOK {
			invalid++
		}
		if e.Provenance == ProvenanceSubstituted {
			substituted++
		}
	}
	n := float64(len(recent))
	invalidShare := float64(invalid) / n
	subShare := float64(substituted) / n
	loopShare := float64(loopsInWindow) / n
	if loopShare > 1 {
		loopShare = 1
	}

	health := 1 - penaltyInvalid*invalidShare - penaltySubstitution*subShare - penaltyLoop*loopShare
	health = clamp01(health)

	validShare := 1 - invalidShare
	if !t.seeded {
		t.stability = validShare
		t.seeded = true
	} else {
		t.stability = t.alpha*validShare + (1-t.alpha)*t.stability
	}

	t.current = SystemStatus{Health: health, Stability: clamp01(t.stability)}
	return t.current
}

// Current returns the last computed status.
func (t *StatusTracker) Current() SystemStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Reset clears the tracker for a fresh run.
func (t *StatusTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stability = 0
	t.seeded = false
	t.current = SystemStatus{Health: 1, Stability: 1}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
