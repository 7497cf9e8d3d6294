package envelope

import (
	"encoding/json"
	"fmt"
	"sync"
)

// RunLog is the append-only record of one run. Appended envelopes are
// cloned in, so later mutation of the caller's copy cannot reach the log,
// and read accessors hand out clones for the same reason.
type RunLog struct {
	mu        sync.RWMutex
	runID     string
	envelopes []Envelope
	byID      map[string]int
}

// NewRunLog creates an empty log for the given run id.
func NewRunLog(runID string) *RunLog {
	return &RunLog{
		runID: runID,
		byID:  make(map[string]int),
	}
}

// RunID returns the owning run's id.
func (l *RunLog) RunID() string { return l.runID }

// Append records an envelope. Duplicate ids are rejected; the log has
// no update path.
func (l *RunLog) Append(env Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if env.ID == "" {
		return fmt.Errorf("envelope without id")
	}
	if _, dup := l.byID[env.ID]; dup {
		return fmt.Errorf("envelope %s already logged", env.ID)
	}
	l.byID[env.ID] = len(l.envelopes)
	l.envelopes = append(l.envelopes, env.Clone())
	return nil
}

// Len returns the number of logged envelopes.
func (l *RunLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.envelopes)
}

// Get returns the envelope with the given id.
func (l *RunLog) Get(id string) (Envelope, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byID[id]
	if !ok {
		return Envelope{}, false
	}
	return l.envelopes[i].Clone(), true
}

// All returns every logged envelope in append order.
func (l *RunLog) All() []Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Envelope, len(l.envelopes))
	for i, e := range l.envelopes {
		out[i] = e.Clone()
	}
	return out
}

// ForTick returns the envelopes logged for one tick, in append order.
func (l *RunLog) ForTick(tick int) []Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Envelope
	for _, e := range l.envelopes {
		if e.Tick == tick {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Tail returns the trailing n envelopes (fewer when the log is shorter).
func (l *RunLog) Tail(n int) []Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := len(l.envelopes) - n
	if start < 0 {
		start = 0
	}
	out := make([]Envelope, 0, len(l.envelopes)-start)
	for _, e := range l.envelopes[start:] {
		out = append(out, e.Clone())
	}
	return out
}

// MarshalJSON serializes the full log for archival.
func (l *RunLog) MarshalJSON() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(struct {
		RunID     string     `json:"run_id"`
		Envelopes []Envelope `json:"envelopes"`
	}{l.runID, l.envelopes})
}

// RunLogFromJSON rebuilds a log from its archived form.
func RunLogFromJSON(data []byte) (*RunLog, error) {
	var raw struct {
		RunID     string     `json:"run_id"`
		Envelopes []Envelope `json:"envelopes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse archived log: %w", err)
	}
	if raw.RunID == "" {
		return nil, fmt.Errorf("archived log has no run id")
	}
	l := NewRunLog(raw.RunID)
	for _, env := range raw.Envelopes {
		if err := l.Append(env); err != nil {
			return nil, fmt.Errorf("rebuild archived log: %w", err)
		}
	}
	return l, nil
}
