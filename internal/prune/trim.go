package prune

import (
	"fmt"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
)

// TrimTrace returns the envelope handed to the provider. When the causal
// trace exceeds threshold entries the result is a clone whose trace is one
// synthetic marker plus the keep most recent entries; otherwise the input
// comes back untouched. The logged original is never modified.
func TrimTrace(env envelope.Envelope, threshold, keep int) envelope.Envelope {
	if threshold < 2 {
		threshold = 2
	}
	if keep < 1 {
		keep = 1
	}
	if keep >= threshold {
		keep = threshold - 1
	}
	if len(env.Trace) <= threshold {
		return env
	}

	dropped := len(env.Trace) - keep
	out := env.Clone()
	trimmed := make([]string, 0, keep+1)
	trimmed = append(trimmed, fmt.Sprintf("… %d earlier steps", dropped))
	trimmed = append(trimmed, env.Trace[len(env.Trace)-keep:]...)
	out.Trace = trimmed

	logging.S(logging.CategoryPrune).Debugf("trace trimmed for %s: %d entries to %d", env.Source, len(env.Trace), len(trimmed))
	return out
}
