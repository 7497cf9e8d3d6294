package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/config"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/fhierr"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/governor"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/prune"
)

// Failover wraps a live provider with the offline engine so callers always
// get a usable result. Per-call failures substitute offline output for that
// call only; a quota failure flips the whole run offline until ResetQuota.
// Context cancellation is never absorbed.
type Failover struct {
	live    Provider
	offline *Offline

	mu          sync.Mutex
	offlineOnly bool
	quotaErr    *fhierr.QuotaExceededError
	onQuota     func(*fhierr.QuotaExceededError)
}

// NewFailover wraps live with offline fallback. A nil live provider yields a
// pure offline provider with offline provenance on every output.
func NewFailover(live Provider, offline *Offline) *Failover {
	return &Failover{live: live, offline: offline}
}

// SetOnQuota registers a callback fired once, on the call that first trips
// the quota flip. The callback runs on the generating goroutine.
func (f *Failover) SetOnQuota(fn func(*fhierr.QuotaExceededError)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onQuota = fn
}

// OfflineActive reports whether calls are currently served by the offline
// engine, either by configuration or after a quota flip.
func (f *Failover) OfflineActive() bool {
	if f.live == nil {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offlineOnly
}

// QuotaError returns the error that tripped the quota flip, or nil.
func (f *Failover) QuotaError() *fhierr.QuotaExceededError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotaErr
}

// ForceOffline flips the provider offline without a quota event.
func (f *Failover) ForceOffline() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offlineOnly = true
}

// ResetQuota clears the offline flip so the next call tries live again.
func (f *Failover) ResetQuota() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offlineOnly = false
	f.quotaErr = nil
}

// noteFailure records a live failure and flips the run offline when the
// failure is quota-class. Returns after firing onQuota at most once.
func (f *Failover) noteFailure(scope string, err error) {
	var q *fhierr.QuotaExceededError
	if !errors.As(err, &q) {
		logging.Provider("substituting offline output for %s: %v", scope, err)
		return
	}
	f.mu.Lock()
	first := !f.offlineOnly
	f.offlineOnly = true
	f.quotaErr = q
	cb := f.onQuota
	f.mu.Unlock()
	logging.Provider("quota flip tripped by %s: %v", scope, err)
	if first && cb != nil {
		cb(q)
	}
}

// GenerateNodeOutput serves from live when available, substituting offline
// output on failure. Substituted and flipped outputs carry substituted
// provenance so the envelope log records the downgrade.
func (f *Failover) GenerateNodeOutput(ctx context.Context, node ecosystem.Node, env envelope.Envelope, mode ecosystem.Mode, directive string) (Output, error) {
	if f.live == nil || f.OfflineActive() {
		out, err := f.offline.GenerateNodeOutput(ctx, node, env, mode, directive)
		if err != nil {
			return Output{}, err
		}
		if f.live != nil {
			out.Provenance = envelope.ProvenanceSubstituted
		}
		return out, nil
	}

	out, err := f.live.GenerateNodeOutput(ctx, node, env, mode, directive)
	if err == nil {
		out.Provenance = envelope.ProvenanceLive
		return out, nil
	}
	if ctx.Err() != nil {
		return Output{}, err
	}

	f.noteFailure(fmt.Sprintf("%s tick %d", node, env.Tick), err)
	logging.Audit().Substitution(env.Tick, node.String(), err.Error())

	out, oerr := f.offline.GenerateNodeOutput(ctx, node, env, mode, directive)
	if oerr != nil {
		return Output{}, oerr
	}
	out.Provenance = envelope.ProvenanceSubstituted
	return out, nil
}

// PerformPreAnalysis consults live first, then the offline heuristics.
func (f *Failover) PerformPreAnalysis(ctx context.Context, hypothesis string) (PreAnalysis, error) {
	if f.live == nil || f.OfflineActive() {
		return f.offline.PerformPreAnalysis(ctx, hypothesis)
	}
	pre, err := f.live.PerformPreAnalysis(ctx, hypothesis)
	if err == nil {
		return pre, nil
	}
	if ctx.Err() != nil {
		return PreAnalysis{}, err
	}
	f.noteFailure("pre-analysis", err)
	return f.offline.PerformPreAnalysis(ctx, hypothesis)
}

// MetaAnalysis consults live first, then the offline heuristics.
func (f *Failover) MetaAnalysis(ctx context.Context, req Request) (MetaReport, error) {
	if f.live == nil || f.OfflineActive() {
		return f.offline.MetaAnalysis(ctx, req)
	}
	rep, err := f.live.MetaAnalysis(ctx, req)
	if err == nil {
		return rep, nil
	}
	if ctx.Err() != nil {
		return MetaReport{}, err
	}
	f.noteFailure("meta-analysis", err)
	return f.offline.MetaAnalysis(ctx, req)
}

// ArbiterDecision consults live first, then the offline vote tally.
func (f *Failover) ArbiterDecision(ctx context.Context, req Request) (Decision, error) {
	if f.live == nil || f.OfflineActive() {
		return f.offline.ArbiterDecision(ctx, req)
	}
	dec, err := f.live.ArbiterDecision(ctx, req)
	if err == nil {
		return dec, nil
	}
	if ctx.Err() != nil {
		return Decision{}, err
	}
	f.noteFailure("arbiter decision", err)
	return f.offline.ArbiterDecision(ctx, req)
}

// ReportSummary consults live first, then the offline digest.
func (f *Failover) ReportSummary(ctx context.Context, req Request) (Summary, error) {
	if f.live == nil || f.OfflineActive() {
		return f.offline.ReportSummary(ctx, req)
	}
	sum, err := f.live.ReportSummary(ctx, req)
	if err == nil {
		return sum, nil
	}
	if ctx.Err() != nil {
		return Summary{}, err
	}
	f.noteFailure("report summary", err)
	return f.offline.ReportSummary(ctx, req)
}

// EmergenceAnalysis consults live first, then the offline formulas.
func (f *Failover) EmergenceAnalysis(ctx context.Context, req Request) (EmergenceScores, error) {
	if f.live == nil || f.OfflineActive() {
		return f.offline.EmergenceAnalysis(ctx, req)
	}
	sc, err := f.live.EmergenceAnalysis(ctx, req)
	if err == nil {
		return sc, nil
	}
	if ctx.Err() != nil {
		return EmergenceScores{}, err
	}
	f.noteFailure("emergence analysis", err)
	return f.offline.EmergenceAnalysis(ctx, req)
}

// FromConfig assembles the provider stack for a run: the configured live
// backend wrapped in failover, or a pure offline provider when the offline
// backend is selected.
func FromConfig(cfg *config.Config, catalog *ecosystem.Catalog, gov *governor.Governor, pruner *prune.Pruner, hypothesis string) (*Failover, error) {
	off := NewOffline(catalog, hypothesis, cfg.GetOfflineLatency())
	if cfg.IsOffline() {
		logging.Provider("offline backend selected, deterministic generation")
		return NewFailover(nil, off), nil
	}

	var backend Backend
	switch cfg.Provider.Backend {
	case "gemini":
		backend = NewGemini(GeminiConfig{
			APIKey:     cfg.Provider.APIKey,
			BaseURL:    cfg.Provider.BaseURL,
			Model:      cfg.Provider.Model,
			Timeout:    cfg.GetProviderTimeout(),
			MaxRetries: cfg.Provider.MaxRetries,
		})
	case "openai":
		backend = NewOpenAI(OpenAIConfig{
			APIKey:     cfg.Provider.APIKey,
			BaseURL:    cfg.Provider.BaseURL,
			Model:      cfg.Provider.Model,
			Timeout:    cfg.GetProviderTimeout(),
			MaxRetries: cfg.Provider.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown provider backend: %s", cfg.Provider.Backend)
	}

	logging.Provider("live backend %s model=%s", backend.Name(), cfg.Provider.Model)
	return NewFailover(NewLive(backend, catalog, gov, pruner, hypothesis), off), nil
}
