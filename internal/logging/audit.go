// Package logging provides an audit trail of structured run events.
// Audit entries are JSON lines that downstream analysis can replay to
// reconstruct the exact order of engine decisions during a run.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Run lifecycle events
	AuditRunStart    AuditEventType = "run_start"
	AuditRunPause    AuditEventType = "run_pause"
	AuditRunResume   AuditEventType = "run_resume"
	AuditRunComplete AuditEventType = "run_complete"
	AuditRunAbort    AuditEventType = "run_abort"

	// Tick progression events
	AuditTickStart    AuditEventType = "tick_start"
	AuditTickComplete AuditEventType = "tick_complete"

	// Envelope events
	AuditEnvelopeEmit    AuditEventType = "envelope_emit"
	AuditEnvelopeInvalid AuditEventType = "envelope_invalid"

	// Provider events
	AuditLLMRequest   AuditEventType = "llm_request"
	AuditLLMResponse  AuditEventType = "llm_response"
	AuditLLMError     AuditEventType = "llm_error"
	AuditSubstitution AuditEventType = "substitution"
	AuditQuotaFlip    AuditEventType = "quota_flip"

	// Graph events
	AuditLoopDetected AuditEventType = "loop_detected"
	AuditMetaCommand  AuditEventType = "meta_command"
	AuditReroute      AuditEventType = "reroute"

	// Memory events
	AuditMemoryStore  AuditEventType = "memory_store"
	AuditMemoryRecall AuditEventType = "memory_recall"

	// Error events
	AuditErrorGeneric  AuditEventType = "error_generic"
	AuditErrorCritical AuditEventType = "error_critical"
	AuditErrorRecovery AuditEventType = "error_recovery"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent represents a structured audit log entry.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`               // Unix milliseconds
	EventType  AuditEventType         `json:"event"`            // Event discriminator
	Category   string                 `json:"cat,omitempty"`    // Log category
	RunID      string                 `json:"run,omitempty"`    // Run correlation
	Tick       int                    `json:"tick,omitempty"`   // Tick index if applicable
	Node       string                 `json:"node,omitempty"`   // Node ID if applicable
	Target     string                 `json:"target,omitempty"` // Target of operation
	Success    bool                   `json:"success"`          // Operation succeeded
	DurationMs int64                  `json:"dur_ms,omitempty"` // Duration in milliseconds
	Error      string                 `json:"error,omitempty"`  // Error message if failed
	Message    string                 `json:"msg,omitempty"`    // Human-readable message
	Fields     map[string]interface{} `json:"fields,omitempty"` // Additional structured fields
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging scoped to a run
type AuditLogger struct {
	runID    string
	category Category
}

// InitAudit initializes the audit logging system. An empty dir disables
// the trail entirely; every Log call becomes a no-op.
func InitAudit(dir string) error {
	if dir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(dir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n# Format: one JSON event per line\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithRun creates an audit logger scoped to a run
func AuditWithRun(runID string) *AuditLogger {
	return &AuditLogger{runID: runID}
}

// AuditWithContext creates a fully-scoped audit logger
func AuditWithContext(runID string, category Category) *AuditLogger {
	return &AuditLogger{runID: runID, category: category}
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	// Fill in defaults
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" && a.runID != "" {
		event.RunID = a.runID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}
	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// RunStart records the start of a run
func (a *AuditLogger) RunStart(runID, mode string, maxTicks int) {
	a.Log(AuditEvent{
		EventType: AuditRunStart,
		RunID:     runID,
		Success:   true,
		Message:   fmt.Sprintf("run started: mode=%s max_ticks=%d", mode, maxTicks),
		Fields:    map[string]interface{}{"mode": mode, "max_ticks": maxTicks},
	})
}

// RunEnd records the terminal state of a run
func (a *AuditLogger) RunEnd(runID string, aborted bool, reason string, ticks int) {
	eventType := AuditRunComplete
	if aborted {
		eventType = AuditRunAbort
	}
	a.Log(AuditEvent{
		EventType: eventType,
		RunID:     runID,
		Tick:      ticks,
		Success:   !aborted,
		Message:   reason,
	})
}

// TickStart records the start of a tick
func (a *AuditLogger) TickStart(tick int, active []string) {
	a.Log(AuditEvent{
		EventType: AuditTickStart,
		Tick:      tick,
		Success:   true,
		Fields:    map[string]interface{}{"active": active},
	})
}

// TickComplete records completion of a tick
func (a *AuditLogger) TickComplete(tick, envelopes int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditTickComplete,
		Tick:       tick,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"envelopes": envelopes},
	})
}

// EnvelopeEmit records an envelope emission
func (a *AuditLogger) EnvelopeEmit(tick int, node, schemaID string, valid bool) {
	eventType := AuditEnvelopeEmit
	if !valid {
		eventType = AuditEnvelopeInvalid
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Tick:      tick,
		Node:      node,
		Target:    schemaID,
		Success:   valid,
	})
}

// Substitution records an offline fallback for a single node
func (a *AuditLogger) Substitution(tick int, node, reason string) {
	a.Log(AuditEvent{
		EventType: AuditSubstitution,
		Tick:      tick,
		Node:      node,
		Success:   true,
		Message:   reason,
	})
}

// QuotaFlip records a run-level flip to offline generation
func (a *AuditLogger) QuotaFlip(tick int, node string) {
	a.Log(AuditEvent{
		EventType: AuditQuotaFlip,
		Tick:      tick,
		Node:      node,
		Success:   true,
		Message:   "provider quota exhausted, run flipped to offline generation",
	})
}

// LoopDetected records a suppressed routing loop
func (a *AuditLogger) LoopDetected(tick int, node, thread string) {
	a.Log(AuditEvent{
		EventType: AuditLoopDetected,
		Tick:      tick,
		Node:      node,
		Target:    thread,
		Success:   true,
	})
}

// MetaCommand records a guardian command taking effect
func (a *AuditLogger) MetaCommand(tick int, node, action, target string) {
	a.Log(AuditEvent{
		EventType: AuditMetaCommand,
		Tick:      tick,
		Node:      node,
		Target:    target,
		Success:   true,
		Fields:    map[string]interface{}{"action": action},
	})
}

// LLMCall records a provider round trip
func (a *AuditLogger) LLMCall(node string, success bool, durationMs int64, errMsg string) {
	eventType := AuditLLMResponse
	if !success {
		eventType = AuditLLMError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Node:       node,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

// MemoryOp records a memory store or recall
func (a *AuditLogger) MemoryOp(node string, store bool, count int) {
	eventType := AuditMemoryRecall
	if store {
		eventType = AuditMemoryStore
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Node:      node,
		Success:   true,
		Fields:    map[string]interface{}{"count": count},
	})
}

// Critical records an unrecoverable error
func (a *AuditLogger) Critical(category Category, err error, msg string) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	a.Log(AuditEvent{
		EventType: AuditErrorCritical,
		Category:  string(category),
		Success:   false,
		Error:     errStr,
		Message:   msg,
	})
}
