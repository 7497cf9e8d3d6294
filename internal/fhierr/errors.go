// Package fhierr defines the failure taxonomy shared by the provider,
// orchestrator, and analysis layers. Callers detect classes with errors.As
// and wrap instances with %w for context; only QuotaExceededError may change
// run-level behavior, everything else is scoped to one node/tick.
package fhierr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// QuotaExceededError indicates the generation backend refused the call for
// quota or rate reasons. The run flips to offline generation until reset.
type QuotaExceededError struct {
	Backend    string
	RetryAfter time.Duration
	Detail     string
}

func (e *QuotaExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s quota exceeded, retry after %v", e.Backend, e.RetryAfter)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s quota exceeded: %s", e.Backend, e.Detail)
	}
	return fmt.Sprintf("%s quota exceeded", e.Backend)
}

// TransportError indicates the backend could not be reached or answered
// outside the protocol. The affected node/tick substitutes offline output.
type TransportError struct {
	Backend string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport failure during %s: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError indicates the backend answered but no payload could
// be extracted. Substitution, same scope as TransportError.
type MalformedResponseError struct {
	Backend string
	Reason  string
	Snippet string
}

func (e *MalformedResponseError) Error() string {
	s := trimSnippet(e.Snippet, 80)
	if s == "" {
		return fmt.Sprintf("%s returned malformed response: %s", e.Backend, e.Reason)
	}
	return fmt.Sprintf("%s returned malformed response: %s (got %q)", e.Backend, e.Reason, s)
}

// RoutingAmbiguityError indicates a polymorphic node's payload matched zero
// or more than one schema discriminator, so the emitted variant cannot be
// resolved. Substitution.
type RoutingAmbiguityError struct {
	Node           string
	Discriminators []string
}

func (e *RoutingAmbiguityError) Error() string {
	if len(e.Discriminators) == 0 {
		return fmt.Sprintf("%s payload carries no schema discriminator", e.Node)
	}
	return fmt.Sprintf("%s payload carries %d schema discriminators (%s)",
		e.Node, len(e.Discriminators), strings.Join(e.Discriminators, ", "))
}

// SchemaValidationError carries a failed validation as an error value for
// paths that need one. Validation failures are recorded and fed into the
// stability signal, never fatal.
type SchemaValidationError struct {
	SchemaID   string
	Violations []string
}

func (e *SchemaValidationError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("payload violates %s", e.SchemaID)
	}
	return fmt.Sprintf("payload violates %s: %s", e.SchemaID, strings.Join(e.Violations, "; "))
}

// IsQuota reports whether err is or wraps a QuotaExceededError.
func IsQuota(err error) bool {
	var q *QuotaExceededError
	return errors.As(err, &q)
}

// Substitutable reports whether err belongs to the class answered by
// substituting offline output for one node/tick.
func Substitutable(err error) bool {
	var (
		t *TransportError
		m *MalformedResponseError
		r *RoutingAmbiguityError
	)
	return errors.As(err, &t) || errors.As(err, &m) || errors.As(err, &r)
}

func trimSnippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
