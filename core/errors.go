package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Request validation errors - rejected immediately, no fallback
	ErrInvalidRequest = errors.New("invalid routing request")

	// Collaborator errors - recovered locally by the router
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	ErrSearchUnavailable    = errors.New("vector search unavailable")

	// Candidate errors - escalate to the fallback chain
	ErrNoEligibleAgents = errors.New("no eligible agents")
	ErrAgentUnavailable = errors.New("agent unavailable")
	ErrProfileNotFound  = errors.New("agent profile not found")

	// Consensus errors - escalate to the fallback chain
	ErrConsensusEscalated = errors.New("consensus escalated")
	ErrConsensusTimeout   = errors.New("consensus timed out")

	// Terminal errors
	ErrFallbackExhausted = errors.New("no agents available")

	// Infrastructure errors
	ErrConnectionFailed     = errors.New("connection failed")
	ErrTimeout              = errors.New("operation timeout")
	ErrCacheFailure         = errors.New("cache failure")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// RoutingError provides structured error information with context
// It implements the error interface and supports error wrapping
type RoutingError struct {
	Op      string // Operation that failed (e.g., "router.Route")
	Kind    string // Error kind (e.g., "embedding", "consensus", "fallback")
	ID      string // Optional ID of the entity involved (pattern or agent)
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *RoutingError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *RoutingError) Unwrap() error {
	return e.Err
}

// NewRoutingError creates a new RoutingError
func NewRoutingError(op, kind string, err error) *RoutingError {
	return &RoutingError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsRecoverable reports whether the router can degrade gracefully after err.
// Recoverable errors switch the pipeline to an alternate path instead of failing.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrSearchUnavailable) ||
		errors.Is(err, ErrNoEligibleAgents) ||
		errors.Is(err, ErrConsensusEscalated) ||
		errors.Is(err, ErrConsensusTimeout)
}

// IsTerminal reports whether err ends the pipeline with no further fallback.
// Only malformed requests and full fallback exhaustion are terminal.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrFallbackExhausted)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound)
}

// IsRetryable checks if an error is retryable
// Retryable errors are typically transient network or availability issues
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrTimeout)
}
