package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRoutingErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *RoutingError
		want string
	}{
		{
			name: "op with id",
			err:  &RoutingError{Op: "router.Route", ID: "pat-1", Err: ErrNoEligibleAgents},
			want: "router.Route [pat-1]: no eligible agents",
		},
		{
			name: "op without id",
			err:  &RoutingError{Op: "profile.Load", Err: ErrProfileNotFound},
			want: "profile.Load: agent profile not found",
		},
		{
			name: "message only",
			err:  &RoutingError{Message: "something went wrong"},
			want: "something went wrong",
		},
		{
			name: "kind only",
			err:  &RoutingError{Kind: "consensus"},
			want: "consensus error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoutingErrorUnwrap(t *testing.T) {
	err := &RoutingError{
		Op:   "fallback.Recover",
		Kind: "fallback",
		Err:  ErrFallbackExhausted,
	}

	if !errors.Is(err, ErrFallbackExhausted) {
		t.Error("Expected errors.Is to find the wrapped sentinel")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var re *RoutingError
	if !errors.As(wrapped, &re) {
		t.Fatal("Expected errors.As to find RoutingError")
	}
	if re.Op != "fallback.Recover" {
		t.Errorf("Unexpected op: %s", re.Op)
	}
}

func TestErrorClassification(t *testing.T) {
	recoverable := []error{
		ErrEmbeddingUnavailable,
		ErrSearchUnavailable,
		ErrNoEligibleAgents,
		ErrConsensusEscalated,
		ErrConsensusTimeout,
	}
	for _, err := range recoverable {
		if !IsRecoverable(err) {
			t.Errorf("Expected %v to be recoverable", err)
		}
		if IsTerminal(err) {
			t.Errorf("Expected %v not to be terminal", err)
		}
	}

	terminal := []error{ErrInvalidRequest, ErrFallbackExhausted}
	for _, err := range terminal {
		if !IsTerminal(err) {
			t.Errorf("Expected %v to be terminal", err)
		}
		if IsRecoverable(err) {
			t.Errorf("Expected %v not to be recoverable", err)
		}
	}

	// Classification survives wrapping
	wrapped := fmt.Errorf("route pattern: %w", ErrConsensusTimeout)
	if !IsRecoverable(wrapped) {
		t.Error("Expected wrapped consensus timeout to be recoverable")
	}
}

func TestIsNotFound(t *testing.T) {
	err := fmt.Errorf("load profile agent-1: %w", ErrProfileNotFound)
	if !IsNotFound(err) {
		t.Error("Expected wrapped ErrProfileNotFound to be not-found")
	}
	if IsNotFound(ErrTimeout) {
		t.Error("ErrTimeout should not be not-found")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrConnectionFailed) || !IsRetryable(ErrTimeout) {
		t.Error("Expected connection and timeout errors to be retryable")
	}
	if IsRetryable(ErrInvalidRequest) {
		t.Error("Invalid request should not be retryable")
	}
}

func TestNewRoutingError(t *testing.T) {
	err := NewRoutingError("router.Route", "embedding", ErrEmbeddingUnavailable)
	if err.Op != "router.Route" || err.Kind != "embedding" {
		t.Errorf("Unexpected fields: %+v", err)
	}
	if !strings.Contains(err.Error(), "router.Route") {
		t.Errorf("Expected op in message, got %q", err.Error())
	}
}
