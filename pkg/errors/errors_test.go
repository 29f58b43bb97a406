package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

// TestNewError tests code, category and default metadata assignment
func TestNewError(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		category   ErrorCategory
		retryable  bool
		httpStatus int
	}{
		{ErrCodeFileNotFound, CategoryRegistry, false, 404},
		{ErrCodeHashMismatch, CategoryRegistry, false, 409},
		{ErrCodeEngineLoadFailed, CategoryLoad, true, 502},
		{ErrCodeUnknownModel, CategoryLoad, false, 404},
		{ErrCodeInvalidConfig, CategoryConfiguration, false, 400},
		{ErrCodeConfigLoad, CategoryConfiguration, false, 400},
		{ErrCodeAlreadyStarted, CategoryState, false, 409},
		{ErrCodeNotStarted, CategoryState, false, 500},
		{ErrCodeInternalError, CategoryInternal, true, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := NewError(tt.code, "boom")
			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Retryable != tt.retryable {
				t.Errorf("expected retryable=%v", tt.retryable)
			}
			if err.HTTPStatus != tt.httpStatus {
				t.Errorf("expected status %d, got %d", tt.httpStatus, err.HTTPStatus)
			}
			if err.Timestamp.IsZero() {
				t.Error("expected timestamp to be set")
			}
		})
	}
}

// TestError tests the error message formats
func TestError(t *testing.T) {
	bare := NewError(ErrCodeUnknownModel, "no such model")
	if got := bare.Error(); got != "UNKNOWN_MODEL: no such model" {
		t.Errorf("unexpected message %q", got)
	}

	withComponent := NewError(ErrCodeUnknownModel, "no such model").WithComponent("registry")
	if got := withComponent.Error(); got != "[registry] UNKNOWN_MODEL: no such model" {
		t.Errorf("unexpected message %q", got)
	}

	full := NewError(ErrCodeUnknownModel, "no such model").
		WithComponent("registry").
		WithOperation("get")
	if got := full.Error(); got != "[registry:get] UNKNOWN_MODEL: no such model" {
		t.Errorf("unexpected message %q", got)
	}
}

// TestUnwrapAndIs tests errors.Is/errors.As interoperability
func TestUnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	err := NewError(ErrCodeEngineLoadFailed, "load failed").WithCause(cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected Is to reach the wrapped cause")
	}
	if !stderrors.Is(err, NewError(ErrCodeEngineLoadFailed, "different message")) {
		t.Error("expected Is to match on error code")
	}
	if stderrors.Is(err, NewError(ErrCodeUnknownModel, "load failed")) {
		t.Error("expected Is to reject a different code")
	}

	var rerr *ResidencyError
	if !stderrors.As(err, &rerr) || rerr.Code != ErrCodeEngineLoadFailed {
		t.Error("expected As to recover the residency error")
	}
}

// TestBuilders tests the fluent context builders
func TestBuilders(t *testing.T) {
	err := NewError(ErrCodeHashMismatch, "content changed").
		WithComponent("registry").
		WithOperation("register").
		WithDetail("stored_hash", "aaaa").
		WithDetail("computed_hash", "bbbb")

	if err.Details["stored_hash"] != "aaaa" || err.Details["computed_hash"] != "bbbb" {
		t.Errorf("unexpected details %v", err.Details)
	}

	s := err.String()
	for _, want := range []string{"Code=HASH_MISMATCH", "Component=registry", "Operation=register", "stored_hash"} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in %q", want, s)
		}
	}
}
