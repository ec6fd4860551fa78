package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/openfroyo/histmatch/pkg/parameters"
)

func TestEngineError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		conflict  bool
		permanent bool
	}{
		{"transient", NewTransientError("evaluator down", nil), true, false, false},
		{"conflict", NewConflictError("rename failed", nil), false, true, false},
		{"permanent", NewPermanentError("bad config", nil), false, false, true},
		{"wrapped", fmt.Errorf("outer: %w", NewTransientError("inner", nil)), true, false, false},
		{"plain", errors.New("plain"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
			if got := IsConflict(tt.err); got != tt.conflict {
				t.Errorf("IsConflict() = %v, want %v", got, tt.conflict)
			}
			if got := IsPermanent(tt.err); got != tt.permanent {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.permanent)
			}
		})
	}
}

func TestEngineError_Format(t *testing.T) {
	err := NewPermanentError("cannot export", errors.New("nan")).
		WithResource("COEFFS:A").
		WithOperation("export")

	want := "[permanent] cannot export (resource=COEFFS:A, operation=export): nan"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConfigMismatchError(t *testing.T) {
	err := NewConfigMismatchError(4, &parameters.SizeMismatchError{Key: "COEFFS", Declared: 2, Got: 3})
	wrapped := fmt.Errorf("realization 4: %w", err)

	if !IsConfigMismatch(wrapped) {
		t.Error("IsConfigMismatch() = false")
	}
	if !errors.Is(wrapped, ErrConfigMismatch) {
		t.Error("errors.Is(ErrConfigMismatch) = false")
	}
	var mismatch *parameters.SizeMismatchError
	if !errors.As(wrapped, &mismatch) || mismatch.Got != 3 {
		t.Errorf("errors.As() did not recover the size mismatch: %v", mismatch)
	}
	if err.Details["realization"] != 4 {
		t.Errorf("realization detail = %v", err.Details["realization"])
	}
}

func TestInsufficientRealizationsError(t *testing.T) {
	active := NewInsufficientRealizationsError(PhaseActive, 5, 3)
	if !strings.Contains(active.Error(), "Number of active realizations (3) is less than the specified MIN_REALIZATIONS (5)") {
		t.Errorf("unexpected message: %s", active.Error())
	}

	failed := NewInsufficientRealizationsError(PhasePosterior, 5, 2)
	if !strings.Contains(failed.Error(), "Too many simulations have failed!") {
		t.Errorf("unexpected message: %s", failed.Error())
	}

	for _, err := range []error{active, failed} {
		if !IsInsufficientRealizations(err) {
			t.Errorf("IsInsufficientRealizations(%v) = false", err)
		}
		if IsAnalysisFailure(err) {
			t.Errorf("IsAnalysisFailure(%v) = true", err)
		}
	}
}

func TestAnalysisFailureError(t *testing.T) {
	cause := errors.New("singular matrix")
	err := NewAnalysisFailureError(cause)

	if !IsAnalysisFailure(err) {
		t.Error("IsAnalysisFailure() = false")
	}
	if !errors.Is(err, cause) {
		t.Error("cause is not wrapped")
	}
	if !strings.Contains(err.Error(), "Analysis of simulation failed with the following error: singular matrix") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestIsNotFound(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewPermanentError("ensemble not found: prior", nil).WithCode(ErrCodeNotFound))
	if !IsNotFound(err) {
		t.Error("expected wrapped NOT_FOUND error to match")
	}
	if IsNotFound(NewPermanentError("bad config", nil).WithCode(ErrCodeValidation)) {
		t.Error("validation errors are not NOT_FOUND")
	}
}
