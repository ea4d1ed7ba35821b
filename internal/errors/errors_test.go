package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestDirectorError_Error(t *testing.T) {
	err := &DirectorError{
		Code:    ErrUnknownCapability,
		Status:  404,
		Message: "capability not registered: title-search",
	}

	expected := "UNKNOWN_CAPABILITY: capability not registered: title-search"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestDirectorError_ErrorWithCause(t *testing.T) {
	err := NewCapabilityError("generate", 1, fmt.Errorf("upstream 503"))

	expected := "CAPABILITY_ERROR: capability generate failed after 1 attempt(s): upstream 503"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("query is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "query is required" {
		t.Errorf("Message = %q, want %q", err.Message, "query is required")
	}
}

func TestNewUnknownCapability(t *testing.T) {
	err := NewUnknownCapability("title-search")

	if err.Code != ErrUnknownCapability {
		t.Errorf("Code = %q, want %q", err.Code, ErrUnknownCapability)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["capability"] != "title-search" {
		t.Errorf("Details[capability] = %v, want %q", err.Details["capability"], "title-search")
	}
}

func TestNewDuplicateCapability(t *testing.T) {
	err := NewDuplicateCapability("profile-lookup")

	if err.Code != ErrDuplicateCapability {
		t.Errorf("Code = %q, want %q", err.Code, ErrDuplicateCapability)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
}

func TestNewSlotConflict(t *testing.T) {
	err := NewSlotConflict("user_level", "profile-lookup", "profile-lookup#2")

	if err.Code != ErrSlotConflict {
		t.Errorf("Code = %q, want %q", err.Code, ErrSlotConflict)
	}
	if err.Details["slot"] != "user_level" {
		t.Errorf("Details[slot] = %v, want %q", err.Details["slot"], "user_level")
	}
}

func TestNewPayloadTooLarge(t *testing.T) {
	err := NewPayloadTooLarge(4000, 5200)

	if err.Code != ErrPayloadTooLarge {
		t.Errorf("Code = %q, want %q", err.Code, ErrPayloadTooLarge)
	}
	if err.Status != 413 {
		t.Errorf("Status = %d, want 413", err.Status)
	}
	if err.Details["max_chars"] != 4000 {
		t.Errorf("Details[max_chars] = %v, want 4000", err.Details["max_chars"])
	}
	if err.Details["actual_chars"] != 5200 {
		t.Errorf("Details[actual_chars] = %v, want 5200", err.Details["actual_chars"])
	}
}

func TestNewRoundBudgetExceeded(t *testing.T) {
	err := NewRoundBudgetExceeded(5)

	if err.Code != ErrRoundBudgetExceeded {
		t.Errorf("Code = %q, want %q", err.Code, ErrRoundBudgetExceeded)
	}
	if err.Details["max_rounds"] != 5 {
		t.Errorf("Details[max_rounds] = %v, want 5", err.Details["max_rounds"])
	}
}

func TestNewCapabilityError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("deadline exceeded")
	err := NewCapabilityError("title-search", 3, cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if err.Details["attempts"] != 3 {
		t.Errorf("Details[attempts] = %v, want 3", err.Details["attempts"])
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		originalErr := fmt.Errorf("database connection failed")
		err := NewInternal(originalErr)

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "database connection failed" {
			t.Errorf("Details[internal_error] = %q, want %q", err.Details["internal_error"], "database connection failed")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)

		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		err := NewUnknownCapability("x")
		if !Is(err, ErrUnknownCapability) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		err := NewUnknownCapability("x")
		if Is(err, ErrDuplicateCapability) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("non-DirectorError", func(t *testing.T) {
		err := fmt.Errorf("plain error")
		if Is(err, ErrInternal) {
			t.Error("Is() = true, want false for non-DirectorError")
		}
	})

	t.Run("wrapped DirectorError", func(t *testing.T) {
		wrapped := fmt.Errorf("round 2: %w", NewCancelled(nil))
		if !Is(wrapped, ErrCancelled) {
			t.Error("Is() = false, want true for wrapped DirectorError")
		}
	})
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewNoSources([]string{"astronomy"})); got != ErrNoSources {
		t.Errorf("CodeOf() = %q, want %q", got, ErrNoSources)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrInternal)
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("title-search: %w", NewPayloadTooLarge(10, 20))
	dErr, ok := As(wrapped)
	if !ok {
		t.Fatal("As() ok = false, want true")
	}
	if dErr.Code != ErrPayloadTooLarge {
		t.Errorf("Code = %q, want %q", dErr.Code, ErrPayloadTooLarge)
	}

	if _, ok := As(stderrors.New("plain")); ok {
		t.Error("As(plain error) ok = true, want false")
	}
}
