package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindPortExhausted, "no ports left")
	if got := KindOf(err); got != KindPortExhausted {
		t.Errorf("KindOf = %q, want %q", got, KindPortExhausted)
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if got := KindOf(wrapped); got != KindPortExhausted {
		t.Errorf("KindOf through wrap = %q, want %q", got, KindPortExhausted)
	}

	if got := KindOf(errors.New("plain")); got != Kind("") {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindRuntimeError, cause, "compose up failed")

	if !errors.Is(err, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
	if msg := MessageOf(err); msg != "compose up failed: connection refused" {
		t.Errorf("MessageOf = %q", msg)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidName, http.StatusBadRequest},
		{KindUnknownField, http.StatusBadRequest},
		{KindFieldValidationFailed, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindCreateInProgress, http.StatusConflict},
		{KindOperationInProgress, http.StatusConflict},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindMaxInstancesReached, http.StatusServiceUnavailable},
		{KindPortExhausted, http.StatusServiceUnavailable},
		{KindInsufficientMemory, http.StatusServiceUnavailable},
		{KindRuntimeError, http.StatusInternalServerError},
		{KindRepairFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := HTTPStatus(New(tt.kind, "x")); got != tt.want {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}

	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus(plain) = %d, want 500", got)
	}
}
