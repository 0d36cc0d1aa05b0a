package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAsFindsWrappedDomainError(t *testing.T) {
	inner := WithDetails(CodeLocked, "locked", map[string]any{"resourceKey": "token:1"})
	err := fmt.Errorf("apply: %w", inner)

	got := As(err)
	if got != inner {
		t.Fatalf("As() = %#v, want inner error", got)
	}
	if got.Details["resourceKey"] != "token:1" {
		t.Fatalf("details = %#v", got.Details)
	}
}

func TestAsMapsPlainErrorsToInternal(t *testing.T) {
	got := As(stderrors.New("disk on fire"))
	if got.Code != CodeInternal {
		t.Fatalf("code = %s, want %s", got.Code, CodeInternal)
	}
	if got.Message != "disk on fire" {
		t.Fatalf("message = %q", got.Message)
	}
}

func TestAsNil(t *testing.T) {
	if As(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	if CodeOf(nil) != "" {
		t.Fatal("expected empty code for nil error")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(CodeNotFound, "campaign missing", stderrors.New("no rows"))
	if !stderrors.Is(err, New(CodeNotFound, "")) {
		t.Fatal("expected code match")
	}
	if stderrors.Is(err, New(CodeForbidden, "")) {
		t.Fatal("expected code mismatch")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeLocked, http.StatusConflict},
		{CodeVersionConflict, http.StatusConflict},
		{CodeBadRequest, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !CodeVersionConflict.Retryable() || !CodeLocked.Retryable() {
		t.Fatal("expected concurrency conflicts to be retryable")
	}
	if CodeForbidden.Retryable() {
		t.Fatal("expected forbidden to be terminal")
	}
}
