package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Message(t *testing.T) {
	err := IntegrityMismatch("owner/repo", "sha256-abc", "sha256-def")

	msg := err.Error()
	if !strings.Contains(msg, "sha256-abc") || !strings.Contains(msg, "sha256-def") {
		t.Fatalf("message missing digests: %s", msg)
	}
	if !strings.Contains(msg, "owner/repo") {
		t.Fatalf("message missing source: %s", msg)
	}
	if !strings.Contains(msg, "[integrity]") {
		t.Fatalf("message missing phase: %s", msg)
	}
}

func TestError_URLsInMessage(t *testing.T) {
	err := Acquisition("owner/repo", 3,
		[]string{"https://a/main.wasm", "https://a/module.wasm"}, fmt.Errorf("404"))

	msg := err.Error()
	if !strings.Contains(msg, "https://a/main.wasm") {
		t.Fatalf("message missing attempted URL: %s", msg)
	}
	if !strings.Contains(msg, "3 attempt(s)") {
		t.Fatalf("message missing attempt count: %s", msg)
	}
}

func TestError_IsMatchesPhaseAndKind(t *testing.T) {
	err := ReadinessTimeout("mod-a", "15s")
	target := &Error{Phase: PhaseReady, Kind: KindReadinessTimeout}

	if !stderrors.Is(err, target) {
		t.Fatal("expected Is match on phase+kind")
	}

	other := &Error{Phase: PhaseFetch, Kind: KindAcquisition}
	if stderrors.Is(err, other) {
		t.Fatal("unexpected Is match across kinds")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Acquisition("http://x/m.wasm", 1, nil, cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected unwrap to reach cause")
	}
}

func TestError_Retryable(t *testing.T) {
	if !Acquisition("s", 1, nil, nil).Retryable() {
		t.Fatal("acquisition errors must be retryable")
	}
	if SourceFormat("s", "bad").Retryable() {
		t.Fatal("format errors must never be retryable")
	}
	if IntegrityMismatch("s", "a", "b").Retryable() {
		t.Fatal("integrity errors must never be retryable")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseCall, KindInvalidArguments).
		Module("mod-a").
		Detail("function %q expects %d argument(s), got %d", "add", 2, 1).
		Build()

	msg := err.Error()
	if !strings.Contains(msg, "mod-a") {
		t.Fatalf("message missing module: %s", msg)
	}
	if !strings.Contains(msg, `"add"`) {
		t.Fatalf("message missing function name: %s", msg)
	}
}

func TestInvalidArguments_Counts(t *testing.T) {
	err := InvalidArguments("mod-a", "add", 2, 1)
	msg := err.Error()
	if !strings.Contains(msg, "expects 2") || !strings.Contains(msg, "got 1") {
		t.Fatalf("message missing expected/actual counts: %s", msg)
	}
}
