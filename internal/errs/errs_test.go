package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestError_IsKindAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := ProviderRequest("embedder.embed", 503, cause)

	if !errors.Is(err, ErrProviderRequest) {
		t.Error("expected errors.Is(err, ErrProviderRequest)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is(err, cause)")
	}
	if errors.Is(err, ErrPersistence) {
		t.Error("provider error must not match ErrPersistence")
	}

	msg := err.Error()
	for _, want := range []string{"embedder.embed", "HTTP 503", "connection reset"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want substring %q", msg, want)
		}
	}
}

func TestError_AsTyped(t *testing.T) {
	t.Parallel()

	err := MalformedResponse("embedder.embed", errors.New("missing data[0].embedding"))
	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("expected errors.As to find *Error")
	}
	if e.Op != "embedder.embed" {
		t.Errorf("Op: got %q", e.Op)
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"provider", ProviderRequest("op", 500, nil), true},
		{"malformed", MalformedResponse("op", nil), true},
		{"configuration", Configuration("op", errors.New("no key")), false},
		{"persistence", Persistence("op", errors.New("disk full")), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Retryable(tc.err); got != tc.want {
				t.Errorf("Retryable() = %v, want %v", got, tc.want)
			}
		})
	}
}
