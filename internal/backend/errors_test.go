package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  New(CodeNotFound, "client acme not found"),
			want: "[NOT_FOUND] client acme not found",
		},
		{
			name: "with cause",
			err:  Wrap(CodeUnavailable, "request failed", errors.New("connection reset")),
			want: "[UNAVAILABLE] request failed: connection reset",
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

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("failed to update intervention: %w",
		New(CodeOwnership, "You can only edit your own interventions"))

	if !errors.Is(err, ErrOwnership) {
		t.Error("errors.Is(err, ErrOwnership) = false, want true")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = true, want false")
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"coded", New(CodeInvalid, "bad date"), CodeInvalid},
		{"wrapped coded", fmt.Errorf("call: %w", ErrUnauthorized), CodeUnauthorized},
		{"deadline", context.DeadlineExceeded, CodeUnavailable},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), CodeUnavailable},
		{"net timeout", timeoutError{}, CodeUnavailable},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("no route")}, CodeUnavailable},
		{"unrecognized", errors.New("boom"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Error("PrincipalFrom(background) reported a principal")
	}

	ctx := WithPrincipal(context.Background(), "employee-1")
	p, ok := PrincipalFrom(ctx)
	if !ok || p != "employee-1" {
		t.Errorf("PrincipalFrom() = %q, %v, want employee-1, true", p, ok)
	}

	if _, ok := PrincipalFrom(WithPrincipal(context.Background(), "")); ok {
		t.Error("empty principal treated as authenticated")
	}
}
