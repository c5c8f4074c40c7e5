package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsUnavailable_ExplicitError(t *testing.T) {
	err := NewUnavailableError("knowledge-base", errors.New("server overloaded"), 503)
	if !IsUnavailable(err) {
		t.Error("expected UnavailableError to report unavailable")
	}
}

func TestIsUnavailable_Wrapped(t *testing.T) {
	inner := NewUnavailableError("usage-trends", errors.New("rate limited"), 429)
	wrapped := fmt.Errorf("source call failed: %w", inner)
	if !IsUnavailable(wrapped) {
		t.Error("expected wrapped UnavailableError to report unavailable")
	}
}

func TestIsUnavailable_NilError(t *testing.T) {
	if IsUnavailable(nil) {
		t.Error("nil error should not report unavailable")
	}
}

func TestIsUnavailable_RegularError(t *testing.T) {
	err := errors.New("invalid input: missing field")
	if IsUnavailable(err) {
		t.Error("regular error should not report unavailable")
	}
}

func TestIsUnavailable_ConnectionReset(t *testing.T) {
	err := fmt.Errorf("write tcp: %w", syscall.ECONNRESET)
	if !IsUnavailable(err) {
		t.Error("ECONNRESET should report unavailable")
	}
}

func TestIsUnavailable_ConnectionRefused(t *testing.T) {
	err := fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	if !IsUnavailable(err) {
		t.Error("ECONNREFUSED should report unavailable")
	}
}

func TestIsUnavailable_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsUnavailable(err) {
		t.Error("network timeout should report unavailable")
	}
}

func TestIsUnavailable_StringPatterns(t *testing.T) {
	patterns := []string{
		"connection reset by peer",
		"broken pipe",
		"TLS handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	}
	for _, p := range patterns {
		err := errors.New(p)
		if !IsUnavailable(err) {
			t.Errorf("expected %q to report unavailable", p)
		}
	}
}

func TestIsUnavailableHTTPStatus(t *testing.T) {
	down := []int{408, 429, 500, 502, 503, 504}
	for _, code := range down {
		if !IsUnavailableHTTPStatus(code) {
			t.Errorf("expected HTTP %d to mean unavailable", code)
		}
	}

	up := []int{200, 201, 400, 401, 403, 404, 405, 409, 422}
	for _, code := range up {
		if IsUnavailableHTTPStatus(code) {
			t.Errorf("expected HTTP %d to NOT mean unavailable", code)
		}
	}
}

func TestUnavailableError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	ue := NewUnavailableError("crm", inner, 500)

	if !errors.Is(ue, inner) {
		t.Error("UnavailableError.Unwrap should return the inner error")
	}

	if ue.StatusCode != 500 {
		t.Errorf("expected StatusCode 500, got %d", ue.StatusCode)
	}
}

func TestUnavailableError_ErrorMessage(t *testing.T) {
	inner := errors.New("something went wrong")
	ue := NewUnavailableError("crm", inner, 503)

	if ue.Error() != "crm: something went wrong" {
		t.Errorf("unexpected error message %q", ue.Error())
	}
}
