package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies why a gateway call failed.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindUnreachable Kind = "unreachable"
	KindServerError Kind = "server_error"
	KindMalformed   Kind = "malformed_response"
)

// Fault is the failure outcome of a gateway call. Calls return either a
// payload or a *Fault, never a partially filled payload.
type Fault struct {
	Op      string
	Kind    Kind
	Status  int
	Message string
	Err     error

	// SessionID is set when the failed call addressed a server session.
	SessionID string
}

func (f *Fault) Error() string {
	switch {
	case f.Status != 0 && f.Message != "":
		return fmt.Sprintf("%s: %s (status %d): %s", f.Op, f.Kind, f.Status, f.Message)
	case f.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", f.Op, f.Kind, f.Status)
	case f.Err != nil:
		return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
	case f.Message != "":
		return fmt.Sprintf("%s: %s: %s", f.Op, f.Kind, f.Message)
	default:
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Network reports whether the fault is a Timeout or Unreachable.
func (f *Fault) Network() bool {
	return f.Kind == KindTimeout || f.Kind == KindUnreachable
}

// SessionGone reports whether the server no longer knows the session. Only
// calls that carried a session id can lose it; a 404 elsewhere is a plain
// server error.
func (f *Fault) SessionGone() bool {
	return f.Kind == KindServerError && f.Status == http.StatusNotFound && f.SessionID != ""
}

// withSession tags a fault from a call that addressed sessionID.
func withSession(err error, sessionID string) error {
	if f, ok := AsFault(err); ok && sessionID != "" {
		f.SessionID = sessionID
	}
	return err
}

// AsFault extracts a *Fault from err.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// TimeoutFault builds the fault applied when a caller's own deadline fires first.
func TimeoutFault(op string) *Fault {
	return &Fault{Op: op, Kind: KindTimeout, Err: context.DeadlineExceeded}
}

func malformed(op, format string, args ...any) *Fault {
	return &Fault{Op: op, Kind: KindMalformed, Message: fmt.Sprintf(format, args...)}
}

// transportFault classifies an error returned before any HTTP status was read.
func transportFault(op string, err error) *Fault {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Fault{Op: op, Kind: KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Fault{Op: op, Kind: KindTimeout, Err: err}
	}
	return &Fault{Op: op, Kind: KindUnreachable, Err: err}
}
