package gate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRegistrationFailed is returned when the SIP session never became ready
	// to dial. The next trigger may retry.
	ErrRegistrationFailed = errors.New("registration failed")

	// ErrNoRouteOrTimeout is matched by every [NoRouteError].
	ErrNoRouteOrTimeout = errors.New("no route or timeout")

	// ErrTransientState is returned by [Call.State] while the call is being
	// mutated and its state cannot be read. Callers retry after a short pause.
	ErrTransientState = errors.New("call state temporarily unavailable")

	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid call configuration")
)

// NoRouteError reports a call that never progressed past dialing within the
// wait window, or that every dialed number was refused.
type NoRouteError struct {
	Number    string
	Elapsed   time.Duration
	LastState CallState
}

func (e *NoRouteError) Error() string {
	return fmt.Sprintf("no route or timeout calling %s: last state %s after %s",
		e.Number, e.LastState, e.Elapsed.Round(time.Millisecond))
}

func (e *NoRouteError) Unwrap() error {
	return ErrNoRouteOrTimeout
}

// GateError is returned by [Controller.OpenGate] when an attempt fails.
type GateError struct {
	AttemptID string
	Err       error
}

func (e *GateError) Error() string {
	return fmt.Sprintf("failed to open gate: %v", e.Err)
}

func (e *GateError) Unwrap() error {
	return e.Err
}
