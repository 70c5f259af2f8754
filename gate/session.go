package gate

import "context"

// Dialer opens a fresh SIP session for a single call attempt.
type Dialer interface {
	Open(ctx context.Context, cfg Config) (Session, error)
}

// Session is a connection to the SIP server. It is used for one attempt and
// closed at the end of it.
type Session interface {
	// Register authenticates with the server.
	Register(ctx context.Context) error
	// Registered reports whether the server accepted the registration.
	Registered() bool
	// Call places an outbound call to number.
	Call(ctx context.Context, number string) (Call, error)
	// Close releases the connection, unregistering first when needed.
	Close() error
}

// Call is an outbound call placed by a [Session].
type Call interface {
	// State returns the remote state of the call. It returns an error wrapping
	// [ErrTransientState] while the state cannot be read consistently.
	State() (CallState, error)
	// Hangup cancels or ends the call, whichever applies.
	Hangup() error
}
