package gate

import "fmt"

// Status is the externally visible phase of the gate controller.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusCalling
	StatusRinging
	StatusAnswered
	StatusBusy
	StatusCompleted
	StatusFailed
)

var statusNames = []string{
	"idle", "connecting", "calling", "ringing",
	"answered", "busy", "completed", "failed",
}

var statusDisplayNames = []string{
	"Idle", "Connecting", "Calling", "Ringing",
	"Answered", "Busy", "Completed", "Failed",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// DisplayName returns the capitalized label shown to people.
func (s Status) DisplayName() string {
	if s >= 0 && int(s) < len(statusDisplayNames) {
		return statusDisplayNames[s]
	}
	return s.String()
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus maps a machine name such as "ringing" back to its Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return StatusIdle, fmt.Errorf("unknown status %q", name)
}

// CallState is the phase of the remote call as reported by a [Call].
type CallState int

const (
	CallUnknown CallState = iota
	CallTrying
	CallRinging
	CallAnswered
	CallBusy
	CallEnded
	// CallRejected means the far end refused the address itself
	// (not found, incomplete, does not exist anywhere).
	CallRejected
)

func (s CallState) String() string {
	names := []string{"unknown", "trying", "ringing", "answered", "busy", "ended", "rejected"}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}
