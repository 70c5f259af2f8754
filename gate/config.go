package gate

import (
	"errors"
	"fmt"
	"strings"
)

// Config describes how to reach the SIP server and which number opens the gate.
type Config struct {
	Server   string
	Port     int
	Username string
	Password string
	Number   string
	// CallerID overrides the display name presented to the gate. Optional.
	CallerID string
}

// Validate reports every missing or malformed field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server) == "" {
		errs = append(errs, errors.New("server is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be a valid port, got %d", c.Port))
	}
	if strings.TrimSpace(c.Username) == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.Password == "" {
		errs = append(errs, errors.New("password is required"))
	}
	if strings.TrimSpace(c.Number) == "" {
		errs = append(errs, errors.New("destination number is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// DisplayName is the name presented as the caller: the caller-ID override if
// set, the username otherwise.
func (c Config) DisplayName() string {
	if c.CallerID != "" {
		return c.CallerID
	}
	return c.Username
}
