package schedule

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is wrapped by every validation failure so callers can
// distinguish bad input from runtime faults with errors.Is.
var ErrInvalidConfig = errors.New("invalid schedule config")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks a full record. It is called synchronously by the
// controller before anything is persisted or armed.
func Validate(c Config) error {
	if strings.TrimSpace(c.SessionID) == "" {
		return invalidf("session id required")
	}
	if strings.TrimSpace(c.Prompt) == "" {
		return invalidf("prompt must not be empty")
	}
	if !c.Policy.Valid() {
		return invalidf("unknown permission policy %q", string(c.Policy))
	}
	if c.MaxErrors < 1 {
		return invalidf("max errors must be >= 1, got %d", c.MaxErrors)
	}
	if c.ErrorCount < 0 {
		return invalidf("error count must be >= 0, got %d", c.ErrorCount)
	}
	if _, err := ParseTrigger(c); err != nil {
		return err
	}
	return nil
}
