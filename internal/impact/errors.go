package impact

import "fmt"

// InvalidInputError means the event or prediction cannot be assessed. Callers
// skip the event and log it; retrying the same record will not help.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// ConfigurationError means the zone/region/threshold configuration is malformed.
// It is fatal at startup.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid impact configuration: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}
