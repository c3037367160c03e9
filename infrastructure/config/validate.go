package config

import "fmt"

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateRequired checks that value is not empty.
func ValidateRequired(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidatePort checks that port is in the TCP range.
func ValidatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{Field: field, Message: "must be between 1 and 65535"}
	}
	return nil
}

// ValidatePositive checks that a numeric setting is greater than zero.
func ValidatePositive[N ~int | ~int64](field string, value N) error {
	if value <= 0 {
		return &ValidationError{Field: field, Message: "must be positive"}
	}
	return nil
}

// ValidateLogLevel checks that level is one the logger understands.
func ValidateLogLevel(level string) error {
	switch level {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error"}
	}
}

// FirstError returns the first non-nil error. It keeps Validate methods flat.
func FirstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
