package config

import (
	"fmt"
	"sort"
	"strings"

	"testbed/internal/api"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateResourceName checks that an override addresses a usable
// resource name.
func ValidateResourceName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ValidationError{Field: "resources", Value: name, Message: "resource name is required"}
	}
	if strings.ContainsAny(name, " \t") {
		return ValidationError{Field: "resources." + name, Value: name, Message: "cannot contain spaces"}
	}
	return nil
}

// Validate checks the semantic constraints the schema cannot express.
func Validate(cfg Config) error {
	var errs ValidationErrors

	levels := []string{string(api.LevelUnit), string(api.LevelIntegration), string(api.LevelSystem)}
	if err := ValidateOneOf("level", string(cfg.Level), levels); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if err := cfg.Strategy.Validate(); err != nil {
		errs.Add("strategy", err.Error(), cfg.Strategy)
	}
	if cfg.Timeouts.Start <= 0 {
		errs.Add("timeouts.start", "must be positive", cfg.Timeouts.Start)
	}
	if cfg.Timeouts.Stop <= 0 {
		errs.Add("timeouts.stop", "must be positive", cfg.Timeouts.Stop)
	}
	if cfg.Parallel < 1 {
		errs.Add("parallel", "must be at least 1", cfg.Parallel)
	}

	names := make([]string, 0, len(cfg.Resources))
	for name := range cfg.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ValidateResourceName(name); err != nil {
			errs = append(errs, err.(ValidationError))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
