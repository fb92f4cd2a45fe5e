package config

import (
	"errors"
	"fmt"
	"strings"
)

// Error types of a ConfigurationError.
const (
	ErrorTypeIO         = "io"
	ErrorTypeParse      = "parse"
	ErrorTypeSchema     = "schema"
	ErrorTypeValidation = "validation"
	ErrorTypeEnv        = "env"
)

// ConfigurationError is a structured error that occurs while loading configuration.
type ConfigurationError struct {
	FilePath  string `json:"filePath"`
	FileName  string `json:"fileName"`
	ErrorType string `json:"errorType"`
	// Field is the offending location in the document, e.g. "/timeouts/start".
	Field       string   `json:"field,omitempty"`
	Message     string   `json:"message"`
	Details     string   `json:"details,omitempty"`
	LineNumber  int      `json:"lineNumber,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Error implements the error interface
func (ce ConfigurationError) Error() string {
	if ce.Field != "" {
		return fmt.Sprintf("[%s] %s: %s: %s", ce.ErrorType, ce.FileName, ce.Field, ce.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", ce.ErrorType, ce.FileName, ce.Message)
}

// DetailedError returns a detailed error message with all context
func (ce ConfigurationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Configuration Error in %s", ce.FileName))
	parts = append(parts, fmt.Sprintf("  File: %s", ce.FilePath))
	parts = append(parts, fmt.Sprintf("  Type: %s", ce.ErrorType))

	if ce.Field != "" {
		parts = append(parts, fmt.Sprintf("  Field: %s", ce.Field))
	}
	if ce.LineNumber > 0 {
		parts = append(parts, fmt.Sprintf("  Line: %d", ce.LineNumber))
	}

	parts = append(parts, fmt.Sprintf("  Error: %s", ce.Message))

	if ce.Details != "" {
		parts = append(parts, fmt.Sprintf("  Details: %s", ce.Details))
	}

	if len(ce.Suggestions) > 0 {
		parts = append(parts, "  Suggestions:")
		for _, suggestion := range ce.Suggestions {
			parts = append(parts, fmt.Sprintf("    - %s", suggestion))
		}
	}

	return strings.Join(parts, "\n")
}

// ConfigurationErrorCollection holds multiple configuration errors
type ConfigurationErrorCollection struct {
	Errors []ConfigurationError `json:"errors"`
}

// Error implements the error interface for the collection
func (cec ConfigurationErrorCollection) Error() string {
	if len(cec.Errors) == 0 {
		return "no configuration errors"
	}

	if len(cec.Errors) == 1 {
		return cec.Errors[0].Error()
	}

	return fmt.Sprintf("%d configuration errors: %s (and %d more)",
		len(cec.Errors), cec.Errors[0].Error(), len(cec.Errors)-1)
}

// HasErrors returns true if there are any errors in the collection
func (cec *ConfigurationErrorCollection) HasErrors() bool {
	return len(cec.Errors) > 0
}

// Add adds a new error to the collection
func (cec *ConfigurationErrorCollection) Add(err ConfigurationError) {
	cec.Errors = append(cec.Errors, err)
}

// Unwrap exposes the collected errors to errors.As.
func (cec ConfigurationErrorCollection) Unwrap() []error {
	out := make([]error, len(cec.Errors))
	for i, e := range cec.Errors {
		out[i] = e
	}
	return out
}

// GetDetailedReport returns a detailed report of all errors
func (cec *ConfigurationErrorCollection) GetDetailedReport() string {
	if len(cec.Errors) == 0 {
		return "No configuration errors to report"
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("Detailed Configuration Error Report (%d errors):", len(cec.Errors)))
	parts = append(parts, strings.Repeat("=", 60))

	for i, err := range cec.Errors {
		parts = append(parts, fmt.Sprintf("\nError %d:", i+1))
		parts = append(parts, err.DetailedError())

		if i < len(cec.Errors)-1 {
			parts = append(parts, strings.Repeat("-", 40))
		}
	}

	return strings.Join(parts, "\n")
}

// orNil returns the collection as an error, nil when empty.
func (cec *ConfigurationErrorCollection) orNil() error {
	if !cec.HasErrors() {
		return nil
	}
	if len(cec.Errors) == 1 {
		return cec.Errors[0]
	}
	return *cec
}

// IsConfigurationError reports whether err is or wraps a configuration error.
func IsConfigurationError(err error) bool {
	var ce ConfigurationError
	return errors.As(err, &ce)
}

// DetailedReport renders err for humans, expanding configuration errors.
func DetailedReport(err error) string {
	var cec ConfigurationErrorCollection
	if errors.As(err, &cec) {
		return cec.GetDetailedReport()
	}
	var ce ConfigurationError
	if errors.As(err, &ce) {
		return ce.DetailedError()
	}
	return err.Error()
}
