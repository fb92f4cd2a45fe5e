package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

var (
	// ErrRebindUnsupported is returned by containers that cannot replace an
	// existing binding.
	ErrRebindUnsupported = errors.New("backend does not support rebinding")

	// ErrUnreachableTarget is returned when an instrumentation target can not
	// be intercepted in this process.
	ErrUnreachableTarget = errors.New("instrumentation target unreachable")

	// ErrStartTimeout is the cause of a ResourceProvisioningError when a
	// provider did not return within its timeout.
	ErrStartTimeout = errors.New("resource did not start within its timeout")
)

// AnalysisError reports malformed or conflicting fixture metadata. It is
// always raised before any resource or container work begins.
type AnalysisError struct {
	// Fixture is the descriptor name of the analyzed fixture.
	Fixture string
	// Field is set when the problem is attached to a single field.
	Field  string
	Reason string
	Err    error
}

// Error implements the error interface for AnalysisError.
func (e *AnalysisError) Error() string {
	var b strings.Builder
	b.WriteString("analysis of ")
	b.WriteString(e.Fixture)
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	b.WriteString(" failed: ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// NewAnalysisError creates an AnalysisError for the fixture.
func NewAnalysisError(fixture, field, format string, args ...any) *AnalysisError {
	return &AnalysisError{Fixture: fixture, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsAnalysisError checks if an error is or wraps an AnalysisError.
func IsAnalysisError(err error) bool {
	var target *AnalysisError
	return errors.As(err, &target)
}

// ProviderNotFoundError is returned when no registered provider satisfies a
// contract and selector.
type ProviderNotFoundError struct {
	Contract reflect.Type
	Selector string
}

// Error implements the error interface for ProviderNotFoundError.
func (e *ProviderNotFoundError) Error() string {
	name := "<nil>"
	if e.Contract != nil {
		name = e.Contract.String()
	}
	if e.Selector == "" {
		return fmt.Sprintf("no provider registered for %s", name)
	}
	return fmt.Sprintf("no provider %q registered for %s", e.Selector, name)
}

// IsProviderNotFound checks if an error is or wraps a ProviderNotFoundError.
func IsProviderNotFound(err error) bool {
	var target *ProviderNotFoundError
	return errors.As(err, &target)
}

// ResourceProvisioningError is returned when a resource failed to configure or start.
type ResourceProvisioningError struct {
	Declaration ResourceDeclaration
	// Stage is the resource state in which the failure happened
	// (ResourceConfiguring or ResourceStarting).
	Stage ResourceState
	Err   error
}

// Error implements the error interface for ResourceProvisioningError.
func (e *ResourceProvisioningError) Error() string {
	return fmt.Sprintf("resource %s (%s/%s) failed while %s: %v",
		e.Declaration.Name, e.Declaration.Kind, e.Declaration.Provider, strings.ToLower(string(e.Stage)), e.Err)
}

func (e *ResourceProvisioningError) Unwrap() error { return e.Err }

// IsResourceProvisioningError checks if an error is or wraps a ResourceProvisioningError.
func IsResourceProvisioningError(err error) bool {
	var target *ResourceProvisioningError
	return errors.As(err, &target)
}

// UnsatisfiedDependencyError is returned when a binding could not be resolved.
type UnsatisfiedDependencyError struct {
	Key BindingKey
	// Path lists the keys being resolved when the failure happened,
	// outermost first.
	Path []BindingKey
	Err  error
}

// Error implements the error interface for UnsatisfiedDependencyError.
func (e *UnsatisfiedDependencyError) Error() string {
	msg := fmt.Sprintf("unsatisfied dependency %s", e.Key)
	if len(e.Path) > 0 {
		parts := make([]string, len(e.Path))
		for i, k := range e.Path {
			parts[i] = k.String()
		}
		msg += " (required by " + strings.Join(parts, " -> ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnsatisfiedDependencyError) Unwrap() error { return e.Err }

// IsUnsatisfiedDependency checks if an error is or wraps an UnsatisfiedDependencyError.
func IsUnsatisfiedDependency(err error) bool {
	var target *UnsatisfiedDependencyError
	return errors.As(err, &target)
}

// VerificationError reports unexpected or missing interactions found after
// the test body and teardown completed.
type VerificationError struct {
	Failures []string
}

// Error implements the error interface for VerificationError.
func (e *VerificationError) Error() string {
	if len(e.Failures) == 1 {
		return "interaction verification failed: " + e.Failures[0]
	}
	return fmt.Sprintf("interaction verification failed with %d problems:\n  - %s",
		len(e.Failures), strings.Join(e.Failures, "\n  - "))
}

// IsVerificationError checks if an error is or wraps a VerificationError.
func IsVerificationError(err error) bool {
	var target *VerificationError
	return errors.As(err, &target)
}

// SetupError augments a setup failure with the orchestrator state that failed.
type SetupError struct {
	Fixture string
	Stage   ContextState
	Err     error
}

// Error implements the error interface for SetupError.
func (e *SetupError) Error() string {
	return fmt.Sprintf("test context for %s failed in %s: %v", e.Fixture, e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// BodyPanicError is returned when the test body panicked.
type BodyPanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface for BodyPanicError.
func (e *BodyPanicError) Error() string {
	return fmt.Sprintf("test body panicked: %v", e.Value)
}

// IsBodyPanic checks if an error is or wraps a BodyPanicError.
func IsBodyPanic(err error) bool {
	var target *BodyPanicError
	return errors.As(err, &target)
}

// SetupPanicError is returned when a setup step panicked, for example in a
// module constructor or a config handler.
type SetupPanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface for SetupPanicError.
func (e *SetupPanicError) Error() string {
	return fmt.Sprintf("setup panicked: %v", e.Value)
}

// IsSetupPanic checks if an error is or wraps a SetupPanicError.
func IsSetupPanic(err error) bool {
	var target *SetupPanicError
	return errors.As(err, &target)
}

// TeardownError aggregates the best-effort failures of one teardown.
type TeardownError struct {
	Fixture string
	Errs    utilerrors.Aggregate
}

// NewTeardownError returns nil when errs holds no error.
func NewTeardownError(fixture string, errs []error) error {
	agg := utilerrors.NewAggregate(errs)
	if agg == nil {
		return nil
	}
	return &TeardownError{Fixture: fixture, Errs: agg}
}

// Error implements the error interface for TeardownError.
func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown of %s incomplete: %v", e.Fixture, e.Errs)
}

func (e *TeardownError) Unwrap() []error { return e.Errs.Errors() }

// IsTeardownError checks if an error is or wraps a TeardownError.
func IsTeardownError(err error) bool {
	var target *TeardownError
	return errors.As(err, &target)
}
