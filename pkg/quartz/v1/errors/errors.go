// Package errors defines the concrete error kinds the module runtime can
// return, as enumerated in the resolution/registry/executor design.
package errors

import "fmt"

// NotFoundError indicates module resolution failed to locate a file for
// the given (from, request) pair. Hint is an optional human-readable
// suggestion, e.g. listing sibling files with a different extension.
type NotFoundError struct {
	From    string
	Request string
	Hint    string
}

func NewNotFoundError(from, request, hint string) *NotFoundError {
	return &NotFoundError{From: from, Request: request, Hint: hint}
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("cannot find module '%s' from '%s'", e.Request, e.From)
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

// NestedIsolationError is returned when isolateModules is called while an
// isolation scope is already active.
type NestedIsolationError struct{}

func NewNestedIsolationError() *NestedIsolationError { return &NestedIsolationError{} }

func (e *NestedIsolationError) Error() string {
	return "isolateModules cannot be called while already inside an isolation scope"
}

// BadResolveArgError is returned by require.resolve.paths for a null/empty
// request.
type BadResolveArgError struct {
	Arg string
}

func NewBadResolveArgError(arg string) *BadResolveArgError {
	return &BadResolveArgError{Arg: arg}
}

func (e *BadResolveArgError) Error() string {
	return fmt.Sprintf("request argument %q must be a non-empty string", e.Arg)
}

// TornDownError indicates the sandbox environment's global object was absent
// when the executor attempted to run a script. Per the executor's contract,
// this error is logged and mapped to exit code 1 by the caller; it is never
// thrown back through the require chain.
type TornDownError struct {
	Path string
}

func NewTornDownError(path string) *TornDownError { return &TornDownError{Path: path} }

func (e *TornDownError) Error() string {
	return fmt.Sprintf("ReferenceError: cannot execute module '%s', environment has been torn down", e.Path)
}

// MissingExtraGlobalError indicates a configured extra global was not found
// on the environment's global object at invocation time.
type MissingExtraGlobalError struct {
	Name string
}

func NewMissingExtraGlobalError(name string) *MissingExtraGlobalError {
	return &MissingExtraGlobalError{Name: name}
}

func (e *MissingExtraGlobalError) Error() string {
	return fmt.Sprintf("extra global '%s' is configured but not present on the environment global object", e.Name)
}

// AutomockMetadataNullError indicates the environment's mock facility
// returned no metadata for a module's real exports.
type AutomockMetadataNullError struct {
	Path string
}

func NewAutomockMetadataNullError(path string) *AutomockMetadataNullError {
	return &AutomockMetadataNullError{Path: path}
}

func (e *AutomockMetadataNullError) Error() string {
	return fmt.Sprintf("could not generate automock metadata for module '%s'", e.Path)
}

// ConfigError represents an error in runtime configuration: malformed or
// schema-invalid RuntimeConfig input.
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError indicates a RuntimeConfig value failed logical validation
// after parsing (cross-field consistency, invalid enum value, etc.),
// distinct from a ConfigError raised during schema/YAML parsing itself.
type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Cause }
