package tools

import (
	"errors"
	"fmt"
)

// SchemaViolation is returned before execution when a call does not match its
// tool's schema, including calls to unknown tools.
type SchemaViolation struct {
	Tool   string
	Reason string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("tool %s: invalid arguments: %s", e.Tool, e.Reason)
}

// AdapterFailure wraps an error raised by a tool's adapter.
type AdapterFailure struct {
	Tool string
	Err  error
}

func (e *AdapterFailure) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *AdapterFailure) Unwrap() error {
	return e.Err
}

func IsSchemaViolation(err error) bool {
	var violation *SchemaViolation
	return errors.As(err, &violation)
}

func IsAdapterFailure(err error) bool {
	var failure *AdapterFailure
	return errors.As(err, &failure)
}
