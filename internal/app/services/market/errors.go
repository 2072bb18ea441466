package market

import (
	"fmt"

	"github.com/trackfolio/backend/internal/resilience"
)

// NotFoundError means no provider knows the identifier and no cached
// observation exists.
type NotFoundError struct {
	Kind       string
	Identifier string
	Err        error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Identifier)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ValidationError reports a malformed request argument.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ExternalAPIError reports an upstream provider failure after retries were
// exhausted. StatusCode carries the upstream HTTP status when one was
// observed, zero otherwise.
type ExternalAPIError struct {
	Service    string
	Operation  string
	StatusCode int
	Attempts   []resilience.Attempt
	Err        error
}

func (e *ExternalAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed with status %d: %v", e.Service, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Operation, e.Err)
}

func (e *ExternalAPIError) Unwrap() error { return e.Err }
