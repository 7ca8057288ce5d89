package domain

import "fmt"

// ClientError reports a malformed request or payload.
type ClientError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e ClientError) Error() string {
	return e.Message
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConflictError reports an illegal state transition or a duplicate in-flight operation.
type ConflictError struct {
	Code    string
	Message string
}

func (e ConflictError) Error() string {
	return e.Message
}

// InvariantViolation reports a mutation that would break a global invariant.
// The mutation has already been rolled back when this is returned.
type InvariantViolation struct {
	Rule    string
	Message string
}

func (e InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Rule, e.Message)
}

// DependencyError wraps a failure of an external collaborator.
type DependencyError struct {
	Service string
	Err     error
}

func (e DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e DependencyError) Unwrap() error {
	return e.Err
}
