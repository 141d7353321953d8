package store

import "fmt"

// ValidationError indicates a client-side validation failure. Nothing was
// written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// NotFoundError indicates the memory does not exist or the requesting entity
// did not witness it. The two cases are deliberately indistinguishable.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// IndexUnavailableError indicates the vector index is missing or unusable
// after the single create-and-retry attempt.
type IndexUnavailableError struct {
	Index string
	Err   error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("vector index %s unavailable: %v", e.Index, e.Err)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Err }

// UpstreamError indicates an external collaborator (embedding or judgment
// call) failed or timed out.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
