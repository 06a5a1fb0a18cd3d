package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that the source or the store has no such object.
	ErrNotFound = errors.New("object not found")
	// ErrForbidden reports that the source refused access to the object.
	ErrForbidden = errors.New("access forbidden")
	// ErrUnavailable reports a transient or unclassified upstream failure.
	ErrUnavailable = errors.New("service unavailable")
)

// SourceError represents a failure reading from the source service, including
// metadata lookups and opening the media stream.
type SourceError struct {
	Op         string // The operation that failed (e.g., "open_stream", "metadata")
	SourceID   string // Identifier of the object at the source
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error  // One of ErrNotFound, ErrForbidden, ErrUnavailable, possibly wrapped
}

func (e *SourceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("source error during %s of %s (HTTP %d): %v", e.Op, e.SourceID, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("source error during %s of %s: %v", e.Op, e.SourceID, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// StoreError represents a failure talking to the object store: head, ranged
// reads and every step of a multipart upload.
type StoreError struct {
	Op  string // The store operation (e.g., "head", "upload_part")
	Key string // Object key, if applicable
	Err error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store error during %s of %s: %v", e.Op, e.Key, e.Err)
	}

	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// RangeError represents a Range header that cannot be satisfied for an object
// of the given size.
type RangeError struct {
	Header string
	Size   int64
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range %q not satisfiable for %d bytes: %s", e.Header, e.Size, e.Reason)
}

// IdentityError represents a malformed source identifier in a client request.
type IdentityError struct {
	ID     string
	Reason string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.ID, e.Reason)
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
