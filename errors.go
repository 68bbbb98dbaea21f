package perfdash

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is the class of errors caused by missing or invalid caller
	// input. No upstream request is made when it is returned.
	ErrConfig = errors.New("invalid request")

	// ErrMissingRunID is returned when no run identifier is supplied.
	ErrMissingRunID = fmt.Errorf("%w: missing run identifier", ErrConfig)

	// ErrInvalidRunID is returned when a run identifier is too short to
	// carry its year-month partition.
	ErrInvalidRunID = fmt.Errorf("%w: run identifier must be at least %d characters", ErrConfig, partitionLen)

	// ErrFetch is the class of errors caused by a failed required upstream
	// request. Use errors.As with *FetchError for details.
	ErrFetch = errors.New("upstream fetch failed")
)

// FetchError describes a failed required upstream request.
//
// Status is the HTTP status code when the upstream answered, or zero when
// the request itself failed.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	default:
		return fmt.Sprintf("fetch %s: failed", e.URL)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports ErrFetch as a match so callers can test the error class.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}
