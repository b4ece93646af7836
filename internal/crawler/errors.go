package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when an audit update does not match the entry's state.
	ErrInvalidTransition = errors.New("invalid audit transition")
	// ErrRunClosed is returned when closing a run that was already closed.
	ErrRunClosed = errors.New("run already closed")
)

// FetchClientError reports a 4xx response: the resource is gone.
type FetchClientError struct {
	URL        string
	StatusCode int
}

func (e *FetchClientError) Error() string {
	return fmt.Sprintf("fetch %s: client error %d", e.URL, e.StatusCode)
}

// FetchServerError reports a 5xx response: transient, the resource stays Active.
type FetchServerError struct {
	URL        string
	StatusCode int
}

func (e *FetchServerError) Error() string {
	return fmt.Sprintf("fetch %s: server error %d", e.URL, e.StatusCode)
}

// ArtifactMissingError reports a raw page absent from the artifact store at parse time.
type ArtifactMissingError struct {
	Path string
}

func (e *ArtifactMissingError) Error() string {
	return "artifact missing: " + e.Path
}

// PersistenceError wraps a failed storage write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code onto the fetch error taxonomy.
// 2xx and 3xx return nil.
func ClassifyStatus(url string, statusCode int) error {
	switch {
	case statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError:
		return &FetchClientError{URL: url, StatusCode: statusCode}
	case statusCode >= http.StatusInternalServerError:
		return &FetchServerError{URL: url, StatusCode: statusCode}
	default:
		return nil
	}
}

// StatusForCode derives the record status from the fetch status code:
// 4xx is Historical, everything else is Active.
func StatusForCode(statusCode int) ResourceStatus {
	var clientErr *FetchClientError
	if errors.As(ClassifyStatus("", statusCode), &clientErr) {
		return StatusHistorical
	}
	return StatusActive
}
