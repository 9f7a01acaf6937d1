package ingest

import (
	"context"
	"errors"
	"net/http"

	"github.com/lildude/strautocoach/internal/strava"
)

// FetchStatus is the outcome of a best-effort fetch.
type FetchStatus int

const (
	// Ok means the data was returned.
	Ok FetchStatus = iota
	// Absent means the remote has no such data for the activity.
	Absent
	// TransientError means the data may exist but could not be fetched now.
	TransientError
)

func (s FetchStatus) String() string {
	switch s {
	case Ok:
		return "ok"
	case Absent:
		return "absent"
	default:
		return "transient_error"
	}
}

// Fetch is the result of a best-effort fetch of a secondary channel.
type Fetch[T any] struct {
	Status FetchStatus
	Value  T
	Err    error
}

// Get returns the value and whether it is present.
func (f Fetch[T]) Get() (T, bool) {
	return f.Value, f.Status == Ok
}

// fetchBestEffort classifies fn's outcome. A 404 means the channel does
// not exist; cancellation, rate limiting, server errors and network
// failures are transient.
func fetchBestEffort[T any](ctx context.Context, fn func(context.Context) (T, error)) Fetch[T] {
	v, err := fn(ctx)
	if err == nil {
		return Fetch[T]{Status: Ok, Value: v}
	}
	if isAbsent(err) {
		return Fetch[T]{Status: Absent, Err: err}
	}
	return Fetch[T]{Status: TransientError, Err: err}
}

func isAbsent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch strava.StatusCode(err) {
	case http.StatusNotFound, http.StatusBadRequest:
		return true
	}
	return false
}
