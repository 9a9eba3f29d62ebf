package contract

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy shared by the remote client, the stores and the engine.
var (
	// ErrRateLimited is soft: back off and retry later.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized means the token was rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is permanent for the requested item.
	ErrNotFound = errors.New("not found")
	// ErrTransient covers timeouts, network errors and 5xx responses.
	ErrTransient = errors.New("transient failure")
	// ErrIntegrity means a snapshot was rejected by validation.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrCorruption means stored data disagreed with canonical data.
	ErrCorruption = errors.New("corruption detected")
	// ErrRefreshInProgress is returned when a run is already active.
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrAuditInProgress is returned when an audit is already active.
	ErrAuditInProgress = errors.New("audit already in progress")
	// ErrSnapshotNotFound means the store holds nothing for the key.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// RemoteError is a failed call to the remote source.
type RemoteError struct {
	Kind       error // one of the sentinel errors above
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote error (HTTP %d, %v): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("remote error (%v): %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is match the sentinel kind.
func (e *RemoteError) Unwrap() error {
	return e.Kind
}

// RetryAfterHint extracts a server-supplied retry hint from err, if any.
func RetryAfterHint(err error) time.Duration {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}
