package backend

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Failure classes the stores branch on. Transient failures (ErrUnavailable)
// drive the rollback path of an optimistic mutation; ErrUnauthorized means the
// session expired; ErrNotFound means the addressed record is gone remotely.
var (
	ErrUnavailable  = errors.New("backend unavailable")
	ErrUnauthorized = errors.New("backend rejected credentials")
	ErrNotFound     = errors.New("record not found")
	ErrBadRequest   = errors.New("backend rejected request")
)

// RemoteError wraps a failed remote call with the operation that caused it.
type RemoteError struct {
	Op     string
	Status int
	Err    error
	Cause  error
}

func (e *RemoteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Err, e.Cause)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %v (status %d)", e.Op, e.Err, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func classifyStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var class error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		class = ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		class = ErrNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		class = ErrBadRequest
	default:
		class = ErrUnavailable
	}

	// Keep a short body excerpt for the log line; bodies here are error JSON.
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	cause := error(nil)
	if s := strings.TrimSpace(string(excerpt)); s != "" {
		cause = errors.New(s)
	}
	return &RemoteError{Op: op, Status: resp.StatusCode, Err: class, Cause: cause}
}
