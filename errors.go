package dbsession

import (
	"errors"
	"fmt"
)

// ErrNoRows is returned by FetchOne when the statement produced no rows.
var ErrNoRows = errors.New("dbsession: no rows in result set")

// ErrNotConnected is returned when a Database is used before Connect or
// after Disconnect.
var ErrNotConnected = errors.New("dbsession: database is not connected")

// SafeError wraps a cause with an error string safe for default production
// logging. The wrapped cause may still contain sensitive detail (connection
// URLs and credentials embedded in client errors); it stays reachable via
// errors.Is/errors.As but never appears in Error().
type SafeError struct {
	msg   string
	cause error
}

// NewSafeError builds a SafeError. Backend packages use it to sanitize
// connect-path failures; msg must not contain DSN content.
func NewSafeError(msg string, cause error) *SafeError {
	return &SafeError{msg: msg, cause: cause}
}

func (e *SafeError) Error() string { return e.msg }
func (e *SafeError) Unwrap() error { return e.cause }

// UsageError reports a call that violates the session or transaction
// lifecycle: committing before start, finishing a transaction twice, closing
// a session that still holds leases. It indicates a bug in the caller rather
// than a database fault, so it is never retried and never wraps a cause.
type UsageError struct {
	msg string
}

func usageErrorf(format string, args ...any) *UsageError {
	return &UsageError{msg: "dbsession: " + fmt.Sprintf(format, args...)}
}

func (e *UsageError) Error() string { return e.msg }

// StatementError reports a statement that the backend failed to execute. The
// SQL text is carried as a field rather than in the message so that default
// logging of the error stays free of query content.
type StatementError struct {
	// SQL is the compiled statement that failed.
	SQL string

	cause error
}

func (e *StatementError) Error() string {
	return "dbsession: statement failed: " + e.cause.Error()
}

func (e *StatementError) Unwrap() error { return e.cause }

// UnknownColumnError is returned by Record lookups for a column name that is
// not present in the result descriptors.
type UnknownColumnError struct {
	Name string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("dbsession: no column %q in record", e.Name)
}

// joinCleanup combines an operation error with a cleanup error. The original
// operation error stays first so errors.Is keeps matching it; cleanup
// failures are never silently dropped either.
func joinCleanup(err, cleanupErr error) error {
	if cleanupErr == nil {
		return err
	}
	if err == nil {
		return cleanupErr
	}
	return errors.Join(err, cleanupErr)
}
