package weather

import (
	"errors"
	"fmt"
)

var (
	// ErrQueryFailed marks an unsuccessful upstream query. Match with errors.Is;
	// the provider's reason is carried by *QueryError.
	ErrQueryFailed = errors.New("query failed")
	// ErrInvalidArgument is malformed caller input. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrMissingArgument means no argument was given and no default exists.
	ErrMissingArgument = errors.New("missing argument")
)

// QueryError is returned by providers when the upstream answered with a
// failure (HTTP or provider return code).
type QueryError struct {
	Code   string
	Reason string
}

func (e *QueryError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("query failed: %s", e.Reason)
	}
	return fmt.Sprintf("query failed (code %s): %s", e.Code, e.Reason)
}

func (e *QueryError) Unwrap() error { return ErrQueryFailed }

// Reason returns the user-facing reason carried by a query failure, or the
// error text for anything else.
func Reason(err error) string {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
