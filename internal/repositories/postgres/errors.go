package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Error implements repositories.RepositoryError for Postgres backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a conflicting write.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
)

func newError(op string, err error) *Error {
	if err == nil {
		return nil
	}

	wrapped := &Error{op: op, err: err}

	if errors.Is(err, pgx.ErrNoRows) {
		wrapped.notFound = true
		return wrapped
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgForeignKeyViolation:
			wrapped.conflict = true
		case pgSerializationFail, pgDeadlockDetected:
			wrapped.conflict = true
		default:
			if pgErr.Code >= "57000" && pgErr.Code < "58000" {
				// 57xxx: operator intervention / shutdown family.
				wrapped.unavailable = true
			}
		}
		return wrapped
	}

	if pgconn.Timeout(err) {
		wrapped.unavailable = true
	}

	return wrapped
}

func notFoundError(op string, what string) *Error {
	return &Error{op: op, err: fmt.Errorf("%s not found", what), notFound: true}
}

func conflictError(op string, msg string) *Error {
	return &Error{op: op, err: errors.New(msg), conflict: true}
}
