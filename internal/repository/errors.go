package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrMetaNotFound is returned by lookups of a key that was never stored
var ErrMetaNotFound = errors.New("meta record not found")

// PersistenceError reports a batch that was rolled back as a whole
type PersistenceError struct {
	Batch int
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist batch of %d meta records: %v", e.Batch, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether writing the same batch again can succeed
func (e *PersistenceError) Retryable() bool {
	return !IsPermanent(e.Err)
}

// IsPermanent reports errors that repeat on every attempt with the same rows:
// data exceptions (class 22), integrity violations (class 23) and syntax or
// access rule violations (class 42).
func IsPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23", "42":
		return true
	}
	return false
}

// IsNoRows checks if the error is a "no rows" error
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
