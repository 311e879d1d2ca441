package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository sentinels shared by the postgres and in-memory stores
var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("claim is not pending")
	ErrDuplicateClaim    = errors.New("claim already exists")
)

const uniqueViolation = "23505"

// IsDuplicateKeyViolation reports whether err is a unique constraint failure.
func IsDuplicateKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
