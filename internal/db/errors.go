package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the store reacts to.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
	CodeAdminShutdown        = "57P01"
	CodeCannotConnectNow     = "57P03"
)

// PgCode returns the SQLSTATE of err, or "" when err is not a Postgres error.
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return PgCode(err) == CodeUniqueViolation
}

// IsRetryable reports whether err is a Postgres failure that a fresh attempt
// of the same transaction may get past: lock contention, serialization
// conflicts, and connection loss.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch code := PgCode(err); {
	case code == CodeSerializationFailure, code == CodeDeadlockDetected,
		code == CodeLockNotAvailable, code == CodeAdminShutdown, code == CodeCannotConnectNow:
		return true
	case strings.HasPrefix(code, "08"):
		// connection_exception class
		return true
	case code != "":
		return false
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}
