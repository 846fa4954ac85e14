package postgres

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	apperrors "github.com/wipfli/immich/internal/errors"
)

// PostgreSQL SQLSTATE codes the repositories react to.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
	sqlStateForeignKeyViolation  = "23503"
)

func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// classify wraps err with op and promotes contention errors to
// CodeTransactionAborted so callers can retry the whole transaction.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	switch sqlState(err) {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return apperrors.Wrap(err, apperrors.CodeTransactionAborted, op+": concurrent update, try again")
	}
	return fmt.Errorf("%s: %w", op, err)
}
