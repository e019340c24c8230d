package database

import (
	stderrors "errors"

	"github.com/lib/pq"
	"github.com/schoolclinic/clinic-backend/pkg/errors"
)

// PostgreSQL error codes the ledger cares about
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeNotNullViolation     = "23502"
	codeNumericOutOfRange    = "22003"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeRaiseException       = "P0001"
)

func pqError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// IsUniqueViolation reports whether err is a unique violation of the named
// constraint. An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	pqErr, ok := pqError(err)
	if !ok || pqErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	pqErr, ok := pqError(err)
	return ok && pqErr.Code == codeForeignKeyViolation
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error or has no generic mapping.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := pqError(err)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	case codeCheckViolation:
		return errors.BadRequest("data validation failed: " + pqErr.Constraint)

	case codeUniqueViolation:
		return errors.Conflict("a record with these values already exists")

	case codeForeignKeyViolation:
		return errors.BadRequest("referenced record does not exist")

	case codeNotNullViolation:
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	case codeNumericOutOfRange:
		col := pqErr.Column
		if col == "" {
			col = "quantity"
		}
		return errors.Validation(map[string]string{
			col: "value out of range",
		})

	case codeSerializationFailure, codeDeadlockDetected:
		return errors.ConcurrentModification()

	// Raised by the append-only triggers
	case codeRaiseException:
		return errors.Conflict(pqErr.Message)

	default:
		return nil
	}
}
