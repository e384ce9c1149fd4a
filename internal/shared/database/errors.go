package database

import (
	"context"
	"database/sql"
	stderrors "errors"

	"regions-server/internal/shared/errors"

	"github.com/lib/pq"
)

// Postgres SQLSTATE codes the repositories translate
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeCheckViolation      = "23514"
	codeInvalidTextRep      = "22P02"
)

// Translate maps driver errors onto the application error taxonomy so raw
// storage errors never leave the repository layer.
func Translate(message string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}

	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.WrapNotFound(message, err)
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.WrapTimeout(message, err)
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeUniqueViolation:
			return errors.WrapConflict(message, err)
		case codeForeignKeyViolation:
			return errors.WrapNotFound(message, err)
		case codeNotNullViolation, codeCheckViolation, codeInvalidTextRep:
			return errors.WrapValidation(message, err)
		}
	}

	return errors.WrapInternal(message, err)
}
