package repository

import (
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrStorage wraps every failure of the underlying database.
	ErrStorage = errors.New("storage error")
	// ErrConstraintViolation means a uniqueness conflict escaped the upsert.
	// It indicates a bug in the upsert statement, not a runtime condition.
	ErrConstraintViolation = errors.New("constraint violation")
	ErrInvalidRecord       = errors.New("invalid record")
)

func storageErr(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w: %s: %w", ErrStorage, ErrConstraintViolation, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrConstraint &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
