package sql

import (
	"errors"
	"strings"
)

// IsConstraintError returns true if the error resulted from a database
// constraint violation.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// errorCoder is an interface for database errors that provide error codes.
// Implemented by modernc.org/sqlite and several client/server drivers.
type errorCoder interface {
	Code() int
}

// SQLite extended result codes for constraint violations.
const (
	sqliteConstraintCheck      = 275  // SQLITE_CONSTRAINT_CHECK
	sqliteConstraintForeignKey = 787  // SQLITE_CONSTRAINT_FOREIGNKEY
	sqliteConstraintNotNull    = 1299 // SQLITE_CONSTRAINT_NOTNULL
	sqliteConstraintPrimaryKey = 1555 // SQLITE_CONSTRAINT_PRIMARYKEY
	sqliteConstraintUnique     = 2067 // SQLITE_CONSTRAINT_UNIQUE
)

// IsUniqueConstraintError reports if the error resulted from a uniqueness
// violation, e.g. a duplicate value in a unique index or primary key.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[errorCoder](err); ok {
		if code := e.Code(); code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey {
			return true
		}
	}
	// Fallback to message matching for drivers without typed codes.
	return containsAny(err.Error(),
		"UNIQUE constraint failed",   // SQLite
		"violates unique constraint", // Postgres
		"Error 1062",                 // MySQL
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a
// foreign-key violation, e.g. a referenced parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[errorCoder](err); ok {
		if e.Code() == sqliteConstraintForeignKey {
			return true
		}
	}
	return containsAny(err.Error(),
		"FOREIGN KEY constraint failed",   // SQLite
		"violates foreign key constraint", // Postgres
		"Error 1451", "Error 1452",        // MySQL
	)
}

// IsCheckConstraintError reports if the error resulted from a check
// constraint violation.
func IsCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[errorCoder](err); ok {
		if code := e.Code(); code == sqliteConstraintCheck || code == sqliteConstraintNotNull {
			return true
		}
	}
	return containsAny(err.Error(),
		"CHECK constraint failed",   // SQLite
		"NOT NULL constraint failed",
		"violates check constraint", // Postgres
	)
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
