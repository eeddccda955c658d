// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"database/sql/driver"
	"strings"

	"github.com/juju/errors"
	"github.com/mattn/go-sqlite3"
)

// IsErrConstraintUnique returns true if the input error was returned by the
// storage engine for a unique-constraint violation.
//
// The SQLite driver exposes typed extended codes, which we prefer. Other
// engines reached through database/sql surface constraint violations only in
// the message text, so a substring match on the well-known encodings is kept
// as the last-resort branch ("Duplicate entry" is MySQL's spelling).
func IsErrConstraintUnique(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}

// IsErrRetryable returns true if the given error might be transient and the
// interaction can be safely retried. Only operations proven idempotent may
// be re-driven on the strength of this classification.
func IsErrRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	if errors.Is(err, sqlite3.ErrBusy) || errors.Is(err, sqlite3.ErrLocked) {
		return true
	}

	// Unwrapped driver errors from pooled connections come through as bare
	// messages.
	msg := err.Error()
	for _, s := range []string{
		"database is locked",
		"cannot start a transaction within a transaction",
		"bad connection",
		"checkpoint in progress",
		"invalid connection",
		"Deadlock found",
		"Lost connection to MySQL server",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
