package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUndefinedTable    = "42P01"
	codeDuplicateDatabase = "42P04"
	codeUndefinedFile     = "58P01"
)

// SQLState returns the SQLSTATE code carried by err, or "".
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUndefinedTable reports whether err is caused by a missing table.
func IsUndefinedTable(err error) bool {
	return SQLState(err) == codeUndefinedTable
}

// IsDuplicateDatabase reports whether err is caused by CREATE DATABASE on an
// existing name.
func IsDuplicateDatabase(err error) bool {
	return SQLState(err) == codeDuplicateDatabase
}

// IsMissingExtension reports whether err comes from CREATE EXTENSION on a
// server without the extension installed.
func IsMissingExtension(err error) bool {
	return SQLState(err) == codeUndefinedFile
}
