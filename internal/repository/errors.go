// Package repository implements the reservation store.  Errors returned by
// the store use the sentinel values of package model so that the service and
// handler layers can tell a missing row (model.ErrNotFound) or a violated
// uniqueness rule (model.ErrDuplicateActiveReservation) apart from
// infrastructure failures.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/library-reservations/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// notFound converts sql.ErrNoRows into model.ErrNotFound, naming what was
// looked up.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}

// isDuplicateEntry reports whether err is a MySQL duplicate key error.
func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
