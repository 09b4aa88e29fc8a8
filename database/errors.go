package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	apperrors "github.com/kbukum/fanout/errors"
)

// MySQL server error numbers treated as transient.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlTooManyConns    = 1040
	mysqlServerGone      = 2006
	mysqlServerLost      = 2013
	mysqlDuplicateEntry  = 1062
)

// IsConnectionError reports whether err means the connection to the
// database was lost or never established.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqldriver.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlServerGone || myErr.Number == mysqlServerLost
	}
	// Drivers wrapped by gorm sometimes flatten the cause into a string.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "broken pipe")
}

// IsRetryableError reports whether a failed statement may succeed if
// retried: lost connections, deadlocks, lock timeouts and a busy sqlite file.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if IsConnectionError(err) {
		return true
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDeadlock, mysqlLockWaitTimeout, mysqlTooManyConns:
			return true
		}
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return strings.Contains(strings.ToLower(err.Error()), "database is locked")
}

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// translate converts a store error into an AppError. AppErrors raised
// inside transactions pass through unchanged.
func translate(err error, op, runID string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound("run", runID)
	}
	if IsDuplicateKey(err) {
		appErr := apperrors.Persistence(op, fmt.Errorf("run %s already exists: %w", runID, err))
		appErr.Retryable = false
		return appErr
	}

	appErr := apperrors.Persistence(op, err)
	appErr.Retryable = IsRetryableError(err)
	return appErr
}
