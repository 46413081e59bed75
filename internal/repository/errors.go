package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Store names used in StoreError and telemetry
const (
	StorePostgres = "postgres"
	StoreVolatile = "volatile"
)

// StoreError reports a failure of a store backend
type StoreError struct {
	Store string // "postgres", "volatile"
	Op    string // contract operation, e.g. "AddMessage"
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [%s] %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(store, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Store: store, Op: op, Err: err}
}

var connectivityHints = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"network",
	"no such host",
	"dns",
	"timeout",
	"timed out",
	"failed to connect",
	"eof",
}

// IsConnectivityError reports whether err looks like the store being
// unreachable rather than the store rejecting the request.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception, 57P: operator intervention (shutdown)
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P")
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range connectivityHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
