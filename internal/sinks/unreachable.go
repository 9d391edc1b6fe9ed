package sinks

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// unreachable reports whether err means the database could not be reached at
// all, as opposed to a statement it refused. Only the former is worth
// retrying the whole batch for.
func unreachable(err error) bool {
	var opErr *net.OpError
	var connectErr *pgconn.ConnectError
	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	case errors.As(err, &opErr), errors.As(err, &connectErr):
		return true
	}
	return false
}
