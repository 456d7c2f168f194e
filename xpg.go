package xpg

import (
	"context"
)

// Driver opens physical database sessions. [PgxDriver] is the production
// implementation; tests substitute their own.
type Driver interface {
	Open(ctx context.Context, cfg Config) (Session, error)
}

// Session is one physical database session.
//
// Exec runs sql with the simple query protocol, so sql may hold several
// statements separated by semicolons. It returns one [Result] per statement.
// Connectivity failures must be reported as *[OperationalError]; every other
// error is treated as a statement failure that leaves the session usable.
type Session interface {
	Exec(ctx context.Context, sql string) ([]Result, error)

	// RegisterType installs cast for every oid. Registering an oid again
	// replaces the previous cast.
	RegisterType(oids []uint32, name string, cast CastFunc) error

	// EnableHstore installs the hstore extension type, if the server has it.
	EnableHstore(ctx context.Context) error

	// Notices drains the server notices received since the last call,
	// oldest first, formatted as "SEVERITY:  message".
	Notices() []string

	// WaitForNotification blocks until a LISTEN notification arrives.
	WaitForNotification(ctx context.Context) (*Notification, error)

	Close(ctx context.Context) error
}

// Result is the decoded outcome of a single statement.
type Result struct {
	// Columns is nil when the statement produced no row description
	// (DDL, or DML without RETURNING).
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

// HasRows reports whether the statement produced a row description.
func (r Result) HasRows() bool { return r.Columns != nil }

// Notification is a message delivered through LISTEN/NOTIFY.
type Notification struct {
	PID     uint32
	Channel string
	Payload string
}
