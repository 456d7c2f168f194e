package xpg

import (
	"context"
	"errors"
	"testing"
)

// SessionHandler answers every statement sent to a fake session.
type SessionHandler func(sql string) ([]Result, error)

type testDriver struct {
	h SessionHandler

	// openErrs is consumed one entry per Open; a nil entry succeeds.
	openErrs  []error
	hstoreErr error

	opens    int
	sessions []*testSession
}

func (d *testDriver) Open(context.Context, Config) (Session, error) {
	d.opens++
	if len(d.openErrs) > 0 {
		err := d.openErrs[0]
		d.openErrs = d.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &testSession{h: d.h, casts: make(map[uint32]CastFunc), hstoreErr: d.hstoreErr}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *testDriver) last() *testSession {
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

type testSession struct {
	h         SessionHandler
	casts     map[uint32]CastFunc
	names     []string // registration order
	hstoreErr error
	hstore    bool

	sent          []string
	notices       []string
	notifications []*Notification
	closed        bool
}

func (s *testSession) Exec(_ context.Context, sql string) ([]Result, error) {
	s.sent = append(s.sent, sql)
	if s.h == nil {
		return []Result{{}}, nil
	}
	return s.h(sql)
}

func (s *testSession) RegisterType(oids []uint32, name string, cast CastFunc) error {
	for _, oid := range oids {
		s.casts[oid] = cast
	}
	s.names = append(s.names, name)
	return nil
}

func (s *testSession) EnableHstore(context.Context) error {
	if s.hstoreErr != nil {
		return s.hstoreErr
	}
	s.hstore = true
	return nil
}

func (s *testSession) Notices() []string {
	out := s.notices
	s.notices = nil
	return out
}

func (s *testSession) WaitForNotification(ctx context.Context) (*Notification, error) {
	if len(s.notifications) == 0 {
		return nil, ctx.Err()
	}
	n := s.notifications[0]
	s.notifications = s.notifications[1:]
	return n, nil
}

func (s *testSession) Close(context.Context) error {
	if s.closed {
		return errors.New("testSession closed twice")
	}
	s.closed = true
	return nil
}

// rowsResult builds the Result of a statement returning rows.
func rowsResult(cols []string, rows ...[]any) Result {
	if rows == nil {
		rows = [][]any{}
	}
	return Result{Columns: cols, Rows: rows, RowsAffected: int64(len(rows))}
}

// newTestConn creates a connected Conn backed by the fake driver. The config
// carries no timezone so statements reach the handler unprefixed.
func newTestConn(t *testing.T, h SessionHandler, opts ...Option) (*Conn, *testDriver) {
	t.Helper()
	d := &testDriver{h: h}
	c := Open(context.Background(), Config{Host: "db.test"}, append([]Option{WithDriver(d)}, opts...)...)
	if c.State() != Connected {
		t.Fatalf("state = %v, want connected", c.State())
	}
	return c, d
}
