package xpg

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/xerrors"
)

// PgxDriver opens sessions with pgx using the simple query protocol, so a
// prefixed multi-statement string travels in a single round trip and
// arguments are interpolated client-side by Bind.
type PgxDriver struct {
	// Configure, if set, adjusts the pgx config before connecting.
	Configure func(*pgx.ConnConfig)
}

// Open implements Driver.
func (d PgxDriver) Open(ctx context.Context, cfg Config) (Session, error) {
	pcfg, err := pgx.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, xerrors.Errorf("parsing pgx config: %w", err)
	}
	pcfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	s := &pgxSession{casts: make(map[uint32]CastFunc)}
	pcfg.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		s.addNotice(n.Severity + ":  " + n.Message)
	}
	if d.Configure != nil {
		d.Configure(pcfg)
	}

	conn, err := pgx.ConnectConfig(ctx, pcfg)
	if err != nil {
		return nil, &OperationalError{Err: err}
	}
	s.conn = conn
	return s, nil
}

type pgxSession struct {
	conn  *pgx.Conn
	casts map[uint32]CastFunc

	mu      sync.Mutex
	notices []string
}

func (s *pgxSession) Exec(ctx context.Context, sql string) ([]Result, error) {
	results, err := s.conn.PgConn().Exec(ctx, sql).ReadAll()
	if err != nil {
		return nil, s.classify(err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		res := Result{RowsAffected: r.CommandTag.RowsAffected()}
		if r.FieldDescriptions != nil {
			res.Columns = make([]string, len(r.FieldDescriptions))
			for i, fd := range r.FieldDescriptions {
				res.Columns[i] = fd.Name
			}
			res.Rows = make([][]any, 0, len(r.Rows))
			for _, raw := range r.Rows {
				vals, err := s.decodeRow(r.FieldDescriptions, raw)
				if err != nil {
					return nil, err
				}
				res.Rows = append(res.Rows, vals)
			}
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *pgxSession) decodeRow(fds []pgconn.FieldDescription, raw [][]byte) ([]any, error) {
	m := s.conn.TypeMap()
	vals := make([]any, len(fds))
	for i, fd := range fds {
		src := raw[i]
		if cast, ok := s.casts[fd.DataTypeOID]; ok && fd.Format == pgtype.TextFormatCode {
			var text *string
			if src != nil {
				t := string(src)
				text = &t
			}
			v, err := cast(text)
			if err != nil {
				return nil, xerrors.Errorf("xpg: cast column %s: %w", fd.Name, err)
			}
			vals[i] = v
			continue
		}
		if src == nil {
			continue
		}
		t, ok := m.TypeForOID(fd.DataTypeOID)
		if !ok {
			vals[i] = string(src)
			continue
		}
		v, err := t.Codec.DecodeValue(m, fd.DataTypeOID, fd.Format, src)
		if err != nil {
			return nil, xerrors.Errorf("xpg: decode column %s: %w", fd.Name, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func (s *pgxSession) RegisterType(oids []uint32, _ string, cast CastFunc) error {
	for _, oid := range oids {
		s.casts[oid] = cast
	}
	return nil
}

func (s *pgxSession) EnableHstore(ctx context.Context) error {
	var oid uint32
	if err := s.conn.QueryRow(ctx, "SELECT 'hstore'::regtype::oid").Scan(&oid); err != nil {
		return s.classify(err)
	}
	s.conn.TypeMap().RegisterType(&pgtype.Type{Name: "hstore", OID: oid, Codec: pgtype.HstoreCodec{}})
	return nil
}

func (s *pgxSession) addNotice(n string) {
	s.mu.Lock()
	s.notices = append(s.notices, n)
	s.mu.Unlock()
}

func (s *pgxSession) Notices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notices
	s.notices = nil
	return out
}

func (s *pgxSession) WaitForNotification(ctx context.Context) (*Notification, error) {
	n, err := s.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, s.classify(err)
	}
	return &Notification{PID: n.PID, Channel: n.Channel, Payload: n.Payload}, nil
}

func (s *pgxSession) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// classify wraps err in an OperationalError when the session can no longer
// be used.
func (s *pgxSession) classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.AdminShutdown ||
			pgErr.Code == pgerrcode.CrashShutdown ||
			pgErr.Code == pgerrcode.CannotConnectNow {
			return &OperationalError{Err: err}
		}
		return err
	}
	if s.conn.IsClosed() {
		return &OperationalError{Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &OperationalError{Err: err}
}
