package xpg

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"
)

var log = logging.Logger("xpg")

// State is the lifecycle state of a Conn.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conn is a session-oriented client over one physical PostgreSQL session.
//
// A Conn connects lazily: any operation that needs the database first calls
// Ready, which reconnects when the Conn is Disconnected. A connectivity
// failure during a statement closes the physical session and returns the
// error; the next call reconnects. Nothing is retried automatically.
//
// A Conn is not safe for concurrent use. Use one Conn per goroutine or
// serialize access; the one-shot search path set by Path is consumed by
// whichever statement is built next.
type Conn struct {
	cfg    Config
	driver Driver
	fs     afero.Fs

	sess    Session
	state   State
	session SessionState
	types   TypeRegistry

	logStatements bool
}

// Option configures a Conn at Open.
type Option func(*Conn)

// WithDriver replaces the default PgxDriver.
func WithDriver(d Driver) Option { return func(c *Conn) { c.driver = d } }

// WithFs sets the filesystem File reads scripts from (default: the OS).
func WithFs(fs afero.Fs) Option { return func(c *Conn) { c.fs = fs } }

// WithTypes registers casts before the first connect, so they are installed
// on it.
func WithTypes(entries ...TypeEntry) Option {
	return func(c *Conn) {
		for _, e := range entries {
			if err := c.types.Add(e); err != nil {
				log.Errorw("ignoring invalid type", "name", e.Name, "error", err)
			}
		}
	}
}

// New builds a Conn without connecting.
func New(cfg Config, opts ...Option) *Conn {
	c := &Conn{
		cfg:           cfg,
		driver:        PgxDriver{},
		fs:            afero.NewOsFs(),
		session:       SessionState{SearchPath: cfg.SearchPath, Timezone: cfg.Timezone},
		logStatements: cfg.LogStatements,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open builds a Conn and attempts one connect. A failed connect is logged
// and the Conn is returned Disconnected; it will connect on first use.
func Open(ctx context.Context, cfg Config, opts ...Option) *Conn {
	c := New(cfg, opts...)
	if err := c.Reconnect(ctx); err != nil {
		log.Errorw("cannot connect to PostgreSQL", "url",
			fmt.Sprintf("postgresql://%s:<password>@%s/%s", c.cfg.User, c.cfg.Addr(), c.cfg.Database),
			"error", err)
	}
	return c
}

// Config returns the connection parameters.
func (c *Conn) Config() Config { return c.cfg }

// State returns the lifecycle state.
func (c *Conn) State() State { return c.state }

// Session exposes the session state applied to every statement.
func (c *Conn) Session() *SessionState { return &c.session }

// SetLogging toggles statement logging.
func (c *Conn) SetLogging(on bool) { c.logStatements = on }

// SetSearchPath sets the persistent search path; empty clears it.
func (c *Conn) SetSearchPath(path string) { c.session.SearchPath = path }

// SetTimezone sets the timezone applied to every statement; empty clears it.
func (c *Conn) SetTimezone(tz string) { c.session.Timezone = tz }

// Path sets a search path for the next statement only:
//
//	rows, err := conn.Path("tenant_42").Query(ctx, `SELECT * FROM invoices`)
func (c *Conn) Path(schema string) *Conn {
	c.session.SetNext(schema)
	return c
}

// Close releases the physical session. It is safe to call repeatedly.
func (c *Conn) Close() error {
	if c.sess == nil {
		c.state = Disconnected
		return nil
	}
	err := c.sess.Close(context.Background())
	c.sess = nil
	c.state = Disconnected
	return err
}

// Reconnect closes any physical session and opens a new one, then installs
// the money cast, every registered type and, when available, hstore.
func (c *Conn) Reconnect(ctx context.Context) error {
	if err := c.Close(); err != nil {
		log.Debugw("closing previous session", "host", c.cfg.Host, "error", err)
	}
	c.record(ctx, DBMeasures.Reconnects.M(1))

	c.state = Connecting
	sess, err := c.driver.Open(ctx, c.cfg)
	if err != nil {
		c.state = Disconnected
		return xerrors.Errorf("xpg: connect %s: %w", c.cfg.Addr(), err)
	}
	if err := c.types.Install(sess); err != nil {
		_ = sess.Close(ctx)
		c.state = Disconnected
		return err
	}
	if err := sess.EnableHstore(ctx); err != nil {
		log.Debugw("hstore not available", "host", c.cfg.Host, "error", err)
	}
	c.sess = sess
	c.state = Connected
	return nil
}

// Ready ensures a live physical session, reconnecting when Disconnected.
func (c *Conn) Ready(ctx context.Context) error {
	if c.state == Connected && c.sess != nil {
		return nil
	}
	return c.Reconnect(ctx)
}

// RegisterType records a cast for the given oids. It is installed on every
// future connect and, when connected, on the live session right away.
//
//	err := conn.RegisterType([]uint32{3802}, "JSONB", func(src *string) (any, error) { ... })
func (c *Conn) RegisterType(oids []uint32, name string, cast CastFunc) error {
	e := TypeEntry{OIDs: oids, Name: name, Cast: cast}
	if err := c.types.Add(e); err != nil {
		return err
	}
	if c.state == Connected && c.sess != nil {
		return c.sess.RegisterType(oids, name, cast)
	}
	return nil
}

// Types returns the registered casts, excluding the built-in money cast.
func (c *Conn) Types() []TypeEntry { return c.types.Entries() }

// Query builds the statement and returns its rows.
//
// Positional args fill %s markers. A Data value among args fills the
// __data__, __keys__ and __values__ tokens (see Rewrite):
//
//	rows, err := conn.Query(ctx, `INSERT INTO t (__keys__) VALUES (__values__) RETURNING id`,
//	    xpg.Pairs("id", 1, "name", "a"))
//
// The result is nil when the statement returned no row description (DDL, or
// DML without RETURNING) and a non-nil, possibly empty, slice otherwise.
func (c *Conn) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	res, err := c.run(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if !res.HasRows() {
		return nil, nil
	}
	rows := make([]Row, 0, len(res.Rows))
	for _, vals := range res.Rows {
		rows = append(rows, NewRow(res.Columns, vals))
	}
	return rows, nil
}

// Execute is an alias for Query.
func (c *Conn) Execute(ctx context.Context, query string, args ...any) ([]Row, error) {
	return c.Query(ctx, query, args...)
}

// Get returns the only row of the query, nil when there is none, and
// ErrMultipleRows when there are several.
func (c *Conn) Get(ctx context.Context, query string, args ...any) (*Row, error) {
	rows, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return &rows[0], nil
	default:
		return nil, xerrors.Errorf("%w: got %d", ErrMultipleRows, len(rows))
	}
}

// ExecRowCount runs the statement and returns the number of rows it
// affected or returned.
func (c *Conn) ExecRowCount(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.run(ctx, query, args)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// ExecMany runs query once per argument set. The session prefix is built
// once; Data arguments are not supported and result rows are discarded.
func (c *Conn) ExecMany(ctx context.Context, query string, argSets ...[]any) error {
	if err := c.Ready(ctx); err != nil {
		return err
	}
	prefix := strings.TrimSuffix(c.session.Prefix(query), query)
	for i, args := range argSets {
		stmt, err := Bind(query, args...)
		if err != nil {
			return xerrors.Errorf("xpg: exec many set %d: %w", i, err)
		}
		if _, err := c.send(ctx, prefix+stmt); err != nil {
			return err
		}
	}
	return nil
}

// Mogrify returns the statement that Query would send for the same
// arguments, without running it. It consumes the one-shot search path.
func (c *Conn) Mogrify(ctx context.Context, query string, args ...any) (string, error) {
	if err := c.Ready(ctx); err != nil {
		return "", err
	}
	return c.build(query, args)
}

// File runs a SQL script read through the Conn's filesystem, with \ir
// directives inlined (see LoadScript). Only the search path is prefixed.
func (c *Conn) File(ctx context.Context, path string) error {
	sql, err := LoadScript(c.fs, path)
	if err != nil {
		return err
	}
	if err := c.Ready(ctx); err != nil {
		return err
	}
	_, err = c.send(ctx, c.session.SchemaPrefix(sql))
	return err
}

// Notices drains the notices raised by the server since the last call, most
// recent first, with their severity prefix stripped.
func (c *Conn) Notices() []string {
	if c.sess == nil {
		return []string{}
	}
	raw := c.sess.Notices()
	out := make([]string, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		out = append(out, stripNotice(raw[i]))
	}
	return out
}

// PubSub returns a LISTEN/NOTIFY handle bound to this Conn's session.
func (c *Conn) PubSub() *PubSub { return &PubSub{conn: c} }

var noticePrefix = regexp.MustCompile(`^[A-Z]+:\s+`)

func stripNotice(s string) string {
	return strings.TrimSpace(noticePrefix.ReplaceAllString(s, ""))
}

// build turns a template and its arguments into the final statement text.
// A one-shot search_path is spent by the attempt even when building fails.
func (c *Conn) build(query string, args []any) (string, error) {
	stmt, err := expand(query, args)
	if err != nil {
		c.session.Next = nil
		return "", err
	}
	return c.session.Prefix(stmt), nil
}

func expand(query string, args []any) (string, error) {
	pos, data, err := splitData(args)
	if err != nil {
		return "", err
	}
	query, pos, err = Rewrite(query, pos, data)
	if err != nil {
		return "", err
	}
	return Bind(query, pos...)
}

func (c *Conn) run(ctx context.Context, query string, args []any) (Result, error) {
	if err := c.Ready(ctx); err != nil {
		return Result{}, err
	}
	stmt, err := c.build(query, args)
	if err != nil {
		return Result{}, err
	}
	results, err := c.send(ctx, stmt)
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return Result{}, nil
	}
	return results[len(results)-1], nil
}

var collapseNewlines = regexp.MustCompile(`\n\s*`)

// send runs stmt on the live session. A connectivity failure drops the
// session before the error is returned.
func (c *Conn) send(ctx context.Context, stmt string) ([]Result, error) {
	if c.sess == nil {
		return nil, ErrNotConnected
	}
	if c.logStatements {
		log.Info(collapseNewlines.ReplaceAllString(stmt, " "))
	}

	start := time.Now()
	results, err := c.sess.Exec(ctx, stmt)
	ms := time.Since(start).Milliseconds()
	c.record(ctx, DBMeasures.Hits.M(1), DBMeasures.TotalWait.M(ms))
	DBMeasures.Waits.Observe(float64(ms))

	if err != nil {
		c.record(ctx, DBMeasures.Errors.M(1))
		if IsOperational(err) {
			c.record(ctx, DBMeasures.Operational.M(1))
			log.Errorw("error connecting to PostgreSQL", "host", c.cfg.Host, "error", err)
			if cerr := c.Close(); cerr != nil {
				log.Debugw("closing failed session", "host", c.cfg.Host, "error", cerr)
			}
		}
		return nil, err
	}
	return results, nil
}

func (c *Conn) record(ctx context.Context, ms ...stats.Measurement) {
	_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(hostTag, c.cfg.Host)}, ms...)
}
