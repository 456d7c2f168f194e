package main

import (
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/go-mizu/xpg"
)

var dataFlag = &cli.StringSliceFlag{
	Name:  "data",
	Usage: "key=value pair filling __data__, __keys__ and __values__ (repeatable)",
}

var schemaFlag = &cli.StringFlag{
	Name:  "schema",
	Usage: "search_path for this statement only",
}

var queryCmd = &cli.Command{
	Name:      "query",
	Usage:     "Run a statement and print its rows as JSON lines",
	ArgsUsage: "<sql> [args...]",
	Flags:     []cli.Flag{dataFlag, schemaFlag},
	Action: func(cctx *cli.Context) error {
		conn, err := connect(cctx)
		if err != nil {
			return err
		}
		defer conn.Close() //nolint:errcheck

		sql, args, err := statementArgs(cctx)
		if err != nil {
			return err
		}
		rows, err := withSchema(cctx, conn).Query(cctx.Context, sql, args...)
		if err != nil {
			return err
		}
		printNotices(conn)

		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	},
}

var execCmd = &cli.Command{
	Name:      "exec",
	Usage:     "Run a statement and print the affected row count",
	ArgsUsage: "<sql> [args...]",
	Flags:     []cli.Flag{dataFlag, schemaFlag},
	Action: func(cctx *cli.Context) error {
		conn, err := connect(cctx)
		if err != nil {
			return err
		}
		defer conn.Close() //nolint:errcheck

		sql, args, err := statementArgs(cctx)
		if err != nil {
			return err
		}
		n, err := withSchema(cctx, conn).ExecRowCount(cctx.Context, sql, args...)
		if err != nil {
			return err
		}
		printNotices(conn)
		fmt.Println(n)
		return nil
	},
}

var mogrifyCmd = &cli.Command{
	Name:      "mogrify",
	Usage:     "Print the statement that query would send",
	ArgsUsage: "<sql> [args...]",
	Flags:     []cli.Flag{dataFlag, schemaFlag},
	Action: func(cctx *cli.Context) error {
		conn, err := connect(cctx)
		if err != nil {
			return err
		}
		defer conn.Close() //nolint:errcheck

		sql, args, err := statementArgs(cctx)
		if err != nil {
			return err
		}
		stmt, err := withSchema(cctx, conn).Mogrify(cctx.Context, sql, args...)
		if err != nil {
			return err
		}
		fmt.Println(stmt)
		return nil
	},
}

var fileCmd = &cli.Command{
	Name:      "file",
	Usage:     "Run a SQL script, inlining \\ir includes",
	ArgsUsage: "<path>",
	Flags:     []cli.Flag{schemaFlag},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return cli.ShowSubcommandHelp(cctx)
		}
		conn, err := connect(cctx)
		if err != nil {
			return err
		}
		defer conn.Close() //nolint:errcheck

		if err := withSchema(cctx, conn).File(cctx.Context, cctx.Args().First()); err != nil {
			return err
		}
		printNotices(conn)
		return nil
	},
}

var listenCmd = &cli.Command{
	Name:      "listen",
	Usage:     "Print LISTEN notifications as JSON lines",
	ArgsUsage: "<channel> [channel...]",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "count",
			Usage: "exit after this many notifications (0 waits forever)",
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() == 0 {
			return cli.ShowSubcommandHelp(cctx)
		}
		conn, err := connect(cctx)
		if err != nil {
			return err
		}
		defer conn.Close() //nolint:errcheck

		ps := conn.PubSub()
		for _, ch := range cctx.Args().Slice() {
			if err := ps.Listen(cctx.Context, ch); err != nil {
				return xerrors.Errorf("listen %s: %w", ch, err)
			}
		}

		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
		for seen := 0; cctx.Int("count") == 0 || seen < cctx.Int("count"); seen++ {
			n, err := ps.Wait(cctx.Context)
			if err != nil {
				return err
			}
			if err := enc.Encode(n); err != nil {
				return err
			}
		}
		return nil
	},
}

// loadConfig layers, lowest first: defaults, --config or --url, XPG_*
// environment variables, explicit flags.
func loadConfig(cctx *cli.Context) (xpg.Config, error) {
	var (
		cfg xpg.Config
		err error
	)
	switch {
	case cctx.IsSet("config"):
		cfg, err = xpg.LoadConfig(cctx.String("config"))
	default:
		cfg, err = xpg.NewConfig(cctx.String("url"))
	}
	if err != nil {
		return cfg, err
	}
	if cctx.IsSet("config") && cctx.IsSet("url") {
		u, err := xpg.NewConfig(cctx.String("url"))
		if err != nil {
			return cfg, err
		}
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password = u.Host, u.Port, u.Database, u.User, u.Password
	}

	cfg, err = xpg.ConfigFromEnv("xpg", cfg)
	if err != nil {
		return cfg, err
	}
	if cctx.IsSet("search-path") {
		cfg.SearchPath = cctx.String("search-path")
	}
	if cctx.IsSet("timezone") {
		cfg.Timezone = cctx.String("timezone")
	}
	if cctx.IsSet("log-statements") {
		cfg.LogStatements = cctx.Bool("log-statements")
	}
	return cfg, nil
}

func connect(cctx *cli.Context) (*xpg.Conn, error) {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return nil, err
	}
	conn := xpg.New(cfg)
	if err := conn.Ready(cctx.Context); err != nil {
		return nil, err
	}
	log.Debugw("connected", "addr", cfg.Addr(), "database", cfg.Database)
	return conn, nil
}

func withSchema(cctx *cli.Context, conn *xpg.Conn) *xpg.Conn {
	if cctx.IsSet("schema") {
		return conn.Path(cctx.String("schema"))
	}
	return conn
}

// statementArgs returns the SQL text, its positional arguments and, when
// --data is given, the Data argument.
func statementArgs(cctx *cli.Context) (string, []any, error) {
	if cctx.NArg() == 0 {
		return "", nil, xerrors.New("missing sql argument")
	}
	rest := cctx.Args().Tail()
	args := make([]any, 0, len(rest)+1)
	for _, a := range rest {
		args = append(args, a)
	}

	if pairs := cctx.StringSlice("data"); len(pairs) > 0 {
		data := make(xpg.Data, 0, len(pairs))
		for _, p := range pairs {
			k, v, ok := strings.Cut(p, "=")
			if !ok || k == "" {
				return "", nil, xerrors.Errorf("bad --data %q: want key=value", p)
			}
			data = append(data, xpg.Field{Key: k, Value: v})
		}
		args = append(args, data)
	}
	return cctx.Args().First(), args, nil
}

func printNotices(conn *xpg.Conn) {
	for _, n := range conn.Notices() {
		fmt.Fprintln(os.Stderr, n)
	}
}
