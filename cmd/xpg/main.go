package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
)

var log = logging.Logger("xpg-cli")

func main() {
	logging.SetLogLevel("*", "WARN")

	app := &cli.App{
		Name:  "xpg",
		Usage: "Run statements against PostgreSQL through an xpg session",
		Commands: []*cli.Command{
			queryCmd,
			execCmd,
			mogrifyCmd,
			fileCmd,
			listenCmd,
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "postgres:// URL or bare host name",
				EnvVars: []string{"XPG_URL"},
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "TOML file with connection settings",
			},
			&cli.StringFlag{
				Name:  "search-path",
				Usage: "persistent search_path for every statement",
			},
			&cli.StringFlag{
				Name:  "timezone",
				Usage: "timezone set in front of every statement (empty to disable)",
			},
			&cli.BoolFlag{
				Name:  "log-statements",
				Usage: "log every statement before it is sent",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
			},
		},
		Before: func(cctx *cli.Context) error {
			if err := logging.SetLogLevel("xpg", cctx.String("log-level")); err != nil {
				return err
			}
			return logging.SetLogLevel("xpg-cli", cctx.String("log-level"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}
