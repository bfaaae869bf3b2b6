package main

import (
	"os"

	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/urfave/cli/v2"
)

const appName = "dao-services"

var (
	configFileFlag = cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Configuration file, defaults to ./config.yaml or ./config/config.yaml",
		EnvVars: []string{"DAO_SERVICES_CONFIG"},
	}
	fromFlag = cli.Uint64Flag{
		Name:     "from",
		Usage:    "First block to sync",
		Required: true,
	}
	toFlag = cli.Uint64Flag{
		Name:  "to",
		Usage: "Last block to sync, 0 for the current head",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = appName
	app.Usage = "Sync DAO marketplace contract events into the off-chain database"
	app.Flags = []cli.Flag{&configFileFlag}
	app.Action = serve
	app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "Run the chain listener, scheduled jobs and HTTP API",
			Action: serve,
		},
		{
			Name:   "backfill",
			Usage:  "Replay historical events for a block range and exit",
			Action: backfill,
			Flags:  []cli.Flag{&fromFlag, &toFlag},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("%v", err)
		logger.Sync()
		os.Exit(1)
	}
}
