package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "calmie:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "calmie",
		Usage: "calmie command line client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a calmie.yaml file",
				EnvVars: []string{"CALMIE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "storage",
				Usage: "storage driver: memory, file, redis, postgres or s3",
			},
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "calmie API base url",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "trace, debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			registerCommand(),
			oauthLoginCommand(),
			logoutCommand(),
			whoamiCommand(),
			profileCommand(),
			articleCommand(),
			syncCommand(),
		},
	}
}
