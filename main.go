package main

import (
	"context"
	"os"

	"github.com/paularlott/cli"
	"github.com/paularlott/cli/env"

	"github.com/martinsuchenak/rackfab/cmd/ipam"
	"github.com/martinsuchenak/rackfab/cmd/plan"
	"github.com/martinsuchenak/rackfab/internal/app"
	"github.com/martinsuchenak/rackfab/internal/log"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists
	env.Load()

	log.Configure("info", "console")

	flags := append([]cli.Flag{
		&cli.StringFlag{
			Name:         "log-level",
			Usage:        "Log level (trace, debug, info, warn, error)",
			DefaultValue: "info",
			EnvVars:      []string{"RACKFAB_LOG_LEVEL"},
			Global:       true,
		},
		&cli.StringFlag{
			Name:         "log-format",
			Usage:        "Log format (console, json)",
			DefaultValue: "console",
			EnvVars:      []string{"RACKFAB_LOG_FORMAT"},
			Global:       true,
		},
	}, app.GlobalFlags()...)

	rootCmd := &cli.Command{
		Name:        "rackfab",
		Version:     version,
		Usage:       "Fabric address allocation and topology planning",
		Description: "Allocates conflict-free IPv4 space and generates CLOS and hierarchical fabric plans",
		Flags:       flags,
		PreRun: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.Configure(cmd.GetString("log-level"), cmd.GetString("log-format"))
			log.Debug("rackfab starting", "version", version, "commit", commit, "date", date)
			return ctx, nil
		},
		Commands: []*cli.Command{
			plan.Command(),
			{
				Name:        "ipam",
				Usage:       "Address management commands",
				Description: "Manage VRFs, prefixes and addresses and allocate from pools",
				Commands:    ipam.Commands(),
			},
		},
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		log.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
