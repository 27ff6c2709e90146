package plan

import (
	"context"
	"errors"
	"fmt"

	"github.com/paularlott/cli"

	"github.com/martinsuchenak/rackfab/internal/app"
	"github.com/martinsuchenak/rackfab/internal/config"
	"github.com/martinsuchenak/rackfab/internal/fabric"
	"github.com/martinsuchenak/rackfab/internal/ipam"
	"github.com/martinsuchenak/rackfab/internal/log"
	"github.com/martinsuchenak/rackfab/internal/model"
	"github.com/martinsuchenak/rackfab/internal/ports"
)

// Command returns the plan command
func Command() *cli.Command {
	return &cli.Command{
		Name:        "plan",
		Usage:       "Generate fabric topologies",
		Description: "Generate fabric plans from a request file and record their address allocations",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "requests", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ports", Usage: "YAML port layout catalog", EnvVars: []string{"RACKFAB_PORT_LAYOUTS"}},
			&cli.StringFlag{Name: "p2p-pool", Usage: "Prefix ID of the point-to-point supernet"},
			&cli.StringFlag{Name: "loopback-pool", Usage: "Prefix ID of the loopback supernet"},
			&cli.StringFlag{Name: "hostname-pattern", Usage: "Hostname pattern ($region, $datacenter, $hall, $pod, $role, #)"},
			&cli.StringFlag{Name: "region", Usage: "Region name used in hostnames"},
			&cli.StringFlag{Name: "datacenter", Usage: "Datacenter name used in hostnames"},
			&cli.IntFlag{Name: "min-link-speed", Usage: "Minimum fabric port speed in Mb/s"},
			&cli.IntFlag{Name: "workers", Usage: "Number of fabrics built in parallel"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Generate plans without recording allocations"},
		},
		Run: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	a, err := app.Open(cmd, &config.Config{
		PortLayouts:     cmd.GetString("ports"),
		P2PPool:         cmd.GetString("p2p-pool"),
		LoopbackPool:    cmd.GetString("loopback-pool"),
		HostnamePattern: cmd.GetString("hostname-pattern"),
		Region:          cmd.GetString("region"),
		Datacenter:      cmd.GetString("datacenter"),
		MinLinkSpeed:    cmd.GetInt("min-link-speed"),
		Workers:         cmd.GetInt("workers"),
	})
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config
	if cfg.P2PPool == "" || cfg.LoopbackPool == "" {
		return errors.New("both a point-to-point pool and a loopback pool are required")
	}

	reqs, err := fabric.LoadRequests(cmd.GetStringArg("requests"))
	if err != nil {
		return err
	}

	catalog, err := ports.LoadCatalog(cfg.PortLayouts)
	if err != nil {
		return err
	}

	commit := !cmd.GetBool("dry-run")
	log.Info("Planning fabrics",
		"count", len(reqs),
		"workers", cfg.Workers,
		"dry_run", !commit,
		"models", len(catalog.Models()))

	b := fabric.NewBuilder(a.Service, a.Locker, catalog, cfg.Settings(), cfg.Pools())
	results := b.BuildAll(ctx, reqs, cfg.Workers, commit)

	out := make([]output, 0, len(results))
	failed := 0
	for _, r := range results {
		o := output{Name: r.Name, Plan: r.Plan}
		if r.Err != nil {
			failed++
			o.Error = r.Err.Error()
			o.Kind = errorKind(r.Err)
			log.Error("Fabric failed", "fabric", r.Name, "error", r.Err)
		}
		out = append(out, o)
	}

	if err := app.PrintJSON(out); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fabrics failed", failed, len(results))
	}
	return nil
}

type output struct {
	Name  string      `json:"name"`
	Plan  *model.Plan `json:"plan,omitempty"`
	Error string      `json:"error,omitempty"`
	Kind  string      `json:"error_kind,omitempty"`
}

func errorKind(err error) string {
	if errors.Is(err, fabric.ErrInvalidRequest) {
		return "invalid_request"
	}
	return ipam.Kind(err)
}
