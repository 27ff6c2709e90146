package ipam

import (
	"context"
	"fmt"

	"github.com/paularlott/cli"

	"github.com/martinsuchenak/rackfab/internal/app"
	"github.com/martinsuchenak/rackfab/internal/ipam"
	"github.com/martinsuchenak/rackfab/internal/model"
)

// Commands returns the address management subcommands
func Commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:        "vrf",
			Usage:       "VRF management commands",
			Description: "Manage routing scopes",
			Commands:    vrfCommands(),
		},
		{
			Name:        "prefix",
			Usage:       "Prefix management commands",
			Description: "Manage prefixes and supernets",
			Commands:    prefixCommands(),
		},
		{
			Name:        "address",
			Usage:       "Address management commands",
			Description: "Manage host addresses",
			Commands:    addressCommands(),
		},
		nextPrefixCommand(),
		nextAddressCommand(),
		usageCommand(),
	}
}

// withApp opens the application for the duration of fn.
func withApp(cmd *cli.Command, fn func(a *app.App) error) error {
	a, err := app.Open(cmd, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func vrfCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "create",
			Usage: "Create a VRF",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Usage: "VRF name", Required: true},
				&cli.StringFlag{Name: "rd", Usage: "Route distinguisher"},
				&cli.StringFlag{Name: "description", Usage: "Description"},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				return withApp(cmd, func(a *app.App) error {
					vrf, err := a.Service.CreateVRF(ctx, cmd.GetString("name"), cmd.GetString("rd"), cmd.GetString("description"))
					if err != nil {
						return fmt.Errorf("failed to create VRF: %w", err)
					}
					return app.PrintJSON(vrf)
				})
			},
		},
		{
			Name:  "list",
			Usage: "List VRFs",
			Run: func(ctx context.Context, cmd *cli.Command) error {
				return withApp(cmd, func(a *app.App) error {
					vrfs, err := a.Service.ListVRFs(ctx)
					if err != nil {
						return fmt.Errorf("failed to list VRFs: %w", err)
					}
					return app.PrintJSON(vrfs)
				})
			},
		},
		{
			Name:  "delete",
			Usage: "Delete a VRF",
			Arguments: []cli.Argument{
				&cli.StringArg{Name: "id", Required: true},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				return withApp(cmd, func(a *app.App) error {
					if err := a.Service.DeleteVRF(ctx, cmd.GetStringArg("id")); err != nil {
						return fmt.Errorf("failed to delete VRF: %w", err)
					}
					fmt.Println("VRF deleted")
					return nil
				})
			},
		},
	}
}

func prefixFlags(requireCIDR bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "cidr", Usage: "Prefix in a.b.c.d/len form", Required: requireCIDR},
		&cli.StringFlag{Name: "parent", Usage: "Parent prefix ID"},
		&cli.StringFlag{Name: "vrf", Usage: "VRF ID (empty for the global scope)"},
		&cli.BoolFlag{Name: "supernet", Usage: "Mark the prefix as an allocation pool"},
		&cli.StringFlag{Name: "status", Usage: "Status (active, reserved, deprecated)"},
		&cli.StringFlag{Name: "description", Usage: "Description"},
	}
}

func prefixCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "create",
			Usage: "Create a prefix",
			Flags: prefixFlags(true),
			Run: func(ctx context.Context, cmd *cli.Command) error {
				return withApp(cmd, func(a *app.App) error {
					p, err := a.Service.CreatePrefix(ctx, ipam.PrefixRequest{
						CIDR:        cmd.GetString("cidr"),
						ParentID:    cmd.GetString("parent"),
						VRFID:       cmd.GetString("vrf"),
						IsSupernet:  cmd.GetBool("supernet"),
						Status:      model.PrefixStatus(cmd.GetString("status")),
						Description: cmd.GetString("description"),
					})
					if err != nil {
						return fmt.Errorf("failed to create prefix: %w", err)
					}
					return app.PrintJSON(p)
				})
			},
		},
		{
			Name:  "get",
			Usage: "Show a prefix",
			Arguments: []cli.Argument{
				&cli.StringArg{Name: "id", Required: true},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				return withApp(cmd, func(a *app.App) error {
					p, err := a.Service.GetPrefix(ctx, cmd.GetStringArg("id"))
					if err != nil {
						return fmt.Errorf("failed to get prefix: %w", err)
					}
					return app.PrintJSON(p)
				})
			},
		},
		{
			Name:  "list",
			Usage: "List prefixes",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "parent", Usage: "Only direct children of this prefix"},
				&cli.StringFlag{Name: "vrf", Usage: "Only prefixes in this VRF"},
				&cli.BoolFlag{Name: "global", Usage: "Only prefixes in the global scope"},
				&cli.BoolFlag{Name: "supernets", Usage: "Only allocation pools"},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				filter := &model.PrefixFilter{
					ParentID:      cmd.GetString("parent"),
					SupernetsOnly: cmd.GetBool("supernets"),
				}
				if vrf := cmd.GetString("vrf"); vrf != "" || cmd.GetBool("global") {
					filter.VRFID = &vrf
				}
				return withApp(cmd, func(a *app.App) error {
					prefixes, err := a.Service.ListPrefixes(ctx, filter)
					if err != nil {
						return fmt.Errorf("failed to list prefixes: %w", err)
					}
					return app.PrintJSON(prefixes)
				})
			},
		},
		{
			Name:  "update",
			Usage: "Update a prefix",
			Arguments: []cli.Argument{
				&cli.StringArg{Name: "id", Required: true},
			},
			Flags: prefixFlags(false),
			Run: func(ctx context.Context, cmd *cli.Command) error {
				id := cmd.GetStringArg("id")
				return withApp(cmd, func(a *app.App) error {
					current, err := a.Service.GetPrefix(ctx, id)
					if err != nil {
						return fmt.Errorf("failed to get prefix: %w", err)
					}

					req := ipam.PrefixRequest{
						CIDR:        overlay(current.CIDR, cmd.GetString("cidr")),
						ParentID:    overlay(current.ParentID, cmd.GetString("parent")),
						VRFID:       overlay(current.VRFID, cmd.GetString("vrf")),
						IsSupernet:  current.IsSupernet || cmd.GetBool("supernet"),
						Status:      model.PrefixStatus(overlay(string(current.Status), cmd.GetString("status"))),
						Description: overlay(current.Description, cmd.GetString("description")),
					}
					p, err := a.Service.UpdatePrefix(ctx, id, req)
					if err != nil {
						return fmt.Errorf("failed to update prefix: %w", err)
					}
					return app.PrintJSON(p)
				})
			},
		},
		{
			Name:  "delete",
			Usage: "Delete a prefix",
			Arguments: []cli.Argument{
				&cli.StringArg{Name: "id", Required: true},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				return withApp(cmd, func(a *app.App) error {
					if err := a.Service.DeletePrefix(ctx, cmd.GetStringArg("id")); err != nil {
						return fmt.Errorf("failed to delete prefix: %w", err)
					}
					fmt.Println("Prefix deleted")
					return nil
				})
			},
		},
	}
}

func addressFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "address", Usage: "Host address (a.b.c.d or a.b.c.d/32)", Required: required},
		&cli.StringFlag{Name: "prefix", Usage: "Prefix ID the address belongs to", Required: required},
		&cli.StringFlag{Name: "device", Usage: "Device name"},
		&cli.StringFlag{Name: "interface", Usage: "Interface name"},
		&cli.StringFlag{Name: "description", Usage: "Description"},
	}
}

func addressCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "create",
			Usage: "Record an address",
			Flags: addressFlags(true),
			Run: func(ctx context.Context, cmd *cli.Command) error {
				return withApp(cmd, func(a *app.App) error {
					addr, err := a.Service.CreateAddress(ctx, ipam.AddressRequest{
						Address:     cmd.GetString("address"),
						PrefixID:    cmd.GetString("prefix"),
						Device:      cmd.GetString("device"),
						Interface:   cmd.GetString("interface"),
						Description: cmd.GetString("description"),
					})
					if err != nil {
						return fmt.Errorf("failed to create address: %w", err)
					}
					return app.PrintJSON(addr)
				})
			},
		},
		{
			Name:  "list",
			Usage: "List addresses",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "prefix", Usage: "Only addresses in this prefix"},
				&cli.StringFlag{Name: "device", Usage: "Only addresses of this device"},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				filter := &model.AddressFilter{
					PrefixID: cmd.GetString("prefix"),
					Device:   cmd.GetString("device"),
				}
				return withApp(cmd, func(a *app.App) error {
					addrs, err := a.Service.ListAddresses(ctx, filter)
					if err != nil {
						return fmt.Errorf("failed to list addresses: %w", err)
					}
					return app.PrintJSON(addrs)
				})
			},
		},
		{
			Name:  "update",
			Usage: "Update an address",
			Arguments: []cli.Argument{
				&cli.StringArg{Name: "id", Required: true},
			},
			Flags: addressFlags(false),
			Run: func(ctx context.Context, cmd *cli.Command) error {
				id := cmd.GetStringArg("id")
				return withApp(cmd, func(a *app.App) error {
					current, err := a.Store.GetAddress(ctx, id)
					if err != nil {
						return fmt.Errorf("failed to get address: %w", err)
					}

					addr, err := a.Service.UpdateAddress(ctx, id, ipam.AddressRequest{
						Address:     overlay(current.Address, cmd.GetString("address")),
						PrefixID:    overlay(current.PrefixID, cmd.GetString("prefix")),
						Device:      overlay(current.Device, cmd.GetString("device")),
						Interface:   overlay(current.Interface, cmd.GetString("interface")),
						Description: overlay(current.Description, cmd.GetString("description")),
					})
					if err != nil {
						return fmt.Errorf("failed to update address: %w", err)
					}
					return app.PrintJSON(addr)
				})
			},
		},
		{
			Name:  "delete",
			Usage: "Delete an address",
			Arguments: []cli.Argument{
				&cli.StringArg{Name: "id", Required: true},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				return withApp(cmd, func(a *app.App) error {
					if err := a.Service.DeleteAddress(ctx, cmd.GetStringArg("id")); err != nil {
						return fmt.Errorf("failed to delete address: %w", err)
					}
					fmt.Println("Address deleted")
					return nil
				})
			},
		},
	}
}

func nextPrefixCommand() *cli.Command {
	return &cli.Command{
		Name:        "next-prefix",
		Usage:       "Allocate the next free prefix from a pool",
		Description: "Allocate the lowest free aligned block of the given length inside a supernet",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "pool", Required: true},
		},
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "length", Usage: "Prefix length to allocate", Required: true},
			&cli.StringFlag{Name: "description", Usage: "Description"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			poolID := cmd.GetStringArg("pool")
			return withApp(cmd, func(a *app.App) error {
				unlock := a.Locker.Lock(poolID)
				defer unlock()

				p, err := a.Service.NextPrefix(ctx, poolID, cmd.GetInt("length"), cmd.GetString("description"))
				if err != nil {
					return fmt.Errorf("failed to allocate prefix: %w", err)
				}
				return app.PrintJSON(p)
			})
		},
	}
}

func nextAddressCommand() *cli.Command {
	return &cli.Command{
		Name:        "next-address",
		Usage:       "Allocate the next free address in a prefix",
		Description: "Record the lowest free host address of a prefix",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "prefix", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "device", Usage: "Device name"},
			&cli.StringFlag{Name: "interface", Usage: "Interface name"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			prefixID := cmd.GetStringArg("prefix")
			return withApp(cmd, func(a *app.App) error {
				unlock := a.Locker.Lock(prefixID)
				defer unlock()

				addr, err := a.Service.NextAddress(ctx, prefixID, cmd.GetString("device"), cmd.GetString("interface"))
				if err != nil {
					return fmt.Errorf("failed to allocate address: %w", err)
				}
				return app.PrintJSON(addr)
			})
		},
	}
}

func usageCommand() *cli.Command {
	return &cli.Command{
		Name:  "usage",
		Usage: "Show prefix utilization",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "prefix", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(cmd, func(a *app.App) error {
				u, err := a.Service.Utilization(ctx, cmd.GetStringArg("prefix"))
				if err != nil {
					return fmt.Errorf("failed to get utilization: %w", err)
				}
				return app.PrintJSON(u)
			})
		},
	}
}

// overlay returns update when set, otherwise current.
func overlay(current, update string) string {
	if update != "" {
		return update
	}
	return current
}
