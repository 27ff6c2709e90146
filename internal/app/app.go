// Package app wires configuration, storage and the address service together
// for the command line tools.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/paularlott/cli"
	"golang.org/x/term"

	"github.com/martinsuchenak/rackfab/internal/config"
	"github.com/martinsuchenak/rackfab/internal/ipam"
	"github.com/martinsuchenak/rackfab/internal/log"
	"github.com/martinsuchenak/rackfab/internal/storage"
)

// App holds the long-lived pieces a command works with.
type App struct {
	Config  *config.Config
	Store   storage.Store
	Service *ipam.Service
	Locker  *ipam.Locker
}

// GlobalFlags are the root command flags every subcommand can read.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to a YAML settings file",
			EnvVars: []string{"RACKFAB_CONFIG"},
			Global:  true,
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Usage:   "Directory holding the database",
			EnvVars: []string{"RACKFAB_DATA_DIR"},
			Global:  true,
		},
		&cli.StringFlag{
			Name:    "storage",
			Usage:   "Storage backend (sqlite, memory)",
			EnvVars: []string{"RACKFAB_STORAGE_BACKEND"},
			Global:  true,
		},
	}
}

// Open loads the configuration and opens the store it names.
func Open(cmd *cli.Command, opts *config.Config) (*App, error) {
	if opts == nil {
		opts = &config.Config{}
	}
	opts.DataDir = cmd.GetString("data-dir")
	opts.StorageBackend = cmd.GetString("storage")

	cfg, err := config.Load(cmd.GetString("config"), opts)
	if err != nil {
		return nil, err
	}
	log.Debug("Configuration loaded", "source", cfg.String(), "data_dir", cfg.DataDir, "storage", cfg.StorageBackend)

	store, err := storage.NewStorage(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	return &App{
		Config:  cfg,
		Store:   store,
		Service: ipam.NewService(store),
		Locker:  ipam.NewLocker(),
	}, nil
}

// Close releases the store.
func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		log.Warn("Failed to close storage", "error", err)
	}
}

// PrintJSON writes v to stdout, indented when stdout is a terminal.
func PrintJSON(v any) error {
	return WriteJSON(os.Stdout, v, term.IsTerminal(int(os.Stdout.Fd())))
}

// WriteJSON encodes v as a single JSON document.
func WriteJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
