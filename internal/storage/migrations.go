package storage

import (
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations run in order on top of schema.sql, which is version 1.
var migrations = []migration{
	{
		version: 2,
		name:    "address device index",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_addresses_device ON addresses(device)`,
		},
	},
	{
		version: 3,
		name:    "prefix vrf index",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_prefixes_vrf ON prefixes(vrf_id)`,
		},
	},
}

// SchemaVersion returns the highest applied migration
func (ss *SQLiteStore) SchemaVersion() (int, error) {
	var version sql.NullInt64
	err := ss.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("checking migration version: %w", err)
	}
	return int(version.Int64), nil
}

func (ss *SQLiteStore) migrate() error {
	current, err := ss.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := ss.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("applying migration %d (%s): %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}
	return nil
}
