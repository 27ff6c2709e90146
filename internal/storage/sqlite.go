package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/martinsuchenak/rackfab/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStore implements Store with a SQLite backend
type SQLiteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) rackfab.db inside dataDir
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "rackfab.db")

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// SQLite works best with single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ss := &SQLiteStore{
		db:   db,
		path: dbPath,
	}

	if err := ss.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if err := ss.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return ss, nil
}

func (ss *SQLiteStore) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}

	_, err = ss.db.Exec(string(schema))
	return err
}

// Path returns the database file location
func (ss *SQLiteStore) Path() string {
	return ss.path
}

// Close closes the database connection
func (ss *SQLiteStore) Close() error {
	return ss.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scanner interface {
	Scan(dest ...any) error
}

// VRFs

const vrfColumns = `id, name, rd, description, created_at, updated_at`

func scanVRF(row scanner) (*model.VRF, error) {
	var (
		v        model.VRF
		rd, desc sql.NullString
	)
	if err := row.Scan(&v.ID, &v.Name, &rd, &desc, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.RD = rd.String
	v.Description = desc.String
	return &v, nil
}

func (ss *SQLiteStore) GetVRF(ctx context.Context, id string) (*model.VRF, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	v, err := scanVRF(ss.db.QueryRowContext(ctx, `SELECT `+vrfColumns+` FROM vrfs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying vrf: %w", err)
	}
	return v, nil
}

func (ss *SQLiteStore) ListVRFs(ctx context.Context) ([]model.VRF, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.QueryContext(ctx, `SELECT `+vrfColumns+` FROM vrfs ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying vrfs: %w", err)
	}
	defer rows.Close()

	vrfs := []model.VRF{}
	for rows.Next() {
		v, err := scanVRF(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vrf: %w", err)
		}
		vrfs = append(vrfs, *v)
	}
	return vrfs, rows.Err()
}

func (ss *SQLiteStore) CreateVRF(ctx context.Context, vrf *model.VRF) error {
	if vrf.ID == "" {
		return ErrInvalidID
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := time.Now().UTC()
	vrf.CreatedAt = now
	vrf.UpdatedAt = now

	_, err := ss.db.ExecContext(ctx, `
		INSERT INTO vrfs (id, name, rd, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, vrf.ID, vrf.Name, vrf.RD, vrf.Description, vrf.CreatedAt, vrf.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("inserting vrf: %w", err)
	}
	return nil
}

func (ss *SQLiteStore) DeleteVRF(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var refs int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM prefixes WHERE vrf_id = ?`, id).Scan(&refs); err != nil {
		return fmt.Errorf("counting vrf prefixes: %w", err)
	}
	if refs > 0 {
		return ErrInUse
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM vrfs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting vrf: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// Prefixes

const prefixColumns = `id, cidr, network, broadcast, length, parent_id, vrf_id,
	is_supernet, status, description, created_at, updated_at`

func scanPrefix(row scanner) (*model.Prefix, error) {
	var (
		p            model.Prefix
		parent, desc sql.NullString
		status       string
	)
	err := row.Scan(&p.ID, &p.CIDR, &p.Network, &p.Broadcast, &p.Length, &parent, &p.VRFID,
		&p.IsSupernet, &status, &desc, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ParentID = parent.String
	p.Status = model.PrefixStatus(status)
	p.Description = desc.String
	return &p, nil
}

func (ss *SQLiteStore) GetPrefix(ctx context.Context, id string) (*model.Prefix, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	p, err := scanPrefix(ss.db.QueryRowContext(ctx, `SELECT `+prefixColumns+` FROM prefixes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying prefix: %w", err)
	}
	return p, nil
}

func (ss *SQLiteStore) FindPrefix(ctx context.Context, network, broadcast uint32, vrfID string) (*model.Prefix, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	p, err := scanPrefix(ss.db.QueryRowContext(ctx, `
		SELECT `+prefixColumns+` FROM prefixes
		WHERE network = ? AND broadcast = ? AND vrf_id = ?
	`, network, broadcast, vrfID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying prefix: %w", err)
	}
	return p, nil
}

func (ss *SQLiteStore) ListPrefixes(ctx context.Context, filter *model.PrefixFilter) ([]model.Prefix, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter != nil {
		if filter.ParentID != "" {
			where = append(where, "parent_id = ?")
			args = append(args, filter.ParentID)
		}
		if filter.VRFID != nil {
			where = append(where, "vrf_id = ?")
			args = append(args, *filter.VRFID)
		}
		if filter.SupernetsOnly {
			where = append(where, "is_supernet = 1")
		}
	}

	query := `SELECT ` + prefixColumns + ` FROM prefixes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY network, length, vrf_id"

	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying prefixes: %w", err)
	}
	defer rows.Close()

	prefixes := []model.Prefix{}
	for rows.Next() {
		p, err := scanPrefix(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning prefix: %w", err)
		}
		prefixes = append(prefixes, *p)
	}
	return prefixes, rows.Err()
}

func (ss *SQLiteStore) checkPrefixRefs(ctx context.Context, tx *sql.Tx, prefix *model.Prefix) error {
	var n int
	if prefix.ParentID != "" {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM prefixes WHERE id = ?`, prefix.ParentID).Scan(&n); err != nil {
			return fmt.Errorf("checking parent prefix: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("parent prefix %s: %w", prefix.ParentID, ErrNotFound)
		}
	}
	if prefix.VRFID != "" {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM vrfs WHERE id = ?`, prefix.VRFID).Scan(&n); err != nil {
			return fmt.Errorf("checking vrf: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("vrf %s: %w", prefix.VRFID, ErrNotFound)
		}
	}
	return nil
}

func (ss *SQLiteStore) CreatePrefix(ctx context.Context, prefix *model.Prefix) error {
	if prefix.ID == "" {
		return ErrInvalidID
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := time.Now().UTC()
	prefix.CreatedAt = now
	prefix.UpdatedAt = now

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ss.checkPrefixRefs(ctx, tx, prefix); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO prefixes (id, cidr, network, broadcast, length, parent_id, vrf_id,
			is_supernet, status, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, prefix.ID, prefix.CIDR, prefix.Network, prefix.Broadcast, prefix.Length,
		nullString(prefix.ParentID), prefix.VRFID, prefix.IsSupernet, string(prefix.Status),
		prefix.Description, prefix.CreatedAt, prefix.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("inserting prefix: %w", err)
	}

	return tx.Commit()
}

func (ss *SQLiteStore) UpdatePrefix(ctx context.Context, prefix *model.Prefix) error {
	if prefix.ID == "" {
		return ErrInvalidID
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()

	prefix.UpdatedAt = time.Now().UTC()

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ss.checkPrefixRefs(ctx, tx, prefix); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE prefixes
		SET cidr = ?, network = ?, broadcast = ?, length = ?, parent_id = ?, vrf_id = ?,
			is_supernet = ?, status = ?, description = ?, updated_at = ?
		WHERE id = ?
	`, prefix.CIDR, prefix.Network, prefix.Broadcast, prefix.Length, nullString(prefix.ParentID),
		prefix.VRFID, prefix.IsSupernet, string(prefix.Status), prefix.Description,
		prefix.UpdatedAt, prefix.ID)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("updating prefix: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	if err := tx.QueryRowContext(ctx, `SELECT created_at FROM prefixes WHERE id = ?`, prefix.ID).Scan(&prefix.CreatedAt); err != nil {
		return fmt.Errorf("reading prefix: %w", err)
	}

	return tx.Commit()
}

func (ss *SQLiteStore) DeletePrefix(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var refs int
	err = tx.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM prefixes WHERE parent_id = ?)
		     + (SELECT COUNT(*) FROM addresses WHERE prefix_id = ?)
	`, id, id).Scan(&refs)
	if err != nil {
		return fmt.Errorf("counting prefix references: %w", err)
	}
	if refs > 0 {
		return ErrInUse
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM prefixes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting prefix: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// Addresses

const addressColumns = `id, address, address_int, prefix_id, device, interface, vrf_id,
	description, created_at, updated_at`

func scanAddress(row scanner) (*model.IPAddress, error) {
	var (
		a                  model.IPAddress
		device, ifc, descr sql.NullString
	)
	err := row.Scan(&a.ID, &a.Address, &a.AddressInt, &a.PrefixID, &device, &ifc, &a.VRFID,
		&descr, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Device = device.String
	a.Interface = ifc.String
	a.Description = descr.String
	return &a, nil
}

func (ss *SQLiteStore) GetAddress(ctx context.Context, id string) (*model.IPAddress, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	a, err := scanAddress(ss.db.QueryRowContext(ctx, `SELECT `+addressColumns+` FROM addresses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying address: %w", err)
	}
	return a, nil
}

func (ss *SQLiteStore) FindAddress(ctx context.Context, prefixID string, addr uint32) (*model.IPAddress, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	a, err := scanAddress(ss.db.QueryRowContext(ctx, `
		SELECT `+addressColumns+` FROM addresses WHERE prefix_id = ? AND address_int = ?
	`, prefixID, addr))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying address: %w", err)
	}
	return a, nil
}

func (ss *SQLiteStore) ListAddresses(ctx context.Context, filter *model.AddressFilter) ([]model.IPAddress, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter != nil {
		if filter.PrefixID != "" {
			where = append(where, "prefix_id = ?")
			args = append(args, filter.PrefixID)
		}
		if filter.Device != "" {
			where = append(where, "device = ?")
			args = append(args, filter.Device)
		}
	}

	query := `SELECT ` + addressColumns + ` FROM addresses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY address_int, prefix_id"

	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying addresses: %w", err)
	}
	defer rows.Close()

	addrs := []model.IPAddress{}
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning address: %w", err)
		}
		addrs = append(addrs, *a)
	}
	return addrs, rows.Err()
}

func (ss *SQLiteStore) checkAddressPrefix(ctx context.Context, tx *sql.Tx, prefixID string) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM prefixes WHERE id = ?`, prefixID).Scan(&n); err != nil {
		return fmt.Errorf("checking prefix: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("prefix %s: %w", prefixID, ErrNotFound)
	}
	return nil
}

func (ss *SQLiteStore) CreateAddress(ctx context.Context, addr *model.IPAddress) error {
	if addr.ID == "" {
		return ErrInvalidID
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := time.Now().UTC()
	addr.CreatedAt = now
	addr.UpdatedAt = now

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ss.checkAddressPrefix(ctx, tx, addr.PrefixID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO addresses (id, address, address_int, prefix_id, device, interface, vrf_id,
			description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, addr.ID, addr.Address, addr.AddressInt, addr.PrefixID, addr.Device, addr.Interface,
		addr.VRFID, addr.Description, addr.CreatedAt, addr.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("inserting address: %w", err)
	}

	return tx.Commit()
}

func (ss *SQLiteStore) UpdateAddress(ctx context.Context, addr *model.IPAddress) error {
	if addr.ID == "" {
		return ErrInvalidID
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()

	addr.UpdatedAt = time.Now().UTC()

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ss.checkAddressPrefix(ctx, tx, addr.PrefixID); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE addresses
		SET address = ?, address_int = ?, prefix_id = ?, device = ?, interface = ?, vrf_id = ?,
			description = ?, updated_at = ?
		WHERE id = ?
	`, addr.Address, addr.AddressInt, addr.PrefixID, addr.Device, addr.Interface, addr.VRFID,
		addr.Description, addr.UpdatedAt, addr.ID)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("updating address: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	if err := tx.QueryRowContext(ctx, `SELECT created_at FROM addresses WHERE id = ?`, addr.ID).Scan(&addr.CreatedAt); err != nil {
		return fmt.Errorf("reading address: %w", err)
	}

	return tx.Commit()
}

func (ss *SQLiteStore) DeleteAddress(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()

	result, err := ss.db.ExecContext(ctx, "DELETE FROM addresses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting address: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
