package storage

import (
	"context"
	"fmt"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/martinsuchenak/rackfab/internal/model"
)

const (
	tableVRF     = "vrf"
	tablePrefix  = "prefix"
	tableAddress = "address"

	indexID         = "id"
	indexRange      = "range"
	indexParent     = "parent"
	indexPrefix     = "prefix"
	indexPrefixAddr = "prefix_addr"
	indexDevice     = "device"
)

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableVRF: {
				Name: tableVRF,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
			tablePrefix: {
				Name: tablePrefix,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexRange: {
						Name:    indexRange,
						Unique:  true,
						Indexer: prefixIndexerByRange{},
					},
					indexParent: {
						Name:         indexParent,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "ParentID"},
					},
				},
			},
			tableAddress: {
				Name: tableAddress,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexPrefix: {
						Name:    indexPrefix,
						Indexer: &memdb.StringFieldIndex{Field: "PrefixID"},
					},
					indexPrefixAddr: {
						Name:    indexPrefixAddr,
						Unique:  true,
						Indexer: addressIndexerByPrefixAddr{},
					},
					indexDevice: {
						Name:         indexDevice,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Device"},
					},
				},
			},
		},
	}
}

// prefixIndexerByRange keys a prefix by VRF, network and broadcast.
type prefixIndexerByRange struct{}

func (prefixIndexerByRange) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("must provide vrf, network and broadcast")
	}
	vrf, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("vrf must be a string: %#v", args[0])
	}
	network, ok := args[1].(uint32)
	if !ok {
		return nil, fmt.Errorf("network must be a uint32: %#v", args[1])
	}
	broadcast, ok := args[2].(uint32)
	if !ok {
		return nil, fmt.Errorf("broadcast must be a uint32: %#v", args[2])
	}
	return []byte(rangeKey(vrf, network, broadcast)), nil
}

func (prefixIndexerByRange) FromObject(obj interface{}) (bool, []byte, error) {
	p, ok := obj.(*model.Prefix)
	if !ok {
		panic("unexpected type passed to FromObject")
	}
	return true, []byte(rangeKey(p.VRFID, p.Network, p.Broadcast)), nil
}

func rangeKey(vrf string, network, broadcast uint32) string {
	// Add the null character as a terminator
	return fmt.Sprintf("%s\x00%08x%08x\x00", vrf, network, broadcast)
}

// addressIndexerByPrefixAddr keys an address by its prefix and value.
type addressIndexerByPrefixAddr struct{}

func (addressIndexerByPrefixAddr) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("must provide prefix ID and address")
	}
	prefixID, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("prefix ID must be a string: %#v", args[0])
	}
	addr, ok := args[1].(uint32)
	if !ok {
		return nil, fmt.Errorf("address must be a uint32: %#v", args[1])
	}
	return []byte(fmt.Sprintf("%s\x00%08x\x00", prefixID, addr)), nil
}

func (addressIndexerByPrefixAddr) FromObject(obj interface{}) (bool, []byte, error) {
	a, ok := obj.(*model.IPAddress)
	if !ok {
		panic("unexpected type passed to FromObject")
	}
	return true, []byte(fmt.Sprintf("%s\x00%08x\x00", a.PrefixID, a.AddressInt)), nil
}

// MemoryStore is a Store held entirely in memory. Objects are copied on the
// way in and out so callers never share state with the database.
type MemoryStore struct {
	db *memdb.MemDB
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("creating memory database: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

// Close is a no-op for the memory store
func (ms *MemoryStore) Close() error {
	return nil
}

func (ms *MemoryStore) GetVRF(_ context.Context, id string) (*model.VRF, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	txn := ms.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableVRF, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("looking up vrf: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	vrf := *raw.(*model.VRF)
	return &vrf, nil
}

func (ms *MemoryStore) ListVRFs(_ context.Context) ([]model.VRF, error) {
	txn := ms.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableVRF, indexID)
	if err != nil {
		return nil, fmt.Errorf("listing vrfs: %w", err)
	}
	vrfs := []model.VRF{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		vrfs = append(vrfs, *raw.(*model.VRF))
	}
	return vrfs, nil
}

func (ms *MemoryStore) CreateVRF(_ context.Context, vrf *model.VRF) error {
	if vrf.ID == "" {
		return ErrInvalidID
	}
	txn := ms.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableVRF, indexID, vrf.ID)
	if err != nil {
		return fmt.Errorf("looking up vrf: %w", err)
	}
	if existing != nil {
		return ErrAlreadyExists
	}

	now := time.Now().UTC()
	vrf.CreatedAt = now
	vrf.UpdatedAt = now
	stored := *vrf
	if err := txn.Insert(tableVRF, &stored); err != nil {
		return fmt.Errorf("inserting vrf: %w", err)
	}
	txn.Commit()
	return nil
}

func (ms *MemoryStore) DeleteVRF(_ context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	txn := ms.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableVRF, indexID, id)
	if err != nil {
		return fmt.Errorf("looking up vrf: %w", err)
	}
	if raw == nil {
		return ErrNotFound
	}

	it, err := txn.Get(tablePrefix, indexID)
	if err != nil {
		return fmt.Errorf("listing prefixes: %w", err)
	}
	for p := it.Next(); p != nil; p = it.Next() {
		if p.(*model.Prefix).VRFID == id {
			return ErrInUse
		}
	}

	if err := txn.Delete(tableVRF, raw); err != nil {
		return fmt.Errorf("deleting vrf: %w", err)
	}
	txn.Commit()
	return nil
}

func (ms *MemoryStore) GetPrefix(_ context.Context, id string) (*model.Prefix, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	txn := ms.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tablePrefix, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("looking up prefix: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	p := *raw.(*model.Prefix)
	return &p, nil
}

func (ms *MemoryStore) FindPrefix(_ context.Context, network, broadcast uint32, vrfID string) (*model.Prefix, error) {
	txn := ms.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tablePrefix, indexRange, vrfID, network, broadcast)
	if err != nil {
		return nil, fmt.Errorf("looking up prefix: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	p := *raw.(*model.Prefix)
	return &p, nil
}

func (ms *MemoryStore) ListPrefixes(_ context.Context, filter *model.PrefixFilter) ([]model.Prefix, error) {
	txn := ms.db.Txn(false)
	defer txn.Abort()

	var (
		it  memdb.ResultIterator
		err error
	)
	if filter != nil && filter.ParentID != "" {
		it, err = txn.Get(tablePrefix, indexParent, filter.ParentID)
	} else {
		it, err = txn.Get(tablePrefix, indexID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing prefixes: %w", err)
	}

	prefixes := []model.Prefix{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		p := raw.(*model.Prefix)
		if matchesPrefixFilter(p, filter) {
			prefixes = append(prefixes, *p)
		}
	}
	sortPrefixes(prefixes)
	return prefixes, nil
}

func (ms *MemoryStore) CreatePrefix(_ context.Context, prefix *model.Prefix) error {
	if prefix.ID == "" {
		return ErrInvalidID
	}
	txn := ms.db.Txn(true)
	defer txn.Abort()

	if err := ms.checkPrefixRefs(txn, prefix); err != nil {
		return err
	}
	existing, err := txn.First(tablePrefix, indexID, prefix.ID)
	if err != nil {
		return fmt.Errorf("looking up prefix: %w", err)
	}
	if existing != nil {
		return ErrAlreadyExists
	}
	dup, err := txn.First(tablePrefix, indexRange, prefix.VRFID, prefix.Network, prefix.Broadcast)
	if err != nil {
		return fmt.Errorf("looking up prefix: %w", err)
	}
	if dup != nil {
		return ErrAlreadyExists
	}

	now := time.Now().UTC()
	prefix.CreatedAt = now
	prefix.UpdatedAt = now
	stored := *prefix
	if err := txn.Insert(tablePrefix, &stored); err != nil {
		return fmt.Errorf("inserting prefix: %w", err)
	}
	txn.Commit()
	return nil
}

func (ms *MemoryStore) UpdatePrefix(_ context.Context, prefix *model.Prefix) error {
	if prefix.ID == "" {
		return ErrInvalidID
	}
	txn := ms.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tablePrefix, indexID, prefix.ID)
	if err != nil {
		return fmt.Errorf("looking up prefix: %w", err)
	}
	if raw == nil {
		return ErrNotFound
	}
	if err := ms.checkPrefixRefs(txn, prefix); err != nil {
		return err
	}
	dup, err := txn.First(tablePrefix, indexRange, prefix.VRFID, prefix.Network, prefix.Broadcast)
	if err != nil {
		return fmt.Errorf("looking up prefix: %w", err)
	}
	if dup != nil && dup.(*model.Prefix).ID != prefix.ID {
		return ErrAlreadyExists
	}

	prefix.CreatedAt = raw.(*model.Prefix).CreatedAt
	prefix.UpdatedAt = time.Now().UTC()
	stored := *prefix
	if err := txn.Insert(tablePrefix, &stored); err != nil {
		return fmt.Errorf("updating prefix: %w", err)
	}
	txn.Commit()
	return nil
}

func (ms *MemoryStore) checkPrefixRefs(txn *memdb.Txn, prefix *model.Prefix) error {
	if prefix.ParentID != "" {
		parent, err := txn.First(tablePrefix, indexID, prefix.ParentID)
		if err != nil {
			return fmt.Errorf("looking up parent prefix: %w", err)
		}
		if parent == nil {
			return fmt.Errorf("parent prefix %s: %w", prefix.ParentID, ErrNotFound)
		}
	}
	if prefix.VRFID != "" {
		vrf, err := txn.First(tableVRF, indexID, prefix.VRFID)
		if err != nil {
			return fmt.Errorf("looking up vrf: %w", err)
		}
		if vrf == nil {
			return fmt.Errorf("vrf %s: %w", prefix.VRFID, ErrNotFound)
		}
	}
	return nil
}

func (ms *MemoryStore) DeletePrefix(_ context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	txn := ms.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tablePrefix, indexID, id)
	if err != nil {
		return fmt.Errorf("looking up prefix: %w", err)
	}
	if raw == nil {
		return ErrNotFound
	}

	child, err := txn.First(tablePrefix, indexParent, id)
	if err != nil {
		return fmt.Errorf("looking up child prefixes: %w", err)
	}
	if child != nil {
		return ErrInUse
	}
	addr, err := txn.First(tableAddress, indexPrefix, id)
	if err != nil {
		return fmt.Errorf("looking up addresses: %w", err)
	}
	if addr != nil {
		return ErrInUse
	}

	if err := txn.Delete(tablePrefix, raw); err != nil {
		return fmt.Errorf("deleting prefix: %w", err)
	}
	txn.Commit()
	return nil
}

func (ms *MemoryStore) GetAddress(_ context.Context, id string) (*model.IPAddress, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	txn := ms.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableAddress, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("looking up address: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	a := *raw.(*model.IPAddress)
	return &a, nil
}

func (ms *MemoryStore) FindAddress(_ context.Context, prefixID string, addr uint32) (*model.IPAddress, error) {
	txn := ms.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableAddress, indexPrefixAddr, prefixID, addr)
	if err != nil {
		return nil, fmt.Errorf("looking up address: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	a := *raw.(*model.IPAddress)
	return &a, nil
}

func (ms *MemoryStore) ListAddresses(_ context.Context, filter *model.AddressFilter) ([]model.IPAddress, error) {
	txn := ms.db.Txn(false)
	defer txn.Abort()

	var (
		it  memdb.ResultIterator
		err error
	)
	switch {
	case filter != nil && filter.PrefixID != "":
		it, err = txn.Get(tableAddress, indexPrefix, filter.PrefixID)
	case filter != nil && filter.Device != "":
		it, err = txn.Get(tableAddress, indexDevice, filter.Device)
	default:
		it, err = txn.Get(tableAddress, indexID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing addresses: %w", err)
	}

	addrs := []model.IPAddress{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		a := raw.(*model.IPAddress)
		if matchesAddressFilter(a, filter) {
			addrs = append(addrs, *a)
		}
	}
	sortAddresses(addrs)
	return addrs, nil
}

func (ms *MemoryStore) CreateAddress(_ context.Context, addr *model.IPAddress) error {
	if addr.ID == "" {
		return ErrInvalidID
	}
	txn := ms.db.Txn(true)
	defer txn.Abort()

	prefix, err := txn.First(tablePrefix, indexID, addr.PrefixID)
	if err != nil {
		return fmt.Errorf("looking up prefix: %w", err)
	}
	if prefix == nil {
		return fmt.Errorf("prefix %s: %w", addr.PrefixID, ErrNotFound)
	}
	existing, err := txn.First(tableAddress, indexID, addr.ID)
	if err != nil {
		return fmt.Errorf("looking up address: %w", err)
	}
	if existing != nil {
		return ErrAlreadyExists
	}
	dup, err := txn.First(tableAddress, indexPrefixAddr, addr.PrefixID, addr.AddressInt)
	if err != nil {
		return fmt.Errorf("looking up address: %w", err)
	}
	if dup != nil {
		return ErrAlreadyExists
	}

	now := time.Now().UTC()
	addr.CreatedAt = now
	addr.UpdatedAt = now
	stored := *addr
	if err := txn.Insert(tableAddress, &stored); err != nil {
		return fmt.Errorf("inserting address: %w", err)
	}
	txn.Commit()
	return nil
}

func (ms *MemoryStore) UpdateAddress(_ context.Context, addr *model.IPAddress) error {
	if addr.ID == "" {
		return ErrInvalidID
	}
	txn := ms.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableAddress, indexID, addr.ID)
	if err != nil {
		return fmt.Errorf("looking up address: %w", err)
	}
	if raw == nil {
		return ErrNotFound
	}
	prefix, err := txn.First(tablePrefix, indexID, addr.PrefixID)
	if err != nil {
		return fmt.Errorf("looking up prefix: %w", err)
	}
	if prefix == nil {
		return fmt.Errorf("prefix %s: %w", addr.PrefixID, ErrNotFound)
	}
	dup, err := txn.First(tableAddress, indexPrefixAddr, addr.PrefixID, addr.AddressInt)
	if err != nil {
		return fmt.Errorf("looking up address: %w", err)
	}
	if dup != nil && dup.(*model.IPAddress).ID != addr.ID {
		return ErrAlreadyExists
	}

	addr.CreatedAt = raw.(*model.IPAddress).CreatedAt
	addr.UpdatedAt = time.Now().UTC()
	stored := *addr
	if err := txn.Insert(tableAddress, &stored); err != nil {
		return fmt.Errorf("updating address: %w", err)
	}
	txn.Commit()
	return nil
}

func (ms *MemoryStore) DeleteAddress(_ context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	txn := ms.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableAddress, indexID, id)
	if err != nil {
		return fmt.Errorf("looking up address: %w", err)
	}
	if raw == nil {
		return ErrNotFound
	}
	if err := txn.Delete(tableAddress, raw); err != nil {
		return fmt.Errorf("deleting address: %w", err)
	}
	txn.Commit()
	return nil
}
