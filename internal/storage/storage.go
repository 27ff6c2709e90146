// Package storage persists VRFs, prefixes and IP addresses. It is the durable
// side of the address allocator; the allocator itself only ever sees the
// Store interface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/martinsuchenak/rackfab/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidID     = errors.New("invalid ID")
	ErrAlreadyExists = errors.New("already exists")
	ErrInUse         = errors.New("still referenced")
)

// VRFStore holds routing scopes
type VRFStore interface {
	GetVRF(ctx context.Context, id string) (*model.VRF, error)
	ListVRFs(ctx context.Context) ([]model.VRF, error)
	CreateVRF(ctx context.Context, vrf *model.VRF) error
	DeleteVRF(ctx context.Context, id string) error
}

// PrefixStore holds prefixes. ListPrefixes orders by network address, then
// by prefix length.
type PrefixStore interface {
	GetPrefix(ctx context.Context, id string) (*model.Prefix, error)
	FindPrefix(ctx context.Context, network, broadcast uint32, vrfID string) (*model.Prefix, error)
	ListPrefixes(ctx context.Context, filter *model.PrefixFilter) ([]model.Prefix, error)
	CreatePrefix(ctx context.Context, prefix *model.Prefix) error
	UpdatePrefix(ctx context.Context, prefix *model.Prefix) error
	DeletePrefix(ctx context.Context, id string) error
}

// AddressStore holds host addresses. ListAddresses orders by address.
type AddressStore interface {
	GetAddress(ctx context.Context, id string) (*model.IPAddress, error)
	FindAddress(ctx context.Context, prefixID string, addr uint32) (*model.IPAddress, error)
	ListAddresses(ctx context.Context, filter *model.AddressFilter) ([]model.IPAddress, error)
	CreateAddress(ctx context.Context, addr *model.IPAddress) error
	UpdateAddress(ctx context.Context, addr *model.IPAddress) error
	DeleteAddress(ctx context.Context, id string) error
}

// Store is the main storage interface for all data operations
type Store interface {
	VRFStore
	PrefixStore
	AddressStore
	Close() error
}

// NewStorage opens the configured backend: "memory" or "sqlite" (default).
func NewStorage(backend, dataDir string) (Store, error) {
	switch backend {
	case "memory":
		return NewMemoryStore()
	case "", "sqlite":
		return NewSQLiteStore(dataDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func matchesPrefixFilter(p *model.Prefix, filter *model.PrefixFilter) bool {
	if filter == nil {
		return true
	}
	if filter.ParentID != "" && p.ParentID != filter.ParentID {
		return false
	}
	if filter.VRFID != nil && p.VRFID != *filter.VRFID {
		return false
	}
	if filter.SupernetsOnly && !p.IsSupernet {
		return false
	}
	return true
}

func matchesAddressFilter(a *model.IPAddress, filter *model.AddressFilter) bool {
	if filter == nil {
		return true
	}
	if filter.PrefixID != "" && a.PrefixID != filter.PrefixID {
		return false
	}
	if filter.Device != "" && a.Device != filter.Device {
		return false
	}
	return true
}

func sortPrefixes(prefixes []model.Prefix) {
	sort.SliceStable(prefixes, func(i, j int) bool {
		if prefixes[i].Network != prefixes[j].Network {
			return prefixes[i].Network < prefixes[j].Network
		}
		if prefixes[i].Length != prefixes[j].Length {
			return prefixes[i].Length < prefixes[j].Length
		}
		return prefixes[i].VRFID < prefixes[j].VRFID
	})
}

func sortAddresses(addrs []model.IPAddress) {
	sort.SliceStable(addrs, func(i, j int) bool {
		if addrs[i].AddressInt != addrs[j].AddressInt {
			return addrs[i].AddressInt < addrs[j].AddressInt
		}
		return addrs[i].PrefixID < addrs[j].PrefixID
	})
}
