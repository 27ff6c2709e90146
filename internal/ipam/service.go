package ipam

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	gocidr "github.com/apparentlymart/go-cidr/cidr"
	"github.com/google/uuid"

	"github.com/martinsuchenak/rackfab/internal/cidr"
	"github.com/martinsuchenak/rackfab/internal/log"
	"github.com/martinsuchenak/rackfab/internal/model"
	"github.com/martinsuchenak/rackfab/internal/storage"
)

// PrefixRequest describes a prefix to create or the new state of one being
// updated.
type PrefixRequest struct {
	CIDR        string             `json:"cidr" yaml:"cidr"`
	ParentID    string             `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	VRFID       string             `json:"vrf_id,omitempty" yaml:"vrf_id,omitempty"`
	IsSupernet  bool               `json:"is_supernet,omitempty" yaml:"is_supernet,omitempty"`
	Status      model.PrefixStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
}

// AddressRequest describes a host address to record.
type AddressRequest struct {
	Address     string `json:"address" yaml:"address"` // "a.b.c.d" or "a.b.c.d/32"
	PrefixID    string `json:"prefix_id" yaml:"prefix_id"`
	Device      string `json:"device,omitempty" yaml:"device,omitempty"`
	Interface   string `json:"interface,omitempty" yaml:"interface,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Usage summarizes how much of a prefix is allocated. Supernets count child
// prefixes; other prefixes count recorded host addresses against the usable
// host range.
type Usage struct {
	PrefixID string  `json:"prefix_id"`
	CIDR     string  `json:"cidr"`
	Total    uint64  `json:"total"`
	Used     uint64  `json:"used"`
	Free     uint64  `json:"free"`
	Percent  float64 `json:"percent"`
}

// Service validates and persists prefixes and addresses. It does not lock;
// callers that allocate from a shared pool concurrently hold the pool's lock
// from a Locker around the call.
type Service struct {
	store storage.Store
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// Store returns the backing store.
func (s *Service) Store() storage.Store {
	return s.store
}

// CreateVRF records a new routing scope.
func (s *Service) CreateVRF(ctx context.Context, name, rd, description string) (*model.VRF, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: vrf name is required", cidr.ErrParse)
	}
	vrf := &model.VRF{
		ID:          uuid.NewString(),
		Name:        name,
		RD:          rd,
		Description: description,
	}
	if err := s.store.CreateVRF(ctx, vrf); err != nil {
		return nil, fmt.Errorf("creating vrf: %w", err)
	}
	log.Info("VRF created", "id", vrf.ID, "name", vrf.Name)
	return vrf, nil
}

func (s *Service) ListVRFs(ctx context.Context) ([]model.VRF, error) {
	return s.store.ListVRFs(ctx)
}

func (s *Service) DeleteVRF(ctx context.Context, id string) error {
	if err := s.store.DeleteVRF(ctx, id); err != nil {
		return fmt.Errorf("deleting vrf %s: %w", id, err)
	}
	return nil
}

func (s *Service) GetPrefix(ctx context.Context, id string) (*model.Prefix, error) {
	return s.store.GetPrefix(ctx, id)
}

func (s *Service) ListPrefixes(ctx context.Context, filter *model.PrefixFilter) ([]model.Prefix, error) {
	return s.store.ListPrefixes(ctx, filter)
}

func (s *Service) ListAddresses(ctx context.Context, filter *model.AddressFilter) ([]model.IPAddress, error) {
	return s.store.ListAddresses(ctx, filter)
}

// CreatePrefix validates and stores a prefix. The stored CIDR is always the
// canonical form, whatever host bits the caller typed.
func (s *Service) CreatePrefix(ctx context.Context, req PrefixRequest) (*model.Prefix, error) {
	prefix := &model.Prefix{ID: uuid.NewString()}
	if err := s.applyPrefix(ctx, prefix, req); err != nil {
		return nil, err
	}

	if err := s.store.CreatePrefix(ctx, prefix); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, prefix.CIDR)
		}
		return nil, fmt.Errorf("creating prefix %s: %w", prefix.CIDR, err)
	}

	log.Debug("Prefix created", "id", prefix.ID, "cidr", prefix.CIDR, "parent", prefix.ParentID)
	return prefix, nil
}

// UpdatePrefix replaces a prefix with the requested state, re-running the
// duplicate and containment checks against every other prefix.
func (s *Service) UpdatePrefix(ctx context.Context, id string, req PrefixRequest) (*model.Prefix, error) {
	prefix, err := s.store.GetPrefix(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("prefix %s: %w", id, err)
	}
	if req.ParentID == id {
		return nil, fmt.Errorf("%w: prefix cannot be its own parent", ErrContainment)
	}

	if err := s.applyPrefix(ctx, prefix, req); err != nil {
		return nil, err
	}

	if err := s.store.UpdatePrefix(ctx, prefix); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, prefix.CIDR)
		}
		return nil, fmt.Errorf("updating prefix %s: %w", id, err)
	}
	return prefix, nil
}

// applyPrefix checks req and copies it onto prefix. prefix.ID is excluded
// from the duplicate check.
func (s *Service) applyPrefix(ctx context.Context, prefix *model.Prefix, req PrefixRequest) error {
	network, broadcast, length, err := cidr.Parse(req.CIDR)
	if err != nil {
		return err
	}

	if req.VRFID != "" {
		if _, err := s.store.GetVRF(ctx, req.VRFID); err != nil {
			return fmt.Errorf("vrf %s: %w", req.VRFID, err)
		}
	}

	existing, err := s.store.FindPrefix(ctx, network, broadcast, req.VRFID)
	switch {
	case err == nil && existing.ID != prefix.ID:
		return fmt.Errorf("%w: %s", ErrDuplicate, existing.CIDR)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("checking for duplicates: %w", err)
	}

	if req.ParentID != "" {
		parent, err := s.store.GetPrefix(ctx, req.ParentID)
		if err != nil {
			return fmt.Errorf("parent prefix %s: %w", req.ParentID, err)
		}
		if !parent.ContainsRange(network, broadcast) {
			return fmt.Errorf("%w: %s is not inside %s", ErrContainment, cidr.Format(network, length), parent.CIDR)
		}
	}

	status := req.Status
	if status == "" {
		status = model.PrefixActive
	}

	prefix.CIDR = cidr.Format(network, length)
	prefix.Network = network
	prefix.Broadcast = broadcast
	prefix.Length = length
	prefix.ParentID = req.ParentID
	prefix.VRFID = req.VRFID
	prefix.IsSupernet = req.IsSupernet
	prefix.Status = status
	prefix.Description = req.Description
	return nil
}

func (s *Service) DeletePrefix(ctx context.Context, id string) error {
	if err := s.store.DeletePrefix(ctx, id); err != nil {
		return fmt.Errorf("deleting prefix %s: %w", id, err)
	}
	log.Debug("Prefix deleted", "id", id)
	return nil
}

// CreateAddress validates and records a host address inside its prefix.
func (s *Service) CreateAddress(ctx context.Context, req AddressRequest) (*model.IPAddress, error) {
	addr := &model.IPAddress{ID: uuid.NewString()}
	if err := s.applyAddress(ctx, addr, req); err != nil {
		return nil, err
	}

	if err := s.store.CreateAddress(ctx, addr); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, addr.Address)
		}
		return nil, fmt.Errorf("creating address %s: %w", addr.Address, err)
	}

	log.Debug("Address created", "id", addr.ID, "address", addr.Address, "device", addr.Device)
	return addr, nil
}

// UpdateAddress replaces an address record, re-running the containment and
// duplicate checks against every other address.
func (s *Service) UpdateAddress(ctx context.Context, id string, req AddressRequest) (*model.IPAddress, error) {
	addr, err := s.store.GetAddress(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("address %s: %w", id, err)
	}
	if err := s.applyAddress(ctx, addr, req); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAddress(ctx, addr); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, addr.Address)
		}
		return nil, fmt.Errorf("updating address %s: %w", id, err)
	}
	return addr, nil
}

func (s *Service) applyAddress(ctx context.Context, addr *model.IPAddress, req AddressRequest) error {
	value, err := cidr.ParseIPv4(cidr.StripHostLength(req.Address))
	if err != nil {
		return err
	}

	prefix, err := s.store.GetPrefix(ctx, req.PrefixID)
	if err != nil {
		return fmt.Errorf("prefix %s: %w", req.PrefixID, err)
	}
	if !prefix.Contains(value) {
		return fmt.Errorf("%w: %s is not inside %s", ErrContainment, cidr.FormatIPv4(value), prefix.CIDR)
	}

	existing, err := s.store.FindAddress(ctx, prefix.ID, value)
	switch {
	case err == nil && existing.ID != addr.ID:
		return fmt.Errorf("%w: %s in %s", ErrDuplicate, existing.Address, prefix.CIDR)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("checking for duplicates: %w", err)
	}

	addr.Address = cidr.FormatIPv4(value)
	addr.AddressInt = value
	addr.PrefixID = prefix.ID
	addr.VRFID = prefix.VRFID
	addr.Device = req.Device
	addr.Interface = req.Interface
	addr.Description = req.Description
	return nil
}

func (s *Service) DeleteAddress(ctx context.Context, id string) error {
	if err := s.store.DeleteAddress(ctx, id); err != nil {
		return fmt.Errorf("deleting address %s: %w", id, err)
	}
	return nil
}

// Snapshot reads a pool and its direct children once and returns them as an
// in-memory Pool.
func (s *Service) Snapshot(ctx context.Context, poolID string) (*Pool, error) {
	prefix, err := s.store.GetPrefix(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", poolID, err)
	}
	children, err := s.store.ListPrefixes(ctx, &model.PrefixFilter{ParentID: poolID})
	if err != nil {
		return nil, fmt.Errorf("listing children of %s: %w", prefix.CIDR, err)
	}

	ranges := make([]Range, 0, len(children))
	for _, c := range children {
		ranges = append(ranges, Range{Network: c.Network, Broadcast: c.Broadcast})
	}

	pool := NewPool(prefix.Network, prefix.Length, ranges)
	pool.ID = prefix.ID
	pool.VRFID = prefix.VRFID
	return pool, nil
}

// NextPrefix allocates the lowest free block of the given length inside the
// pool and stores it as a child of the pool, in the pool's VRF.
func (s *Service) NextPrefix(ctx context.Context, poolID string, length int, description string) (*model.Prefix, error) {
	pool, err := s.Snapshot(ctx, poolID)
	if err != nil {
		return nil, err
	}
	r, err := pool.Allocate(length)
	if err != nil {
		return nil, err
	}

	return s.CreatePrefix(ctx, PrefixRequest{
		CIDR:        cidr.Format(r.Network, length),
		ParentID:    pool.ID,
		VRFID:       pool.VRFID,
		Description: description,
	})
}

// NextAddress records the lowest free host address of a prefix.
func (s *Service) NextAddress(ctx context.Context, prefixID, device, iface string) (*model.IPAddress, error) {
	prefix, err := s.store.GetPrefix(ctx, prefixID)
	if err != nil {
		return nil, fmt.Errorf("prefix %s: %w", prefixID, err)
	}
	existing, err := s.store.ListAddresses(ctx, &model.AddressFilter{PrefixID: prefixID})
	if err != nil {
		return nil, fmt.Errorf("listing addresses of %s: %w", prefix.CIDR, err)
	}

	taken := make(map[uint32]struct{}, len(existing))
	for _, a := range existing {
		taken[a.AddressInt] = struct{}{}
	}

	value, err := AllocateNextAddress(Range{Network: prefix.Network, Broadcast: prefix.Broadcast}, prefix.Length, taken)
	if err != nil {
		return nil, err
	}

	return s.CreateAddress(ctx, AddressRequest{
		Address:   cidr.FormatIPv4(value),
		PrefixID:  prefix.ID,
		Device:    device,
		Interface: iface,
	})
}

// Utilization reports how full a prefix is.
func (s *Service) Utilization(ctx context.Context, prefixID string) (*Usage, error) {
	prefix, err := s.store.GetPrefix(ctx, prefixID)
	if err != nil {
		return nil, fmt.Errorf("prefix %s: %w", prefixID, err)
	}

	_, ipnet, err := net.ParseCIDR(prefix.CIDR)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cidr.ErrParse, err)
	}

	usage := &Usage{PrefixID: prefix.ID, CIDR: prefix.CIDR}

	if prefix.IsSupernet {
		pool, err := s.Snapshot(ctx, prefixID)
		if err != nil {
			return nil, err
		}
		usage.Total = gocidr.AddressCount(ipnet)
		usage.Used = pool.Used()
	} else {
		addrs, err := s.store.ListAddresses(ctx, &model.AddressFilter{PrefixID: prefixID})
		if err != nil {
			return nil, fmt.Errorf("listing addresses of %s: %w", prefix.CIDR, err)
		}
		usage.Total = gocidr.AddressCount(ipnet)
		if prefix.Length < 31 {
			usage.Total -= 2
		}
		usage.Used = uint64(len(addrs))
	}

	if usage.Used < usage.Total {
		usage.Free = usage.Total - usage.Used
	}
	if usage.Total > 0 {
		usage.Percent = float64(usage.Used) / float64(usage.Total) * 100
	}
	return usage, nil
}
