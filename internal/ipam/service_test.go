package ipam

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinsuchenak/rackfab/internal/cidr"
	"github.com/martinsuchenak/rackfab/internal/model"
	"github.com/martinsuchenak/rackfab/internal/ports"
	"github.com/martinsuchenak/rackfab/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	return NewService(store)
}

func TestService_CreatePrefix(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	parent, err := svc.CreatePrefix(ctx, PrefixRequest{CIDR: "10.0.0.0/8", IsSupernet: true})
	require.NoError(t, err)
	assert.Equal(t, model.PrefixActive, parent.Status)

	// Host bits are dropped from the stored form.
	child, err := svc.CreatePrefix(ctx, PrefixRequest{CIDR: "10.1.2.3/16", ParentID: parent.ID})
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.0/16", child.CIDR)
	assert.Equal(t, uint32(0x0A010000), child.Network)
	assert.Equal(t, uint32(0x0A01FFFF), child.Broadcast)

	tests := []struct {
		name    string
		req     PrefixRequest
		wantErr error
	}{
		{"duplicate", PrefixRequest{CIDR: "10.1.0.0/16"}, ErrDuplicate},
		{"duplicate with host bits", PrefixRequest{CIDR: "10.1.9.9/16"}, ErrDuplicate},
		{"outside parent", PrefixRequest{CIDR: "11.0.0.0/16", ParentID: parent.ID}, ErrContainment},
		{"larger than parent", PrefixRequest{CIDR: "10.0.0.0/7", ParentID: child.ID}, ErrContainment},
		{"missing parent", PrefixRequest{CIDR: "10.2.0.0/16", ParentID: "nope"}, ErrNotFound},
		{"missing vrf", PrefixRequest{CIDR: "10.2.0.0/16", VRFID: "nope"}, ErrNotFound},
		{"malformed", PrefixRequest{CIDR: "10.2.0.0"}, cidr.ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreatePrefix(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_PrefixVRFScope(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	vrf, err := svc.CreateVRF(ctx, "tenant-a", "65000:1", "")
	require.NoError(t, err)

	_, err = svc.CreatePrefix(ctx, PrefixRequest{CIDR: "192.168.0.0/24"})
	require.NoError(t, err)
	_, err = svc.CreatePrefix(ctx, PrefixRequest{CIDR: "192.168.0.0/24", VRFID: vrf.ID})
	require.NoError(t, err, "same range in another VRF")
	_, err = svc.CreatePrefix(ctx, PrefixRequest{CIDR: "192.168.0.0/24", VRFID: vrf.ID})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = svc.CreateVRF(ctx, " ", "", "")
	assert.ErrorIs(t, err, cidr.ErrParse)
}

func TestService_UpdatePrefix(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	parent, err := svc.CreatePrefix(ctx, PrefixRequest{CIDR: "10.0.0.0/16", IsSupernet: true})
	require.NoError(t, err)
	a, err := svc.CreatePrefix(ctx, PrefixRequest{CIDR: "10.0.1.0/24", ParentID: parent.ID})
	require.NoError(t, err)
	_, err = svc.CreatePrefix(ctx, PrefixRequest{CIDR: "10.0.2.0/24", ParentID: parent.ID})
	require.NoError(t, err)

	// Re-saving the same range is not a duplicate of itself.
	updated, err := svc.UpdatePrefix(ctx, a.ID, PrefixRequest{CIDR: "10.0.1.0/24", ParentID: parent.ID, Description: "row 1"})
	require.NoError(t, err)
	assert.Equal(t, "row 1", updated.Description)

	_, err = svc.UpdatePrefix(ctx, a.ID, PrefixRequest{CIDR: "10.0.2.0/24", ParentID: parent.ID})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = svc.UpdatePrefix(ctx, a.ID, PrefixRequest{CIDR: "10.9.0.0/24", ParentID: parent.ID})
	assert.ErrorIs(t, err, ErrContainment)

	_, err = svc.UpdatePrefix(ctx, a.ID, PrefixRequest{CIDR: "10.0.1.0/24", ParentID: a.ID})
	assert.ErrorIs(t, err, ErrContainment)

	_, err = svc.UpdatePrefix(ctx, "missing", PrefixRequest{CIDR: "10.0.3.0/24"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_Addresses(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	prefix, err := svc.CreatePrefix(ctx, PrefixRequest{CIDR: "10.0.0.0/24"})
	require.NoError(t, err)

	addr, err := svc.CreateAddress(ctx, AddressRequest{Address: "10.0.0.10/32", PrefixID: prefix.ID, Device: "leaf-01", Interface: "Ethernet1"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.10", addr.Address)
	assert.Equal(t, "leaf-01", addr.Device)

	_, err = svc.CreateAddress(ctx, AddressRequest{Address: "10.0.0.10", PrefixID: prefix.ID})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = svc.CreateAddress(ctx, AddressRequest{Address: "10.0.1.10", PrefixID: prefix.ID})
	assert.ErrorIs(t, err, ErrContainment)

	_, err = svc.CreateAddress(ctx, AddressRequest{Address: "10.0.0.300", PrefixID: prefix.ID})
	assert.ErrorIs(t, err, cidr.ErrParse)

	_, err = svc.CreateAddress(ctx, AddressRequest{Address: "10.0.0.11", PrefixID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)

	other, err := svc.CreateAddress(ctx, AddressRequest{Address: "10.0.0.11", PrefixID: prefix.ID})
	require.NoError(t, err)

	_, err = svc.UpdateAddress(ctx, other.ID, AddressRequest{Address: "10.0.0.10", PrefixID: prefix.ID})
	assert.ErrorIs(t, err, ErrDuplicate)

	moved, err := svc.UpdateAddress(ctx, other.ID, AddressRequest{Address: "10.0.0.12", PrefixID: prefix.ID, Device: "leaf-02"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.12", moved.Address)

	_, err = svc.UpdateAddress(ctx, "missing", AddressRequest{Address: "10.0.0.13", PrefixID: prefix.ID})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.DeleteAddress(ctx, other.ID))
	assert.ErrorIs(t, svc.DeletePrefix(ctx, prefix.ID), ErrInUse)
}

func TestService_NextPrefixAndAddress(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	pool, err := svc.CreatePrefix(ctx, PrefixRequest{CIDR: "10.0.0.0/8", IsSupernet: true})
	require.NoError(t, err)

	first, err := svc.NextPrefix(ctx, pool.ID, 24, "")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", first.CIDR)
	assert.Equal(t, pool.ID, first.ParentID)

	second, err := svc.NextPrefix(ctx, pool.ID, 24, "")
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.0/24", second.CIDR)

	a, err := svc.NextAddress(ctx, first.ID, "leaf-01", "Loopback0")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", a.Address)

	b, err := svc.NextAddress(ctx, first.ID, "leaf-02", "Loopback0")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", b.Address)

	_, err = svc.NextPrefix(ctx, pool.ID, 4, "")
	assert.ErrorIs(t, err, ErrContainment)

	_, err = svc.NextPrefix(ctx, "missing", 24, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_NextPrefixInheritsVRF(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	vrf, err := svc.CreateVRF(ctx, "fabric", "", "")
	require.NoError(t, err)
	pool, err := svc.CreatePrefix(ctx, PrefixRequest{CIDR: "172.16.0.0/24", VRFID: vrf.ID, IsSupernet: true})
	require.NoError(t, err)

	child, err := svc.NextPrefix(ctx, pool.ID, 31, "p2p")
	require.NoError(t, err)
	assert.Equal(t, vrf.ID, child.VRFID)
	assert.Equal(t, "172.16.0.0/31", child.CIDR)
}

func TestService_Utilization(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	pool, err := svc.CreatePrefix(ctx, PrefixRequest{CIDR: "10.0.0.0/24", IsSupernet: true})
	require.NoError(t, err)
	_, err = svc.NextPrefix(ctx, pool.ID, 26, "")
	require.NoError(t, err)

	usage, err := svc.Utilization(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(256), usage.Total)
	assert.Equal(t, uint64(64), usage.Used)
	assert.Equal(t, uint64(192), usage.Free)
	assert.InDelta(t, 25.0, usage.Percent, 0.001)

	hosts, err := svc.CreatePrefix(ctx, PrefixRequest{CIDR: "10.1.0.0/30"})
	require.NoError(t, err)
	_, err = svc.NextAddress(ctx, hosts.ID, "", "")
	require.NoError(t, err)

	usage, err = svc.Utilization(ctx, hosts.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), usage.Total)
	assert.Equal(t, uint64(1), usage.Used)
}

func TestService_Snapshot(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	pool, err := svc.CreatePrefix(ctx, PrefixRequest{CIDR: "10.0.0.0/24", IsSupernet: true})
	require.NoError(t, err)
	_, err = svc.CreatePrefix(ctx, PrefixRequest{CIDR: "10.0.0.0/31", ParentID: pool.ID})
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, pool.ID, snap.ID)

	next, err := snap.Allocate(31)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2/31", cidr.Format(next.Network, 31))

	// The snapshot does not write through.
	again, err := svc.Snapshot(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), again.Used())
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "parse", Kind(cidr.ErrParse))
	assert.Equal(t, "exhausted", Kind(ErrExhausted))
	assert.Equal(t, "not_found", Kind(storage.ErrNotFound))
	assert.Equal(t, "duplicate", Kind(storage.ErrAlreadyExists))
	assert.Equal(t, "in_use", Kind(ErrInUse))
	assert.Equal(t, "containment", Kind(ErrContainment))
	assert.Equal(t, "ports_exhausted", Kind(ports.ErrExhausted))
	assert.Equal(t, "ports_exhausted", Kind(fmt.Errorf("linking a to b: %w", ports.ErrExhausted)))
	assert.Equal(t, "internal", Kind(assert.AnError))
}
