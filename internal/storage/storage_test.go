package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinsuchenak/rackfab/internal/model"
)

// backends returns a fresh store per backend
func backends(t *testing.T) map[string]Store {
	t.Helper()

	mem, err := NewMemoryStore()
	require.NoError(t, err)

	sqlite, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{"memory": mem, "sqlite": sqlite}
}

func newPrefix(id, cidr string, network, broadcast uint32, length int) *model.Prefix {
	return &model.Prefix{
		ID:        id,
		CIDR:      cidr,
		Network:   network,
		Broadcast: broadcast,
		Length:    length,
		Status:    model.PrefixActive,
	}
}

func TestNewStorage(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		wantErr bool
	}{
		{"memory", "memory", false},
		{"sqlite", "sqlite", false},
		{"default is sqlite", "", false},
		{"unknown", "etcd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStorage(tt.backend, t.TempDir())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, store.Close())
		})
	}
}

func TestStore_PrefixLifecycle(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			pool := newPrefix("pool", "10.0.0.0/8", 0x0A000000, 0x0AFFFFFF, 8)
			pool.IsSupernet = true
			require.NoError(t, store.CreatePrefix(ctx, pool))
			assert.False(t, pool.CreatedAt.IsZero())

			child := newPrefix("child", "10.0.0.0/24", 0x0A000000, 0x0A0000FF, 24)
			child.ParentID = "pool"
			require.NoError(t, store.CreatePrefix(ctx, child))

			got, err := store.GetPrefix(ctx, "child")
			require.NoError(t, err)
			assert.Equal(t, "10.0.0.0/24", got.CIDR)
			assert.Equal(t, "pool", got.ParentID)
			assert.Equal(t, uint32(0x0A0000FF), got.Broadcast)
			assert.Equal(t, model.PrefixActive, got.Status)

			found, err := store.FindPrefix(ctx, 0x0A000000, 0x0A0000FF, "")
			require.NoError(t, err)
			assert.Equal(t, "child", found.ID)

			dup := newPrefix("dup", "10.0.0.0/24", 0x0A000000, 0x0A0000FF, 24)
			assert.ErrorIs(t, store.CreatePrefix(ctx, dup), ErrAlreadyExists)

			// Parents cannot go while children exist
			assert.ErrorIs(t, store.DeletePrefix(ctx, "pool"), ErrInUse)

			child.Description = "racks"
			require.NoError(t, store.UpdatePrefix(ctx, child))
			got, err = store.GetPrefix(ctx, "child")
			require.NoError(t, err)
			assert.Equal(t, "racks", got.Description)
			assert.False(t, got.CreatedAt.IsZero())

			require.NoError(t, store.DeletePrefix(ctx, "child"))
			require.NoError(t, store.DeletePrefix(ctx, "pool"))

			_, err = store.GetPrefix(ctx, "child")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.DeletePrefix(ctx, "child"), ErrNotFound)
		})
	}
}

func TestStore_PrefixScopes(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateVRF(ctx, &model.VRF{ID: "blue", Name: "blue"}))

			global := newPrefix("g", "10.0.0.0/24", 0x0A000000, 0x0A0000FF, 24)
			require.NoError(t, store.CreatePrefix(ctx, global))

			// Same range in another VRF is a different prefix
			scoped := newPrefix("b", "10.0.0.0/24", 0x0A000000, 0x0A0000FF, 24)
			scoped.VRFID = "blue"
			require.NoError(t, store.CreatePrefix(ctx, scoped))

			missing := newPrefix("r", "10.1.0.0/24", 0x0A010000, 0x0A0100FF, 24)
			missing.VRFID = "red"
			assert.ErrorIs(t, store.CreatePrefix(ctx, missing), ErrNotFound)

			blue := "blue"
			list, err := store.ListPrefixes(ctx, &model.PrefixFilter{VRFID: &blue})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "b", list[0].ID)

			globalScope := ""
			list, err = store.ListPrefixes(ctx, &model.PrefixFilter{VRFID: &globalScope})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "g", list[0].ID)

			assert.ErrorIs(t, store.DeleteVRF(ctx, "blue"), ErrInUse)
			require.NoError(t, store.DeletePrefix(ctx, "b"))
			require.NoError(t, store.DeleteVRF(ctx, "blue"))

			vrfs, err := store.ListVRFs(ctx)
			require.NoError(t, err)
			assert.Empty(t, vrfs)
		})
	}
}

func TestStore_ListPrefixesOrder(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreatePrefix(ctx, newPrefix("c", "10.0.1.0/24", 0x0A000100, 0x0A0001FF, 24)))
			require.NoError(t, store.CreatePrefix(ctx, newPrefix("b", "10.0.0.0/24", 0x0A000000, 0x0A0000FF, 24)))
			require.NoError(t, store.CreatePrefix(ctx, newPrefix("a", "10.0.0.0/16", 0x0A000000, 0x0A00FFFF, 16)))

			list, err := store.ListPrefixes(ctx, nil)
			require.NoError(t, err)

			var ids []string
			for _, p := range list {
				ids = append(ids, p.ID)
			}
			assert.Equal(t, []string{"a", "b", "c"}, ids)
		})
	}
}

func TestStore_AddressLifecycle(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreatePrefix(ctx, newPrefix("p", "10.0.0.0/24", 0x0A000000, 0x0A0000FF, 24)))

			for i, host := range []uint32{5, 1, 3} {
				addr := &model.IPAddress{
					ID:         fmt.Sprintf("a%d", i),
					Address:    fmt.Sprintf("10.0.0.%d", host),
					AddressInt: 0x0A000000 + host,
					PrefixID:   "p",
					Device:     "leaf-01",
				}
				require.NoError(t, store.CreateAddress(ctx, addr))
			}

			dup := &model.IPAddress{ID: "dup", Address: "10.0.0.1", AddressInt: 0x0A000001, PrefixID: "p"}
			assert.ErrorIs(t, store.CreateAddress(ctx, dup), ErrAlreadyExists)

			orphan := &model.IPAddress{ID: "orphan", Address: "10.9.0.1", AddressInt: 0x0A090001, PrefixID: "nope"}
			assert.ErrorIs(t, store.CreateAddress(ctx, orphan), ErrNotFound)

			list, err := store.ListAddresses(ctx, &model.AddressFilter{PrefixID: "p"})
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "10.0.0.1", list[0].Address)
			assert.Equal(t, "10.0.0.3", list[1].Address)
			assert.Equal(t, "10.0.0.5", list[2].Address)

			found, err := store.FindAddress(ctx, "p", 0x0A000003)
			require.NoError(t, err)
			assert.Equal(t, "a2", found.ID)

			found.Interface = "Ethernet1"
			require.NoError(t, store.UpdateAddress(ctx, found))
			got, err := store.GetAddress(ctx, "a2")
			require.NoError(t, err)
			assert.Equal(t, "Ethernet1", got.Interface)

			assert.ErrorIs(t, store.DeletePrefix(ctx, "p"), ErrInUse)

			byDevice, err := store.ListAddresses(ctx, &model.AddressFilter{Device: "leaf-01"})
			require.NoError(t, err)
			assert.Len(t, byDevice, 3)

			require.NoError(t, store.DeleteAddress(ctx, "a0"))
			assert.ErrorIs(t, store.DeleteAddress(ctx, "a0"), ErrNotFound)
		})
	}
}

func TestStore_InvalidID(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetPrefix(ctx, "")
			assert.ErrorIs(t, err, ErrInvalidID)
			_, err = store.GetAddress(ctx, "")
			assert.ErrorIs(t, err, ErrInvalidID)
			_, err = store.GetVRF(ctx, "")
			assert.ErrorIs(t, err, ErrInvalidID)
			assert.ErrorIs(t, store.CreatePrefix(ctx, &model.Prefix{}), ErrInvalidID)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore()
	require.NoError(t, err)

	p := newPrefix("p", "10.0.0.0/24", 0x0A000000, 0x0A0000FF, 24)
	require.NoError(t, store.CreatePrefix(ctx, p))
	p.Description = "mutated after insert"

	got, err := store.GetPrefix(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, got.Description)

	got.Description = "mutated after read"
	again, err := store.GetPrefix(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, again.Description)
}

func TestSQLiteStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.CreatePrefix(ctx, newPrefix("p", "10.0.0.0/24", 0x0A000000, 0x0A0000FF, 24)))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetPrefix(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", got.CIDR)

	version, err := reopened.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, version)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreatePrefix(ctx, newPrefix("p", "10.0.0.0/24", 0x0A000000, 0x0A0000FF, 24)))

			var wg sync.WaitGroup
			errs := make(chan error, 50)
			for i := 1; i <= 50; i++ {
				wg.Add(1)
				go func(host int) {
					defer wg.Done()
					errs <- store.CreateAddress(ctx, &model.IPAddress{
						ID:         fmt.Sprintf("a%d", host),
						Address:    fmt.Sprintf("10.0.0.%d", host),
						AddressInt: 0x0A000000 + uint32(host),
						PrefixID:   "p",
					})
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				assert.NoError(t, err)
			}

			list, err := store.ListAddresses(ctx, nil)
			require.NoError(t, err)
			assert.Len(t, list, 50)
		})
	}
}
