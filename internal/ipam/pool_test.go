package ipam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinsuchenak/rackfab/internal/cidr"
)

func TestPool_AllocateAndReserve(t *testing.T) {
	pool := NewPool(mustRange(t, "10.1.0.0/24").Network, 24, nil)
	assert.Equal(t, "10.1.0.0/24", pool.CIDR())

	a, err := pool.Allocate(31)
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.0/31", cidr.Format(a.Network, 31))

	b, err := pool.Allocate(31)
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.2/31", cidr.Format(b.Network, 31))

	// Adjacent blocks coalesce.
	assert.Equal(t, []Range{mustRange(t, "10.1.0.0/30")}, pool.Allocated())

	require.NoError(t, pool.Reserve(mustRange(t, "10.1.0.9/32")))
	assert.ErrorIs(t, pool.Reserve(mustRange(t, "10.1.0.9/32")), ErrDuplicate)
	assert.ErrorIs(t, pool.Reserve(mustRange(t, "10.1.0.0/31")), ErrDuplicate)
	assert.ErrorIs(t, pool.Reserve(mustRange(t, "10.2.0.1/32")), ErrContainment)

	assert.False(t, pool.IsFree(mustRange(t, "10.1.0.8/30")))
	assert.True(t, pool.IsFree(mustRange(t, "10.1.0.4/31")))
	assert.Equal(t, uint64(5), pool.Used())

	_, err = pool.Allocate(16)
	assert.ErrorIs(t, err, ErrContainment)
}

func TestPool_CloneIsIndependent(t *testing.T) {
	pool := NewPool(mustRange(t, "10.0.0.0/24").Network, 24, nil)
	_, err := pool.Allocate(31)
	require.NoError(t, err)

	clone := pool.Clone()
	_, err = clone.Allocate(31)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), pool.Used())
	assert.Equal(t, uint64(4), clone.Used())

	var nilPool *Pool
	assert.Nil(t, nilPool.Clone())
}

func TestPool_Exhaustion(t *testing.T) {
	pool := NewPool(mustRange(t, "10.0.0.0/29").Network, 29, nil)
	for i := 0; i < 4; i++ {
		_, err := pool.Allocate(31)
		require.NoError(t, err)
	}
	_, err := pool.Allocate(31)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, pool.Prefix.Size(), pool.Used())
}

func TestPool_ReserveBetweenBlocks(t *testing.T) {
	pool := NewPool(mustRange(t, "10.0.0.0/24").Network, 24, []Range{
		mustRange(t, "10.0.0.0/31"),
		mustRange(t, "10.0.0.4/31"),
	})
	require.NoError(t, pool.Reserve(mustRange(t, "10.0.0.2/31")))
	assert.Equal(t, []Range{{
		Network:   mustRange(t, "10.0.0.0/32").Network,
		Broadcast: mustRange(t, "10.0.0.5/32").Network,
	}}, pool.Allocated())
}
