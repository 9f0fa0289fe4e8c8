package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetadataCachePutGet(t *testing.T) {
	c := NewMetadataCache(8, time.Minute)
	addr := [32]byte{1}
	c.Put(addr, Metadata{FeeBps: 30})

	m, ok := c.Get(addr)
	require.True(t, ok)
	require.Equal(t, uint16(30), m.FeeBps)
}

func TestMetadataCacheMiss(t *testing.T) {
	c := NewMetadataCache(8, time.Minute)
	_, ok := c.Get([32]byte{9})
	require.False(t, ok)
}

func TestMetadataCacheExpires(t *testing.T) {
	c := NewMetadataCache(8, time.Millisecond)
	addr := [32]byte{1}
	c.Put(addr, Metadata{FeeBps: 30})
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(addr)
	require.False(t, ok)
}

func TestMetadataCacheClearExpired(t *testing.T) {
	c := NewMetadataCache(8, time.Millisecond)
	addr := [32]byte{1}
	c.Put(addr, Metadata{FeeBps: 30})
	time.Sleep(5 * time.Millisecond)

	c.ClearExpired()
	require.Zero(t, c.lru.Len())
}

func TestReservesCachePutGet(t *testing.T) {
	c := NewReservesCache(1<<20, time.Second)
	addr := [32]byte{2}
	c.Put(addr, Reserves{ReserveA: 100, ReserveB: 200})

	r, ok := c.Get(addr)
	require.True(t, ok)
	require.Equal(t, uint64(100), r.ReserveA)
	require.Equal(t, uint64(200), r.ReserveB)
}

func TestReservesCacheExpires(t *testing.T) {
	c := NewReservesCache(1<<20, time.Millisecond)
	addr := [32]byte{2}
	c.Put(addr, Reserves{ReserveA: 100, ReserveB: 200})
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(addr)
	require.False(t, ok)
}

func TestReservesCacheMiss(t *testing.T) {
	c := NewReservesCache(1<<20, time.Second)
	_, ok := c.Get([32]byte{3})
	require.False(t, ok)
}

func TestTwoTierNew(t *testing.T) {
	tt := New(1024, 1<<20)
	addr := [32]byte{4}
	tt.Metadata.Put(addr, Metadata{FeeBps: 25})
	tt.Reserves.Put(addr, Reserves{ReserveA: 1, ReserveB: 2})

	m, ok := tt.Metadata.Get(addr)
	require.True(t, ok)
	require.Equal(t, uint16(25), m.FeeBps)

	r, ok := tt.Reserves.Get(addr)
	require.True(t, ok)
	require.Equal(t, uint64(1), r.ReserveA)

	tt.ClearExpired()
}
