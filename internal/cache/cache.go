// Package cache implements the two-tier Cache Layer (spec §4.4): a
// minutes-scale metadata cache and a sub-second reserves cache, both
// concurrent and TTL-expiring.
package cache

import (
	"encoding/binary"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru"

	"github.com/triarb/engine/internal/arbtypes"
)

// Metadata is the slow-changing half of a Pool: identities, vaults, fee.
// Reserves live in the separate, short-TTL Reserves cache (spec §4.4's
// rationale: update cadences differ by three orders of magnitude).
type Metadata struct {
	Owner  [32]byte
	Family arbtypes.DexFamily
	TokenA arbtypes.Token
	TokenB arbtypes.Token
	VaultA [32]byte
	VaultB [32]byte
	FeeBps uint16
}

type metaEntry struct {
	value      Metadata
	insertedAt time.Time
}

// MetadataCache is the minutes-TTL tier, backed by a bounded LRU (spec
// §4.4). The LRU itself is internally synchronized; TTL bookkeeping is a
// thin wrapper since golang-lru v0.5.5 has no per-entry expiry of its own.
type MetadataCache struct {
	lru *lru.Cache
	ttl time.Duration
}

// NewMetadataCache builds a metadata tier holding up to capacity entries,
// each valid for ttl (spec §4.4 default: "seconds on the order of minutes").
func NewMetadataCache(capacity int, ttl time.Duration) *MetadataCache {
	c, err := lru.New(capacity)
	if err != nil {
		// lru.New only errors on capacity <= 0; a hard-coded positive
		// default can never trigger this, so this is a programming error.
		panic(err)
	}
	return &MetadataCache{lru: c, ttl: ttl}
}

// Get returns the cached metadata for address if present and unexpired.
// A stale entry is treated as a miss, per spec §4.4, and swept lazily on
// the next write to the same key (or by ClearExpired).
func (c *MetadataCache) Get(address [32]byte) (Metadata, bool) {
	v, ok := c.lru.Get(address)
	if !ok {
		return Metadata{}, false
	}
	entry := v.(metaEntry)
	if time.Since(entry.insertedAt) >= c.ttl {
		return Metadata{}, false
	}
	return entry.value, true
}

// Put inserts or replaces metadata for address, resetting its TTL clock.
// This is the only path that invalidates a cached entry (spec §4.4:
// "Invalidated only when a pool is re-discovered").
func (c *MetadataCache) Put(address [32]byte, m Metadata) {
	c.lru.Add(address, metaEntry{value: m, insertedAt: time.Now()})
}

// ClearExpired evicts every entry whose TTL has passed (spec §4.4's
// periodic-maintenance operation).
func (c *MetadataCache) ClearExpired() {
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if time.Since(v.(metaEntry).insertedAt) >= c.ttl {
			c.lru.Remove(k)
		}
	}
}

// Reserves is the pair of balances the enricher fills in (spec §4.3/§4.4).
type Reserves struct {
	ReserveA uint64
	ReserveB uint64
}

// ReservesCache is the sub-second-TTL tier, backed by fastcache: a byte-
// slab cache built for exactly this high-churn, low-GC-pressure workload
// (fastcache shards internally, so no extra lock striping is needed on
// top of it). Each value is the 16-byte reserve pair followed by an 8-byte
// unix-nano insertion timestamp used for TTL checks.
type ReservesCache struct {
	fc  *fastcache.Cache
	ttl time.Duration
}

// NewReservesCache builds a reserves tier with the given max byte budget
// and TTL (spec §4.4 default: "0.1-1 second").
func NewReservesCache(maxBytes int, ttl time.Duration) *ReservesCache {
	return &ReservesCache{fc: fastcache.New(maxBytes), ttl: ttl}
}

func encodeReserves(r Reserves, now time.Time) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], r.ReserveA)
	binary.LittleEndian.PutUint64(buf[8:16], r.ReserveB)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(now.UnixNano()))
	return buf
}

func decodeReserves(buf []byte) (Reserves, time.Time) {
	r := Reserves{
		ReserveA: binary.LittleEndian.Uint64(buf[0:8]),
		ReserveB: binary.LittleEndian.Uint64(buf[8:16]),
	}
	ts := time.Unix(0, int64(binary.LittleEndian.Uint64(buf[16:24])))
	return r, ts
}

// Get returns the cached reserves for address if present and unexpired.
func (c *ReservesCache) Get(address [32]byte) (Reserves, bool) {
	buf := c.fc.Get(nil, address[:])
	if len(buf) != 24 {
		return Reserves{}, false
	}
	r, insertedAt := decodeReserves(buf)
	if time.Since(insertedAt) >= c.ttl {
		return Reserves{}, false
	}
	return r, true
}

// Put inserts or replaces the reserves for address, resetting its TTL
// clock.
func (c *ReservesCache) Put(address [32]byte, r Reserves) {
	c.fc.Set(address[:], encodeReserves(r, time.Now()))
}

// ClearExpired is a deliberate no-op: fastcache exposes no key
// enumeration or predicate-delete API, so there's no way to sweep expired
// entries proactively. This is benign for a sub-second TTL tier — Get
// already treats a stale entry as a miss (lazy expiry), and fastcache
// reclaims space on its own via its bounded-memory chunked eviction once
// full, independent of any caller-driven sweep. Present so TwoTier.
// ClearExpired can call both tiers uniformly.
func (c *ReservesCache) ClearExpired() {}

// TwoTier bundles both caches behind the single Cache Layer the Pool
// Parser / Vault Enricher pipeline reads and writes (spec §4.4).
type TwoTier struct {
	Metadata *MetadataCache
	Reserves *ReservesCache
}

// New builds the standard two-tier cache with spec's suggested defaults:
// a 5-minute metadata TTL and a 250ms reserves TTL.
func New(metadataCapacity, reservesMaxBytes int) *TwoTier {
	return &TwoTier{
		Metadata: NewMetadataCache(metadataCapacity, 5*time.Minute),
		Reserves: NewReservesCache(reservesMaxBytes, 250*time.Millisecond),
	}
}

// ClearExpired runs the periodic maintenance sweep on both tiers. The
// Reserves tier's sweep is a no-op for reasons documented on
// ReservesCache.ClearExpired; Metadata's LRU does support enumeration, so
// it gets a real proactive sweep.
func (t *TwoTier) ClearExpired() {
	t.Metadata.ClearExpired()
	t.Reserves.ClearExpired()
}
