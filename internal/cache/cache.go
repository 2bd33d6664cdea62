// Package cache implements the query cache (C10): a sharded, TTL-bound
// LRU keyed by an optimized plan's shape plus a corpus fingerprint, with
// singleflight collapsing concurrent identical misses into one
// execution.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"rhema/internal/config"
	"rhema/internal/executor"
	"rhema/internal/logging"
	"rhema/internal/optimizer"
	"rhema/internal/schema"
)

// ScopeChecksum is one scope's (path, content checksum) pair, the
// minimal input a corpus fingerprint needs.
type ScopeChecksum struct {
	Path     string
	Checksum string
}

// Cache is a sharded, TTL-expiring cache of executed query results.
type Cache struct {
	shards []*lru.LRU[string, *executor.Result]
	group  singleflight.Group
	hits   int64
	misses int64
}

// New builds a Cache with cfg.Shards independent shards, each capped at
// cfg.Capacity/cfg.Shards entries with cfg.TTLSeconds time-to-live.
func New(cfg config.CacheConfig) *Cache {
	shardCount := cfg.Shards
	if shardCount < 1 {
		shardCount = 1
	}
	perShard := cfg.Capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second

	c := &Cache{shards: make([]*lru.LRU[string, *executor.Result], shardCount)}
	for i := range c.shards {
		c.shards[i] = lru.NewLRU[string, *executor.Result](perShard, nil, ttl)
	}
	return c
}

func (c *Cache) shardFor(key string) *lru.LRU[string, *executor.Result] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[int(h.Sum32())%len(c.shards)]
}

// Get looks up key without triggering computation.
func (c *Cache) Get(key string) (*executor.Result, bool) {
	v, ok := c.shardFor(key).Get(key)
	if ok {
		c.hits++
		logging.Cache("hit key=%s", key)
	} else {
		c.misses++
	}
	return v, ok
}

// Put stores result under key.
func (c *Cache) Put(key string, result *executor.Result) {
	c.shardFor(key).Add(key, result)
}

// GetOrCompute returns the cached result for key, computing and storing
// it via compute on a miss. Concurrent callers for the same key share a
// single compute call through singleflight, so a cache stampede on a
// cold key only ever runs the underlying query once.
func (c *Cache) GetOrCompute(key string, compute func() (*executor.Result, error)) (*executor.Result, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Put(key, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*executor.Result), nil
}

// Stats reports cumulative hit/miss counts for telemetry (C11).
func (c *Cache) Stats() (hits, misses int64) { return c.hits, c.misses }

// Key derives a cache key from an optimized plan and a corpus
// fingerprint. Two logically identical queries against the same corpus
// state always produce the same key, regardless of how the optimizer
// reordered or pruned the plan's conditions, since the plan already
// reflects the canonicalized query.
func Key(plan *optimizer.Plan, fingerprint string) string {
	h := sha256.New()
	fmt.Fprintf(h, "target=%s\nscope=%s\nfingerprint=%s\n", plan.Query.Target, plan.Query.ScopeSelector, fingerprint)
	for _, c := range plan.Query.Conditions {
		fmt.Fprintf(h, "cond:%s:%s:%s:%v\n", c.Conjunction, c.Field, c.Op, c.Value.Value)
	}
	for _, o := range plan.Query.OrderBy {
		fmt.Fprintf(h, "order:%s:%v\n", o.Field, o.Desc)
	}
	fmt.Fprintf(h, "limit=%v offset=%v\n", plan.Query.Limit, plan.Query.Offset)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint hashes sorted (path, checksum) pairs into one corpus
// fingerprint; it changes if and only if a relevant scope's contents
// changed or the set of relevant scopes changed.
func Fingerprint(entries []ScopeChecksum) string {
	sorted := append([]ScopeChecksum(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, e := range sorted {
		fmt.Fprintf(h, "%s:%s\n", e.Path, e.Checksum)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ChecksumsForScopes is a convenience wrapper producing ScopeChecksum
// entries for Fingerprint from a live scope set, using the same
// canonical per-scope hash the lock resolver uses.
func ChecksumsForScopes(scopes []*schema.Scope, checksumOf func(*schema.Scope) (string, error)) ([]ScopeChecksum, error) {
	out := make([]ScopeChecksum, 0, len(scopes))
	for _, s := range scopes {
		sum, err := checksumOf(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ScopeChecksum{Path: s.Path, Checksum: sum})
	}
	return out, nil
}
