package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rhema/internal/config"
	"rhema/internal/executor"
	"rhema/internal/schema"
)

func testConfig() config.CacheConfig {
	return config.CacheConfig{Capacity: 64, TTLSeconds: 300, Shards: 4}
}

func TestPutThenGetReturnsStoredResult(t *testing.T) {
	c := New(testConfig())
	result := &executor.Result{Count: 3}
	c.Put("key-a", result)

	got, ok := c.Get("key-a")
	require.True(t, ok)
	require.Same(t, result, got)
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := New(testConfig())
	_, ok := c.Get("missing")
	require.False(t, ok)
}

func TestGetOrComputeCallsComputeOnceUnderConcurrency(t *testing.T) {
	c := New(testConfig())
	var calls int64
	compute := func() (*executor.Result, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(5 * time.Millisecond)
		return &executor.Result{Count: 1}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrCompute("shared-key", compute)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestGetOrComputeCachesSubsequentCalls(t *testing.T) {
	c := New(testConfig())
	var calls int
	compute := func() (*executor.Result, error) {
		calls++
		return &executor.Result{Count: calls}, nil
	}

	first, err := c.GetOrCompute("k", compute)
	require.NoError(t, err)
	second, err := c.GetOrCompute("k", compute)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}

func TestFingerprintIsOrderIndependent(t *testing.T) {
	a := []ScopeChecksum{{Path: "/a", Checksum: "x"}, {Path: "/b", Checksum: "y"}}
	b := []ScopeChecksum{{Path: "/b", Checksum: "y"}, {Path: "/a", Checksum: "x"}}
	require.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintChangesWithChecksum(t *testing.T) {
	a := []ScopeChecksum{{Path: "/a", Checksum: "x"}}
	b := []ScopeChecksum{{Path: "/a", Checksum: "z"}}
	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestChecksumsForScopesUsesInjectedFunction(t *testing.T) {
	scopes := []*schema.Scope{{Name: "a", Path: "/a"}}
	checksums, err := ChecksumsForScopes(scopes, func(s *schema.Scope) (string, error) {
		return "fixed-" + s.Name, nil
	})
	require.NoError(t, err)
	require.Equal(t, "fixed-a", checksums[0].Checksum)
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := New(testConfig())
	c.Put("k", &executor.Result{})
	c.Get("k")
	c.Get("missing")

	hits, misses := c.Stats()
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(1), misses)
}
