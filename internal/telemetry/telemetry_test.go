package telemetry

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rhema/internal/config"
	"rhema/internal/executor"
	"rhema/internal/rherrors"
)

func testCfg() config.TelemetryConfig {
	return config.TelemetryConfig{SlowQueryThresholdMs: 50, MaxSlowQueries: 5}
}

func TestRecordSuccessUpdatesAggregateCounters(t *testing.T) {
	r := New("", testCfg())
	prov := &executor.Provenance{
		ExecutedAt:      time.Now(),
		ExecutionTimeMs: 10,
		PhaseTimes:      map[string]float64{"load": 5, "filter": 5},
		FieldProvenance: executor.FieldProvenance{"a": {"title": "s"}},
	}
	r.RecordSuccess("SELECT * FROM todos", prov, false)

	stats := r.Stats()
	require.Equal(t, int64(1), stats.Total)
	require.Equal(t, int64(1), stats.Successful)
	require.Equal(t, int64(0), stats.Failed)
	require.Equal(t, 10.0, stats.AverageMs)
}

func TestRecordFailureClassifiesErrorKind(t *testing.T) {
	r := New("", testCfg())
	r.RecordFailure("SELECT * FROM bogus", 5*time.Millisecond, &rherrors.ScopeNotFound{Reference: "bogus"})

	stats := r.Stats()
	require.Equal(t, int64(1), stats.Total)
	require.Equal(t, int64(1), stats.Failed)
}

func TestSlowQueryAboveThresholdIsRecorded(t *testing.T) {
	r := New("", testCfg())
	prov := &executor.Provenance{ExecutedAt: time.Now(), ExecutionTimeMs: 500}
	r.RecordSuccess("SELECT * FROM todos", prov, false)

	stats := r.Stats()
	require.Len(t, stats.SlowQueries, 1)
}

func TestFastQueryBelowThresholdNotRecordedAsSlow(t *testing.T) {
	r := New("", testCfg())
	prov := &executor.Provenance{ExecutedAt: time.Now(), ExecutionTimeMs: 1}
	r.RecordSuccess("SELECT * FROM todos", prov, false)

	stats := r.Stats()
	require.Empty(t, stats.SlowQueries)
}

func TestSlowQuerySetIsBoundedByMaxSlowQueries(t *testing.T) {
	r := New("", testCfg())
	for i := 0; i < 10; i++ {
		prov := &executor.Provenance{ExecutedAt: time.Now(), ExecutionTimeMs: 100}
		r.RecordSuccess("SELECT * FROM todos", prov, false)
	}

	stats := r.Stats()
	require.LessOrEqual(t, len(stats.SlowQueries), 5)
}

func TestCacheHitIsTrackedSeparatelyFromSuccess(t *testing.T) {
	r := New("", testCfg())
	prov := &executor.Provenance{ExecutedAt: time.Now(), ExecutionTimeMs: 1}
	r.RecordSuccess("SELECT * FROM todos", prov, true)

	stats := r.Stats()
	require.Equal(t, int64(1), stats.CacheHits)
}

func TestErrorKindMapsKnownErrorTypes(t *testing.T) {
	require.Equal(t, "scope_not_found", ErrorKind(&rherrors.ScopeNotFound{}))
	require.Equal(t, "invalid_query", ErrorKind(&rherrors.InvalidQuery{}))
	require.Equal(t, "unknown", ErrorKind(errors.New("plain")))
}

func TestPersistenceRoundTripsAcrossRecorders(t *testing.T) {
	dir := t.TempDir()
	cfg := testCfg()
	cfg.PersistPath = filepath.Join(dir, "telemetry.db")

	r1 := New("", cfg)
	r1.RecordSuccess("SELECT * FROM todos", &executor.Provenance{ExecutedAt: time.Now(), ExecutionTimeMs: 10}, false)
	require.NoError(t, r1.Close())

	r2 := New("", cfg)
	stats := r2.Stats()
	require.Equal(t, int64(1), stats.Total)
	require.NoError(t, r2.Close())
}

func TestPersistenceFailureDegradesToInMemoryWithoutError(t *testing.T) {
	cfg := testCfg()
	cfg.PersistPath = "/nonexistent-dir-for-telemetry/telemetry.db"

	r := New("", cfg)
	r.RecordSuccess("SELECT * FROM todos", &executor.Provenance{ExecutedAt: time.Now(), ExecutionTimeMs: 1}, false)

	stats := r.Stats()
	require.Equal(t, int64(1), stats.Total)
}

func TestFormatStatsProducesReadableSummary(t *testing.T) {
	r := New("", testCfg())
	r.RecordSuccess("SELECT * FROM todos", &executor.Provenance{ExecutedAt: time.Now(), ExecutionTimeMs: 1}, false)

	summary := FormatStats(r.Stats())
	require.Contains(t, summary, "queries")
}
