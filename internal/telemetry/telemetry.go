// Package telemetry implements performance/telemetry recording (C11):
// per-query timing and outcome records, aggregate counters, and a
// slow-query set above a configurable threshold. It has no effect on
// core behavior — recording a query never fails the query itself.
package telemetry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.etcd.io/bbolt"

	"rhema/internal/config"
	"rhema/internal/executor"
	"rhema/internal/logging"
	"rhema/internal/rherrors"
)

// Record is one query's full telemetry entry.
type Record struct {
	QueryText       string             `json:"query_text"`
	StartedAt       time.Time          `json:"started_at"`
	TotalMs         float64            `json:"total_ms"`
	PhaseTimes      map[string]float64 `json:"phase_times"`
	CacheHit        bool               `json:"cache_hit"`
	Success         bool               `json:"success"`
	ErrorKind       string             `json:"error_kind,omitempty"`
	ResultCardinality int              `json:"result_cardinality"`
}

// Stats is the aggregate view exposed to collaborators.
type Stats struct {
	Total        int64
	Successful   int64
	Failed       int64
	AverageMs    float64
	CacheHits    int64
	SlowQueries  []Record
}

// Recorder accumulates Records under a fine-grained lock, as the spec's
// "compare-and-swap counters / one lock per shard" sharing model
// requires when the cache and telemetry are touched from concurrent
// query invocations.
type Recorder struct {
	mu          sync.Mutex
	total       int64
	successful  int64
	failed      int64
	totalMs     float64
	cacheHits   int64
	threshold   time.Duration
	maxSlow     int
	slow        []Record
	store       *bbolt.DB
}

var recordsBucket = []byte("records")

const aggregateKey = "aggregate"

// persistedState is the rolling-aggregate snapshot written to the bolt
// store. Individual Records are not persisted, only the counters needed
// to resume aggregate Stats across a restart.
type persistedState struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
	TotalMs    float64 `json:"total_ms"`
	CacheHits  int64 `json:"cache_hits"`
}

func (r *Recorder) loadPersisted() {
	var state persistedState
	err := r.store.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		data := b.Get([]byte(aggregateKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		logging.TelemetryWarn("failed to read persisted telemetry state, starting fresh: %v", err)
		return
	}
	r.total, r.successful, r.failed = state.Total, state.Successful, state.Failed
	r.totalMs, r.cacheHits = state.TotalMs, state.CacheHits
}

// persist writes the current aggregate counters to the bolt store.
// Called with r.mu already held. Failure is logged, never returned,
// since persistence is a best-effort durability layer over an
// already-correct in-memory recorder.
func (r *Recorder) persist() {
	if r.store == nil {
		return
	}
	state := persistedState{
		Total: r.total, Successful: r.successful, Failed: r.failed,
		TotalMs: r.totalMs, CacheHits: r.cacheHits,
	}
	data, err := json.Marshal(state)
	if err != nil {
		logging.TelemetryWarn("failed to marshal telemetry state: %v", err)
		return
	}
	err = r.store.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordsBucket).Put([]byte(aggregateKey), data)
	})
	if err != nil {
		logging.TelemetryWarn("failed to persist telemetry state: %v", err)
	}
}

// New builds a Recorder from cfg. If cfg.PersistPath is non-empty, it
// attempts to open a bolt file there to persist rolling aggregate
// counters across process restarts; failure to open it degrades to an
// in-memory-only recorder rather than an error, per spec.
func New(repoRoot string, cfg config.TelemetryConfig) *Recorder {
	r := &Recorder{
		threshold: time.Duration(cfg.SlowQueryThresholdMs) * time.Millisecond,
		maxSlow:   cfg.MaxSlowQueries,
	}
	if cfg.PersistPath == "" {
		return r
	}
	path := cfg.PersistPath
	if repoRoot != "" {
		path = repoRoot + "/" + cfg.PersistPath
	}
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		logging.TelemetryWarn("failed to open persistence store at %s, continuing in-memory: %v", path, err)
		return r
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	}); err != nil {
		logging.TelemetryWarn("failed to initialize persistence bucket, continuing in-memory: %v", err)
		db.Close()
		return r
	}
	r.store = db
	r.loadPersisted()
	return r
}

// Close releases the persistence store, if one is open.
func (r *Recorder) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// RecordSuccess records a successful query's provenance.
func (r *Recorder) RecordSuccess(queryText string, prov *executor.Provenance, cacheHit bool) {
	rec := Record{
		QueryText:         queryText,
		StartedAt:         prov.ExecutedAt,
		TotalMs:           prov.ExecutionTimeMs,
		PhaseTimes:        prov.PhaseTimes,
		CacheHit:          cacheHit,
		Success:           true,
		ResultCardinality: len(prov.FieldProvenance),
	}
	r.record(rec)
}

// RecordFailure records a failed query, classifying err into a stable
// kind string callers can branch on without depending on internal error
// types.
func (r *Recorder) RecordFailure(queryText string, elapsed time.Duration, err error) {
	rec := Record{
		QueryText: queryText,
		StartedAt: time.Now().Add(-elapsed),
		TotalMs:   float64(elapsed.Milliseconds()),
		Success:   false,
		ErrorKind: ErrorKind(err),
	}
	r.record(rec)
}

func (r *Recorder) record(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	r.totalMs += rec.TotalMs
	if rec.Success {
		r.successful++
	} else {
		r.failed++
	}
	if rec.CacheHit {
		r.cacheHits++
	}
	if r.threshold > 0 && time.Duration(rec.TotalMs)*time.Millisecond >= r.threshold {
		r.slow = append(r.slow, rec)
		if r.maxSlow > 0 && len(r.slow) > r.maxSlow {
			r.slow = r.slow[len(r.slow)-r.maxSlow:]
		}
		logging.TelemetryWarn("slow query (%.1fms): %s", rec.TotalMs, rec.QueryText)
	}
	r.persist()
}

// Stats returns a snapshot of the aggregate counters and slow-query set.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	avg := 0.0
	if r.total > 0 {
		avg = r.totalMs / float64(r.total)
	}
	slow := append([]Record(nil), r.slow...)
	sort.Slice(slow, func(i, j int) bool { return slow[i].TotalMs > slow[j].TotalMs })

	return Stats{
		Total:       r.total,
		Successful:  r.successful,
		Failed:      r.failed,
		AverageMs:   avg,
		CacheHits:   r.cacheHits,
		SlowQueries: slow,
	}
}

// FormatStats renders s as the human-readable summary line printed by
// the CLI's `query --stats` flag, using comma-grouped counts
// so large totals stay readable at a glance.
func FormatStats(s Stats) string {
	return fmt.Sprintf("%s queries (%s ok, %s failed, %s cache hits), avg %.1fms, %d slow",
		humanize.Comma(s.Total), humanize.Comma(s.Successful), humanize.Comma(s.Failed),
		humanize.Comma(s.CacheHits), s.AverageMs, len(s.SlowQueries))
}

// ErrorKind classifies err into a stable, collaborator-facing string.
func ErrorKind(err error) string {
	switch err.(type) {
	case *rherrors.ScopeNotFound:
		return "scope_not_found"
	case *rherrors.FileNotFound:
		return "file_not_found"
	case *rherrors.InvalidYaml:
		return "invalid_yaml"
	case *rherrors.InvalidQuery:
		return "invalid_query"
	case *rherrors.CircularDependency:
		return "circular_dependency"
	case *rherrors.ConfigError:
		return "config_error"
	case *rherrors.ValidationError:
		return "validation_error"
	case *rherrors.IoError:
		return "io_error"
	default:
		return "unknown"
	}
}
