// Package rhema is the public facade over the Rhema core: scope
// discovery, CQL queries, search, and lock generation/validation, each
// bound to one repository root. Collaborators (a CLI, an RPC server, an
// agent) adapt this API to their own transport; the core itself
// prescribes none.
package rhema

import (
	"os"
	"time"

	"rhema/internal/cache"
	"rhema/internal/config"
	"rhema/internal/cql"
	"rhema/internal/executor"
	"rhema/internal/lockresolve"
	"rhema/internal/logging"
	"rhema/internal/optimizer"
	"rhema/internal/rherrors"
	"rhema/internal/schema"
	"rhema/internal/scopegraph"
	"rhema/internal/scopeloader"
	"rhema/internal/search"
	"rhema/internal/telemetry"
)

// Core is the Rhema engine bound to one repository root, holding the
// long-lived query cache and telemetry recorder across calls.
type Core struct {
	repoRoot    string
	cfg         *config.Config
	cache       *cache.Cache
	telemetry   *telemetry.Recorder
	searchIndex *search.IndexCache
}

// Open loads configuration for repoRoot, configures logging, and
// returns a ready Core.
func Open(repoRoot string) (*Core, error) {
	cfg, err := config.Load(repoRoot)
	if err != nil {
		return nil, err
	}
	if err := logging.Configure(repoRoot, cfg.Logging.DebugMode, cfg.Logging.Level, cfg.Logging.JSONFormat, cfg.Logging.Categories); err != nil {
		return nil, err
	}
	return &Core{
		repoRoot:    repoRoot,
		cfg:         cfg,
		cache:       cache.New(cfg.Cache),
		telemetry:   telemetry.New(repoRoot, cfg.Telemetry),
		searchIndex: search.NewIndexCache(cfg.Cache.Capacity, time.Duration(cfg.Cache.TTLSeconds)*time.Second),
	}, nil
}

// Close releases resources held across calls (the telemetry
// persistence store, if one is open).
func (c *Core) Close() error {
	return c.telemetry.Close()
}

// DiscoverScopes returns every scope found under the repository root,
// sorted by path.
func (c *Core) DiscoverScopes() ([]*schema.Scope, error) {
	return scopeloader.DiscoverScopes(c.repoRoot, c.cfg.Discovery)
}

// GetScope resolves reference — a scope name or a filesystem path — to
// its Scope.
func (c *Core) GetScope(reference string) (*schema.Scope, error) {
	return scopeloader.GetScope(c.repoRoot, reference, c.cfg.Discovery)
}

func (c *Core) buildGraph() (*scopegraph.Graph, error) {
	scopes, err := c.DiscoverScopes()
	if err != nil {
		return nil, err
	}
	graph, errs := scopegraph.Build(scopes)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return graph, nil
}

// Query parses, optimizes, and executes cqlText against the repository.
// The query cache is consulted before execution; a hit skips execution
// entirely and returns a result whose Provenance.Cached is true. Both
// outcomes are recorded to telemetry.
func (c *Core) Query(cqlText string) (*executor.Result, error) {
	start := time.Now()

	query, err := cql.Parse(cqlText)
	if err != nil {
		c.telemetry.RecordFailure(cqlText, time.Since(start), err)
		return nil, err
	}

	graph, err := c.buildGraph()
	if err != nil {
		c.telemetry.RecordFailure(cqlText, time.Since(start), err)
		return nil, err
	}

	plan := optimizer.Optimize(query, graph)

	planScopes := make([]*schema.Scope, 0, len(plan.ScopePaths))
	for _, path := range plan.ScopePaths {
		if s, ok := graph.ScopeByPath(path); ok {
			planScopes = append(planScopes, s)
		}
	}
	checksums, err := cache.ChecksumsForScopes(planScopes, lockresolve.ScopeChecksum)
	if err != nil {
		c.telemetry.RecordFailure(cqlText, time.Since(start), err)
		return nil, err
	}
	key := cache.Key(plan, cache.Fingerprint(checksums))

	if hit, ok := c.cache.Get(key); ok {
		result := *hit
		if result.Provenance != nil {
			prov := *result.Provenance
			prov.Cached = true
			result.Provenance = &prov
		}
		c.telemetry.RecordSuccess(cqlText, result.Provenance, true)
		return &result, nil
	}

	result, err := c.cache.GetOrCompute(key, func() (*executor.Result, error) {
		return executor.Execute(plan, cqlText)
	})
	if err != nil {
		c.telemetry.RecordFailure(cqlText, time.Since(start), err)
		return nil, err
	}
	c.telemetry.RecordSuccess(cqlText, result.Provenance, false)
	return result, nil
}

// QueryWithProvenance is Query with the provenance record split out for
// callers that want it independently of the result's documents.
func (c *Core) QueryWithProvenance(cqlText string) (*executor.Result, *executor.Provenance, error) {
	result, err := c.Query(cqlText)
	if err != nil {
		return nil, nil, err
	}
	return result, result.Provenance, nil
}

// QueryWithStats is Query, additionally returning the aggregate
// telemetry counters as of immediately after this query.
func (c *Core) QueryWithStats(cqlText string) (*executor.Result, telemetry.Stats, error) {
	result, err := c.Query(cqlText)
	return result, c.telemetry.Stats(), err
}

// Stats returns the current aggregate telemetry counters.
func (c *Core) Stats() telemetry.Stats { return c.telemetry.Stats() }

// LoadKind loads scopeName's data file for kind into dest, a pointer to
// the kind's typed container struct.
func (c *Core) LoadKind(scopeName string, kind schema.Kind, dest interface{}) error {
	s, err := c.GetScope(scopeName)
	if err != nil {
		return err
	}
	return scopeloader.LoadDocument(s, kind, dest)
}

// GenerateLock resolves the current scope graph into a LockFile and
// writes it to the repository root, overwriting any existing lock file.
func (c *Core) GenerateLock() (*lockresolve.LockFile, error) {
	graph, err := c.buildGraph()
	if err != nil {
		return nil, err
	}
	lf, err := lockresolve.Resolve(graph)
	if err != nil {
		return nil, err
	}
	if err := lockresolve.Write(c.repoRoot, lf); err != nil {
		return nil, err
	}
	return lf, nil
}

// ValidateLock reads the repository's lock file and validates it
// against the live scope graph, returning every issue found (never
// short-circuiting on the first one).
func (c *Core) ValidateLock() ([]rherrors.ValidationIssue, error) {
	lf, err := lockresolve.Read(c.repoRoot)
	if err != nil {
		return nil, err
	}
	graph, err := c.buildGraph()
	if err != nil {
		return nil, err
	}
	return lockresolve.Validate(lf, graph, c.cfg.Lock), nil
}

// SearchMode selects the matching/ranking strategy Search uses.
type SearchMode string

const (
	SearchRegex    SearchMode = "regex"
	SearchFullText SearchMode = "fulltext"
	SearchHybrid   SearchMode = "hybrid"
)

// Filter narrows Search results to documents matching scope name and/or
// source-file modification time, using metadata carried on the index's
// Document records (§4.7).
type Filter struct {
	ScopeName      string
	ModifiedAfter  time.Time
	ModifiedBefore time.Time
}

func (f Filter) empty() bool {
	return f.ScopeName == "" && f.ModifiedAfter.IsZero() && f.ModifiedBefore.IsZero()
}

func (f Filter) keep(d search.Document) bool {
	if f.ScopeName != "" && d.ScopeName != f.ScopeName {
		return false
	}
	if !f.ModifiedAfter.IsZero() && d.ModTime.Before(f.ModifiedAfter) {
		return false
	}
	if !f.ModifiedBefore.IsZero() && d.ModTime.After(f.ModifiedBefore) {
		return false
	}
	return true
}

// buildSearchIndex returns the cached index over every scope's
// documents of kind, keyed by kind plus a fingerprint of every scope's
// content checksum. An edit to any file of any scope changes that
// fingerprint, so it invalidates the cached index of every kind, not only
// the kind whose file changed.
func (c *Core) buildSearchIndex(kind schema.Kind) (*search.Index, error) {
	scopes, err := c.DiscoverScopes()
	if err != nil {
		return nil, err
	}

	checksums, err := cache.ChecksumsForScopes(scopes, lockresolve.ScopeChecksum)
	if err != nil {
		return nil, err
	}
	indexKey := string(kind) + ":" + cache.Fingerprint(checksums)

	var buildErr error
	idx := c.searchIndex.GetOrBuild(indexKey, func() *search.Index {
		fileName := schema.FileNameForKind[kind]
		var docs []search.Document
		for _, s := range scopes {
			path, ok := s.Files[fileName]
			if !ok {
				continue
			}
			items, err := executor.ReadKindItems(path, kind)
			if err != nil {
				buildErr = err
				return nil
			}
			modTime := time.Time{}
			if info, statErr := os.Stat(path); statErr == nil {
				modTime = info.ModTime()
			}
			for _, item := range items {
				id, _ := item["id"].(string)
				docs = append(docs, search.Document{
					ID:        id,
					ScopeName: s.Name,
					Kind:      string(kind),
					FilePath:  path,
					ModTime:   modTime,
					Fields:    item,
				})
			}
		}
		return search.Build(docs)
	})
	if buildErr != nil {
		return nil, buildErr
	}
	return idx, nil
}

// Search runs pattern against the index over every scope's documents of
// kind, in mode. field narrows a regex search to one document field; it
// is ignored by the other modes. weights controls Hybrid's blend of
// full-text relevance against literal keyword matches (ignored by the
// other modes). A non-empty filter is applied to every mode's results,
// narrowing by scope name and/or source-file modification time.
func (c *Core) Search(kind schema.Kind, mode SearchMode, pattern, field string, weights search.Weights, filter Filter, limit int) ([]search.Hit, error) {
	idx, err := c.buildSearchIndex(kind)
	if err != nil {
		return nil, err
	}

	var hits []search.Hit
	switch mode {
	case SearchRegex:
		hits, err = idx.Regex(pattern, field)
		if err != nil {
			return nil, err
		}
	case SearchHybrid:
		hits = idx.Hybrid(pattern, weights, limit)
	default:
		hits = idx.FullText(pattern, limit)
	}

	if !filter.empty() {
		hits = idx.FilterHits(hits, limit, filter.keep)
	}
	return hits, nil
}

// Suggest returns up to limit indexed terms of kind's corpus beginning
// with prefix, ranked by total postings count (every occurrence of the
// term across the corpus).
func (c *Core) Suggest(kind schema.Kind, prefix string, limit int) ([]string, error) {
	idx, err := c.buildSearchIndex(kind)
	if err != nil {
		return nil, err
	}
	return idx.GetSuggestions(prefix, limit), nil
}
