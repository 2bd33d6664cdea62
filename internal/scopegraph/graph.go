// Package scopegraph builds the inter-scope dependency DAG (C3): cycle
// detection and filesystem-containment hierarchy, computed eagerly from a
// single pass over a discovered scope list.
package scopegraph

import (
	"path/filepath"
	"sort"
	"strings"

	"rhema/internal/logging"
	"rhema/internal/rherrors"
	"rhema/internal/schema"
)

// Graph is an immutable snapshot of the dependency graph, hierarchy, and
// scope lookup tables for one discovered scope set.
type Graph struct {
	scopes   []*schema.Scope
	byPath   map[string]*schema.Scope
	byName   map[string]*schema.Scope
	// edges maps a scope's canonical path to the canonical paths of the
	// scopes it depends on, in declaration order.
	edges map[string][]string
}

// Build constructs the dependency graph, hierarchy index, and lookup
// tables from scopes in one pass. Declared dependencies whose target does
// not resolve to a scope in the set are reported as *rherrors.ScopeNotFound,
// one per unresolved edge, alongside the otherwise-complete graph.
func Build(scopes []*schema.Scope) (*Graph, []error) {
	g := &Graph{
		scopes: scopes,
		byPath: make(map[string]*schema.Scope, len(scopes)),
		byName: make(map[string]*schema.Scope, len(scopes)),
		edges:  make(map[string][]string, len(scopes)),
	}
	for _, s := range scopes {
		g.byPath[s.Path] = s
		g.byName[s.Name] = s
	}

	var errs []error
	for _, s := range scopes {
		for _, dep := range s.Dependencies {
			target := filepath.Clean(filepath.Join(s.Path, dep.Path))
			if _, ok := g.byPath[target]; !ok {
				errs = append(errs, &rherrors.ScopeNotFound{Reference: dep.Path})
				continue
			}
			g.edges[s.Path] = append(g.edges[s.Path], target)
		}
	}

	logging.Graph("built dependency graph: %d scope(s), %d unresolved edge(s)", len(scopes), len(errs))
	return g, errs
}

// Scopes returns the scopes backing this graph, in the same (sorted)
// order DiscoverScopes produced them.
func (g *Graph) Scopes() []*schema.Scope { return g.scopes }

// ScopeByPath looks up a scope by its canonical directory path.
func (g *Graph) ScopeByPath(path string) (*schema.Scope, bool) {
	s, ok := g.byPath[path]
	return s, ok
}

// ScopeByName looks up a scope by its declared name.
func (g *Graph) ScopeByName(name string) (*schema.Scope, bool) {
	s, ok := g.byName[name]
	return s, ok
}

// DependsOn returns the canonical paths a scope directly depends on.
func (g *Graph) DependsOn(scopePath string) []string {
	return append([]string(nil), g.edges[scopePath]...)
}

// CheckCycles runs a DFS with a recursion stack over the dependency graph
// and returns a *rherrors.CircularDependency naming the first back-edge
// node encountered, or nil if the graph is acyclic. Traversal order is the
// scope set's discovery order, so the reported node is deterministic.
func (g *Graph) CheckCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.scopes))

	var visit func(path string) error
	visit = func(path string) error {
		color[path] = gray
		for _, dep := range g.edges[path] {
			switch color[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case gray:
				return &rherrors.CircularDependency{Node: nameOrPath(g, dep)}
			}
		}
		color[path] = black
		return nil
	}

	for _, s := range g.scopes {
		if color[s.Path] == white {
			if err := visit(s.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

// CycleParticipants returns the canonical paths of every scope that
// participates in at least one cycle in the dependency graph, computed
// via Tarjan's strongly-connected-components algorithm: any SCC with
// more than one member is a cycle, and a single-member SCC with a
// self-edge counts too. Unlike CheckCycles, which stops at the first
// back-edge, this visits the whole graph so callers can flag every
// affected scope, not just one.
func (g *Graph) CycleParticipants() map[string]bool {
	index := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	counter := 0
	participants := map[string]bool{}

	var strongconnect func(v string)
	strongconnect = func(v string) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			if _, ok := index[w]; !ok {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var scc []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 {
				for _, n := range scc {
					participants[n] = true
				}
			} else {
				for _, e := range g.edges[scc[0]] {
					if e == scc[0] {
						participants[scc[0]] = true
					}
				}
			}
		}
	}

	for _, s := range g.scopes {
		if _, ok := index[s.Path]; !ok {
			strongconnect(s.Path)
		}
	}
	return participants
}

func nameOrPath(g *Graph, path string) string {
	if s, ok := g.byPath[path]; ok {
		return s.Name
	}
	return path
}

// Descendants returns the scopes whose directory is strictly below
// scopePath on the filesystem, sorted by path.
func (g *Graph) Descendants(scopePath string) []*schema.Scope {
	prefix := scopePath + string(filepath.Separator)
	var out []*schema.Scope
	for _, s := range g.scopes {
		if s.Path != scopePath && strings.HasPrefix(s.Path+string(filepath.Separator), prefix) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// FindNearestScope returns the scope whose directory is the longest
// prefix of path — the scope path must be path itself or an ancestor
// directory of it.
func (g *Graph) FindNearestScope(path string) (*schema.Scope, bool) {
	clean := filepath.Clean(path)
	var best *schema.Scope
	for _, s := range g.scopes {
		if clean == s.Path || strings.HasPrefix(clean+string(filepath.Separator), s.Path+string(filepath.Separator)) {
			if best == nil || len(s.Path) > len(best.Path) {
				best = s
			}
		}
	}
	return best, best != nil
}
