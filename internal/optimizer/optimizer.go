// Package optimizer implements the query optimizer (C5): rewriting a CQL
// AST for condition reordering, projection pushdown, and redundancy
// elimination, then producing an execution plan with cost estimates. The
// optimizer performs no I/O and is deterministic over canonicalized ASTs.
package optimizer

import (
	"fmt"
	"sort"

	"rhema/internal/cql"
	"rhema/internal/logging"
	"rhema/internal/schema"
	"rhema/internal/scopegraph"
)

// StepKind names one phase of an execution plan.
type StepKind string

const (
	StepLoad      StepKind = "load"
	StepFilter    StepKind = "filter"
	StepSort      StepKind = "sort"
	StepPaginate  StepKind = "paginate"
	StepProject   StepKind = "project"
)

// Step is one ordered plan step, annotated with its estimated cost and time.
type Step struct {
	Kind            StepKind
	Description     string
	EstimatedCost   float64
	EstimatedTimeMs float64
}

// Plan is an ordered list of plan steps produced from an optimized query,
// annotated with the set of scope files it will read.
type Plan struct {
	Query            *cql.Query
	Steps            []Step
	ScopePaths       []string // canonical scope directory paths considered, parallel to ScopeFiles/ScopeNames
	ScopeNames       []string // declared scope names, parallel to ScopeFiles
	ScopeFiles       []string // absolute data file paths the load step will read
	ProjectionFields []string // non-nil only when narrower than the full document
	ExpectedTotalMs  float64
	Confidence       float64
	Optimizations    []string
}

// predicateCost ranks operators from cheapest to most expensive, used by
// the predicate-reordering rule.
var predicateCost = map[cql.Operator]float64{
	cql.OpEq:       1,
	cql.OpNeq:      1.2,
	cql.OpLt:       1.5,
	cql.OpLte:      1.5,
	cql.OpGt:       1.5,
	cql.OpGte:      1.5,
	cql.OpContains: 3,
	cql.OpMatches:  5,
}

// Optimize rewrites q and produces an execution plan against graph. It
// never mutates q: the returned plan carries its own (possibly reordered,
// possibly pruned) copy of the conditions.
func Optimize(q *cql.Query, graph *scopegraph.Graph) *Plan {
	timer := logging.StartTimer(logging.CategoryOptimizer, "Optimize")
	defer timer.Stop()

	var applied []string

	conditions := reorderPredicates(q.Conditions)
	if !sameOrder(conditions, q.Conditions) {
		applied = append(applied, "predicate_reordering")
	}

	before := len(conditions)
	conditions = eliminateRedundant(conditions)
	if len(conditions) < before {
		applied = append(applied, "redundancy_elimination")
	}

	optimizedQuery := *q
	optimizedQuery.Conditions = conditions

	var projectionFields []string
	if q.Projection.Kind == cql.ProjectionFields {
		projectionFields = q.Projection.Fields
		applied = append(applied, "projection_pushdown")
	}

	scopePaths, scopeNames, scopeFiles := selectScopes(&optimizedQuery, graph)
	if q.HasScopeSelector() {
		applied = append(applied, "scope_pruning")
	}

	plan := &Plan{
		Query:            &optimizedQuery,
		ScopePaths:       scopePaths,
		ScopeNames:       scopeNames,
		ScopeFiles:       scopeFiles,
		ProjectionFields: projectionFields,
		Optimizations:    applied,
	}

	plan.Steps = buildSteps(&optimizedQuery, len(scopeFiles), projectionFields)
	for _, s := range plan.Steps {
		plan.ExpectedTotalMs += s.EstimatedTimeMs
	}
	plan.Confidence = confidenceFor(len(applied))

	logging.Optimizer("plan built: %d step(s), %d scope file(s), optimizations=%v", len(plan.Steps), len(scopeFiles), applied)
	return plan
}

// reorderPredicates sorts conditions within each maximal run joined by AND
// (using OR as a barrier, since reordering across OR can change short-
// circuit semantics) so that cheaper operators run first. The conjunction
// markers themselves are preserved in place.
func reorderPredicates(conditions []cql.Condition) []cql.Condition {
	if len(conditions) < 2 {
		return append([]cql.Condition(nil), conditions...)
	}
	out := append([]cql.Condition(nil), conditions...)

	runStart := 0
	for i := 1; i <= len(out); i++ {
		if i == len(out) || out[i].Conjunction == cql.ConjunctionOr {
			sortRun(out[runStart:i])
			runStart = i
		}
	}
	return out
}

func sortRun(run []cql.Condition) {
	// Conjunction markers of entries[1:] in the run are all "AND" (or empty
	// for the very first condition overall); preserve entry[0]'s marker and
	// only reorder the condition bodies among the remaining stable sort.
	conj := make([]cql.Conjunction, len(run))
	for i, c := range run {
		conj[i] = c.Conjunction
	}
	sort.SliceStable(run, func(i, j int) bool {
		return predicateCost[run[i].Op] < predicateCost[run[j].Op]
	})
	for i := range run {
		run[i].Conjunction = conj[i]
	}
}

func sameOrder(a, b []cql.Condition) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Field != b[i].Field || a[i].Op != b[i].Op {
			return false
		}
	}
	return true
}

// eliminateRedundant drops predicates implied by another predicate on the
// same field within the same AND run (e.g. "x = 5 AND x > 3" -> "x = 5").
func eliminateRedundant(conditions []cql.Condition) []cql.Condition {
	if len(conditions) < 2 {
		return conditions
	}
	drop := make([]bool, len(conditions))

	runStart := 0
	for i := 1; i <= len(conditions); i++ {
		if i == len(conditions) || conditions[i].Conjunction == cql.ConjunctionOr {
			markRedundantInRun(conditions[runStart:i], drop[runStart:i])
			runStart = i
		}
	}

	var out []cql.Condition
	for i, c := range conditions {
		if drop[i] {
			continue
		}
		out = append(out, c)
	}
	return out
}

func markRedundantInRun(run []cql.Condition, drop []bool) {
	for i, ci := range run {
		if ci.Op != cql.OpEq {
			continue
		}
		eqVal, ok := numericValue(ci.Value.Value)
		if !ok {
			continue
		}
		for j, cj := range run {
			if i == j || cj.Field != ci.Field || drop[j] {
				continue
			}
			bound, ok := numericValue(cj.Value.Value)
			if !ok {
				continue
			}
			switch cj.Op {
			case cql.OpGt:
				if eqVal > bound {
					drop[j] = true
				}
			case cql.OpGte:
				if eqVal >= bound {
					drop[j] = true
				}
			case cql.OpLt:
				if eqVal < bound {
					drop[j] = true
				}
			case cql.OpLte:
				if eqVal <= bound {
					drop[j] = true
				}
			}
		}
	}
}

func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// selectScopes determines the scope set a plan will read from: the single
// named scope if a selector is present, otherwise every scope whose data
// files include the target document kind.
func selectScopes(q *cql.Query, graph *scopegraph.Graph) (paths, names, files []string) {
	filename := kindFileName(q.Target)

	var candidates []*schema.Scope
	if q.HasScopeSelector() {
		if s, ok := graph.ScopeByName(q.ScopeSelector); ok {
			candidates = []*schema.Scope{s}
		}
	} else {
		candidates = graph.Scopes()
	}

	type entry struct{ path, name, file string }
	var entries []entry
	for _, s := range candidates {
		file, ok := s.Files[filename]
		if !ok {
			continue
		}
		entries = append(entries, entry{path: s.Path, name: s.Name, file: file})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	for _, e := range entries {
		paths = append(paths, e.path)
		names = append(names, e.name)
		files = append(files, e.file)
	}
	return paths, names, files
}

// kindFileName maps a lowercased CQL FROM target (e.g. "todos",
// "template_library") to its data filename. Unrecognized targets fall
// back to "<target>.yaml" and simply won't match any scope's Files map.
func kindFileName(target string) string {
	for _, kind := range schema.AllKinds {
		if schema.RootKeyForKind[kind] == target {
			return schema.FileNameForKind[kind]
		}
	}
	return target + ".yaml"
}

func buildSteps(q *cql.Query, fileCount int, projectionFields []string) []Step {
	steps := []Step{
		{
			Kind:            StepLoad,
			Description:     fmt.Sprintf("load %d file(s) for %s", fileCount, q.Target),
			EstimatedCost:   float64(fileCount),
			EstimatedTimeMs: float64(fileCount) * 0.5,
		},
	}
	if len(q.Conditions) > 0 {
		cost := 0.0
		for _, c := range q.Conditions {
			cost += predicateCost[c.Op]
		}
		steps = append(steps, Step{
			Kind:            StepFilter,
			Description:     fmt.Sprintf("apply %d predicate(s)", len(q.Conditions)),
			EstimatedCost:   cost,
			EstimatedTimeMs: cost * 0.2,
		})
	}
	if len(q.OrderBy) > 0 {
		steps = append(steps, Step{
			Kind:            StepSort,
			Description:     fmt.Sprintf("sort by %d key(s)", len(q.OrderBy)),
			EstimatedCost:   float64(len(q.OrderBy)),
			EstimatedTimeMs: float64(len(q.OrderBy)) * 0.3,
		})
	}
	if q.Limit != nil || q.Offset != nil {
		steps = append(steps, Step{
			Kind:            StepPaginate,
			Description:     "apply offset/limit",
			EstimatedCost:   0.1,
			EstimatedTimeMs: 0.05,
		})
	}
	projDesc := "project full documents"
	if q.Projection.Kind == cql.ProjectionCount {
		projDesc = "project count"
	} else if len(projectionFields) > 0 {
		projDesc = fmt.Sprintf("project %d field(s)", len(projectionFields))
	}
	steps = append(steps, Step{Kind: StepProject, Description: projDesc, EstimatedCost: 0.2, EstimatedTimeMs: 0.1})
	return steps
}

// confidenceFor is a fixed function of how many optimizations applied,
// per §4.5.
func confidenceFor(n int) float64 {
	switch {
	case n == 0:
		return 0.5
	case n == 1:
		return 0.7
	case n == 2:
		return 0.85
	default:
		return 0.95
	}
}
