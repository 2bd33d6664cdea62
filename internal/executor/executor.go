// Package executor implements query execution (C6): running an optimizer
// plan against a scope's data files, producing a result set and a
// provenance record describing how it was produced.
package executor

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"rhema/internal/cql"
	"rhema/internal/logging"
	"rhema/internal/optimizer"
	"rhema/internal/rherrors"
	"rhema/internal/schema"
)

// Document is a generically decoded data record: the raw YAML map for one
// item, keyed by its declared field names (including "custom"). Querying
// against typed structs would force a kind-specific code path per
// document kind; a generic map lets field paths like "custom.owner"
// resolve uniformly regardless of kind.
type Document map[string]interface{}

// FieldProvenance records, for one document id, which scope contributed
// each top-level field in the final merged view.
type FieldProvenance map[string]map[string]string // docID -> field -> scope name

// Provenance records how a result set was produced (§4.6).
type Provenance struct {
	OriginalQuery    string
	ExecutedAt       time.Time
	ExecutionTimeMs  float64
	ScopesSearched   []string
	FilesAccessed    []string
	PhaseTimes       map[string]float64
	AppliedFilters   []string
	ExecutionSteps   []string
	FieldProvenance  FieldProvenance
	Cached           bool
	QueryID          string
}

// Result is the outcome of executing a plan.
type Result struct {
	Documents  []Document
	Count      int
	Provenance *Provenance
}

// Execute runs plan's steps against disk, in order: load, filter, sort,
// paginate, project. queryText is the original CQL source, carried
// through only for the provenance record.
func Execute(plan *optimizer.Plan, queryText string) (*Result, error) {
	overall := logging.StartTimer(logging.CategoryExecutor, "Execute")
	defer overall.Stop()

	prov := &Provenance{
		OriginalQuery:   queryText,
		QueryID:         uuid.NewString(),
		ScopesSearched:  append([]string(nil), plan.ScopePaths...),
		FilesAccessed:   append([]string(nil), plan.ScopeFiles...),
		PhaseTimes:      map[string]float64{},
		FieldProvenance: FieldProvenance{},
	}

	loadStart := time.Now()
	docs, fieldProv, err := loadDocuments(plan)
	prov.PhaseTimes["load"] = msSince(loadStart)
	if err != nil {
		return nil, err
	}
	prov.FieldProvenance = fieldProv
	prov.ExecutionSteps = append(prov.ExecutionSteps, "load")

	filterStart := time.Now()
	if len(plan.Query.Conditions) > 0 {
		docs = filterDocuments(docs, plan.Query.Conditions)
		for _, c := range plan.Query.Conditions {
			prov.AppliedFilters = append(prov.AppliedFilters, fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value.Value))
		}
	}
	prov.PhaseTimes["filter"] = msSince(filterStart)
	prov.ExecutionSteps = append(prov.ExecutionSteps, "filter")

	sortStart := time.Now()
	if len(plan.Query.OrderBy) > 0 {
		sortDocuments(docs, plan.Query.OrderBy)
	}
	prov.PhaseTimes["sort"] = msSince(sortStart)
	prov.ExecutionSteps = append(prov.ExecutionSteps, "sort")

	totalMatched := len(docs)

	pageStart := time.Now()
	docs = paginate(docs, plan.Query.Offset, plan.Query.Limit)
	prov.PhaseTimes["paginate"] = msSince(pageStart)
	prov.ExecutionSteps = append(prov.ExecutionSteps, "paginate")

	projStart := time.Now()
	projected := project(docs, plan.Query.Projection)
	prov.PhaseTimes["project"] = msSince(projStart)
	prov.ExecutionSteps = append(prov.ExecutionSteps, "project")

	prov.ExecutedAt = time.Now().UTC()
	prov.ExecutionTimeMs = msSince(loadStart)

	logging.Executor("executed query target=%s matched=%d returned=%d", plan.Query.Target, totalMatched, len(projected))
	return &Result{Documents: projected, Count: totalMatched, Provenance: prov}, nil
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// loadDocuments reads every scope file in the plan, decodes its item list
// generically, and merges documents sharing an id across scopes using
// last-writer-wins by ascending scope name — a later-sorted scope's
// fields take precedence over an earlier one's for the same id.
func loadDocuments(plan *optimizer.Plan) ([]Document, FieldProvenance, error) {
	type scopedFile struct {
		scopeName string
		path      string
	}
	files := make([]scopedFile, 0, len(plan.ScopeFiles))
	for i, f := range plan.ScopeFiles {
		files = append(files, scopedFile{scopeName: plan.ScopeNames[i], path: f})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].scopeName < files[j].scopeName })

	merged := map[string]Document{}
	order := []string{}
	prov := FieldProvenance{}
	rootKey := plan.Query.Target

	for _, sf := range files {
		items, err := readItems(sf.path, rootKey)
		if err != nil {
			return nil, nil, err
		}
		for _, item := range items {
			id, _ := item["id"].(string)
			key := id
			if key == "" {
				key = fmt.Sprintf("%s#%d", sf.path, len(order))
			}
			existing, ok := merged[key]
			if !ok {
				existing = Document{}
				order = append(order, key)
			}
			for field, val := range item {
				existing[field] = val
				if prov[key] == nil {
					prov[key] = map[string]string{}
				}
				prov[key][field] = sf.scopeName
			}
			merged[key] = existing
		}
	}

	docs := make([]Document, 0, len(order))
	for _, key := range order {
		docs = append(docs, merged[key])
	}
	return docs, prov, nil
}

// ReadKindItems loads and normalizes every item of kind stored at path,
// for collaborators (the search index builder) that need the same
// generic, recursively-normalized document shape the load phase
// produces without going through a full plan.
func ReadKindItems(path string, kind schema.Kind) ([]Document, error) {
	return readItems(path, schema.RootKeyForKind[kind])
}

func readItems(path, rootKey string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &rherrors.FileNotFound{Path: path}
		}
		return nil, &rherrors.IoError{Path: path, Cause: err}
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &rherrors.InvalidYaml{File: path, Message: "failed to parse YAML", Cause: err}
	}

	rawItems, ok := raw[rootKey].([]interface{})
	if !ok {
		return nil, nil
	}
	items := make([]Document, 0, len(rawItems))
	for _, ri := range rawItems {
		m, ok := toStringMap(ri)
		if !ok {
			return nil, &rherrors.InvalidYaml{File: path, Message: fmt.Sprintf("item under %q is not a mapping", rootKey)}
		}
		items = append(items, m)
	}
	return items, nil
}

// toStringMap recursively normalizes yaml.v3's map[string]interface{} (and
// any nested map[string]interface{} values) so field-path lookups don't
// need to special-case nested mapping representations.
func toStringMap(v interface{}) (Document, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return Document(normalizeMap(m)), true
}

func normalizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalizeMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// getField resolves a dotted field path against a document, descending
// through nested maps.
func getField(doc Document, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = map[string]interface{}(doc)
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// filterDocuments evaluates WHERE conditions grouped into OR-separated
// runs of AND-joined predicates, matching the optimizer's grouping so
// reordering/elimination never changes evaluated semantics.
func filterDocuments(docs []Document, conditions []cql.Condition) []Document {
	var out []Document
	for _, d := range docs {
		if evaluateConditions(d, conditions) {
			out = append(out, d)
		}
	}
	return out
}

func evaluateConditions(doc Document, conditions []cql.Condition) bool {
	if len(conditions) == 0 {
		return true
	}
	matched := false
	runStart := 0
	for i := 1; i <= len(conditions); i++ {
		if i == len(conditions) || conditions[i].Conjunction == cql.ConjunctionOr {
			run := conditions[runStart:i]
			runResult := true
			for _, c := range run {
				if !evalCondition(doc, c) {
					runResult = false
					break
				}
			}
			matched = matched || runResult
			runStart = i
		}
	}
	return matched
}

func evalCondition(doc Document, c cql.Condition) bool {
	val, ok := getField(doc, c.Field)
	if !ok {
		return false
	}
	switch c.Op {
	case cql.OpContains:
		return evalContains(val, c.Value.Value)
	case cql.OpMatches:
		return evalMatches(val, c.Value.Value)
	default:
		return evalCompare(val, c.Op, c.Value.Value)
	}
}

func evalContains(val, needle interface{}) bool {
	switch v := val.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(v, s)
	case []interface{}:
		for _, e := range v {
			if equalValues(e, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func evalMatches(val, pattern interface{}) bool {
	s, ok := val.(string)
	if !ok {
		return false
	}
	p, ok := pattern.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(p)
	if err != nil {
		logging.ExecutorWarn("invalid MATCHES pattern %q: %v", p, err)
		return false
	}
	return re.MatchString(s)
}

// evalCompare reconciles the YAML-decoded field value and the CQL
// literal onto a common comparable representation (numeric, boolean,
// time, or string) before applying op. Unreconcilable type pairs are a
// type mismatch and evaluate to false without aborting the query (§4.6
// edge case: filter predicates never fail the query).
func evalCompare(val interface{}, op cql.Operator, lit interface{}) bool {
	if fa, fb, ok := asNumericPair(val, lit); ok {
		return compareOrdered(fa, fb, op)
	}
	if ta, tb, ok := asTimePair(val, lit); ok {
		return compareOrdered(float64(ta.UnixNano()), float64(tb.UnixNano()), op)
	}
	if ba, bb, ok := asBoolPair(val, lit); ok {
		if op == cql.OpEq {
			return ba == bb
		}
		if op == cql.OpNeq {
			return ba != bb
		}
		logging.ExecutorWarn("ordering operator %s applied to boolean field", op)
		return false
	}
	sa, sb := fmt.Sprint(val), fmt.Sprint(lit)
	return compareOrdered(sa, sb, op)
}

func equalValues(a, b interface{}) bool {
	if fa, fb, ok := asNumericPair(a, b); ok {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asNumericPair(a, b interface{}) (float64, float64, bool) {
	fa, ok1 := toFloat(a)
	fb, ok2 := toFloat(b)
	return fa, fb, ok1 && ok2
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asTimePair(a, b interface{}) (time.Time, time.Time, bool) {
	ta, ok1 := toTime(a)
	tb, ok2 := toTime(b)
	return ta, tb, ok1 && ok2
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func asBoolPair(a, b interface{}) (bool, bool, bool) {
	ba, ok1 := a.(bool)
	bb, ok2 := b.(bool)
	return ba, bb, ok1 && ok2
}

type ordered interface{ ~float64 | ~string }

func compareOrdered[T ordered](a, b T, op cql.Operator) bool {
	switch op {
	case cql.OpEq:
		return a == b
	case cql.OpNeq:
		return a != b
	case cql.OpLt:
		return a < b
	case cql.OpLte:
		return a <= b
	case cql.OpGt:
		return a > b
	case cql.OpGte:
		return a >= b
	default:
		return false
	}
}

// sortDocuments performs a stable multi-key sort; documents missing an
// ordering field sort after documents that have it (§4.6 edge case).
func sortDocuments(docs []Document, terms []cql.OrderTerm) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, term := range terms {
			vi, oki := getField(docs[i], term.Field)
			vj, okj := getField(docs[j], term.Field)
			if !oki && !okj {
				continue
			}
			if !oki {
				return false
			}
			if !okj {
				return true
			}
			cmp := compareForSort(vi, vj)
			if cmp == 0 {
				continue
			}
			if term.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareForSort(a, b interface{}) int {
	if fa, fb, ok := asNumericPair(a, b); ok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	if ta, tb, ok := asTimePair(a, b); ok {
		return int(ta.Sub(tb))
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	return strings.Compare(sa, sb)
}

func paginate(docs []Document, offset, limit *int) []Document {
	start := 0
	if offset != nil {
		start = *offset
	}
	if start > len(docs) {
		start = len(docs)
	}
	docs = docs[start:]
	if limit != nil && *limit < len(docs) {
		docs = docs[:*limit]
	}
	return docs
}

func project(docs []Document, proj cql.Projection) []Document {
	switch proj.Kind {
	case cql.ProjectionCount:
		return []Document{{"count": len(docs)}}
	case cql.ProjectionFields:
		out := make([]Document, len(docs))
		for i, d := range docs {
			sub := Document{}
			for _, f := range proj.Fields {
				if v, ok := getField(d, f); ok {
					sub[f] = v
				}
			}
			out[i] = sub
		}
		return out
	default:
		return docs
	}
}
