package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rhema/internal/cql"
	"rhema/internal/optimizer"
	"rhema/internal/schema"
	"rhema/internal/scopegraph"
)

func writeTodos(t *testing.T, dir, yamlBody string) string {
	t.Helper()
	path := filepath.Join(dir, "todos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	return path
}

func planFor(t *testing.T, src string, scopes ...*schema.Scope) *optimizer.Plan {
	t.Helper()
	q, err := cql.Parse(src)
	require.NoError(t, err)
	graph, errs := scopegraph.Build(scopes)
	require.Empty(t, errs)
	return optimizer.Optimize(q, graph)
}

const fixtureTodos = `
todos:
  - id: t1
    title: Fix login bug
    status: pending
    priority: high
    created_at: 2026-01-01T00:00:00Z
    updated_at: 2026-01-01T00:00:00Z
    tags: [urgent, auth]
  - id: t2
    title: Write docs
    status: completed
    priority: low
    created_at: 2026-01-02T00:00:00Z
    updated_at: 2026-01-02T00:00:00Z
    tags: [docs]
`

func TestExecuteFiltersByStatus(t *testing.T) {
	dir := t.TempDir()
	path := writeTodos(t, dir, fixtureTodos)
	s := &schema.Scope{Name: "svc", Path: dir, Version: "1.0.0", SchemaVersion: "1.0.0", Files: map[string]string{"todos.yaml": path}}

	plan := planFor(t, "SELECT * FROM todos WHERE status = 'pending'", s)
	result, err := Execute(plan, "SELECT * FROM todos WHERE status = 'pending'")
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	require.Equal(t, "t1", result.Documents[0]["id"])
}

func TestExecuteOrdersByField(t *testing.T) {
	dir := t.TempDir()
	path := writeTodos(t, dir, fixtureTodos)
	s := &schema.Scope{Name: "svc", Path: dir, Version: "1.0.0", SchemaVersion: "1.0.0", Files: map[string]string{"todos.yaml": path}}

	plan := planFor(t, "SELECT * FROM todos ORDER BY priority DESC", s)
	result, err := Execute(plan, "")
	require.NoError(t, err)
	require.Len(t, result.Documents, 2)
}

func TestExecutePaginatesWithOffsetAndLimit(t *testing.T) {
	dir := t.TempDir()
	path := writeTodos(t, dir, fixtureTodos)
	s := &schema.Scope{Name: "svc", Path: dir, Version: "1.0.0", SchemaVersion: "1.0.0", Files: map[string]string{"todos.yaml": path}}

	plan := planFor(t, "SELECT * FROM todos ORDER BY id ASC LIMIT 1 OFFSET 1", s)
	result, err := Execute(plan, "")
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	require.Equal(t, "t2", result.Documents[0]["id"])
}

func TestExecuteProjectsFieldList(t *testing.T) {
	dir := t.TempDir()
	path := writeTodos(t, dir, fixtureTodos)
	s := &schema.Scope{Name: "svc", Path: dir, Version: "1.0.0", SchemaVersion: "1.0.0", Files: map[string]string{"todos.yaml": path}}

	plan := planFor(t, "SELECT id, title FROM todos", s)
	result, err := Execute(plan, "")
	require.NoError(t, err)
	for _, doc := range result.Documents {
		require.Len(t, doc, 2)
		require.Contains(t, doc, "id")
		require.Contains(t, doc, "title")
	}
}

func TestExecuteContainsOperatorMatchesListMembership(t *testing.T) {
	dir := t.TempDir()
	path := writeTodos(t, dir, fixtureTodos)
	s := &schema.Scope{Name: "svc", Path: dir, Version: "1.0.0", SchemaVersion: "1.0.0", Files: map[string]string{"todos.yaml": path}}

	plan := planFor(t, "SELECT * FROM todos WHERE tags CONTAINS 'urgent'", s)
	result, err := Execute(plan, "")
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	require.Equal(t, "t1", result.Documents[0]["id"])
}

func TestExecuteMatchesOperatorAppliesRegex(t *testing.T) {
	dir := t.TempDir()
	path := writeTodos(t, dir, fixtureTodos)
	s := &schema.Scope{Name: "svc", Path: dir, Version: "1.0.0", SchemaVersion: "1.0.0", Files: map[string]string{"todos.yaml": path}}

	plan := planFor(t, "SELECT * FROM todos WHERE title MATCHES '^Fix'", s)
	result, err := Execute(plan, "")
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
}

func TestExecuteTypeMismatchEvaluatesFalseNotError(t *testing.T) {
	dir := t.TempDir()
	path := writeTodos(t, dir, fixtureTodos)
	s := &schema.Scope{Name: "svc", Path: dir, Version: "1.0.0", SchemaVersion: "1.0.0", Files: map[string]string{"todos.yaml": path}}

	plan := planFor(t, "SELECT * FROM todos WHERE tags > 5", s)
	result, err := Execute(plan, "")
	require.NoError(t, err)
	require.Empty(t, result.Documents)
}

func TestExecuteMergesAcrossScopesLastWriterWinsByName(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	pathA := writeTodos(t, dirA, `
todos:
  - id: shared
    title: From scope A
    status: pending
    priority: low
    created_at: 2026-01-01T00:00:00Z
    updated_at: 2026-01-01T00:00:00Z
`)
	pathB := writeTodos(t, dirB, `
todos:
  - id: shared
    title: From scope B
    status: pending
    priority: high
    created_at: 2026-01-01T00:00:00Z
    updated_at: 2026-01-01T00:00:00Z
`)
	sA := &schema.Scope{Name: "a-scope", Path: dirA, Version: "1.0.0", SchemaVersion: "1.0.0", Files: map[string]string{"todos.yaml": pathA}}
	sB := &schema.Scope{Name: "z-scope", Path: dirB, Version: "1.0.0", SchemaVersion: "1.0.0", Files: map[string]string{"todos.yaml": pathB}}

	plan := planFor(t, "SELECT * FROM todos", sA, sB)
	result, err := Execute(plan, "")
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	require.Equal(t, "From scope B", result.Documents[0]["title"])
	require.Equal(t, "z-scope", result.Provenance.FieldProvenance["shared"]["title"])
}

func TestExecuteProvenanceRecordsPhasesAndSteps(t *testing.T) {
	dir := t.TempDir()
	path := writeTodos(t, dir, fixtureTodos)
	s := &schema.Scope{Name: "svc", Path: dir, Version: "1.0.0", SchemaVersion: "1.0.0", Files: map[string]string{"todos.yaml": path}}

	plan := planFor(t, "SELECT * FROM todos WHERE status = 'pending' ORDER BY title LIMIT 5", s)
	result, err := Execute(plan, "SELECT * FROM todos WHERE status = 'pending' ORDER BY title LIMIT 5")
	require.NoError(t, err)
	require.Equal(t, []string{"load", "filter", "sort", "paginate", "project"}, result.Provenance.ExecutionSteps)
	require.Contains(t, result.Provenance.ScopesSearched, dir)
	require.NotEmpty(t, result.Provenance.AppliedFilters)
}

func TestExecuteCountReturnsScalarMatchingStarLength(t *testing.T) {
	dir := t.TempDir()
	path := writeTodos(t, dir, fixtureTodos)
	s := &schema.Scope{Name: "svc", Path: dir, Version: "1.0.0", SchemaVersion: "1.0.0", Files: map[string]string{"todos.yaml": path}}

	starPlan := planFor(t, "SELECT * FROM todos WHERE status = 'pending'", s)
	starResult, err := Execute(starPlan, "SELECT * FROM todos WHERE status = 'pending'")
	require.NoError(t, err)

	countPlan := planFor(t, "SELECT COUNT FROM todos WHERE status = 'pending'", s)
	countResult, err := Execute(countPlan, "SELECT COUNT FROM todos WHERE status = 'pending'")
	require.NoError(t, err)

	require.Len(t, countResult.Documents, 1)
	require.Equal(t, len(starResult.Documents), countResult.Documents[0]["count"])
}

func TestExecuteMissingFileReturnsFileNotFound(t *testing.T) {
	dir := t.TempDir()
	s := &schema.Scope{Name: "svc", Path: dir, Version: "1.0.0", SchemaVersion: "1.0.0", Files: map[string]string{"todos.yaml": filepath.Join(dir, "todos.yaml")}}

	plan := planFor(t, "SELECT * FROM todos", s)
	_, err := Execute(plan, "")
	require.Error(t, err)
}
