package lockresolve

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rhema/internal/config"
	"rhema/internal/schema"
	"rhema/internal/scopegraph"
)

func writeScopeFiles(t *testing.T, root, name string, deps []schema.ScopeDependency) *schema.Scope {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	descriptor := filepath.Join(dir, "rhema.yaml")
	require.NoError(t, os.WriteFile(descriptor, []byte("name: "+name+"\nversion: 1.0.0\nschema_version: 1.0.0\n"), 0o644))
	todos := filepath.Join(dir, "todos.yaml")
	require.NoError(t, os.WriteFile(todos, []byte("todos: []\n"), 0o644))

	return &schema.Scope{
		Name: name, Path: dir, Version: "1.0.0", SchemaVersion: "1.0.0",
		Dependencies:   deps,
		DescriptorPath: descriptor,
		Files:          map[string]string{"todos.yaml": todos},
	}
}

func TestResolveProducesDeterministicChecksums(t *testing.T) {
	root := t.TempDir()
	a := writeScopeFiles(t, root, "a", nil)
	graph, errs := scopegraph.Build([]*schema.Scope{a})
	require.Empty(t, errs)

	lf1, err := Resolve(graph)
	require.NoError(t, err)
	lf2, err := Resolve(graph)
	require.NoError(t, err)

	require.Equal(t, lf1.Checksum, lf2.Checksum)
	require.Equal(t, lf1.Scopes["a"].SourceChecksum, lf2.Scopes["a"].SourceChecksum)
}

// TestResolveIsReproducibleAcrossCalls checks that Resolve applied twice
// to an unchanged repository yields the same top-level checksum and the
// same dependency entries. The generated_at / resolved_at timestamps are
// taken from the clock on each call, so the two lock files are not
// byte-identical.
func TestResolveIsReproducibleAcrossCalls(t *testing.T) {
	root := t.TempDir()
	c := writeScopeFiles(t, root, "c", nil)
	b := writeScopeFiles(t, root, "b", []schema.ScopeDependency{{Path: "../c", DependencyType: schema.DependencyRequired, Version: "1.0.0"}})
	graph, errs := scopegraph.Build([]*schema.Scope{b, c})
	require.Empty(t, errs)

	lf1, err := Resolve(graph)
	require.NoError(t, err)
	lf2, err := Resolve(graph)
	require.NoError(t, err)

	require.Equal(t, lf1.Checksum, lf2.Checksum)
	require.Equal(t, lf1.Scopes["b"].Dependencies, lf2.Scopes["b"].Dependencies)
	require.NotEqual(t, "", lf1.GeneratedAt)
}

func TestResolveMarksTransitiveDependencies(t *testing.T) {
	root := t.TempDir()
	c := writeScopeFiles(t, root, "c", nil)
	b := writeScopeFiles(t, root, "b", []schema.ScopeDependency{{Path: "../c", DependencyType: schema.DependencyRequired}})
	a := writeScopeFiles(t, root, "a", []schema.ScopeDependency{{Path: "../b", DependencyType: schema.DependencyRequired}})
	graph, errs := scopegraph.Build([]*schema.Scope{a, b, c})
	require.Empty(t, errs)

	lf, err := Resolve(graph)
	require.NoError(t, err)

	scopeA := lf.Scopes["a"]
	require.NotEmpty(t, scopeA.Dependencies)

	direct, ok := scopeA.Dependencies["b"]
	require.True(t, ok)
	require.False(t, direct.IsTransitive)
	require.Equal(t, "1.0.0", direct.Version)

	transitive, ok := scopeA.Dependencies["c"]
	require.True(t, ok)
	require.True(t, transitive.IsTransitive)
}

func TestResolveRecordsResolvedVersionAndOriginalConstraint(t *testing.T) {
	root := t.TempDir()
	b := writeScopeFiles(t, root, "b", nil)
	b.Version = "2.0.0"
	a := writeScopeFiles(t, root, "a", []schema.ScopeDependency{{Path: "../b", DependencyType: schema.DependencyRequired, Version: "1.x"}})
	graph, errs := scopegraph.Build([]*schema.Scope{a, b})
	require.Empty(t, errs)

	lf, err := Resolve(graph)
	require.NoError(t, err)

	dep := lf.Scopes["a"].Dependencies["b"]
	require.Equal(t, "2.0.0", dep.Version)
	require.Equal(t, "1.x", dep.OriginalConstraint)
}

func TestResolveFlagsOnlyScopesParticipatingInACycle(t *testing.T) {
	root := t.TempDir()
	a := writeScopeFiles(t, root, "a", []schema.ScopeDependency{{Path: "../b", DependencyType: schema.DependencyRequired}})
	b := writeScopeFiles(t, root, "b", []schema.ScopeDependency{{Path: "../a", DependencyType: schema.DependencyRequired}})
	standalone := writeScopeFiles(t, root, "standalone", nil)
	graph, errs := scopegraph.Build([]*schema.Scope{a, b, standalone})
	require.Empty(t, errs)

	lf, err := Resolve(graph)
	require.NoError(t, err)
	require.True(t, lf.Scopes["a"].HasCircularDependencies)
	require.True(t, lf.Scopes["b"].HasCircularDependencies)
	require.False(t, lf.Scopes["standalone"].HasCircularDependencies)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	root := t.TempDir()
	a := writeScopeFiles(t, root, "a", nil)
	graph, errs := scopegraph.Build([]*schema.Scope{a})
	require.Empty(t, errs)
	lf, err := Resolve(graph)
	require.NoError(t, err)

	require.NoError(t, Write(root, lf))
	loaded, err := Read(root)
	require.NoError(t, err)
	require.Equal(t, lf.Checksum, loaded.Checksum)
	require.Len(t, loaded.Scopes, 1)
}

func TestValidateDetectsMissingScope(t *testing.T) {
	root := t.TempDir()
	a := writeScopeFiles(t, root, "a", nil)
	graph, errs := scopegraph.Build([]*schema.Scope{a})
	require.Empty(t, errs)
	lf, err := Resolve(graph)
	require.NoError(t, err)

	b := writeScopeFiles(t, root, "b", nil)
	graph2, errs := scopegraph.Build([]*schema.Scope{a, b})
	require.Empty(t, errs)

	issues := Validate(lf, graph2, config.LockConfig{TTLHours: 168})
	var found bool
	for _, i := range issues {
		if i.Kind == "scope_missing" && i.Scope == "b" {
			require.Equal(t, "warning", i.Severity)
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateDetectsRemovedScopeAsError(t *testing.T) {
	root := t.TempDir()
	a := writeScopeFiles(t, root, "a", nil)
	b := writeScopeFiles(t, root, "b", nil)
	graph, errs := scopegraph.Build([]*schema.Scope{a, b})
	require.Empty(t, errs)
	lf, err := Resolve(graph)
	require.NoError(t, err)

	graph2, errs := scopegraph.Build([]*schema.Scope{a})
	require.Empty(t, errs)

	issues := Validate(lf, graph2, config.LockConfig{TTLHours: 168})
	var found bool
	for _, i := range issues {
		if i.Kind == "scope_removed" && i.Scope == "b" {
			require.Equal(t, "error", i.Severity)
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateDetectsStaleChecksumAsWarning(t *testing.T) {
	root := t.TempDir()
	a := writeScopeFiles(t, root, "a", nil)
	graph, errs := scopegraph.Build([]*schema.Scope{a})
	require.Empty(t, errs)
	lf, err := Resolve(graph)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(a.Files["todos.yaml"], []byte("todos:\n  - id: new\n"), 0o644))

	issues := Validate(lf, graph, config.LockConfig{TTLHours: 168})
	var found bool
	for _, i := range issues {
		if i.Kind == "stale_checksum" {
			require.Equal(t, "warning", i.Severity)
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateDetectsVersionMismatchWithoutChecksumChange(t *testing.T) {
	root := t.TempDir()
	a := writeScopeFiles(t, root, "a", nil)
	graph, errs := scopegraph.Build([]*schema.Scope{a})
	require.Empty(t, errs)
	lf, err := Resolve(graph)
	require.NoError(t, err)

	scopeA := lf.Scopes["a"]
	scopeA.Version = "9.9.9"
	lf.Scopes["a"] = scopeA

	issues := Validate(lf, graph, config.LockConfig{TTLHours: 168})
	var found bool
	for _, i := range issues {
		if i.Kind == "version_mismatch" {
			require.Equal(t, "error", i.Severity)
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateDetectsConstraintViolation(t *testing.T) {
	root := t.TempDir()
	b := writeScopeFiles(t, root, "b", nil)
	a := writeScopeFiles(t, root, "a", []schema.ScopeDependency{{Path: "../b", DependencyType: schema.DependencyRequired, Version: "2.0.0"}})
	graph, errs := scopegraph.Build([]*schema.Scope{a, b})
	require.Empty(t, errs)
	lf, err := Resolve(graph)
	require.NoError(t, err)

	issues := Validate(lf, graph, config.LockConfig{TTLHours: 168})
	var found bool
	for _, i := range issues {
		if i.Kind == "constraint_violation" && i.Scope == "a" {
			require.Equal(t, "error", i.Severity)
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateDetectsTamperedTopLevelChecksum(t *testing.T) {
	root := t.TempDir()
	a := writeScopeFiles(t, root, "a", nil)
	b := writeScopeFiles(t, root, "b", []schema.ScopeDependency{{Path: "../a", DependencyType: schema.DependencyRequired}})
	graph, errs := scopegraph.Build([]*schema.Scope{a, b})
	require.Empty(t, errs)
	lf, err := Resolve(graph)
	require.NoError(t, err)

	scopeB := lf.Scopes["b"]
	dep := scopeB.Dependencies["a"]
	dep.DependencyType = schema.DependencyOptional
	scopeB.Dependencies["a"] = dep
	lf.Scopes["b"] = scopeB

	issues := Validate(lf, graph, config.LockConfig{TTLHours: 168})
	var found bool
	for _, i := range issues {
		if i.Kind == "checksum_mismatch" {
			require.Equal(t, "error", i.Severity)
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateDetectsCircularFlagMismatchAsError(t *testing.T) {
	root := t.TempDir()
	a := writeScopeFiles(t, root, "a", []schema.ScopeDependency{{Path: "../b", DependencyType: schema.DependencyRequired}})
	b := writeScopeFiles(t, root, "b", []schema.ScopeDependency{{Path: "../a", DependencyType: schema.DependencyRequired}})
	graph, errs := scopegraph.Build([]*schema.Scope{a, b})
	require.Empty(t, errs)
	lf, err := Resolve(graph)
	require.NoError(t, err)

	scopeA := lf.Scopes["a"]
	scopeA.HasCircularDependencies = false
	lf.Scopes["a"] = scopeA

	issues := Validate(lf, graph, config.LockConfig{TTLHours: 168})
	var found bool
	for _, i := range issues {
		if i.Kind == "circular_flag_mismatch" && i.Scope == "a" {
			require.Equal(t, "error", i.Severity)
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateCleanLockHasNoErrors(t *testing.T) {
	root := t.TempDir()
	a := writeScopeFiles(t, root, "a", nil)
	graph, errs := scopegraph.Build([]*schema.Scope{a})
	require.Empty(t, errs)
	lf, err := Resolve(graph)
	require.NoError(t, err)

	issues := Validate(lf, graph, config.LockConfig{TTLHours: 168})
	for _, i := range issues {
		require.NotEqual(t, "error", i.Severity, i.Message)
	}
}

func TestValidateFlagsStaleByTTL(t *testing.T) {
	root := t.TempDir()
	a := writeScopeFiles(t, root, "a", nil)
	graph, errs := scopegraph.Build([]*schema.Scope{a})
	require.Empty(t, errs)
	lf, err := Resolve(graph)
	require.NoError(t, err)
	lf.GeneratedAt = time.Now().UTC().Add(-200 * time.Hour).Format(time.RFC3339)

	issues := Validate(lf, graph, config.LockConfig{TTLHours: 168})
	var found bool
	for _, i := range issues {
		if i.Kind == "stale_lock" {
			found = true
		}
	}
	require.True(t, found)
}
