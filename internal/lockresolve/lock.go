// Package lockresolve implements the lock file resolver and validator
// (C8/C9): deterministic dependency resolution to a pinned rhema.lock
// file, and read-only comparison of a lock file against the live scope
// graph.
package lockresolve

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rhema/internal/logging"
	"rhema/internal/rherrors"
	"rhema/internal/schema"
	"rhema/internal/scopegraph"
)

// LockFileName is the well-known lock file name written at the repo root.
const LockFileName = "rhema.lock"

// generatedBy identifies the tool that produced a lock file.
const generatedBy = "rhemacore"

const currentLockfileVersion = "1.0.0"

// LockedDependency is one resolved dependency edge: the target scope's
// live version at resolution time, the constraint as originally stated
// on the declaring scope, and whether it was reached directly or only
// through another dependency.
type LockedDependency struct {
	Path               string                 `yaml:"path"`
	DependencyType     schema.DependencyType  `yaml:"dependency_type"`
	Version            string                 `yaml:"version"`
	OriginalConstraint string                 `yaml:"original_constraint,omitempty"`
	ResolvedAt         string                 `yaml:"resolved_at"`
	Checksum           string                 `yaml:"checksum,omitempty"`
	IsTransitive       bool                   `yaml:"is_transitive"`
	Custom             map[string]interface{} `yaml:"custom,omitempty"`
}

// LockedScope is one scope's pinned state, keyed by scope name in its
// parent LockFile.
type LockedScope struct {
	Version                 string                      `yaml:"version"`
	Path                    string                      `yaml:"path"`
	Dependencies            map[string]LockedDependency `yaml:"dependencies,omitempty"`
	SourceChecksum          string                      `yaml:"source_checksum,omitempty"`
	ResolvedAt              string                      `yaml:"resolved_at"`
	HasCircularDependencies bool                        `yaml:"has_circular_dependencies"`
	Custom                  map[string]interface{}      `yaml:"custom,omitempty"`
}

// LockFile is the full resolved lock state (§6.1 rhema.lock).
type LockFile struct {
	LockfileVersion string                 `yaml:"lockfile_version"`
	GeneratedAt     string                 `yaml:"generated_at"`
	GeneratedBy     string                 `yaml:"generated_by"`
	Checksum        string                 `yaml:"checksum"`
	Metadata        map[string]interface{} `yaml:"metadata,omitempty"`
	Scopes          map[string]LockedScope `yaml:"scopes"`
}

// Resolve walks graph and produces a deterministic LockFile: every
// scope keyed by name, each dependency keyed by its resolved scope name
// and marked transitive or direct, with a canonical source checksum per
// scope and a top-level checksum over the whole canonical body.
// Resolution tolerates cycles — a cycle marks every participating
// scope's HasCircularDependencies rather than aborting, since the lock
// file's job is to record dependency state, not to enforce acyclicity
// (that is the scope graph's concern, C3).
func Resolve(graph *scopegraph.Graph) (*LockFile, error) {
	timer := logging.StartTimer(logging.CategoryLock, "Resolve")
	defer timer.Stop()

	scopes := append([]*schema.Scope(nil), graph.Scopes()...)
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].Name < scopes[j].Name })

	cycleParticipants := graph.CycleParticipants()
	now := time.Now().UTC().Format(time.RFC3339)

	checksums := map[string]string{}
	for _, s := range scopes {
		checksum, err := sourceChecksum(s)
		if err != nil {
			return nil, err
		}
		checksums[s.Path] = checksum
	}

	lockedScopes := make(map[string]LockedScope, len(scopes))
	for _, s := range scopes {
		direct := map[string]bool{}
		deps := map[string]LockedDependency{}
		for _, d := range s.Dependencies {
			targetPath := filepath.Clean(filepath.Join(s.Path, d.Path))
			direct[targetPath] = true

			target, ok := graph.ScopeByPath(targetPath)
			if !ok {
				continue
			}
			deps[target.Name] = LockedDependency{
				Path:               d.Path,
				DependencyType:     d.DependencyType,
				Version:            target.Version,
				OriginalConstraint: d.Version,
				ResolvedAt:         now,
				Checksum:           checksums[target.Path],
				IsTransitive:       false,
			}
		}

		for _, transitivePath := range transitiveClosure(graph, s.Path, direct) {
			target, ok := graph.ScopeByPath(transitivePath)
			if !ok {
				continue
			}
			if _, exists := deps[target.Name]; exists {
				continue
			}
			deps[target.Name] = LockedDependency{
				Path:         transitivePath,
				Version:      target.Version,
				ResolvedAt:   now,
				Checksum:     checksums[target.Path],
				IsTransitive: true,
			}
		}

		lockedScopes[s.Name] = LockedScope{
			Version:                 s.Version,
			Path:                    s.Path,
			Dependencies:            deps,
			SourceChecksum:          checksums[s.Path],
			ResolvedAt:              now,
			HasCircularDependencies: cycleParticipants[s.Path],
		}
	}

	lf := &LockFile{
		LockfileVersion: currentLockfileVersion,
		GeneratedAt:     now,
		GeneratedBy:     generatedBy,
		Scopes:          lockedScopes,
	}
	lf.Checksum = topLevelChecksum(lf)

	cycleCount := 0
	for _, s := range lockedScopes {
		if s.HasCircularDependencies {
			cycleCount++
		}
	}
	logging.Lock("resolved lock file: %d scope(s), %d in a cycle", len(lockedScopes), cycleCount)
	return lf, nil
}

// transitiveClosure performs a bounded BFS over graph's edges starting at
// scopePath, returning every reachable path beyond the direct set,
// deduplicated and sorted. Cycles are tolerated via a visited set.
func transitiveClosure(graph *scopegraph.Graph, scopePath string, direct map[string]bool) []string {
	visited := map[string]bool{scopePath: true}
	queue := append([]string(nil), graph.DependsOn(scopePath)...)
	for _, d := range queue {
		visited[d] = true
	}

	seen := map[string]bool{}
	var out []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, child := range graph.DependsOn(next) {
			if visited[child] {
				continue
			}
			visited[child] = true
			queue = append(queue, child)
			if !direct[child] && !seen[child] {
				seen[child] = true
				out = append(out, child)
			}
		}
	}
	sort.Strings(out)
	return out
}

// ScopeChecksum exposes sourceChecksum for callers outside this package
// (the query cache's corpus fingerprint, C10) that need the same
// canonical per-scope content hash without recomputing a lock file.
func ScopeChecksum(s *schema.Scope) (string, error) {
	return sourceChecksum(s)
}

// sourceChecksum hashes a scope's descriptor and every data file it owns,
// sorted by filename, so the result depends only on file contents and
// names, never on filesystem iteration order or map order.
func sourceChecksum(s *schema.Scope) (string, error) {
	names := make([]string, 0, len(s.Files)+1)
	for name := range s.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	if s.DescriptorPath != "" {
		data, err := os.ReadFile(s.DescriptorPath)
		if err != nil {
			return "", &rherrors.IoError{Path: s.DescriptorPath, Cause: err}
		}
		writeCanonical(h, "descriptor", data)
	}
	for _, name := range names {
		data, err := os.ReadFile(s.Files[name])
		if err != nil {
			return "", &rherrors.IoError{Path: s.Files[name], Cause: err}
		}
		writeCanonical(h, name, data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeCanonical feeds a (name, content) pair into h with LF-normalized
// content, so checksums are stable across CRLF/LF checkouts.
func writeCanonical(h interface{ Write([]byte) (int, error) }, name string, content []byte) {
	normalized := strings.ReplaceAll(string(content), "\r\n", "\n")
	fmt.Fprintf(h, "%s\n%d\n", name, len(normalized))
	h.Write([]byte(normalized))
	h.Write([]byte{'\n'})
}

// topLevelChecksum hashes the canonicalized lock body in sorted key
// order: lockfile_version, generated_by, each scope's version, path,
// source checksum and circular flag, and each dependency's path, type,
// version, original constraint, checksum and transitive flag. It does not
// hash the checksum field itself, the generated_at / resolved_at
// timestamps, the top-level metadata map, or the custom maps of scopes and
// dependencies. Leaving out the timestamps keeps the checksum identical
// across repeated Resolve calls against an unchanged repository; tampering
// with a dependency's version, type, or resolution still changes it, while
// an edit confined to a metadata or custom map does not.
func topLevelChecksum(lf *LockFile) string {
	scopeNames := make([]string, 0, len(lf.Scopes))
	for name := range lf.Scopes {
		scopeNames = append(scopeNames, name)
	}
	sort.Strings(scopeNames)

	h := sha256.New()
	fmt.Fprintf(h, "lockfile_version=%s\n", lf.LockfileVersion)
	fmt.Fprintf(h, "generated_by=%s\n", lf.GeneratedBy)
	for _, name := range scopeNames {
		s := lf.Scopes[name]
		fmt.Fprintf(h, "scope=%s version=%s path=%s source_checksum=%s has_circular_dependencies=%v\n",
			name, s.Version, s.Path, s.SourceChecksum, s.HasCircularDependencies)

		depNames := make([]string, 0, len(s.Dependencies))
		for depName := range s.Dependencies {
			depNames = append(depNames, depName)
		}
		sort.Strings(depNames)
		for _, depName := range depNames {
			d := s.Dependencies[depName]
			fmt.Fprintf(h, "  dep=%s path=%s type=%s version=%s original_constraint=%s checksum=%s transitive=%v\n",
				depName, d.Path, d.DependencyType, d.Version, d.OriginalConstraint, d.Checksum, d.IsTransitive)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Write serializes lf as canonical YAML and writes it atomically to
// <repoRoot>/rhema.lock via a temp file plus rename, so a reader never
// observes a partially written lock file.
func Write(repoRoot string, lf *LockFile) error {
	data, err := yaml.Marshal(lf)
	if err != nil {
		return &rherrors.IoError{Path: repoRoot, Cause: err}
	}
	target := filepath.Join(repoRoot, LockFileName)

	tmp, err := os.CreateTemp(repoRoot, ".rhema.lock-*.tmp")
	if err != nil {
		return &rherrors.IoError{Path: repoRoot, Cause: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &rherrors.IoError{Path: tmpPath, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		return &rherrors.IoError{Path: tmpPath, Cause: err}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return &rherrors.IoError{Path: target, Cause: err}
	}
	return nil
}

// Read loads and parses the lock file at <repoRoot>/rhema.lock.
func Read(repoRoot string) (*LockFile, error) {
	path := filepath.Join(repoRoot, LockFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &rherrors.FileNotFound{Path: path}
		}
		return nil, &rherrors.IoError{Path: path, Cause: err}
	}
	var lf LockFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, &rherrors.InvalidYaml{File: path, Message: "failed to parse lock file", Cause: err}
	}
	return &lf, nil
}
