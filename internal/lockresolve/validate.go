package lockresolve

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"rhema/internal/config"
	"rhema/internal/logging"
	"rhema/internal/rherrors"
	"rhema/internal/schema"
	"rhema/internal/scopegraph"
)

// Validate compares lf against the live scope graph, performing the
// full read-only check table (§4.9): no file is written or modified.
func Validate(lf *LockFile, graph *scopegraph.Graph, lockCfg config.LockConfig) []rherrors.ValidationIssue {
	timer := logging.StartTimer(logging.CategoryLock, "Validate")
	defer timer.Stop()

	var issues []rherrors.ValidationIssue

	issues = append(issues, checkLockVersion(lf)...)
	issues = append(issues, checkScopeSetMatches(lf, graph)...)
	issues = append(issues, checkSourceChecksums(lf, graph)...)
	issues = append(issues, checkVersionMismatchWithoutChecksumChange(lf, graph)...)
	issues = append(issues, checkTopLevelChecksum(lf)...)
	issues = append(issues, checkDependencyTargetsResolve(lf)...)
	issues = append(issues, checkDependencyTypeMismatches(lf, graph)...)
	issues = append(issues, checkConstraintSatisfied(lf)...)
	issues = append(issues, checkCircularFlagMatchesGraph(lf, graph)...)
	issues = append(issues, checkVersionFormats(lf)...)
	issues = append(issues, checkOrphanedDependencies(lf, graph)...)
	issues = append(issues, checkStaleness(lf, lockCfg)...)

	logging.Lock("validated lock file: %d issue(s)", len(issues))
	return issues
}

func checkLockVersion(lf *LockFile) []rherrors.ValidationIssue {
	if lf.LockfileVersion == "" {
		return []rherrors.ValidationIssue{{
			Severity: "error", Kind: "lock_version", Message: "lock file is missing lockfile_version",
		}}
	}
	if lf.LockfileVersion != currentLockfileVersion {
		return []rherrors.ValidationIssue{{
			Severity: "warning", Kind: "lock_version",
			Message: fmt.Sprintf("lock file version %q differs from current %q", lf.LockfileVersion, currentLockfileVersion),
		}}
	}
	return nil
}

// checkScopeSetMatches flags a scope still locked but removed from disk
// as an Error (the lock now references something that no longer
// exists), and a scope newly discovered on disk but not yet locked as a
// Warning (the lock is merely stale, not wrong).
func checkScopeSetMatches(lf *LockFile, graph *scopegraph.Graph) []rherrors.ValidationIssue {
	var issues []rherrors.ValidationIssue
	lockNames := map[string]bool{}
	for name := range lf.Scopes {
		lockNames[name] = true
		if _, ok := graph.ScopeByName(name); !ok {
			issues = append(issues, rherrors.ValidationIssue{
				Severity: "error", Kind: "scope_removed", Scope: name,
				Message: "scope is locked but no longer discovered on disk",
			})
		}
	}
	for _, s := range graph.Scopes() {
		if !lockNames[s.Name] {
			issues = append(issues, rherrors.ValidationIssue{
				Severity: "warning", Kind: "scope_missing", Scope: s.Name,
				Message: "scope is discovered on disk but not present in the lock file",
			})
		}
	}
	return issues
}

// checkSourceChecksums flags a scope whose on-disk content no longer
// matches what was hashed at lock time as a Warning: the content
// changed and the lock may need regenerating, but that alone isn't
// proof of tampering.
func checkSourceChecksums(lf *LockFile, graph *scopegraph.Graph) []rherrors.ValidationIssue {
	var issues []rherrors.ValidationIssue
	for name, s := range lf.Scopes {
		current, ok := graph.ScopeByName(name)
		if !ok {
			continue
		}
		checksum, err := sourceChecksum(current)
		if err != nil {
			issues = append(issues, rherrors.ValidationIssue{
				Severity: "error", Kind: "checksum_unreadable", Scope: name, Message: err.Error(),
			})
			continue
		}
		if checksum != s.SourceChecksum {
			issues = append(issues, rherrors.ValidationIssue{
				Severity: "warning", Kind: "stale_checksum", Scope: name,
				Message: "scope source files have changed since the lock file was generated",
			})
		}
	}
	return issues
}

// checkVersionMismatchWithoutChecksumChange flags the case the resolver
// can never legitimately produce: a scope's source is byte-for-byte
// unchanged since locking, yet its live version differs from what was
// locked. That combination only happens from a hand edit of the lock
// file or the descriptor's version field outside the resolver.
func checkVersionMismatchWithoutChecksumChange(lf *LockFile, graph *scopegraph.Graph) []rherrors.ValidationIssue {
	var issues []rherrors.ValidationIssue
	for name, s := range lf.Scopes {
		current, ok := graph.ScopeByName(name)
		if !ok {
			continue
		}
		checksum, err := sourceChecksum(current)
		if err != nil || checksum != s.SourceChecksum {
			continue
		}
		if current.Version != s.Version {
			issues = append(issues, rherrors.ValidationIssue{
				Severity: "error", Kind: "version_mismatch", Scope: name,
				Message: fmt.Sprintf("locked version %q differs from live version %q though source is unchanged", s.Version, current.Version),
			})
		}
	}
	return issues
}

func checkTopLevelChecksum(lf *LockFile) []rherrors.ValidationIssue {
	expected := topLevelChecksum(lf)
	if lf.Checksum != expected {
		return []rherrors.ValidationIssue{{
			Severity: "error", Kind: "checksum_mismatch",
			Message: "top-level lock file checksum does not match its recorded scopes",
		}}
	}
	return nil
}

func checkDependencyTargetsResolve(lf *LockFile) []rherrors.ValidationIssue {
	var issues []rherrors.ValidationIssue
	for name, s := range lf.Scopes {
		for depName, d := range s.Dependencies {
			if _, ok := lf.Scopes[depName]; !ok {
				issues = append(issues, rherrors.ValidationIssue{
					Severity: "error", Kind: "unresolved_dependency", Scope: name,
					Message: fmt.Sprintf("dependency %q (path %q) did not resolve to a locked scope", depName, d.Path),
				})
			}
		}
	}
	return issues
}

// checkDependencyTypeMismatches flags a direct dependency whose locked
// dependency_type no longer matches the type currently declared on the
// owning scope's descriptor — the edge's semantics (required vs.
// optional) changed since the lock was generated.
func checkDependencyTypeMismatches(lf *LockFile, graph *scopegraph.Graph) []rherrors.ValidationIssue {
	var issues []rherrors.ValidationIssue
	for name, s := range lf.Scopes {
		live, ok := graph.ScopeByName(name)
		if !ok {
			continue
		}
		liveTypes := map[string]schema.DependencyType{}
		for _, dep := range live.Dependencies {
			target := filepath.Clean(filepath.Join(live.Path, dep.Path))
			if t, ok := graph.ScopeByPath(target); ok {
				liveTypes[t.Name] = dep.DependencyType
			}
		}
		for depName, locked := range s.Dependencies {
			if locked.IsTransitive {
				continue
			}
			liveType, ok := liveTypes[depName]
			if !ok || liveType == locked.DependencyType {
				continue
			}
			issues = append(issues, rherrors.ValidationIssue{
				Severity: "error", Kind: "dependency_type_mismatch", Scope: name,
				Message: fmt.Sprintf("dependency %q is locked as %q but currently declared as %q", depName, locked.DependencyType, liveType),
			})
		}
	}
	return issues
}

// checkConstraintSatisfied flags a dependency whose resolved version no
// longer matches the constraint originally stated by the requesting
// scope. No range syntax is defined for constraints anywhere in this
// system, so satisfaction is exact-match equality: a constraint is
// satisfied only by that literal version.
func checkConstraintSatisfied(lf *LockFile) []rherrors.ValidationIssue {
	var issues []rherrors.ValidationIssue
	for name, s := range lf.Scopes {
		for depName, d := range s.Dependencies {
			if d.OriginalConstraint == "" || d.OriginalConstraint == d.Version {
				continue
			}
			issues = append(issues, rherrors.ValidationIssue{
				Severity: "error", Kind: "constraint_violation", Scope: name,
				Message: fmt.Sprintf("dependency %q resolved version %q violates original constraint %q", depName, d.Version, d.OriginalConstraint),
			})
		}
	}
	return issues
}

// checkCircularFlagMatchesGraph compares each scope's locked
// has_circular_dependencies flag against the live, recomputed set of
// cycle participants, since the invariant is per-scope rather than
// repo-wide.
func checkCircularFlagMatchesGraph(lf *LockFile, graph *scopegraph.Graph) []rherrors.ValidationIssue {
	var issues []rherrors.ValidationIssue
	participants := graph.CycleParticipants()
	for name, s := range lf.Scopes {
		live, ok := graph.ScopeByName(name)
		if !ok {
			continue
		}
		actual := participants[live.Path]
		if s.HasCircularDependencies != actual {
			issues = append(issues, rherrors.ValidationIssue{
				Severity: "error", Kind: "circular_flag_mismatch", Scope: name,
				Message: fmt.Sprintf("lock file records has_circular_dependencies=%v for %q but the current graph reports %v", s.HasCircularDependencies, name, actual),
			})
		}
	}
	return issues
}

func checkVersionFormats(lf *LockFile) []rherrors.ValidationIssue {
	var issues []rherrors.ValidationIssue
	for name, s := range lf.Scopes {
		if !dottedTripleLocal(s.Version) {
			issues = append(issues, rherrors.ValidationIssue{
				Severity: "warning", Kind: "invalid_version", Scope: name,
				Message: fmt.Sprintf("locked version %q is not a dotted numeric triple", s.Version),
			})
		}
	}
	return issues
}

func dottedTripleLocal(v string) bool {
	parts := 0
	digits := 0
	for _, r := range v {
		if r == '.' {
			parts++
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
		digits++
	}
	return parts == 2 && digits > 0
}

func checkOrphanedDependencies(lf *LockFile, graph *scopegraph.Graph) []rherrors.ValidationIssue {
	var issues []rherrors.ValidationIssue
	for name, s := range lf.Scopes {
		depNames := make([]string, 0, len(s.Dependencies))
		for depName := range s.Dependencies {
			depNames = append(depNames, depName)
		}
		sort.Strings(depNames)
		for _, depName := range depNames {
			if _, ok := graph.ScopeByName(depName); !ok {
				issues = append(issues, rherrors.ValidationIssue{
					Severity: "warning", Kind: "orphaned_dependency", Scope: name,
					Message: fmt.Sprintf("locked dependency %q no longer exists on disk", depName),
				})
			}
		}
	}
	return issues
}

func checkStaleness(lf *LockFile, cfg config.LockConfig) []rherrors.ValidationIssue {
	generated, err := time.Parse(time.RFC3339, lf.GeneratedAt)
	if err != nil {
		return []rherrors.ValidationIssue{{
			Severity: "warning", Kind: "invalid_timestamp",
			Message: fmt.Sprintf("lock file generated_at %q is not a valid ISO-8601 timestamp", lf.GeneratedAt),
		}}
	}
	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl > 0 && time.Since(generated) > ttl {
		return []rherrors.ValidationIssue{{
			Severity: "warning", Kind: "stale_lock",
			Message: fmt.Sprintf("lock file is older than its %d-hour TTL", cfg.TTLHours),
		}}
	}
	return nil
}
