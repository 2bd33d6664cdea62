// Package scopeloader implements the scope loader (C2): discovering scope
// roots on disk, parsing and validating their descriptors, and enumerating
// each scope's sibling data files.
package scopeloader

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rhema/internal/config"
	"rhema/internal/logging"
	"rhema/internal/rherrors"
	"rhema/internal/schema"

	"gopkg.in/yaml.v3"
)

// descriptorNames lists accepted scope descriptor filenames, in
// precedence order (spec §9 Open Question: rhema.yaml is preferred).
var descriptorNames = []string{"rhema.yaml", "scope.yaml"}

// DiscoverScopes walks repoRoot, following symlinks but bounded by the
// repository root, and returns every scope that parses and validates, in
// deterministic order (sorted by canonical path). Non-YAML entries,
// hidden files, empty files, and oversized files are ignored. A stray
// scope marker directory containing no descriptor is skipped. The only
// errors returned are I/O errors that prevent the walk itself.
func DiscoverScopes(repoRoot string, cfg config.DiscoveryConfig) ([]*schema.Scope, error) {
	timer := logging.StartTimer(logging.CategoryDiscovery, "DiscoverScopes")
	defer timer.Stop()

	root, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, &rherrors.IoError{Path: repoRoot, Cause: err}
	}
	root = filepath.Clean(root)

	markerDirs, err := findMarkerDirs(root, cfg)
	if err != nil {
		return nil, err
	}

	var scopes []*schema.Scope
	for _, marker := range markerDirs {
		scope, ok, err := loadScopeAt(marker, cfg)
		if err != nil {
			var invalid *rherrors.InvalidYaml
			if errors.As(err, &invalid) {
				logging.DiscoveryWarn("skipping scope at %s: %v", marker, err)
				continue
			}
			return nil, err
		}
		if !ok {
			logging.DiscoveryWarn("marker %s has no descriptor; skipping", marker)
			continue
		}
		scopes = append(scopes, scope)
	}

	sort.Slice(scopes, func(i, j int) bool { return scopes[i].Path < scopes[j].Path })
	logging.Discovery("discovered %d scope(s) under %s", len(scopes), root)
	return scopes, nil
}

// findMarkerDirs walks the tree rooted at root and returns the canonical
// path of every directory named cfg.ScopeMarker, following symlinked
// directories while staying within root and guarding against symlink
// cycles via a visited-real-path set.
func findMarkerDirs(root string, cfg config.DiscoveryConfig) ([]string, error) {
	visited := make(map[string]bool)
	var markers []string

	var walk func(dir string) error
	walk = func(dir string) error {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return &rherrors.IoError{Path: dir, Cause: err}
		}
		if visited[real] {
			return nil
		}
		visited[real] = true

		entries, err := os.ReadDir(dir)
		if err != nil {
			return &rherrors.IoError{Path: dir, Cause: err}
		}
		for _, entry := range entries {
			name := entry.Name()
			isDir := entry.IsDir()
			fullPath := filepath.Join(dir, name)

			if entry.Type()&os.ModeSymlink != 0 {
				if !cfg.FollowSymlinks {
					continue
				}
				info, err := os.Stat(fullPath)
				if err != nil {
					continue // dangling symlink, ignore
				}
				isDir = info.IsDir()
				if isDir {
					real, err := filepath.EvalSymlinks(fullPath)
					if err != nil || !strings.HasPrefix(real, root) {
						continue
					}
				}
			}

			if !isDir {
				continue
			}
			if name == cfg.ScopeMarker {
				markers = append(markers, fullPath)
				continue // marker directories are not recursed into further
			}
			if strings.HasPrefix(name, ".") && name != cfg.ScopeMarker {
				// Hidden directories other than the marker are not traversed,
				// matching the convention that only marker dirs are special.
				continue
			}
			if err := walk(fullPath); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	sort.Strings(markers)
	return markers, nil
}

// loadScopeAt parses and validates the scope rooted at the directory
// containing marker (marker's parent), searching for a descriptor first
// inside the marker directory, then one level up. Returns ok=false if no
// descriptor is found anywhere.
func loadScopeAt(marker string, cfg config.DiscoveryConfig) (*schema.Scope, bool, error) {
	scopeRoot := filepath.Dir(marker)

	descriptorPath, err := findDescriptor(marker, scopeRoot)
	if err != nil {
		return nil, false, err
	}
	if descriptorPath == "" {
		return nil, false, nil
	}

	data, err := os.ReadFile(descriptorPath)
	if err != nil {
		return nil, false, &rherrors.IoError{Path: descriptorPath, Cause: err}
	}

	var scope schema.Scope
	if err := yaml.Unmarshal(data, &scope); err != nil {
		return nil, false, &rherrors.InvalidYaml{File: descriptorPath, Message: err.Error(), Cause: err}
	}

	if issues := scope.Validate(); len(issues) > 0 {
		msgs := make([]string, len(issues))
		for i, iss := range issues {
			msgs[i] = iss.String()
		}
		return nil, false, &rherrors.InvalidYaml{
			File:    descriptorPath,
			Message: strings.Join(msgs, "; "),
		}
	}

	scope.Path = scopeRoot
	scope.DescriptorPath = descriptorPath
	scope.Files, err = discoverDataFiles(marker, cfg)
	if err != nil {
		return nil, false, err
	}

	return &scope, true, nil
}

// findDescriptor searches for rhema.yaml first, then scope.yaml, first
// inside marker, then inside scopeRoot, and returns the first file found in
// that order. Finding more than one is tolerated with a logged warning.
func findDescriptor(marker, scopeRoot string) (string, error) {
	var found []string
	for _, dir := range []string{marker, scopeRoot} {
		for _, name := range descriptorNames {
			p := filepath.Join(dir, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				found = append(found, p)
			}
		}
	}
	if len(found) == 0 {
		return "", nil
	}
	if len(found) > 1 {
		logging.DiscoveryWarn("multiple scope descriptors found near %s: %v; using %s", marker, found, found[0])
	}
	return found[0], nil
}

// discoverDataFiles enumerates sibling YAML files in the marker directory,
// ignoring non-YAML entries, hidden files, empty files, descriptor files,
// and files above cfg.MaxFileSizeBytes.
func discoverDataFiles(marker string, cfg config.DiscoveryConfig) (map[string]string, error) {
	entries, err := os.ReadDir(marker)
	if err != nil {
		return nil, &rherrors.IoError{Path: marker, Cause: err}
	}

	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		if isDescriptorName(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() == 0 {
			continue
		}
		if cfg.MaxFileSizeBytes > 0 && info.Size() > cfg.MaxFileSizeBytes {
			logging.DiscoveryWarn("ignoring %s: exceeds max file size", name)
			continue
		}
		files[name] = filepath.Join(marker, name)
	}
	return files, nil
}

func isDescriptorName(name string) bool {
	for _, d := range descriptorNames {
		if name == d {
			return true
		}
	}
	return false
}

// GetScope resolves a user-supplied scope reference — relative or
// absolute, with or without the marker segment — to the corresponding
// scope record, or returns a *rherrors.ScopeNotFound error.
func GetScope(repoRoot string, reference string, cfg config.DiscoveryConfig) (*schema.Scope, error) {
	scopes, err := DiscoverScopes(repoRoot, cfg)
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, &rherrors.IoError{Path: repoRoot, Cause: err}
	}

	candidate := reference
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)
	// Strip a trailing marker segment if present, e.g. "svc/.rhema" -> "svc".
	if filepath.Base(candidate) == cfg.ScopeMarker {
		candidate = filepath.Dir(candidate)
	}

	for _, s := range scopes {
		if s.Name == reference {
			return s, nil
		}
		if s.Path == candidate {
			return s, nil
		}
	}
	return nil, &rherrors.ScopeNotFound{Reference: reference}
}

// LoadDocument reads and unmarshals the named data file kind for scope s
// into dest (a pointer to one of the schema.*Document types). Returns
// *rherrors.FileNotFound if the scope has no file for that kind.
func LoadDocument(s *schema.Scope, kind schema.Kind, dest interface{}) error {
	filename := schema.FileNameForKind[kind]
	path, ok := s.Files[filename]
	if !ok {
		return &rherrors.FileNotFound{Path: filepath.Join(s.Path, filename)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &rherrors.IoError{Path: path, Cause: err}
	}
	if err := yaml.Unmarshal(data, dest); err != nil {
		return &rherrors.InvalidYaml{File: path, Message: err.Error(), Cause: err}
	}
	return nil
}

// AllFiles returns the sorted list of absolute data file paths across
// every scope.
func AllFiles(scopes []*schema.Scope) []string {
	var paths []string
	for _, s := range scopes {
		for _, p := range s.Files {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}
