package agent

import (
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/agentwire/errors"
)

// Refresher is told which files a patch changed so that views of the
// working tree can be updated.
type Refresher interface {
	Refresh(paths []string)
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(paths []string)

func (f RefreshFunc) Refresh(paths []string) { f(paths) }

// isPathIgnored checks if a path matches any of the glob patterns. Paths
// under workdir are also matched in their relative form.
func isPathIgnored(path, workdir string, patterns []string) (bool, error) {
	candidates := []string{filepath.ToSlash(path)}
	if workdir != "" && filepath.IsAbs(path) {
		if rel, err := filepath.Rel(workdir, path); err == nil {
			candidates = append(candidates, filepath.ToSlash(rel))
		}
	}
	for _, pattern := range patterns {
		for _, c := range candidates {
			match, err := doublestar.Match(pattern, c)
			if err != nil {
				return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
			}
			if match {
				return true, nil
			}
		}
	}
	return false, nil
}

// filterRefreshPaths drops paths matched by the ignore patterns. An invalid
// pattern ignores nothing.
func filterRefreshPaths(paths []string, workdir string, patterns []string) []string {
	if len(patterns) == 0 {
		return paths
	}
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		ignored, err := isPathIgnored(p, workdir, patterns)
		if err != nil || !ignored {
			kept = append(kept, p)
		}
	}
	return kept
}
