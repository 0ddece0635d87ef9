package components

import (
	"os"
	"path/filepath"
	"strings"
)

// PathEnvVar is the environment variable name for custom component paths.
const PathEnvVar = "COMPONENTS_PATH"

// DefaultDirs are tried in order; missing directories are skipped.
var DefaultDirs = []string{
	"config/components",      // Development: relative to working directory
	"/app/config/components", // Container: mounted config path
}

// ResolveDirs returns the component directories to scan.
//
// configured wins when non-empty. Otherwise COMPONENTS_PATH is read as a
// path-separated list (like PATH), falling back to DefaultDirs.
func ResolveDirs(configured []string) []string {
	if len(configured) > 0 {
		out := make([]string, 0, len(configured))
		for _, p := range configured {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, filepath.Clean(p))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	if env := strings.TrimSpace(os.Getenv(PathEnvVar)); env != "" {
		return splitSearchPaths(env)
	}
	return DefaultDirs
}

// splitSearchPaths splits a path-list string (like PATH) into individual paths.
func splitSearchPaths(value string) []string {
	parts := strings.Split(value, string(os.PathListSeparator))
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, filepath.Clean(p))
		}
	}
	return out
}
