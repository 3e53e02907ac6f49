// Package outputresolver locates a solver run's primary textual output
// among several candidate names and extensions (§4.2). Used both for
// live working directories (Executor) and archived product directories
// (recovery, Archiver's post-archive hooks).
package outputresolver

import (
	"os"
	"path/filepath"
	"sort"
)

// globClasses are tried in order; within a class, matches are returned
// alphabetically (first found wins).
var globClasses = []string{"*.out", "*_orca.log", "*.log"}

// Resolve returns the path to dir's primary textual output for stem, or
// ("", false) if none of the candidates exist.
func Resolve(dir, stem string) (string, bool) {
	candidates := []string{
		filepath.Join(dir, stem+".out"),
		filepath.Join(dir, stem+"_orca.log"),
		filepath.Join(dir, stem+".log"),
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c, true
		}
	}

	for _, pattern := range globClasses {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil || len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return matches[0], true
	}

	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
