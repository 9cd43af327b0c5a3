package confkit

import (
	"os"
	"path/filepath"
)

// rootMarkers identify the repository root.
var rootMarkers = []string{"go.mod", ".git"}

// FindUp walks from start towards the filesystem root and returns the first
// directory containing one of markers.
func FindUp(start string, markers ...string) (string, bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for {
		for _, m := range markers {
			if fileExists(filepath.Join(dir, m)) {
				return dir, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// ProjectRoot is the nearest ancestor of the working directory holding
// go.mod or .git, or the working directory itself.
func ProjectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if root, ok := FindUp(wd, rootMarkers...); ok {
		return root
	}
	return wd
}

// ProjectPath resolves rel against ProjectRoot. Absolute paths are returned
// unchanged.
func ProjectPath(rel string) string {
	return ResolvePath(ProjectRoot(), rel)
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}
