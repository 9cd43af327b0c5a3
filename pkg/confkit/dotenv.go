package confkit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads .env files the first time it is called.
//
//   - NO_DOTENV=1 disables loading.
//   - ENV_FILE names a single file to load.
//   - Otherwise .env in the working directory and in the project root are read.
//
// Variables already set in the process win unless DOTENV_OVERLOAD=1.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	for _, p := range dotenvFiles() {
		if os.Getenv("DOTENV_OVERLOAD") == "1" {
			_ = godotenv.Overload(p)
		} else {
			_ = godotenv.Load(p)
		}
	}
}

func dotenvFiles() []string {
	if os.Getenv("NO_DOTENV") == "1" {
		return nil
	}
	if f := os.Getenv("ENV_FILE"); f != "" {
		return []string{f}
	}
	var files []string
	seen := map[string]bool{}
	add := func(dir string) {
		p := filepath.Join(dir, ".env")
		if seen[p] || !fileExists(p) {
			return
		}
		seen[p] = true
		files = append(files, p)
	}
	if wd, err := os.Getwd(); err == nil {
		add(wd)
	}
	add(ProjectRoot())
	return files
}
