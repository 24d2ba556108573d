package confkit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads .env files once per process. ENV_FILE names a single
// file; otherwise every .env between this package and the project root is
// read. Existing variables win unless DOTENV_OVERLOAD=1; NO_DOTENV=1 skips
// loading entirely.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}
	overload := os.Getenv("DOTENV_OVERLOAD") == "1"
	load := func(path string) {
		if !fileExists(path) {
			return
		}
		if overload {
			_ = godotenv.Overload(path)
			return
		}
		_ = godotenv.Load(path)
	}

	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		load(envFile)
		return
	}
	if _, ok := walkUp(func(dir string) { load(filepath.Join(dir, ".env")) }); ok {
		return
	}
	load(".env")
}
