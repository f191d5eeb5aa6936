package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv searches for ".env" in the current directory and parents and
// loads the first match. No-op when none is found, so it is safe in
// production.
func LoadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		_ = godotenv.Load()
		return
	}
	for i := 0; i < 6; i++ {
		p := filepath.Join(dir, ".env")
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	_ = godotenv.Load()
}
