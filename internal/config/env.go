package config

import (
	"os"
	"runtime"
	"strconv"
)

// Environment holds the infra settings that come from the process
// environment rather than the analysis config file
type Environment struct {
	// Workers caps concurrent subject-run units; defaults to NumCPU
	Workers int
	// DatabaseURL enables the Postgres run ledger when non-empty
	DatabaseURL string
	// AtlasDir is where bare atlas names are resolved to image files
	AtlasDir string
}

// LoadEnvironment reads the infra settings. LOG_LEVEL is consumed by the
// logger directly and is not duplicated here.
func LoadEnvironment() Environment {
	return Environment{
		Workers:     getEnvIntOrDefault("WORKERS", runtime.NumCPU()),
		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),
		AtlasDir:    getEnvOrDefault("ATLAS_DIR", "atlases"),
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
