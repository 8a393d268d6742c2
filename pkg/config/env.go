package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads the given .env files into the process environment.
// Missing files are skipped and variables already set are never overridden.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("error loading env file '%s': %w", path, err)
		}
	}
	return nil
}

// getEnvString gets environment variable as string with default value
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		fmt.Fprintf(os.Stderr, "Warning: Invalid integer value for %s: %s, using default: %d\n", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvBool gets environment variable as bool with default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		fmt.Fprintf(os.Stderr, "Warning: Invalid boolean value for %s: %s, using default: %t\n", key, value, defaultValue)
	}
	return defaultValue
}
