package util

import "os"

// GetEnv returns the environment value for key, or fallback when unset
// or empty.
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
