// Package util holds small filesystem helpers shared by the service.
package util

import (
	"fmt"
	"os"
)

// EnsureDir creates path and its parents if missing. An empty path means
// the working directory and is left alone.
func EnsureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("ensure dir %s: %w", path, err)
	}
	return nil
}
