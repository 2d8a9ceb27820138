// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

const prefix = "job-"

// Generate creates a new unique job ID.
// Format: job-<uuid v7>, so IDs sort by creation time.
// Example: job-01932c07-a9d4-7b6e-8f3c-2a1d9e0b4c55
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		return prefix + uuid.NewString()
	}
	return prefix + u.String()
}

// Valid reports whether s looks like an ID produced by Generate.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
