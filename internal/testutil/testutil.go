// Package testutil provides shared helpers for package tests.
package testutil

import (
	"log/slog"
	"os"
)

// TestLogger returns a quiet logger for tests. Warnings and errors
// still reach stderr so genuine failures stay visible.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// AddSource is a minimal working tool used across package tests.
const AddSource = `def add_numbers(a, b=0):
    """Add two numbers."""
    return a + b
`

// SubtractSource complements AddSource for flow tests.
const SubtractSource = `def subtract_numbers(a, b):
    """Subtract b from a."""
    return a - b
`

// FailSource always raises, for error-path tests.
const FailSource = `def always_fails(reason="boom"):
    """Raise an error unconditionally."""
    fail(reason)
`
