package workspace

import (
	"context"
	"time"
)

// Operation describes the isolated filesystem state for one conversion.
//
// ProfileDir is handed to the engine as its mutable profile root so concurrent
// invocations never share state; OutDir is the operation-private output
// namespace, which keeps concurrent conversions with the same input base name
// from colliding.
type Operation struct {
	ID         string
	Dir        string
	ProfileDir string
	OutDir     string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs per-operation directory lifecycle.
type Manager interface {
	// Create initializes the directory tree for an operation.
	Create(ctx context.Context, operationID string) (Operation, error)

	// Remove deletes an operation's directory tree.
	Remove(ctx context.Context, operationID string) error

	// Cleanup removes abandoned operation directories older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
