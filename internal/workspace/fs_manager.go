package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	profileSubdir = "profile"
	outSubdir     = "out"
)

// fsManager manages per-operation directories on local disk.
type fsManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*fsManager)(nil)

// NewFSManager creates a filesystem-backed manager rooted at baseDir.
func NewFSManager(baseDir string) (*fsManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	return &fsManager{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
	}, nil
}

// Create initializes the directory tree for operationID.
func (m *fsManager) Create(ctx context.Context, operationID string) (Operation, error) {
	if err := ctx.Err(); err != nil {
		return Operation{}, err
	}

	path, err := m.operationPath(operationID)
	if err != nil {
		return Operation{}, err
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Operation{}, fmt.Errorf("create workspace base directory: %w", err)
	}

	if err := os.Mkdir(path, 0o755); err != nil {
		return Operation{}, fmt.Errorf("create workspace for operation %q: %w", operationID, err)
	}

	op := Operation{
		ID:         operationID,
		Dir:        path,
		ProfileDir: filepath.Join(path, profileSubdir),
		OutDir:     filepath.Join(path, outSubdir),
	}

	for _, sub := range []string{op.ProfileDir, op.OutDir} {
		if err := os.Mkdir(sub, 0o755); err != nil {
			_ = os.RemoveAll(path)
			return Operation{}, fmt.Errorf("create workspace subdirectory %q: %w", sub, err)
		}
	}

	return op, nil
}

// Remove deletes the operation's directory tree.
func (m *fsManager) Remove(ctx context.Context, operationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := m.operationPath(operationID)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace for operation %q: %w", operationID, err)
	}
	return nil
}

// Cleanup removes operation directories older than olderThan based on
// directory modification time.
func (m *fsManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *fsManager) operationPath(operationID string) (string, error) {
	if err := validateOperationID(operationID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, operationID), nil
}

func validateOperationID(operationID string) error {
	trimmed := strings.TrimSpace(operationID)
	if trimmed == "" {
		return fmt.Errorf("operationID is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("operationID %q is invalid", operationID)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("operationID %q must not contain path separators", operationID)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("operationID %q is invalid", operationID)
	}
	return nil
}
