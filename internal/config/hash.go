package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const checksumsFilename = ".checksums"

// checksumFile is the on-disk shape of the .checksums lock file.
type checksumFile struct {
	GeneratedAt string            `yaml:"generated_at"`
	Files       map[string]string `yaml:"files"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// Lock records the current BLAKE3 checksum of the config file in a
// .checksums file next to it, authorizing the current state.
func Lock(configPath string) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return err
	}

	out := checksumFile{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Files: map[string]string{
			filepath.Base(absPath): hash,
		},
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal checksums: %w", err)
	}

	checksumPath := filepath.Join(filepath.Dir(absPath), checksumsFilename)
	if err := os.WriteFile(checksumPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", checksumPath, err)
	}
	return nil
}

// verifyConfigHash checks the config file against the .checksums lock file
// beside it. A missing lock file is not an error.
func verifyConfigHash(absConfigPath string) error {
	checksumPath := filepath.Join(filepath.Dir(absConfigPath), checksumsFilename)
	data, err := os.ReadFile(checksumPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", checksumPath, err)
	}

	var lock checksumFile
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return fmt.Errorf("failed to parse %s: %w", checksumPath, err)
	}

	expected, ok := lock.Files[filepath.Base(absConfigPath)]
	if !ok {
		// Lock file exists but does not cover this config; treat as tampering.
		return fmt.Errorf("%s present but has no entry for %s\n"+
			"Hint: run 'papermill config lock' to authorize the current config",
			checksumsFilename, filepath.Base(absConfigPath))
	}

	if err := VerifyFileHash(absConfigPath, expected); err != nil {
		return fmt.Errorf("config integrity check failed: %w\n"+
			"Hint: run 'papermill config lock' if this change is intentional", err)
	}
	return nil
}
