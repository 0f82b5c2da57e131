package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Validator checks runtime packages and the files the installer trusts
type Validator struct {
	minSize int64
	maxSize int64

	mu           sync.Mutex
	receivedSize int64
}

// NewValidator creates a validator. A maxSize of zero disables the ceiling.
func NewValidator(minSize, maxSize int64) *Validator {
	slog.Info("security_validator_init",
		"min_size_bytes", minSize,
		"max_size_mb", maxSize/1024/1024)

	return &Validator{
		minSize: minSize,
		maxSize: maxSize,
	}
}

// ValidatePath checks that path stays inside baseDir.
// Relative paths are resolved against baseDir.
func (v *Validator) ValidatePath(path, baseDir string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("security: empty path")
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("security: invalid base dir %s: %w", baseDir, err)
	}

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		slog.Error("security_path_validation_failed", "path", path, "base", base, "reason", "path_traversal")
		return "", fmt.Errorf("security: path %s escapes %s", path, base)
	}

	return target, nil
}

// ValidateSize checks a package size against the floor and ceiling
func (v *Validator) ValidateSize(size int64) error {
	if size < v.minSize {
		slog.Error("security_package_too_small",
			"size_bytes", size,
			"min_size_bytes", v.minSize)
		return fmt.Errorf("security: package size %d below minimum %d", size, v.minSize)
	}
	if v.maxSize > 0 && size > v.maxSize {
		slog.Error("security_package_too_large",
			"size_mb", size/1024/1024,
			"max_size_mb", v.maxSize/1024/1024)
		return fmt.Errorf("security: package size %d exceeds max %d", size, v.maxSize)
	}
	return nil
}

// AddReceivedSize tracks bytes received during a download and checks the ceiling
func (v *Validator) AddReceivedSize(size int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.receivedSize += size

	if v.maxSize > 0 && v.receivedSize > v.maxSize {
		slog.Error("security_download_size_exceeded",
			"received_mb", v.receivedSize/1024/1024,
			"max_size_mb", v.maxSize/1024/1024)
		return fmt.Errorf("security: received %d bytes, max %d", v.receivedSize, v.maxSize)
	}

	return nil
}

// ValidateChecksum compares a hex SHA-256 digest. An empty expected digest is accepted.
func (v *Validator) ValidateChecksum(expected, actual string) error {
	if expected == "" {
		return nil
	}
	if !strings.EqualFold(strings.TrimSpace(expected), actual) {
		slog.Error("security_checksum_mismatch", "expected", expected, "actual", actual)
		return fmt.Errorf("security: checksum mismatch: expected %s, got %s", expected, actual)
	}
	slog.Info("security_checksum_validated", "sha256", actual)
	return nil
}

// VerifyFile checks size and checksum of a downloaded package
func (v *Validator) VerifyFile(path, expectedSHA256 string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("security: failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("security: failed to stat %s: %w", path, err)
	}
	if err := v.ValidateSize(info.Size()); err != nil {
		return err
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("security: failed to hash %s: %w", path, err)
	}

	return v.ValidateChecksum(expectedSHA256, hex.EncodeToString(h.Sum(nil)))
}

// Reset resets the received size counter
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.receivedSize = 0
}

// GetReceivedSize returns the bytes counted since the last Reset
func (v *Validator) GetReceivedSize() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.receivedSize
}
